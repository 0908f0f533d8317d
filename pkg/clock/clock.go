// Package clock 抽象时间来源，业务代码通过它取当前时间和做定时等待，测试时替换成 Fake
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	// After 在 d 之后向返回的 channel 写入当时的时间
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

// Real 返回基于系统时间的实现
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Fake 手动推进的时钟，After 会立即把时间推进 d 并触发，用来让退避等待在测试里瞬间完成
type Fake struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	if d > 0 {
		f.now = f.now.Add(d)
		f.slept += d
	}
	now := f.now
	f.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Advance 把时间往前推 d
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Slept 返回通过 After 累计等待的时长
func (f *Fake) Slept() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slept
}
