package memory

import (
	"sync"
	"time"

	"github.com/EthanQC/verification-service/internal/ports/out"
)

// AttemptCounter 滑动窗口内的校验失败次数，进程重启即丢失
type AttemptCounter struct {
	window time.Duration
	mu     sync.Mutex
	fails  map[string][]time.Time
}

var _ out.AttemptCounter = (*AttemptCounter)(nil)

func NewAttemptCounter(window time.Duration) *AttemptCounter {
	return &AttemptCounter{
		window: window,
		fails:  make(map[string][]time.Time),
	}
}

func (c *AttemptCounter) Count(phone string, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.trimLocked(phone, now))
}

func (c *AttemptCounter) Increment(phone string, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	fails := append(c.trimLocked(phone, now), now)
	c.fails[phone] = fails
	return len(fails)
}

func (c *AttemptCounter) Reset(phone string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.fails, phone)
}

// Prune 清掉窗口外已经没有失败记录的手机号
func (c *AttemptCounter) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for phone := range c.fails {
		if len(c.trimLocked(phone, now)) == 0 {
			delete(c.fails, phone)
			n++
		}
	}
	return n
}

func (c *AttemptCounter) trimLocked(phone string, now time.Time) []time.Time {
	fails := c.fails[phone]
	cutoff := now.Add(-c.window)
	i := 0
	for i < len(fails) && !fails[i].After(cutoff) {
		i++
	}
	if i > 0 {
		fails = fails[i:]
		c.fails[phone] = fails
	}
	return fails
}
