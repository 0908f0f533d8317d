package sms

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Dispatcher 后台下发任务，生命周期长于请求；关闭时先等待，超时再取消
type Dispatcher struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewDispatcher() *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{ctx: ctx, cancel: cancel}
}

// Go 提交一个任务，已关闭时返回 false
func (d *Dispatcher) Go(fn func(ctx context.Context)) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				zap.L().Error("Background delivery task panicked", zap.Any("panic", p))
			}
		}()
		fn(d.ctx)
	}()
	return true
}

// Wait 等待当前所有任务结束，测试里用
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown 不再接收新任务；ctx 到期后取消剩余任务并等它们退出
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
