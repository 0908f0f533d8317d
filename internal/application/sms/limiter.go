package sms

import (
	"context"
	"math"
	"time"

	"github.com/EthanQC/verification-service/internal/ports/out"
	"github.com/EthanQC/verification-service/pkg/clock"
)

const (
	DefaultCooldown          = 60 * time.Second
	DefaultMaxAttempts       = 5
	DefaultAttemptWindow     = time.Hour
	tooManyAttemptsRetryHint = 3600
)

// Limiter 下发冷却 + 校验失败次数限制
type Limiter struct {
	store       out.RecordStore
	attempts    out.AttemptCounter
	cooldown    time.Duration
	maxAttempts int
	clock       clock.Clock
}

func NewLimiter(store out.RecordStore, attempts out.AttemptCounter, cooldown time.Duration, maxAttempts int, clk clock.Clock) *Limiter {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Limiter{
		store:       store,
		attempts:    attempts,
		cooldown:    cooldown,
		maxAttempts: maxAttempts,
		clock:       clk,
	}
}

// CanSend 两层存储的最近下发时间取较晚的那个，remaining 向上取整到秒
func (l *Limiter) CanSend(ctx context.Context, phone string) (bool, int) {
	durable, cache := l.store.CooldownStamps(ctx, phone)
	last := durable
	if cache.After(last) {
		last = cache
	}
	if last.IsZero() {
		return true, 0
	}

	elapsed := l.clock.Now().Sub(last)
	if elapsed >= l.cooldown {
		return true, 0
	}
	remaining := int(math.Ceil((l.cooldown - elapsed).Seconds()))
	if remaining < 1 {
		remaining = 1
	}
	return false, remaining
}

// CanAttemptValidation 超限时只给固定的 retry-after，不暴露精确剩余次数
func (l *Limiter) CanAttemptValidation(phone string) (bool, int) {
	if l.attempts.Count(phone, l.clock.Now()) >= l.maxAttempts {
		return false, tooManyAttemptsRetryHint
	}
	return true, 0
}

// RecordFailure 记一次校验失败，返回窗口内剩余可尝试次数
func (l *Limiter) RecordFailure(phone string) int {
	n := l.attempts.Increment(phone, l.clock.Now())
	if remaining := l.maxAttempts - n; remaining > 0 {
		return remaining
	}
	return 0
}

func (l *Limiter) Reset(phone string) {
	l.attempts.Reset(phone)
}
