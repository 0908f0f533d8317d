package delivery

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/EthanQC/verification-service/internal/domain/vo"
	"github.com/EthanQC/verification-service/pkg/clock"
	"github.com/EthanQC/verification-service/pkg/zlog"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 30 * time.Second
	maxJitter         = time.Second
)

type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Template   string
}

// AttemptFunc 每次尝试之后回调，final 表示不会再有下一次；返回 true 时停止重试
type AttemptFunc func(attempt int, res Result, final bool) (abort bool)

type RetryOptions struct {
	// MaxRetries 总尝试次数，<=0 时使用配置值
	MaxRetries int
	RequestID  string
	OnAttempt  AttemptFunc
}

// Report SendWithRetry 的最终结果
type Report struct {
	Last     Result
	Attempts int
	Aborted  bool
	Elapsed  time.Duration
}

// Retrier 指数退避重试，循环实现，时钟和抖动可注入
type Retrier struct {
	sender Sender
	cfg    RetryConfig
	clock  clock.Clock
	jitter func() time.Duration
}

type RetrierOption func(*Retrier)

func WithClock(c clock.Clock) RetrierOption {
	return func(r *Retrier) { r.clock = c }
}

// WithJitter 返回值应落在 [0,1s)
func WithJitter(fn func() time.Duration) RetrierOption {
	return func(r *Retrier) { r.jitter = fn }
}

func NewRetrier(sender Sender, cfg RetryConfig, opts ...RetrierOption) *Retrier {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	r := &Retrier{
		sender: sender,
		cfg:    cfg,
		clock:  clock.Real(),
		jitter: func() time.Duration { return rand.N(maxJitter) },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Backoff 第 i 次失败后的等待：min(base*2^i, cap) + jitter
func (r *Retrier) Backoff(i int) time.Duration {
	d := r.cfg.MaxDelay
	if i < 30 {
		if exp := r.cfg.BaseDelay << uint(i); exp > 0 && exp < d {
			d = exp
		}
	}
	return d + r.jitter()
}

// SendWithRetry 最多尝试 MaxRetries 次，最后一次失败后不再等待
func (r *Retrier) SendWithRetry(ctx context.Context, phone, code string, opts RetryOptions) Report {
	limit := opts.MaxRetries
	if limit <= 0 {
		limit = r.cfg.MaxRetries
	}
	logger := zlog.C(ctx).With(
		zap.String("request_id", opts.RequestID),
		zap.String("phone", vo.MaskPhone(phone)),
	)
	start := r.clock.Now()

	var rep Report
	for i := 0; i < limit; i++ {
		res := r.sender.Send(ctx, phone, code, r.cfg.Template)
		rep.Last = res
		rep.Attempts = i + 1
		final := res.Success || i == limit-1

		if opts.OnAttempt != nil && opts.OnAttempt(i+1, res, final) {
			rep.Aborted = !res.Success
			break
		}
		if res.Success {
			logger.Info("SMS delivered",
				zap.Int("attempt", i+1),
				zap.String("channel", res.ChannelName),
				zap.Int64("duration_ms", res.DurationMs()),
			)
			break
		}
		logger.Warn("SMS delivery attempt failed",
			zap.Int("attempt", i+1),
			zap.Int("max_retries", limit),
			zap.String("channel", res.ChannelName),
			zap.String("error", res.ErrorMessage),
		)
		if final {
			break
		}

		select {
		case <-r.clock.After(r.Backoff(i)):
		case <-ctx.Done():
			rep.Aborted = true
			rep.Elapsed = r.clock.Now().Sub(start)
			return rep
		}
	}
	rep.Elapsed = r.clock.Now().Sub(start)
	return rep
}
