package delivery

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/EthanQC/verification-service/internal/domain/vo"
	"github.com/EthanQC/verification-service/internal/metrics"
	"github.com/EthanQC/verification-service/internal/ports/out"
	"github.com/EthanQC/verification-service/pkg/errors"
	"github.com/EthanQC/verification-service/pkg/zlog"
)

const DefaultTimeout = 8 * time.Second

// Result 单次下发的结果，失败时 ErrorMessage 非空
type Result struct {
	Success          bool
	ChannelMessageID string
	ErrorMessage     string
	ChannelName      string
	Duration         time.Duration
}

func (r Result) DurationMs() int64 { return r.Duration.Milliseconds() }

// Sender 单次下发，Client 和测试桩都实现它
type Sender interface {
	Send(ctx context.Context, phone, code, template string) Result
}

// Client 包装具体通道：每次调用只发一次，带超时，错误和 panic 都转成失败结果
type Client struct {
	channel out.SMSChannel
	timeout time.Duration
	metrics *metrics.Registry
}

var _ Sender = (*Client)(nil)

func NewClient(channel out.SMSChannel, timeout time.Duration, m *metrics.Registry) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{channel: channel, timeout: timeout, metrics: m}
}

func (c *Client) Send(ctx context.Context, phone, code, template string) (res Result) {
	res.ChannelName = c.channel.Name()
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			res.Success = false
			res.ChannelMessageID = ""
			res.ErrorMessage = fmt.Sprintf("%v: channel panic: %v", errors.ErrDeliveryFailed, p)
			zlog.C(ctx).Error("SMS channel panicked",
				zap.String("channel", res.ChannelName),
				zap.String("phone", vo.MaskPhone(phone)),
				zap.Any("panic", p),
			)
		}
		res.Duration = time.Since(start)
		c.metrics.DeliveryAttempt(res.ChannelName, res.Success, res.Duration)
	}()

	sctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	id, err := c.channel.Send(sctx, phone, code, template)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || sctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w after %s: %v", errors.ErrDeliveryTimeout, c.timeout, err)
		}
		res.ErrorMessage = err.Error()
		return res
	}
	res.Success = true
	res.ChannelMessageID = id
	return res
}
