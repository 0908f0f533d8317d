package mock

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/EthanQC/verification-service/internal/domain/vo"
	"github.com/EthanQC/verification-service/internal/ports/out"
)

const ChannelName = "mock"

// Config 模拟通道参数，FailureRate 取值 [0,1]
type Config struct {
	MinLatency  time.Duration
	MaxLatency  time.Duration
	FailureRate float64
}

func DefaultConfig() Config {
	return Config{
		MinLatency: 100 * time.Millisecond,
		MaxLatency: 500 * time.Millisecond,
	}
}

// SMSChannel 不真正发短信，用于开发和测试环境
type SMSChannel struct {
	cfg   Config
	sent  atomic.Int64
	randf func() float64
}

var _ out.SMSChannel = (*SMSChannel)(nil)

func NewSMSChannel(cfg Config) *SMSChannel {
	if cfg.MaxLatency < cfg.MinLatency {
		cfg.MaxLatency = cfg.MinLatency
	}
	return &SMSChannel{cfg: cfg, randf: rand.Float64}
}

func (m *SMSChannel) Name() string { return ChannelName }

func (m *SMSChannel) Send(ctx context.Context, phone, code, template string) (string, error) {
	latency := m.cfg.MinLatency
	if span := m.cfg.MaxLatency - m.cfg.MinLatency; span > 0 {
		latency += time.Duration(m.randf() * float64(span))
	}
	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if m.cfg.FailureRate > 0 && m.randf() < m.cfg.FailureRate {
		return "", fmt.Errorf("mock channel: simulated failure")
	}

	m.sent.Add(1)
	zap.L().Debug("Mock SMS sent",
		zap.String("phone", vo.MaskPhone(phone)),
		zap.String("template", template),
	)
	return "mock-" + uuid.NewString(), nil
}

// Sent 成功发送的条数
func (m *SMSChannel) Sent() int64 { return m.sent.Load() }
