package out

import (
	"context"
	"time"
)

const (
	EventCodeRequested      = "verification.code.requested"
	EventCodeDelivered      = "verification.code.delivered"
	EventCodeDeliveryFailed = "verification.code.delivery_failed"
	EventCodeValidated      = "verification.code.validated"
)

// VerificationEvent 审计事件，不含验证码明文
type VerificationEvent struct {
	Type        string    `json:"type"`
	RequestID   string    `json:"request_id"`
	PhoneMasked string    `json:"phone_masked"`
	Channel     string    `json:"channel,omitempty"`
	Attempts    int       `json:"attempts,omitempty"`
	Error       string    `json:"error,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// EventPublisher 事件总线，Publish 失败只记录日志，不影响主流程
type EventPublisher interface {
	Publish(ctx context.Context, event *VerificationEvent) error
	Close() error
}

type nopPublisher struct{}

// NopEventPublisher events.driver=none 时使用
func NopEventPublisher() EventPublisher { return nopPublisher{} }

func (nopPublisher) Publish(context.Context, *VerificationEvent) error { return nil }
func (nopPublisher) Close() error                                    { return nil }
