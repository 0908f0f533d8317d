package sms

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/EthanQC/verification-service/internal/application/delivery"
	"github.com/EthanQC/verification-service/internal/domain/entity"
	"github.com/EthanQC/verification-service/internal/domain/vo"
	"github.com/EthanQC/verification-service/internal/metrics"
	"github.com/EthanQC/verification-service/internal/ports/in"
	"github.com/EthanQC/verification-service/internal/ports/out"
	"github.com/EthanQC/verification-service/pkg/clock"
	"github.com/EthanQC/verification-service/pkg/errors"
	"github.com/EthanQC/verification-service/pkg/zlog"
)

const (
	DefaultExpiration = 5 * time.Minute
	eventTimeout      = 3 * time.Second
)

type Config struct {
	CodeLength         int
	Expiration         time.Duration
	Cooldown           time.Duration
	MaxRetries         int
	MaxAttemptsPerHour int
	// DevMode 打开后响应里带验证码明文，只用于本地联调
	DevMode bool
}

func (c *Config) applyDefaults() {
	if c.CodeLength <= 0 {
		c.CodeLength = vo.DefaultCodeLength
	}
	if c.Expiration <= 0 {
		c.Expiration = DefaultExpiration
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = delivery.DefaultMaxRetries
	}
	if c.MaxAttemptsPerHour <= 0 {
		c.MaxAttemptsPerHour = DefaultMaxAttempts
	}
}

type Service struct {
	cfg        Config
	store      out.RecordStore
	limiter    *Limiter
	retrier    *delivery.Retrier
	dispatcher *Dispatcher
	events     out.EventPublisher
	metrics    *metrics.Registry
	clock      clock.Clock
	locks      *phoneLocks
	newID      func() string
}

var _ in.VerificationUseCase = (*Service)(nil)

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithEvents(p out.EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(s *Service) { s.metrics = m }
}

func WithDispatcher(d *Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

func NewService(cfg Config, store out.RecordStore, attempts out.AttemptCounter, retrier *delivery.Retrier, opts ...Option) *Service {
	cfg.applyDefaults()
	s := &Service{
		cfg:     cfg,
		store:   store,
		retrier: retrier,
		events:  out.NopEventPublisher(),
		clock:   clock.Real(),
		locks:   newPhoneLocks(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dispatcher == nil {
		s.dispatcher = NewDispatcher()
	}
	s.limiter = NewLimiter(store, attempts, cfg.Cooldown, cfg.MaxAttemptsPerHour, s.clock)
	return s
}

// Dispatcher 暴露给 main 做优雅关闭
func (s *Service) Dispatcher() *Dispatcher { return s.dispatcher }

func (s *Service) RequestCode(ctx context.Context, phone string, origin vo.Origin) (res *in.RequestCodeResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = s.internalRequestResult(ctx, phone, fmt.Errorf("%w: panic: %v", errors.ErrInternal, p))
		}
		s.metrics.CodeRequested(string(res.Outcome))
	}()

	if !vo.IsValidPhoneNumber(phone) {
		return &in.RequestCodeResult{
			Outcome:     in.OutcomeInvalidPhone,
			Message:     "手机号码格式错误",
			PhoneMasked: vo.MaskPhone(phone),
		}, nil
	}
	masked := vo.MaskPhone(phone)

	unlock := s.locks.Lock(phone)
	defer unlock()

	if ok, remaining := s.limiter.CanSend(ctx, phone); !ok {
		return &in.RequestCodeResult{
			Outcome:          in.OutcomeCooldown,
			Message:          fmt.Sprintf("请 %d 秒后再试", remaining),
			PhoneMasked:      masked,
			RemainingSeconds: remaining,
		}, nil
	}

	code, err := vo.GenerateCode(s.cfg.CodeLength)
	if err != nil {
		return s.internalRequestResult(ctx, phone, fmt.Errorf("%w: %v", errors.ErrInternal, err))
	}
	rec := entity.NewVerificationRecord(s.newID(), phone, code, s.clock.Now(), s.cfg.Expiration, origin)
	if err := s.store.Put(ctx, rec); err != nil {
		return s.internalRequestResult(ctx, phone, fmt.Errorf("%w: %v", errors.ErrInternal, err))
	}
	s.limiter.Reset(phone)

	ctx = zlog.With(ctx, zap.String("request_id", rec.RequestID), zap.String("phone", masked))
	logger := zlog.C(ctx)
	logger.Info("Verification code issued",
		zap.String("carrier", vo.Carrier(phone)),
		zap.Time("expires_at", rec.ExpiresAt),
	)
	s.publish(ctx, &out.VerificationEvent{
		Type:        out.EventCodeRequested,
		RequestID:   rec.RequestID,
		PhoneMasked: masked,
		OccurredAt:  rec.CreatedAt,
	})

	if !s.dispatcher.Go(func(bg context.Context) {
		s.deliver(zlog.WithContext(bg, logger), rec)
	}) {
		logger.Warn("Dispatcher closed, delivery not started")
	}

	res = &in.RequestCodeResult{
		Accepted:    true,
		Outcome:     in.OutcomeAccepted,
		Message:     "验证码已发送",
		PhoneMasked: masked,
		RequestID:   rec.RequestID,
	}
	if s.cfg.DevMode {
		res.DevCode = code
	}
	return res, nil
}

// deliver 在后台运行，记录状态只在这个顺序循环里更新
func (s *Service) deliver(ctx context.Context, rec *entity.VerificationRecord) {
	rep := s.retrier.SendWithRetry(ctx, rec.Phone, rec.Code, delivery.RetryOptions{
		MaxRetries: s.cfg.MaxRetries,
		RequestID:  rec.RequestID,
		OnAttempt: func(attempt int, r delivery.Result, final bool) bool {
			updated, err := s.store.RecordAttempt(ctx, rec.Phone, rec.RequestID, entity.DeliveryAttempt{
				At:               s.clock.Now(),
				Success:          r.Success,
				Final:            final,
				ChannelName:      r.ChannelName,
				ChannelMessageID: r.ChannelMessageID,
				ErrorMessage:     r.ErrorMessage,
			})
			if err != nil {
				// 已被新验证码顶替或已清理
				zlog.C(ctx).Info("Record gone, stop delivery", zap.Int("attempt", attempt))
				return true
			}
			// 已经校验通过或过期，不必再发
			return updated.Status.IsTerminal()
		},
	})

	ev := &out.VerificationEvent{
		RequestID:   rec.RequestID,
		PhoneMasked: vo.MaskPhone(rec.Phone),
		Channel:     rep.Last.ChannelName,
		Attempts:    rep.Attempts,
		OccurredAt:  s.clock.Now(),
	}
	switch {
	case rep.Last.Success:
		ev.Type = out.EventCodeDelivered
	case rep.Aborted:
		return
	default:
		ev.Type = out.EventCodeDeliveryFailed
		ev.Error = rep.Last.ErrorMessage
		zlog.C(ctx).Warn("SMS delivery failed after retries",
			zap.Int("attempts", rep.Attempts),
			zap.Error(errors.ErrDeliveryFailed),
		)
	}
	s.emit(ctx, ev)
}

func (s *Service) ValidateCode(ctx context.Context, phone, code string) (res *in.ValidateCodeResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = s.internalValidateResult(ctx, phone, fmt.Errorf("%w: panic: %v", errors.ErrInternal, p))
		}
		s.metrics.Validated(string(res.Outcome))
	}()

	if !vo.IsValidPhoneNumber(phone) || !vo.IsValidCodeFormat(code, s.cfg.CodeLength) {
		return &in.ValidateCodeResult{
			Outcome: in.OutcomeInvalidInput,
			Message: "手机号或验证码格式错误",
		}, nil
	}

	// 同一手机号的校验也串行，保证同一验证码只能成功一次
	unlock := s.locks.Lock(phone)
	defer unlock()

	if ok, retryAfter := s.limiter.CanAttemptValidation(phone); !ok {
		return &in.ValidateCodeResult{
			Outcome:           in.OutcomeTooManyAttempts,
			Message:           "尝试次数过多，请稍后再试",
			RetryAfterSeconds: retryAfter,
		}, nil
	}

	rec, err := s.store.Get(ctx, phone)
	if err != nil {
		return s.internalValidateResult(ctx, phone, fmt.Errorf("%w: %v", errors.ErrInternal, err))
	}
	if rec == nil || !rec.CanValidate(s.clock.Now()) {
		s.limiter.RecordFailure(phone)
		return &in.ValidateCodeResult{
			Outcome: in.OutcomeNotFoundOrExpired,
			Message: "验证码不存在或已过期",
		}, nil
	}

	if !vo.CodesEqual(rec.Code, code) {
		remaining := s.limiter.RecordFailure(phone)
		return &in.ValidateCodeResult{
			Outcome:           in.OutcomeMismatch,
			Message:           "验证码错误",
			RemainingAttempts: &remaining,
		}, nil
	}

	if err := s.store.MarkUsed(ctx, rec); err != nil {
		return s.internalValidateResult(ctx, phone, fmt.Errorf("%w: %v", errors.ErrInternal, err))
	}
	s.limiter.Reset(phone)

	zlog.C(ctx).Info("Verification code validated",
		zap.String("request_id", rec.RequestID),
		zap.String("phone", vo.MaskPhone(phone)),
	)
	s.publish(ctx, &out.VerificationEvent{
		Type:        out.EventCodeValidated,
		RequestID:   rec.RequestID,
		PhoneMasked: vo.MaskPhone(phone),
		OccurredAt:  s.clock.Now(),
	})
	return &in.ValidateCodeResult{
		Valid:   true,
		Outcome: in.OutcomeSuccess,
		Message: "验证成功",
	}, nil
}

// Status 只对持有 request_id 的调用方可见，不匹配与不存在返回同样的结果
func (s *Service) Status(ctx context.Context, phone, requestID string) (*in.CodeStatus, error) {
	p, err := vo.NewPhone(phone)
	if err != nil {
		return nil, err
	}
	rec, err := s.store.Get(ctx, p.Number)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInternal, err)
	}
	if rec == nil || requestID == "" || rec.RequestID != requestID {
		return nil, nil
	}

	status := rec.Status
	// 过期但还没被清理的记录按 expired 展示
	if !status.IsTerminal() && rec.IsExpired(s.clock.Now()) {
		status = entity.StatusExpired
	}
	return &in.CodeStatus{
		PhoneMasked: p.Masked(),
		Status:      string(status),
		SentCount:   rec.SentCount,
		ExpiresAtMs: rec.ExpiresAt.UnixMilli(),
		Channel:     rec.ChannelName,
	}, nil
}

// publish 请求路径上的事件交给后台发送，不拖慢响应
func (s *Service) publish(ctx context.Context, ev *out.VerificationEvent) {
	logger := zlog.C(ctx)
	s.dispatcher.Go(func(bg context.Context) {
		s.emit(zlog.WithContext(bg, logger), ev)
	})
}

func (s *Service) emit(ctx context.Context, ev *out.VerificationEvent) {
	ectx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()
	if err := s.events.Publish(ectx, ev); err != nil {
		zlog.C(ctx).Warn("Publish verification event failed",
			zap.String("type", ev.Type),
			zap.String("request_id", ev.RequestID),
			zap.Error(err),
		)
	}
}

func (s *Service) internalRequestResult(ctx context.Context, phone string, err error) (*in.RequestCodeResult, error) {
	zlog.C(ctx).Error("RequestCode failed", zap.String("phone", vo.MaskPhone(phone)), zap.Error(err))
	return &in.RequestCodeResult{
		Outcome:     in.OutcomeInternal,
		Message:     "服务内部错误",
		PhoneMasked: vo.MaskPhone(phone),
	}, err
}

func (s *Service) internalValidateResult(ctx context.Context, phone string, err error) (*in.ValidateCodeResult, error) {
	zlog.C(ctx).Error("ValidateCode failed", zap.String("phone", vo.MaskPhone(phone)), zap.Error(err))
	return &in.ValidateCodeResult{
		Outcome: in.OutcomeInternal,
		Message: "服务内部错误",
	}, err
}
