package in

import (
	"context"

	"github.com/EthanQC/verification-service/internal/domain/vo"
)

// Outcome 业务结果，调用方每次都要分支处理，所以不用 error 表达
type Outcome string

const (
	OutcomeAccepted          Outcome = "accepted"
	OutcomeInvalidPhone      Outcome = "invalid_phone"
	OutcomeCooldown          Outcome = "cooldown"
	OutcomeInvalidInput      Outcome = "invalid_input"
	OutcomeTooManyAttempts   Outcome = "too_many_attempts"
	OutcomeNotFoundOrExpired Outcome = "code_not_found_or_expired"
	OutcomeMismatch          Outcome = "code_mismatch"
	OutcomeSuccess           Outcome = "success"
	OutcomeInternal          Outcome = "internal_error"
)

type RequestCodeResult struct {
	Accepted         bool
	Outcome          Outcome
	Message          string
	PhoneMasked      string
	RequestID        string
	RemainingSeconds int
	// DevCode 只在 dev_mode 下返回，生产环境恒为空
	DevCode string
}

type ValidateCodeResult struct {
	Valid             bool
	Outcome           Outcome
	Message           string
	RemainingAttempts *int
	RetryAfterSeconds int
}

type CodeStatus struct {
	PhoneMasked string
	Status      string
	SentCount   int
	ExpiresAtMs int64
	Channel     string
}

type VerificationUseCase interface {
	// 申请下发验证码，立即返回，下发在后台进行
	RequestCode(ctx context.Context, phone string, origin vo.Origin) (*RequestCodeResult, error)
	// 校验验证码，成功后验证码作废
	ValidateCode(ctx context.Context, phone, code string) (*ValidateCodeResult, error)
	// 查询最近一条验证码的下发状态，requestID 必须与申请时返回的一致，否则按找不到处理返回 nil
	Status(ctx context.Context, phone, requestID string) (*CodeStatus, error)
}
