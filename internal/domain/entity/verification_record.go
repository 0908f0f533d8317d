package entity

import (
	"time"

	"github.com/EthanQC/verification-service/internal/domain/vo"
	"github.com/EthanQC/verification-service/pkg/errors"
)

// RecordStatus 验证码记录状态
type RecordStatus string

const (
	StatusPending RecordStatus = "pending" // 已生成，等待下发
	StatusSent    RecordStatus = "sent"    // 通道确认下发成功
	StatusFailed  RecordStatus = "failed"  // 重试耗尽仍未下发成功
	StatusUsed    RecordStatus = "used"    // 已校验通过
	StatusExpired RecordStatus = "expired" // 过期或被新验证码顶替
)

// 合法状态转换，单调前进，used/expired 为终态
// failed 仍可被校验：下发结果和校验互相独立，用户可能通过其他途径拿到了验证码
var transitions = map[RecordStatus]map[RecordStatus]bool{
	StatusPending: {StatusSent: true, StatusFailed: true, StatusUsed: true, StatusExpired: true},
	StatusSent:    {StatusUsed: true, StatusExpired: true},
	StatusFailed:  {StatusUsed: true, StatusExpired: true},
}

// IsTerminal used/expired 之后不再变化
func (s RecordStatus) IsTerminal() bool {
	return s == StatusUsed || s == StatusExpired
}

// rank 用于两层存储合并时判断哪一份走得更远
func (s RecordStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent, StatusFailed:
		return 1
	case StatusUsed, StatusExpired:
		return 2
	default:
		return -1
	}
}

// VerificationRecord 一次验证码挑战
type VerificationRecord struct {
	RequestID        string
	Phone            string
	Code             string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	SentCount        int
	LastSentAt       time.Time
	Status           RecordStatus
	ChannelName      string
	ChannelMessageID string
	ErrorMessage     string
	Origin           vo.Origin
}

func NewVerificationRecord(requestID, phone, code string, now time.Time, ttl time.Duration, origin vo.Origin) *VerificationRecord {
	return &VerificationRecord{
		RequestID: requestID,
		Phone:     phone,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		// 发起即计入冷却，避免下发还没开始时被并发请求绕过
		LastSentAt: now,
		Status:     StatusPending,
		Origin:     origin,
	}
}

// IsExpired now 严格晚于过期时间才算过期
func (r *VerificationRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// CanValidate 非终态且未过期
func (r *VerificationRecord) CanValidate(now time.Time) bool {
	return !r.Status.IsTerminal() && !r.IsExpired(now)
}

// Transition 按转换表推进状态
func (r *VerificationRecord) Transition(to RecordStatus) error {
	if r.Status == to {
		return nil
	}
	if !transitions[r.Status][to] {
		return errors.ErrInvalidTransition
	}
	r.Status = to
	return nil
}

// DeliveryAttempt 一次下发尝试的结果
type DeliveryAttempt struct {
	At               time.Time
	Success          bool
	Final            bool // 重试循环的最后一次，失败时记录进入 failed
	ChannelName      string
	ChannelMessageID string
	ErrorMessage     string
}

// ApplyAttempt 记录一次下发尝试；终态记录只累加次数不改状态
func (r *VerificationRecord) ApplyAttempt(a DeliveryAttempt) {
	r.SentCount++
	if a.At.After(r.LastSentAt) {
		r.LastSentAt = a.At
	}
	if a.ChannelName != "" {
		r.ChannelName = a.ChannelName
	}
	if r.Status.IsTerminal() {
		return
	}

	switch {
	case a.Success:
		r.ChannelMessageID = a.ChannelMessageID
		r.ErrorMessage = ""
		_ = r.Transition(StatusSent)
	case a.Final:
		r.ErrorMessage = a.ErrorMessage
		_ = r.Transition(StatusFailed)
	default:
		r.ErrorMessage = a.ErrorMessage
	}
}

// Clone 浅拷贝足够，所有字段都是值类型
func (r *VerificationRecord) Clone() *VerificationRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Newer 两层存储不一致时的取舍：
// 不同挑战取 CreatedAt 更晚的；同一挑战取状态走得更远的，避免用过的验证码因某一层写失败而复活
func Newer(a, b *VerificationRecord) *VerificationRecord {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}

	if a.RequestID != b.RequestID {
		if b.CreatedAt.After(a.CreatedAt) {
			return b
		}
		return a
	}

	winner, other := a, b
	if b.Status.rank() > a.Status.rank() {
		winner, other = b, a
	}
	merged := winner.Clone()
	if other.SentCount > merged.SentCount {
		merged.SentCount = other.SentCount
	}
	if other.LastSentAt.After(merged.LastSentAt) {
		merged.LastSentAt = other.LastSentAt
	}
	return merged
}
