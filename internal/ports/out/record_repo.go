package out

import (
	"context"
	"time"

	"github.com/EthanQC/verification-service/internal/domain/entity"
)

// DurableRecordRepository 持久层，调用方负责超时控制
type DurableRecordRepository interface {
	// Save 按 RequestID 写入或覆盖
	Save(ctx context.Context, r *entity.VerificationRecord) error
	// ExpireActive 把该手机号下除 keepRequestID 外仍未终结的记录置为 expired
	ExpireActive(ctx context.Context, phone, keepRequestID string) error
	// FindLatest 按创建时间取最新一条，没有时返回 nil, nil
	FindLatest(ctx context.Context, phone string) (*entity.VerificationRecord, error)
	Delete(ctx context.Context, phone, requestID string) error
	// DeleteExpired 删除 expires_at < now 或 status in (used, expired) 的记录
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SweepReport 一次清理的结果
type SweepReport struct {
	DurableDeleted int64
	CacheDeleted   int
	StampsEvicted  int
	CacheSize      int
	DurableErr     error
}

// RecordStore 双层存储对外的唯一入口，记录生命周期写入都经过这里
type RecordStore interface {
	Put(ctx context.Context, r *entity.VerificationRecord) error
	Get(ctx context.Context, phone string) (*entity.VerificationRecord, error)
	MarkUsed(ctx context.Context, r *entity.VerificationRecord) error
	Delete(ctx context.Context, r *entity.VerificationRecord) error
	// RecordAttempt 把一次下发尝试记到 requestID 对应的记录上，返回更新后的记录
	RecordAttempt(ctx context.Context, phone, requestID string, a entity.DeliveryAttempt) (*entity.VerificationRecord, error)
	// CooldownStamps 分别返回持久层和缓存层看到的最近下发时间，零值表示没有数据
	CooldownStamps(ctx context.Context, phone string) (durable, cache time.Time)
	Sweep(ctx context.Context, now, stampCutoff time.Time) SweepReport
}

// AttemptCounter 校验失败计数，只存在缓存层
type AttemptCounter interface {
	Count(phone string, now time.Time) int
	Increment(phone string, now time.Time) int
	Reset(phone string)
	Prune(now time.Time) int
}
