package dualstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/EthanQC/verification-service/internal/adapters/out/memory"
	"github.com/EthanQC/verification-service/internal/domain/entity"
	"github.com/EthanQC/verification-service/internal/domain/vo"
	"github.com/EthanQC/verification-service/internal/metrics"
	"github.com/EthanQC/verification-service/internal/ports/out"
	"github.com/EthanQC/verification-service/pkg/errors"
	"github.com/EthanQC/verification-service/pkg/zlog"
)

const DefaultTimeout = 2 * time.Second

// Store 缓存层 + 持久层
// 缓存层总是先写且从不回滚；持久层调用有超时，失败只记 warn 并降级为仅缓存
type Store struct {
	cache   *memory.RecordCache
	durable out.DurableRecordRepository
	timeout time.Duration
	metrics *metrics.Registry

	// 异步镜像写，关闭时等待
	wg sync.WaitGroup
}

var _ out.RecordStore = (*Store)(nil)

type Option func(*Store)

// WithDurable 不设置时只用缓存层
func WithDurable(repo out.DurableRecordRepository) Option {
	return func(s *Store) { s.durable = repo }
}

func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithMetrics(m *metrics.Registry) Option {
	return func(s *Store) { s.metrics = m }
}

func New(cache *memory.RecordCache, opts ...Option) *Store {
	s := &Store{cache: cache, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Put(ctx context.Context, r *entity.VerificationRecord) error {
	if r == nil {
		return fmt.Errorf("put nil record: %w", errors.ErrInternal)
	}
	s.cache.Put(r)
	if s.durable == nil {
		return nil
	}

	dctx, cancel := s.bounded(ctx)
	defer cancel()
	if err := s.durable.Save(dctx, r); err != nil {
		s.degrade(ctx, "put", r.Phone, err)
		return nil
	}
	// 新记录顶替旧的活跃记录
	if err := s.durable.ExpireActive(dctx, r.Phone, r.RequestID); err != nil {
		s.degrade(ctx, "expire_active", r.Phone, err)
	}
	return nil
}

// Get 持久层可达时以其为准并回填缓存；两层不一致时按 entity.Newer 合并
func (s *Store) Get(ctx context.Context, phone string) (*entity.VerificationRecord, error) {
	if s.durable == nil {
		return s.cache.Get(phone), nil
	}

	dctx, cancel := s.bounded(ctx)
	defer cancel()
	d, err := s.durable.FindLatest(dctx, phone)
	if err != nil {
		s.degrade(ctx, "get", phone, err)
		return s.cache.Get(phone), nil
	}
	if d == nil {
		return s.cache.Get(phone), nil
	}
	return s.cache.Merge(d), nil
}

// MarkUsed 缓存层同步生效，持久层异步镜像
func (s *Store) MarkUsed(ctx context.Context, r *entity.VerificationRecord) error {
	used := r.Clone()
	if err := used.Transition(entity.StatusUsed); err != nil {
		return fmt.Errorf("mark used %s: %w", r.RequestID, err)
	}
	merged := s.cache.Merge(used)

	s.mirror(ctx, "mark_used", r.Phone, func(dctx context.Context) error {
		return s.durable.Save(dctx, merged)
	})
	return nil
}

func (s *Store) Delete(ctx context.Context, r *entity.VerificationRecord) error {
	s.cache.Delete(r.Phone, r.RequestID)
	s.mirror(ctx, "delete", r.Phone, func(dctx context.Context) error {
		return s.durable.Delete(dctx, r.Phone, r.RequestID)
	})
	return nil
}

// RecordAttempt 只更新仍在缓存中的那条记录；已被顶替或清理时返回 ErrRecordNotFound
func (s *Store) RecordAttempt(ctx context.Context, phone, requestID string, a entity.DeliveryAttempt) (*entity.VerificationRecord, error) {
	updated, ok := s.cache.Update(phone, requestID, func(r *entity.VerificationRecord) {
		r.ApplyAttempt(a)
	})
	if !ok {
		return nil, errors.ErrRecordNotFound
	}
	// 终态由 MarkUsed / ExpireActive 负责落盘，这里再写一次会和它们的镜像写竞争
	if s.durable == nil || updated.Status.IsTerminal() {
		return updated, nil
	}

	dctx, cancel := s.bounded(ctx)
	defer cancel()
	if err := s.durable.Save(dctx, updated); err != nil {
		s.degrade(ctx, "record_attempt", phone, err)
	}
	return updated, nil
}

func (s *Store) CooldownStamps(ctx context.Context, phone string) (durable, cache time.Time) {
	cache = s.cache.Stamp(phone)
	if s.durable == nil {
		return time.Time{}, cache
	}

	dctx, cancel := s.bounded(ctx)
	defer cancel()
	d, err := s.durable.FindLatest(dctx, phone)
	if err != nil {
		s.degrade(ctx, "cooldown", phone, err)
		return time.Time{}, cache
	}
	if d != nil {
		durable = d.LastSentAt
	}
	return durable, cache
}

// Sweep 持久层删除失败不重试，等下一轮
func (s *Store) Sweep(ctx context.Context, now, stampCutoff time.Time) out.SweepReport {
	var rep out.SweepReport
	if s.durable != nil {
		dctx, cancel := s.bounded(ctx)
		rep.DurableDeleted, rep.DurableErr = s.durable.DeleteExpired(dctx, now)
		cancel()
		if rep.DurableErr != nil {
			s.metrics.StoreDegraded("sweep")
		}
	}
	rep.CacheDeleted = s.cache.Prune(now)
	rep.StampsEvicted = s.cache.EvictStamps(stampCutoff)
	rep.CacheSize = s.cache.Len()
	return rep
}

// Drain 等待所有异步镜像写完成，ctx 到期则放弃
func (s *Store) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) mirror(ctx context.Context, op, phone string, fn func(context.Context) error) {
	if s.durable == nil {
		return
	}
	logger := zlog.C(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		dctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := fn(dctx); err != nil {
			s.degradeWith(logger, op, phone, err)
		}
	}()
}

// bounded 持久层调用不跟随请求取消，只受自身超时约束，避免请求断开导致两层数据不一致
func (s *Store) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

func (s *Store) degrade(ctx context.Context, op, phone string, err error) {
	s.degradeWith(zlog.C(ctx), op, phone, err)
}

func (s *Store) degradeWith(logger *zap.Logger, op, phone string, err error) {
	s.metrics.StoreDegraded(op)
	logger.Warn("Durable store call failed, using cache tier",
		zap.String("op", op),
		zap.String("phone", vo.MaskPhone(phone)),
		zap.Error(fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)),
	)
}
