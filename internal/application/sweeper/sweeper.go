package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/EthanQC/verification-service/internal/metrics"
	"github.com/EthanQC/verification-service/internal/ports/out"
	"github.com/EthanQC/verification-service/pkg/clock"
)

const DefaultInterval = 10 * time.Minute

// stampRetention 冷却时间戳保留多少个清理周期
const stampRetention = 3

// Sweeper 定期清理过期记录，只删除，不创建也不修改活跃记录
type Sweeper struct {
	interval time.Duration
	store    out.RecordStore
	attempts out.AttemptCounter
	clock    clock.Clock
	metrics  *metrics.Registry

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func New(store out.RecordStore, attempts out.AttemptCounter, interval time.Duration, clk clock.Clock, m *metrics.Registry) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		interval: interval,
		store:    store,
		attempts: attempts,
		clock:    clk,
		metrics:  m,
	}
}

func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("sweeper already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.loop()

	zap.L().Info("Expiry sweeper started", zap.Duration("interval", s.interval))
	return nil
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	zap.L().Info("Expiry sweeper stopped")
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(s.ctx)
		}
	}
}

// RunOnce 执行一轮清理；持久层失败只记日志，下一轮再删
func (s *Sweeper) RunOnce(ctx context.Context) out.SweepReport {
	now := s.clock.Now()
	rep := s.store.Sweep(ctx, now, now.Add(-stampRetention*s.interval))
	pruned := s.attempts.Prune(now)

	if rep.DurableErr != nil {
		zap.L().Warn("Sweep durable store failed, retry next tick", zap.Error(rep.DurableErr))
	}
	s.metrics.SweepDeleted("durable", int(rep.DurableDeleted))
	s.metrics.SweepDeleted("cache", rep.CacheDeleted)
	s.metrics.SweepDeleted("stamps", rep.StampsEvicted)

	zap.L().Debug("Sweep finished",
		zap.Int64("durable_deleted", rep.DurableDeleted),
		zap.Int("cache_deleted", rep.CacheDeleted),
		zap.Int("stamps_evicted", rep.StampsEvicted),
		zap.Int("cache_size", rep.CacheSize),
		zap.Int("attempt_counters_pruned", pruned),
	)
	return rep
}
