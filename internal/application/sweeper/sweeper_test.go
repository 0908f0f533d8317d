package sweeper

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/EthanQC/verification-service/internal/adapters/out/dualstore"
	"github.com/EthanQC/verification-service/internal/adapters/out/memory"
	"github.com/EthanQC/verification-service/internal/domain/entity"
	"github.com/EthanQC/verification-service/internal/domain/vo"
	"github.com/EthanQC/verification-service/internal/ports/out"
	"github.com/EthanQC/verification-service/pkg/clock"
)

var t0 = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

type mockStore struct {
	mock.Mock
	out.RecordStore
}

func (m *mockStore) Sweep(ctx context.Context, now, cutoff time.Time) out.SweepReport {
	args := m.Called(now, cutoff)
	return args.Get(0).(out.SweepReport)
}

func TestRunOnceUsesStampCutoff(t *testing.T) {
	clk := clock.NewFake(t0)
	store := &mockStore{}
	store.On("Sweep", t0, t0.Add(-30*time.Minute)).Return(out.SweepReport{DurableDeleted: 2})

	s := New(store, memory.NewAttemptCounter(time.Hour), 10*time.Minute, clk, nil)
	rep := s.RunOnce(context.Background())

	assert.Equal(t, int64(2), rep.DurableDeleted)
	store.AssertExpectations(t)
}

func TestRunOnceToleratesDurableFailure(t *testing.T) {
	store := &mockStore{}
	store.On("Sweep", mock.Anything, mock.Anything).Return(out.SweepReport{DurableErr: stderrors.New("down"), CacheDeleted: 1})

	s := New(store, memory.NewAttemptCounter(time.Hour), time.Minute, clock.NewFake(t0), nil)
	rep := s.RunOnce(context.Background())
	assert.Error(t, rep.DurableErr)
	assert.Equal(t, 1, rep.CacheDeleted)
}

func TestRunOnceKeepsActiveRecords(t *testing.T) {
	clk := clock.NewFake(t0)
	cache := memory.NewRecordCache()
	store := dualstore.New(cache)
	ctx := context.Background()

	expired := entity.NewVerificationRecord("a", "13800138000", "111111", t0, 5*time.Minute, vo.Origin{})
	active := entity.NewVerificationRecord("b", "13900139000", "222222", t0.Add(8*time.Minute), 5*time.Minute, vo.Origin{})
	require.NoError(t, store.Put(ctx, expired))
	require.NoError(t, store.Put(ctx, active))

	attempts := memory.NewAttemptCounter(time.Hour)
	attempts.Increment("13800138000", t0)

	clk.Advance(10 * time.Minute)
	s := New(store, attempts, 10*time.Minute, clk, nil)
	rep := s.RunOnce(ctx)

	assert.Equal(t, 1, rep.CacheDeleted)
	assert.Equal(t, 1, cache.Len())
	got, err := store.Get(ctx, "13900139000")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, got.Status)
}

func TestStartStop(t *testing.T) {
	store := &mockStore{}
	store.On("Sweep", mock.Anything, mock.Anything).Return(out.SweepReport{}).Maybe()

	s := New(store, memory.NewAttemptCounter(time.Hour), 5*time.Millisecond, clock.Real(), nil)
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	time.Sleep(20 * time.Millisecond)
	s.Stop()
	s.Stop()

	assert.NotEmpty(t, store.Calls)
}
