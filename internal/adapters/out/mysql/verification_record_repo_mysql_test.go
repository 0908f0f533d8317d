package mysql

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/EthanQC/verification-service/internal/domain/entity"
	"github.com/EthanQC/verification-service/internal/domain/vo"
)

var t0 = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

// 用纯 Go 的 sqlite 顶替 MySQL，SQL 走的是同一套 GORM 语句
func newTestRepo(t *testing.T) *VerificationRecordRepoMysql {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Migrate(db))
	return NewVerificationRecordRepoMysql(db)
}

func rec(id string, at time.Time) *entity.VerificationRecord {
	return entity.NewVerificationRecord(id, "13800138000", "123456", at, 5*time.Minute, vo.Origin{UserAgent: "ua", IPAddress: "10.0.0.1"})
}

func TestSaveAndFindLatest(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	got, err := repo.FindLatest(ctx, "13800138000")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.Save(ctx, rec("a", t0)))
	require.NoError(t, repo.Save(ctx, rec("b", t0.Add(time.Minute))))

	got, err = repo.FindLatest(ctx, "13800138000")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "b", got.RequestID)
	assert.Equal(t, t0.Add(time.Minute).UnixMilli(), got.CreatedAt.UnixMilli())
	assert.Equal(t, t0.Add(6*time.Minute).UnixMilli(), got.ExpiresAt.UnixMilli())
	assert.Equal(t, "10.0.0.1", got.Origin.IPAddress)
}

func TestSaveUpserts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	r := rec("a", t0)
	require.NoError(t, repo.Save(ctx, r))
	r.ApplyAttempt(entity.DeliveryAttempt{At: t0.Add(time.Second), Success: true, ChannelName: "mock", ChannelMessageID: "m-1"})
	require.NoError(t, repo.Save(ctx, r))

	got, err := repo.FindLatest(ctx, r.Phone)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSent, got.Status)
	assert.Equal(t, 1, got.SentCount)
	assert.Equal(t, "m-1", got.ChannelMessageID)
}

func TestSaveNeverDowngradesUsed(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	sent := rec("a", t0)
	sent.ApplyAttempt(entity.DeliveryAttempt{At: t0.Add(time.Second), Success: true, ChannelName: "mock"})
	used := sent.Clone()
	require.NoError(t, used.Transition(entity.StatusUsed))

	// 下发结果晚于核销写入到达
	require.NoError(t, repo.Save(ctx, used))
	require.NoError(t, repo.Save(ctx, sent))

	got, err := repo.FindLatest(ctx, sent.Phone)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusUsed, got.Status)
}

func TestExpireActive(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, rec("a", t0)))
	require.NoError(t, repo.Save(ctx, rec("b", t0.Add(time.Minute))))
	require.NoError(t, repo.ExpireActive(ctx, "13800138000", "b"))

	var statuses []VerificationCodeModel
	require.NoError(t, repo.db.Order("request_id").Find(&statuses).Error)
	require.Len(t, statuses, 2)
	assert.Equal(t, string(entity.StatusExpired), statuses[0].Status)
	assert.Equal(t, string(entity.StatusPending), statuses[1].Status)
}

func TestDeleteAndDeleteExpired(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	old := rec("old", t0)
	used := rec("used", t0.Add(10*time.Minute))
	require.NoError(t, used.Transition(entity.StatusUsed))
	live := entity.NewVerificationRecord("live", "13900139000", "654321", t0.Add(10*time.Minute), 5*time.Minute, vo.Origin{})
	gone := entity.NewVerificationRecord("gone", "13700137000", "000000", t0.Add(10*time.Minute), 5*time.Minute, vo.Origin{})
	for _, r := range []*entity.VerificationRecord{old, used, live, gone} {
		require.NoError(t, repo.Save(ctx, r))
	}

	require.NoError(t, repo.Delete(ctx, gone.Phone, gone.RequestID))

	n, err := repo.DeleteExpired(ctx, t0.Add(11*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := repo.FindLatest(ctx, "13900139000")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "live", got.RequestID)

	got, err = repo.FindLatest(ctx, "13700137000")
	require.NoError(t, err)
	assert.Nil(t, got)
}
