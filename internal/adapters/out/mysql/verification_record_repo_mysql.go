package mysql

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/EthanQC/verification-service/internal/domain/entity"
	"github.com/EthanQC/verification-service/internal/domain/vo"
	"github.com/EthanQC/verification-service/internal/ports/out"
)

// VerificationCodeModel 验证码表，时间字段统一存毫秒时间戳
type VerificationCodeModel struct {
	RequestID        string `gorm:"column:request_id;primaryKey;type:varchar(64)"`
	Phone            string `gorm:"column:phone;type:varchar(20);not null;index:idx_phone_created,priority:1"`
	Code             string `gorm:"column:code;type:varchar(12);not null"`
	ExpiresAtMs      int64  `gorm:"column:expires_at;not null;index"`
	CreatedAtMs      int64  `gorm:"column:created_at;not null;index:idx_phone_created,priority:2"`
	SentCount        int    `gorm:"column:sent_count;not null;default:0"`
	LastSentAtMs     int64  `gorm:"column:last_sent_at;not null;default:0"`
	Status           string `gorm:"column:status;type:varchar(16);not null;index"`
	ChannelName      string `gorm:"column:channel_name;type:varchar(32)"`
	ChannelMessageID string `gorm:"column:channel_message_id;type:varchar(128)"`
	ErrorMessage     string `gorm:"column:error_message;type:varchar(512)"`
	UserAgent        string `gorm:"column:user_agent;type:varchar(255)"`
	IPAddress        string `gorm:"column:ip_address;type:varchar(64)"`
}

func (VerificationCodeModel) TableName() string {
	return "verification_codes"
}

// Migrate 建表，main 在 store.auto_migrate 打开时调用
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&VerificationCodeModel{})
}

func toModel(r *entity.VerificationRecord) *VerificationCodeModel {
	return &VerificationCodeModel{
		RequestID:        r.RequestID,
		Phone:            r.Phone,
		Code:             r.Code,
		ExpiresAtMs:      r.ExpiresAt.UnixMilli(),
		CreatedAtMs:      r.CreatedAt.UnixMilli(),
		SentCount:        r.SentCount,
		LastSentAtMs:     r.LastSentAt.UnixMilli(),
		Status:           string(r.Status),
		ChannelName:      r.ChannelName,
		ChannelMessageID: r.ChannelMessageID,
		ErrorMessage:     r.ErrorMessage,
		UserAgent:        r.Origin.UserAgent,
		IPAddress:        r.Origin.IPAddress,
	}
}

func (m *VerificationCodeModel) toEntity() *entity.VerificationRecord {
	return &entity.VerificationRecord{
		RequestID:        m.RequestID,
		Phone:            m.Phone,
		Code:             m.Code,
		CreatedAt:        time.UnixMilli(m.CreatedAtMs),
		ExpiresAt:        time.UnixMilli(m.ExpiresAtMs),
		SentCount:        m.SentCount,
		LastSentAt:       time.UnixMilli(m.LastSentAtMs),
		Status:           entity.RecordStatus(m.Status),
		ChannelName:      m.ChannelName,
		ChannelMessageID: m.ChannelMessageID,
		ErrorMessage:     m.ErrorMessage,
		Origin:           vo.Origin{UserAgent: m.UserAgent, IPAddress: m.IPAddress},
	}
}

type VerificationRecordRepoMysql struct {
	db *gorm.DB
}

var _ out.DurableRecordRepository = (*VerificationRecordRepoMysql)(nil)

func NewVerificationRecordRepoMysql(db *gorm.DB) *VerificationRecordRepoMysql {
	return &VerificationRecordRepoMysql{db: db}
}

// Save 终态直接覆盖；非终态写入不会把已使用或已过期的同一条记录改回去
func (r *VerificationRecordRepoMysql) Save(ctx context.Context, rec *entity.VerificationRecord) error {
	m := toModel(rec)
	db := r.db.WithContext(ctx)
	if rec.Status.IsTerminal() {
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "request_id"}},
			UpdateAll: true,
		}).Create(m).Error
	}

	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(m).Error; err != nil {
		return err
	}
	return db.Model(&VerificationCodeModel{}).
		Where("request_id = ? AND status NOT IN ?", m.RequestID, terminalStatuses).
		Updates(m.columns()).Error
}

var terminalStatuses = []string{string(entity.StatusUsed), string(entity.StatusExpired)}

// columns 除主键外的全部列，零值也要写入
func (m *VerificationCodeModel) columns() map[string]interface{} {
	return map[string]interface{}{
		"phone":              m.Phone,
		"code":               m.Code,
		"expires_at":         m.ExpiresAtMs,
		"created_at":         m.CreatedAtMs,
		"sent_count":         m.SentCount,
		"last_sent_at":       m.LastSentAtMs,
		"status":             m.Status,
		"channel_name":       m.ChannelName,
		"channel_message_id": m.ChannelMessageID,
		"error_message":      m.ErrorMessage,
		"user_agent":         m.UserAgent,
		"ip_address":         m.IPAddress,
	}
}

func (r *VerificationRecordRepoMysql) ExpireActive(ctx context.Context, phone, keepRequestID string) error {
	return r.db.WithContext(ctx).
		Model(&VerificationCodeModel{}).
		Where("phone = ? AND request_id <> ? AND status IN ?", phone, keepRequestID, []string{
			string(entity.StatusPending), string(entity.StatusSent), string(entity.StatusFailed),
		}).
		Update("status", string(entity.StatusExpired)).Error
}

func (r *VerificationRecordRepoMysql) FindLatest(ctx context.Context, phone string) (*entity.VerificationRecord, error) {
	var m VerificationCodeModel
	err := r.db.WithContext(ctx).
		Where("phone = ?", phone).
		Order("created_at DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.toEntity(), nil
}

func (r *VerificationRecordRepoMysql) Delete(ctx context.Context, phone, requestID string) error {
	return r.db.WithContext(ctx).
		Where("phone = ? AND request_id = ?", phone, requestID).
		Delete(&VerificationCodeModel{}).Error
}

func (r *VerificationRecordRepoMysql) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ? OR status IN ?", now.UnixMilli(), terminalStatuses).
		Delete(&VerificationCodeModel{})
	return res.RowsAffected, res.Error
}
