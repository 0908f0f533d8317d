package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/EthanQC/verification-service/internal/domain/entity"
	"github.com/EthanQC/verification-service/internal/domain/vo"
	"github.com/EthanQC/verification-service/internal/ports/out"
)

const keyPrefix = "verify:record:"

// recordDTO redis 中的存储格式，时间统一为毫秒时间戳
type recordDTO struct {
	RequestID        string `json:"request_id"`
	Phone            string `json:"phone"`
	Code             string `json:"code"`
	CreatedAt        int64  `json:"created_at"`
	ExpiresAt        int64  `json:"expires_at"`
	SentCount        int    `json:"sent_count"`
	LastSentAt       int64  `json:"last_sent_at"`
	Status           string `json:"status"`
	ChannelName      string `json:"channel_name,omitempty"`
	ChannelMessageID string `json:"channel_message_id,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
	UserAgent        string `json:"user_agent,omitempty"`
	IPAddress        string `json:"ip_address,omitempty"`
}

// 只有当前记录仍是 ARGV[1] 时才删除，避免误删刚写入的新记录
var deleteIfMatch = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
	return 0
end
local rec = cjson.decode(raw)
if rec["request_id"] == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// 同一请求已处于终态时，非终态写入直接丢弃
// ARGV: 1 记录 JSON，2 过期毫秒，3 request_id，4 新状态是否为终态
var saveUnlessTerminal = redis.NewScript(`
if ARGV[4] == "0" then
	local raw = redis.call("GET", KEYS[1])
	if raw then
		local cur = cjson.decode(raw)
		if cur["request_id"] == ARGV[3] and (cur["status"] == "used" or cur["status"] == "expired") then
			return 0
		end
	end
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

// VerificationRecordRepoRedis 每个手机号只保留最新一条记录，新记录直接覆盖旧记录
type VerificationRecordRepoRedis struct {
	client    *redis.Client
	retention time.Duration
	now       func() time.Time
}

var _ out.DurableRecordRepository = (*VerificationRecordRepoRedis)(nil)

// NewVerificationRecordRepoRedis retention 为过期之后 key 继续保留的时间
func NewVerificationRecordRepoRedis(client *redis.Client, retention time.Duration) *VerificationRecordRepoRedis {
	return &VerificationRecordRepoRedis{client: client, retention: retention, now: time.Now}
}

func key(phone string) string {
	return keyPrefix + phone
}

func (r *VerificationRecordRepoRedis) Save(ctx context.Context, rec *entity.VerificationRecord) error {
	b, err := json.Marshal(toDTO(rec))
	if err != nil {
		return fmt.Errorf("序列化验证码记录失败: %w", err)
	}
	ttl := rec.ExpiresAt.Sub(r.now()) + r.retention
	if ttl < time.Second {
		ttl = time.Second
	}
	terminal := "0"
	if rec.Status.IsTerminal() {
		terminal = "1"
	}
	return saveUnlessTerminal.Run(ctx, r.client, []string{key(rec.Phone)},
		string(b), ttl.Milliseconds(), rec.RequestID, terminal).Err()
}

// ExpireActive 按手机号存储时旧记录已经被覆盖，这里只处理 key 上残留的其他请求
func (r *VerificationRecordRepoRedis) ExpireActive(ctx context.Context, phone, keepRequestID string) error {
	cur, err := r.FindLatest(ctx, phone)
	if err != nil || cur == nil {
		return err
	}
	if cur.RequestID == keepRequestID || cur.Status.IsTerminal() {
		return nil
	}
	cur.Status = entity.StatusExpired
	return r.Save(ctx, cur)
}

func (r *VerificationRecordRepoRedis) FindLatest(ctx context.Context, phone string) (*entity.VerificationRecord, error) {
	data, err := r.client.Get(ctx, key(phone)).Bytes()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("读取验证码记录失败: %w", err)
	}
	var d recordDTO
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("反序列化验证码记录失败: %w", err)
	}
	return d.toEntity(), nil
}

func (r *VerificationRecordRepoRedis) Delete(ctx context.Context, phone, requestID string) error {
	return deleteIfMatch.Run(ctx, r.client, []string{key(phone)}, requestID).Err()
}

func (r *VerificationRecordRepoRedis) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		data, err := r.client.Get(ctx, k).Bytes()
		if err == redis.Nil {
			continue
		} else if err != nil {
			return deleted, fmt.Errorf("读取验证码记录失败: %w", err)
		}
		var d recordDTO
		if err := json.Unmarshal(data, &d); err != nil {
			return deleted, fmt.Errorf("反序列化验证码记录失败: %w", err)
		}
		rec := d.toEntity()
		if !rec.IsExpired(now) && !rec.Status.IsTerminal() {
			continue
		}
		n, err := deleteIfMatch.Run(ctx, r.client, []string{k}, rec.RequestID).Int64()
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	return deleted, iter.Err()
}

func toDTO(r *entity.VerificationRecord) recordDTO {
	return recordDTO{
		RequestID:        r.RequestID,
		Phone:            r.Phone,
		Code:             r.Code,
		CreatedAt:        r.CreatedAt.UnixMilli(),
		ExpiresAt:        r.ExpiresAt.UnixMilli(),
		SentCount:        r.SentCount,
		LastSentAt:       r.LastSentAt.UnixMilli(),
		Status:           string(r.Status),
		ChannelName:      r.ChannelName,
		ChannelMessageID: r.ChannelMessageID,
		ErrorMessage:     r.ErrorMessage,
		UserAgent:        r.Origin.UserAgent,
		IPAddress:        r.Origin.IPAddress,
	}
}

func (d recordDTO) toEntity() *entity.VerificationRecord {
	return &entity.VerificationRecord{
		RequestID:        d.RequestID,
		Phone:            d.Phone,
		Code:             d.Code,
		CreatedAt:        time.UnixMilli(d.CreatedAt),
		ExpiresAt:        time.UnixMilli(d.ExpiresAt),
		SentCount:        d.SentCount,
		LastSentAt:       time.UnixMilli(d.LastSentAt),
		Status:           entity.RecordStatus(d.Status),
		ChannelName:      d.ChannelName,
		ChannelMessageID: d.ChannelMessageID,
		ErrorMessage:     d.ErrorMessage,
		Origin:           vo.Origin{UserAgent: d.UserAgent, IPAddress: d.IPAddress},
	}
}
