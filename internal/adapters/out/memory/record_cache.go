package memory

import (
	"sync"
	"time"

	"github.com/EthanQC/verification-service/internal/domain/entity"
)

// RecordCache 进程内缓存层：每个手机号只保留最新一条记录，外加一份最近下发时间戳
// 只允许通过 dualstore 访问
type RecordCache struct {
	mu      sync.RWMutex
	records map[string]*entity.VerificationRecord
	stamps  map[string]time.Time
}

func NewRecordCache() *RecordCache {
	return &RecordCache{
		records: make(map[string]*entity.VerificationRecord),
		stamps:  make(map[string]time.Time),
	}
}

// Put 覆盖该手机号的记录，旧记录即被顶替
func (c *RecordCache) Put(r *entity.VerificationRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records[r.Phone] = r.Clone()
	c.touchLocked(r.Phone, r.LastSentAt)
}

// Merge 与已有记录按 entity.Newer 合并，用于把持久层读到的数据回填进缓存
func (c *RecordCache) Merge(r *entity.VerificationRecord) *entity.VerificationRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := entity.Newer(c.records[r.Phone], r)
	c.records[r.Phone] = merged.Clone()
	c.touchLocked(r.Phone, merged.LastSentAt)
	return merged.Clone()
}

func (c *RecordCache) Get(phone string) *entity.VerificationRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.records[phone].Clone()
}

// Update 仅当缓存里的记录仍是 requestID 这一条时执行 fn
func (c *RecordCache) Update(phone, requestID string, fn func(r *entity.VerificationRecord)) (*entity.VerificationRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.records[phone]
	if !ok || r.RequestID != requestID {
		return nil, false
	}
	fn(r)
	c.touchLocked(phone, r.LastSentAt)
	return r.Clone(), true
}

// Delete 只删除 requestID 匹配的那一条，避免误删刚顶替进来的新记录
func (c *RecordCache) Delete(phone, requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.records[phone]
	if !ok || r.RequestID != requestID {
		return false
	}
	delete(c.records, phone)
	return true
}

// Stamp 最近一次下发时间，没有时为零值
func (c *RecordCache) Stamp(phone string) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stamps[phone]
}

// Prune 只删除已过期的记录
// 已使用的记录作为墓碑保留到过期，持久层镜像写丢失时也能挡住回填的旧状态
func (c *RecordCache) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for phone, r := range c.records {
		if r.IsExpired(now) {
			delete(c.records, phone)
			n++
		}
	}
	return n
}

// EvictStamps 删除早于 before 的冷却时间戳，限制内存增长
func (c *RecordCache) EvictStamps(before time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for phone, ts := range c.stamps {
		if ts.Before(before) {
			delete(c.stamps, phone)
			n++
		}
	}
	return n
}

func (c *RecordCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

func (c *RecordCache) touchLocked(phone string, ts time.Time) {
	if ts.After(c.stamps[phone]) {
		c.stamps[phone] = ts
	}
}
