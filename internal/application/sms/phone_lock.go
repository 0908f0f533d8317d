package sms

import "sync"

// phoneLocks 按手机号加锁，没人持有时删除条目，map 不会随手机号数量无限增长
type phoneLocks struct {
	mu    sync.Mutex
	locks map[string]*phoneLock
}

type phoneLock struct {
	mu   sync.Mutex
	refs int
}

func newPhoneLocks() *phoneLocks {
	return &phoneLocks{locks: make(map[string]*phoneLock)}
}

// Lock 返回解锁函数
func (p *phoneLocks) Lock(phone string) func() {
	p.mu.Lock()
	l, ok := p.locks[phone]
	if !ok {
		l = &phoneLock{}
		p.locks[phone] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, phone)
		}
		p.mu.Unlock()
	}
}

func (p *phoneLocks) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
