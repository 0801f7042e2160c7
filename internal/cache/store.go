package cache

import (
	"sync"
	"time"

	"trustscore/pkg/models"
)

// Entry 缓存条目。条目只会被整体替换，不会被原地修改
type Entry struct {
	Score     *models.WalletScore `json:"score"`
	StoredAt  time.Time           `json:"stored_at"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// Expired 判断条目在now时刻是否已过期
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Store 缓存存储后端
type Store interface {
	Get(key string) (*Entry, bool, error)
	Set(key string, entry *Entry) error
	Delete(key string) error
	// DeleteIfExpired 仅当条目在now时刻已过期时删除，检查与删除是原子的
	DeleteIfExpired(key string, now time.Time) (bool, error)
	// DeleteExpired 删除now时刻已过期的条目，返回删除数量
	DeleteExpired(now time.Time) (int, error)
	// Purge 清空所有条目，返回删除数量
	Purge() (int, error)
	Len() int
	Close() error
}

// MemoryStore 进程内存储
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (m *MemoryStore) Get(key string) (*Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[key]
	return entry, ok, nil
}

func (m *MemoryStore) Set(key string, entry *Entry) error {
	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteIfExpired(key string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok || !entry.Expired(now) {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *MemoryStore) DeleteExpired(now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.entries {
		if entry.Expired(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Purge() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries)
	m.entries = make(map[string]*Entry)
	return n, nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryStore) Close() error {
	return nil
}
