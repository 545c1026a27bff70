package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	members   map[string]struct{}
	counter   int
	isCounter bool
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is an in-process Cache for tests and single-process runs.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemory creates a memory-backed cache with the given default TTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*memoryEntry),
	}
}

// SetClock overrides the time source. Test hook.
func (m *Memory) SetClock(now func() time.Time) { m.now = now }

// get returns a live entry, evicting it first if expired.
func (m *Memory) get(key string) (*memoryEntry, bool) {
	entry, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if entry.expired(m.now()) {
		delete(m.entries, key)
		return nil, false
	}
	return entry, true
}

func (m *Memory) ensure(key string) *memoryEntry {
	if entry, ok := m.get(key); ok {
		return entry
	}
	entry := &memoryEntry{
		members:   make(map[string]struct{}),
		expiresAt: m.now().Add(m.ttl),
	}
	m.entries[key] = entry
	return entry
}

func (m *Memory) SetAdd(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensure(key).members[value] = struct{}{}
	return nil
}

func (m *Memory) SetIncludes(ctx context.Context, key, value string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.get(key)
	if !ok {
		return false, nil
	}
	_, member := entry.members[value]
	return member, nil
}

func (m *Memory) CounterGet(ctx context.Context, key string) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.get(key)
	if !ok {
		return 0, false, nil
	}
	return entry.counter, true, nil
}

func (m *Memory) CounterSet(ctx context.Context, key string, value int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.ensure(key)
	entry.counter = value
	entry.isCounter = true
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.get(key); ok {
		entry.expiresAt = m.now().Add(ttl)
	}
	return nil
}
