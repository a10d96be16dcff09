package cache

import (
	"sync"
	"time"

	"github.com/alexjbarnes/gadget-auth/internal/token"
)

// cleanupInterval controls how often expired entries are reaped.
const cleanupInterval = 5 * time.Minute

type memoryEntry struct {
	tok       *token.OAuthToken
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is an in-process Cache. Entries are lost on restart.
type Memory struct {
	mu      sync.RWMutex
	entries map[Key]memoryEntry
	stopGC  chan struct{}
	stop    sync.Once
	now     func() time.Time
}

// NewMemory creates an empty cache and starts a background goroutine that
// periodically removes expired entries. Call Stop to end it.
func NewMemory() *Memory {
	m := &Memory{
		entries: make(map[Key]memoryEntry),
		stopGC:  make(chan struct{}),
		now:     time.Now,
	}
	go m.gcLoop()

	return m
}

// Stop terminates the background cleanup goroutine.
func (m *Memory) Stop() {
	m.stop.Do(func() { close(m.stopGC) })
}

func (m *Memory) gcLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopGC:
			return
		}
	}
}

func (m *Memory) cleanup() {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}
}

// Get returns a copy of the stored token, or nil.
func (m *Memory) Get(key Key) (*token.OAuthToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || e.expired(m.now()) {
		return nil, nil
	}

	return e.tok.Clone(), nil
}

// Put stores a copy of tok. A zero ttl never expires.
func (m *Memory) Put(key Key, tok *token.OAuthToken, ttl time.Duration) error {
	e := memoryEntry{tok: tok.Clone()}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()

	return nil
}

// Delete removes key.
func (m *Memory) Delete(key Key) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()

	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}
