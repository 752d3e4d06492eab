package quota

import (
	"context"
	"sync"
	"time"
)

// record is one (userID, agentID) usage counter.
type record struct {
	usedSeconds float64
	day         string // UTC day the counter belongs to.
	lastAccess  time.Time
}

// MemoryStore implements Store with a mutex-guarded in-memory map.
//
// The day-rollover reset happens inside the same critical section as the
// read or update that observes it, so the reset is applied exactly once and
// concurrent settlements never lose an update. A background goroutine evicts
// entries not touched in the last 48 hours to bound memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]*record

	now func() time.Time // Overridable in tests.

	stopOnce sync.Once
	done     chan struct{}
}

type recordKey struct {
	userID  string
	agentID string
}

// NewMemoryStore creates an in-memory quota store and starts its eviction
// goroutine. Call Close to stop it.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		records: make(map[recordKey]*record),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// CheckAdmission implements Store.
func (m *MemoryStore) CheckAdmission(_ context.Context, userID, agentID string, limitSeconds, estimatedSeconds float64) (Admission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.touch(userID, agentID)
	return admit(rec.usedSeconds, limitSeconds, estimatedSeconds), nil
}

// Settle implements Store.
func (m *MemoryStore) Settle(_ context.Context, userID, agentID string, actualSeconds float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.touch(userID, agentID)
	rec.usedSeconds += actualSeconds
	return nil
}

// touch returns the record for the key, creating it lazily and applying the
// day-rollover reset if the stored day is stale. Callers must hold mu.
func (m *MemoryStore) touch(userID, agentID string) *record {
	now := m.now()
	today := dayStamp(now)
	key := recordKey{userID: userID, agentID: agentID}

	rec, ok := m.records[key]
	if !ok {
		rec = &record{day: today}
		m.records[key] = rec
	}
	if rec.day != today {
		rec.usedSeconds = 0
		rec.day = today
	}
	rec.lastAccess = now
	return rec
}

// Close stops the eviction goroutine. Safe to call multiple times.
func (m *MemoryStore) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

const staleThreshold = 48 * time.Hour

func (m *MemoryStore) cleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryStore) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-staleThreshold)
	for key, rec := range m.records {
		if rec.lastAccess.Before(cutoff) {
			delete(m.records, key)
		}
	}
}
