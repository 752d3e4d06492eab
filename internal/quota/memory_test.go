package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore returns a memory store with a controllable clock and no
// eviction goroutine running against the real clock.
func newTestStore(t *testing.T) (*MemoryStore, *time.Time) {
	t.Helper()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	m := NewMemoryStore()
	m.now = func() time.Time { return now }
	t.Cleanup(func() { _ = m.Close() })
	return m, &now
}

func TestCheckAdmissionZeroEstimateDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestStore(t)

	require.NoError(t, m.Settle(ctx, "u1", "general", 100))

	for i := 0; i < 5; i++ {
		a, err := m.CheckAdmission(ctx, "u1", "general", 600, 0)
		require.NoError(t, err)
		assert.True(t, a.Allowed)
		assert.Equal(t, float64(500), a.RemainingSeconds)
	}
}

func TestCheckAdmissionCeilingBoundary(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestStore(t)

	a, err := m.CheckAdmission(ctx, "u1", "specialist", 900, 901)
	require.NoError(t, err)
	assert.False(t, a.Allowed)

	a, err = m.CheckAdmission(ctx, "u1", "specialist", 900, 899)
	require.NoError(t, err)
	assert.True(t, a.Allowed)
	assert.Equal(t, float64(900), a.RemainingSeconds)
}

func TestCheckAdmissionReportsRemainingOnRejection(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestStore(t)

	require.NoError(t, m.Settle(ctx, "u1", "general", 597))

	a, err := m.CheckAdmission(ctx, "u1", "general", 600, 5)
	require.NoError(t, err)
	assert.False(t, a.Allowed)
	assert.Equal(t, float64(3), a.RemainingSeconds)
	assert.Equal(t, float64(600), a.LimitSeconds)
}

func TestRemainingClampedAtZero(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestStore(t)

	// Settlement bills actual wall-clock time, which can overshoot the ceiling.
	require.NoError(t, m.Settle(ctx, "u1", "general", 650))

	a, err := m.CheckAdmission(ctx, "u1", "general", 600, 0)
	require.NoError(t, err)
	assert.False(t, a.Allowed)
	assert.Equal(t, float64(0), a.RemainingSeconds)
}

func TestDayRolloverResetsOnce(t *testing.T) {
	ctx := context.Background()
	m, now := newTestStore(t)

	require.NoError(t, m.Settle(ctx, "u1", "general", 400))

	// Cross UTC midnight.
	*now = now.Add(13 * time.Hour)

	a, err := m.CheckAdmission(ctx, "u1", "general", 600, 0)
	require.NoError(t, err)
	assert.Equal(t, float64(600), a.RemainingSeconds, "usage resets on the new day")

	// The reset is idempotent: usage accrued today survives further checks.
	require.NoError(t, m.Settle(ctx, "u1", "general", 50))
	a, err = m.CheckAdmission(ctx, "u1", "general", 600, 0)
	require.NoError(t, err)
	assert.Equal(t, float64(550), a.RemainingSeconds)
}

func TestKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestStore(t)

	require.NoError(t, m.Settle(ctx, "u1", "general", 500))

	a, err := m.CheckAdmission(ctx, "u1", "specialist", 900, 0)
	require.NoError(t, err)
	assert.Equal(t, float64(900), a.RemainingSeconds)

	a, err = m.CheckAdmission(ctx, "u2", "general", 600, 0)
	require.NoError(t, err)
	assert.Equal(t, float64(600), a.RemainingSeconds)
}

func TestConcurrentSettleNoLostUpdates(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestStore(t)

	const workers = 50
	const each = 2.5

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Settle(ctx, "u1", "general", each))
		}()
	}
	wg.Wait()

	a, err := m.CheckAdmission(ctx, "u1", "general", 600, 0)
	require.NoError(t, err)
	assert.InDelta(t, 600-workers*each, a.RemainingSeconds, 1e-9)
}

func TestEvictStale(t *testing.T) {
	ctx := context.Background()
	m, now := newTestStore(t)

	require.NoError(t, m.Settle(ctx, "old", "general", 10))
	*now = now.Add(49 * time.Hour)
	require.NoError(t, m.Settle(ctx, "fresh", "general", 10))

	m.evictStale()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.NotContains(t, m.records, recordKey{userID: "old", agentID: "general"})
	assert.Contains(t, m.records, recordKey{userID: "fresh", agentID: "general"})
}
