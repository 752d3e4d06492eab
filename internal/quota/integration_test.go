package quota_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/koe/internal/quota"
	"github.com/ashita-ai/koe/internal/testutil"
	"github.com/ashita-ai/koe/migrations"
)

var (
	redisURL    string
	postgresURL string
)

func TestMain(m *testing.M) {
	if os.Getenv("KOE_SKIP_CONTAINER_TESTS") != "" {
		os.Exit(m.Run())
	}

	redisC := testutil.MustStartRedis()
	defer redisC.Terminate()
	redisURL = redisC.URL

	pgC := testutil.MustStartPostgres()
	defer pgC.Terminate()
	postgresURL = pgC.URL

	os.Exit(m.Run())
}

// stores returns a fresh instance of every backend under a unique user
// namespace so tests don't interfere through shared containers.
func stores(t *testing.T) map[string]quota.Store {
	t.Helper()
	ctx := context.Background()

	out := map[string]quota.Store{}

	mem := quota.NewMemoryStore()
	t.Cleanup(func() { _ = mem.Close() })
	out["memory"] = mem

	if redisURL != "" {
		rs, err := quota.NewRedisStore(ctx, redisURL)
		require.NoError(t, err)
		t.Cleanup(func() { _ = rs.Close() })
		out["redis"] = rs
	}

	if postgresURL != "" {
		ps, err := quota.NewPostgresStore(ctx, postgresURL, testutil.TestLogger())
		require.NoError(t, err)
		require.NoError(t, ps.Migrate(ctx, migrations.FS))
		t.Cleanup(func() { _ = ps.Close() })
		out["postgres"] = ps
	}

	return out
}

func TestBackendsSettleAndAdmit(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			user := fmt.Sprintf("settle-%s", name)

			a, err := store.CheckAdmission(ctx, user, "general", 600, 5)
			require.NoError(t, err)
			assert.True(t, a.Allowed)
			assert.Equal(t, float64(600), a.RemainingSeconds)

			require.NoError(t, store.Settle(ctx, user, "general", 597))

			a, err = store.CheckAdmission(ctx, user, "general", 600, 5)
			require.NoError(t, err)
			assert.False(t, a.Allowed)
			assert.Equal(t, float64(3), a.RemainingSeconds)

			// Status query (estimate 0) observes the same value and
			// consumes nothing.
			for i := 0; i < 3; i++ {
				a, err = store.CheckAdmission(ctx, user, "general", 600, 0)
				require.NoError(t, err)
				assert.Equal(t, float64(3), a.RemainingSeconds)
			}
		})
	}
}

func TestBackendsConcurrentSettle(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			user := fmt.Sprintf("concurrent-%s", name)
			const workers = 20
			const each = 3.0

			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					assert.NoError(t, store.Settle(ctx, user, "general", each))
				}()
			}
			wg.Wait()

			a, err := store.CheckAdmission(ctx, user, "general", 600, 0)
			require.NoError(t, err)
			assert.InDelta(t, 600-workers*each, a.RemainingSeconds, 1e-6)
		})
	}
}

func TestBackendsKeysIndependent(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			user := fmt.Sprintf("keys-%s", name)

			require.NoError(t, store.Settle(ctx, user, "general", 100))

			a, err := store.CheckAdmission(ctx, user, "specialist", 900, 0)
			require.NoError(t, err)
			assert.Equal(t, float64(900), a.RemainingSeconds)
		})
	}
}
