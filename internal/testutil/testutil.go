// Package testutil provides shared container infrastructure for integration
// tests that need a real Redis or Postgres behind the quota store.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    tc := testutil.MustStartRedis()
//	    defer tc.Terminate()
//	    redisURL = tc.URL
//	    os.Exit(m.Run())
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestContainer wraps a started container with its connection URL.
type TestContainer struct {
	Container testcontainers.Container
	URL       string
}

// MustStartRedis starts a Redis container. Calls os.Exit(1) on failure
// (suitable for TestMain).
func MustStartRedis() *TestContainer {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}

	container := mustStart(ctx, req)
	host, err := container.Host(ctx)
	if err != nil {
		fatal("get container host", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		fatal("get container port", err)
	}

	return &TestContainer{
		Container: container,
		URL:       fmt.Sprintf("redis://%s:%s/0", host, port.Port()),
	}
}

// MustStartPostgres starts a Postgres container. Calls os.Exit(1) on failure.
func MustStartPostgres() *TestContainer {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "koe",
			"POSTGRES_PASSWORD": "koe",
			"POSTGRES_DB":       "koe",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container := mustStart(ctx, req)
	host, err := container.Host(ctx)
	if err != nil {
		fatal("get container host", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fatal("get container port", err)
	}

	return &TestContainer{
		Container: container,
		URL:       fmt.Sprintf("postgres://koe:koe@%s:%s/koe?sslmode=disable", host, port.Port()),
	}
}

func mustStart(ctx context.Context, req testcontainers.ContainerRequest) testcontainers.Container {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fatal("start container", err)
	}
	return container
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "testutil: failed to %s: %v\n", what, err)
	os.Exit(1)
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
