// Package quota tracks per-user, per-agent daily usage and answers admission
// and settlement queries for the pipeline.
//
// The Store interface is the contract; the gateway ships an in-memory
// implementation plus Redis- and Postgres-backed ones for deployments that
// need cross-instance or durable accounting. The day boundary for the daily
// reset is UTC midnight.
package quota

import (
	"context"
	"time"
)

// Admission is the result of an admission check.
type Admission struct {
	// Allowed reports whether the estimated cost fits the remaining budget.
	Allowed bool
	// RemainingSeconds is the budget left today, clamped at zero.
	RemainingSeconds float64
	// LimitSeconds echoes the daily ceiling the check was made against.
	LimitSeconds float64
}

// Store tracks accumulated usage per (userID, agentID, UTC day).
// Implementations must be safe for concurrent use: two concurrent settlements
// for the same key must not lose an update.
type Store interface {
	// CheckAdmission reports whether a request estimated at estimatedSeconds
	// fits under limitSeconds for today. An estimate of 0 is a pure status
	// query. Admission never consumes quota — only Settle mutates usage.
	CheckAdmission(ctx context.Context, userID, agentID string, limitSeconds, estimatedSeconds float64) (Admission, error)

	// Settle adds actualSeconds to today's usage after a completed run.
	Settle(ctx context.Context, userID, agentID string, actualSeconds float64) error

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// dayStamp returns the UTC calendar day used as the reset boundary.
func dayStamp(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func admit(used, limit, estimate float64) Admission {
	remaining := limit - used
	a := Admission{
		Allowed:          remaining >= estimate,
		RemainingSeconds: remaining,
		LimitSeconds:     limit,
	}
	if a.RemainingSeconds < 0 {
		a.RemainingSeconds = 0
	}
	return a
}
