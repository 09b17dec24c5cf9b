package domain

import (
	"context"
	"time"
)

// UsageEvent describes one completed dispatch for usage accounting.
type UsageEvent struct {
	At             time.Time
	Agent          string
	Backend        string // backend id, "fallback:<name>", or "" on terminal failure
	Tokens         int
	ProcessingTime time.Duration
	UsedFallback   bool
	Failed         bool
}

// UsageRecord is a daily aggregate for one (agent, backend) pair.
type UsageRecord struct {
	Day            string        `json:"day"` // YYYY-MM-DD, UTC
	Agent          string        `json:"agent"`
	Backend        string        `json:"backend"`
	Requests       int           `json:"requests"`
	Tokens         int           `json:"tokens"`
	ProcessingTime time.Duration `json:"processing_time"`
	Fallbacks      int           `json:"fallbacks"`
	Failures       int           `json:"failures"`
}

// UsageRecorder accumulates usage events.
type UsageRecorder interface {
	Record(ctx context.Context, ev UsageEvent) error
}

// UsageStore is a UsageRecorder that can also be queried and pruned.
type UsageStore interface {
	UsageRecorder
	Since(ctx context.Context, since time.Time) ([]UsageRecord, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}
