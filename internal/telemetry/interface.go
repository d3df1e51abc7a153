package telemetry

import (
	"context"
	"time"
)

// Sample is one numeric status value at one step of a run.
type Sample struct {
	RunID     string
	Index     int
	Timestamp time.Time
	Key       string
	Value     float64
}

// Point is one value of a trend series.
type Point struct {
	RunID     string
	Index     int
	Timestamp time.Time
	Value     float64
}

type Repository interface {
	Store(ctx context.Context, samples []Sample) error
	Series(ctx context.Context, key string) ([]Point, error)
	Keys(ctx context.Context) ([]string, error)
	Close() error
}
