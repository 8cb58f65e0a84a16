package models

import (
	"context"
	"time"
)

// Pinger is the probe primitive: one echo with a bounded wait.
// A returned error means loss.
type Pinger interface {
	Ping(ctx context.Context, address string, timeout time.Duration) (time.Duration, error)
}
