// Package stage defines the contract pipeline stages implement and the
// health reporting they expose to the workflow manager.
package stage

import (
	"context"

	"vouch/internal/queue"
)

// Handler is implemented by every pipeline stage. Prepare validates inputs
// and mutates the item so Execute can run without re-checking, Execute does
// the work, and HealthCheck reports whether the stage could run right now.
type Handler interface {
	Prepare(ctx context.Context, item *queue.Item) error
	Execute(ctx context.Context, item *queue.Item) error
	HealthCheck(ctx context.Context) Health
}
