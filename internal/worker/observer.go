package worker

import (
	"context"
	"time"

	"github.com/san-kum/stepd/internal/dispatch"
)

// Job identifies one consumed job message.
type Job struct {
	ID        string
	RequestID string
	Script    string
	StartedAt time.Time
}

// Observer watches jobs as the loop resolves them. Callbacks run on the loop
// goroutine after the corresponding frame has been flushed; errors are logged
// and never affect the wire.
type Observer interface {
	JobStarted(ctx context.Context, job Job) error
	Dynamics(ctx context.Context, job Job, data any) error
	JobFinished(ctx context.Context, job Job, out dispatch.Outcome, elapsed time.Duration) error
}
