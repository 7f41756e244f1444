package interfaces

import (
	"context"

	"github.com/ternarybob/carpo/internal/models"
)

// WorkFunc executes a job's download. ctx is cancelled when the job is
// cancelled or the queue shuts down. The queue commits the returned artifact
// or error to the registry and emits the terminal webhook.
type WorkFunc func(ctx context.Context) (*models.Artifact, error)

// QueueStats reports execution-queue counters
type QueueStats struct {
	Submitted int64 `json:"submitted"`
	Rejected  int64 `json:"rejected"`
	Active    int   `json:"active"`
	Waiting   int   `json:"waiting"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// ExecutionQueue is the bounded worker pool running download jobs.
// A semaphore caps simultaneously running downloads independently of pool
// size; submissions beyond 2x the cap are rejected with QueueFull.
type ExecutionQueue interface {
	// Submit hands a queued job to the pool. The job must already exist in
	// the registry in QUEUED state.
	Submit(jobID string, work WorkFunc) error

	// Cancel flips the job's cancellation token. A still-queued job moves
	// straight to CANCELLED; a running job is signalled cooperatively.
	Cancel(jobID string) bool

	// Stats returns current counters.
	Stats() QueueStats

	// Healthy reports whether the pool is accepting work.
	Healthy() bool

	// Shutdown refuses new submissions. With wait, it blocks until active
	// jobs finish or the context expires, then cancels stragglers.
	Shutdown(ctx context.Context, wait bool)
}
