package interfaces

import (
	"time"
)

// DeletionScheduler executes file removals at deadlines. One background
// worker consumes a deadline-ordered queue; cancellation tombstones a task
// without reordering the queue.
type DeletionScheduler interface {
	// Schedule queues path for deletion after delay and returns the task id
	// and the absolute deadline.
	Schedule(path string, delay time.Duration) (string, time.Time)

	// Cancel tombstones a pending task. Returns false when the task already
	// fired or is unknown.
	Cancel(taskID string) bool

	// PendingCount returns the number of live (non-tombstoned) tasks.
	PendingCount() int

	// Shutdown stops the worker. With drain, remaining tasks run synchronously
	// in deadline order regardless of their deadlines.
	Shutdown(drain bool)
}
