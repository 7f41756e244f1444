package interfaces

import (
	"time"

	"github.com/ternarybob/carpo/internal/models"
)

// WorkFactory builds the execution-queue work function for a job
type WorkFactory func(job models.Job) WorkFunc

// BatchCoordinator expands multi-URL requests into child jobs and aggregates
// their terminal states.
type BatchCoordinator interface {
	// Create validates the request, registers child jobs and starts the batch
	// driver. Returns the batch snapshot with its stable child id list.
	Create(req models.BatchRequest) (models.Batch, error)

	// Status returns the batch record with per-child summaries, or NotFound.
	Status(batchID string) (models.BatchStatusReport, error)

	// Cancel sets the stop signal and cancels every non-terminal child.
	// Returns the number of children cancelled.
	Cancel(batchID string) (int, error)

	// Reap evicts terminal batches older than the threshold and returns the
	// number evicted.
	Reap(olderThan time.Duration) int
}
