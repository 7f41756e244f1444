package common

import (
	"fmt"

	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewBatchID generates a unique batch ID with the "batch_" prefix
func NewBatchID() string {
	return "batch_" + uuid.New().String()
}

// NewDeletionID generates a unique deletion task ID with the "del_" prefix
func NewDeletionID() string {
	return "del_" + uuid.New().String()
}

// ChildJobID returns the deterministic ID for a batch child at the given index.
// Children keep their position in the ID so batch ordering is stable.
func ChildJobID(batchID string, index int) string {
	return fmt.Sprintf("%s:%d", batchID, index)
}
