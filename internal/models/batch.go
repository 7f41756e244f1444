package models

import (
	"fmt"
	"time"
)

// BatchStatus represents the derived state of a batch
type BatchStatus string

const (
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusFailed    BatchStatus = "failed"
)

// Batch groups an ordered set of child jobs submitted together.
// Child lifecycle records live in the job registry; the batch only holds the
// stable child ID list and derived status.
type Batch struct {
	ID          string      `json:"id"`
	ChildIDs    []string    `json:"child_ids"`
	Status      BatchStatus `json:"status"`
	Concurrency int         `json:"concurrency"`
	StopOnError bool        `json:"stop_on_error"`
	Summary     string      `json:"summary,omitempty"` // Set on terminal aggregation

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// BatchChildStats aggregates child job statuses for a batch
type BatchChildStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Running   int `json:"running"`
	Queued    int `json:"queued"`
	Cancelled int `json:"cancelled"`
}

// Terminal reports whether every child has reached a terminal state
func (s BatchChildStats) Terminal() bool {
	return s.Completed+s.Failed+s.Cancelled == s.Total
}

// Summary renders the human-readable aggregation line stored on the batch
func (s BatchChildStats) Summary() string {
	return fmt.Sprintf("%d completed, %d failed, %d cancelled of %d", s.Completed, s.Failed, s.Cancelled, s.Total)
}

// BatchStatusReport is the batch record plus per-child summaries, returned to
// the external surface for get-batch requests.
type BatchStatusReport struct {
	Batch    Batch           `json:"batch"`
	Stats    BatchChildStats `json:"stats"`
	Children []Job           `json:"children"`
}
