package interfaces

import (
	"github.com/ternarybob/carpo/internal/models"
)

// JobFilter narrows registry listings. Zero values match everything.
type JobFilter struct {
	Status  models.JobStatus
	BatchID string
	Limit   int
}

// RegistryStats reports job counts per status
type RegistryStats struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// JobRegistry is the in-memory store of every job lifecycle record.
// All mutation goes through Update, which runs the mutator atomically under
// the registry lock; mutators must not perform I/O.
type JobRegistry interface {
	// Create registers a new job record in QUEUED state.
	// Fails with Conflict when the id already exists.
	Create(id, url string, opts models.DownloadOptions) (models.Job, error)

	// Get returns a snapshot of the record, or NotFound.
	Get(id string) (models.Job, error)

	// Update applies mutate atomically under the registry lock and returns the
	// resulting snapshot. Status changes must follow the job state DAG.
	Update(id string, mutate func(*models.Job)) (models.Job, error)

	// UpdateProgress coalesces progress fields and stamps the update time.
	// Byte counts never move backwards within a running span.
	UpdateProgress(id string, p models.JobProgress) error

	// AppendLog adds a line to the job's bounded log.
	AppendLog(id, level, message string) error

	// List returns snapshots matching the filter, ordered by creation.
	List(filter JobFilter) []models.Job

	// Stats returns counts per status.
	Stats() RegistryStats

	// Delete evicts a record (used by batch reaping).
	Delete(id string) bool
}
