// Package registry holds the in-memory lifecycle record of every job.
package registry

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carpo/internal/interfaces"
	"github.com/ternarybob/carpo/internal/models"
)

// Registry implements interfaces.JobRegistry with a mutex-guarded map.
// Mutators run with the lock held and must not perform I/O.
type Registry struct {
	mu     sync.Mutex
	jobs   map[string]*models.Job
	order  []string // ids in creation order
	logger arbor.ILogger
}

// New creates an empty registry
func New(logger arbor.ILogger) *Registry {
	return &Registry{
		jobs:   make(map[string]*models.Job),
		logger: logger,
	}
}

// Create registers a new job in QUEUED state
func (r *Registry) Create(id, url string, opts models.DownloadOptions) (models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[id]; exists {
		return models.Job{}, models.Errorf(models.KindConflict, "job %s already exists", id)
	}

	job := &models.Job{
		ID:        id,
		URL:       url,
		Options:   opts,
		Status:    models.JobStatusQueued,
		CreatedAt: time.Now(),
		Logs:      models.NewJobLogBuffer(models.DefaultJobLogCap),
	}
	r.jobs[id] = job
	r.order = append(r.order, id)

	r.logger.Debug().
		Str("job_id", id).
		Str("url", url).
		Msg("Job record created")

	return job.Snapshot(), nil
}

// Get returns a snapshot of the record
func (r *Registry) Get(id string) (models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[id]
	if !exists {
		return models.Job{}, models.Errorf(models.KindNotFound, "job %s not found", id)
	}
	return job.Snapshot(), nil
}

// Update applies mutate atomically under the registry lock. The mutator runs
// against a working copy; a status change that would move backwards in the
// state DAG discards the whole mutation, so the record never carries partial
// writes from a rejected transition and the terminal state that committed
// first wins.
func (r *Registry) Update(id string, mutate func(*models.Job)) (models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[id]
	if !exists {
		return models.Job{}, models.Errorf(models.KindNotFound, "job %s not found", id)
	}

	updated := job.Snapshot()
	mutate(&updated)
	if updated.Status != job.Status && !job.Status.CanTransitionTo(updated.Status) {
		r.logger.Warn().
			Str("job_id", id).
			Str("from", string(job.Status)).
			Str("to", string(updated.Status)).
			Msg("Illegal status transition dropped")
		return job.Snapshot(), nil
	}
	*job = updated

	return job.Snapshot(), nil
}

// UpdateProgress coalesces progress fields and stamps the update time.
// Downloaded bytes are monotone within a running span; a stale callback that
// would move the count backwards only refreshes the timestamp.
func (r *Registry) UpdateProgress(id string, p models.JobProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[id]
	if !exists {
		return models.Errorf(models.KindNotFound, "job %s not found", id)
	}

	if p.DownloadedBytes >= job.Progress.DownloadedBytes {
		job.Progress.DownloadedBytes = p.DownloadedBytes
		job.Progress.Percent = p.Percent
		if p.TotalBytes > 0 {
			job.Progress.TotalBytes = p.TotalBytes
		}
		if p.Speed > 0 {
			job.Progress.Speed = p.Speed
		}
		if p.ETASeconds > 0 {
			job.Progress.ETASeconds = p.ETASeconds
		}
	}
	job.Progress.UpdatedAt = time.Now()

	return nil
}

// AppendLog adds a line to the job's bounded log
func (r *Registry) AppendLog(id, level, message string) error {
	r.mu.Lock()
	job, exists := r.jobs[id]
	r.mu.Unlock()

	if !exists {
		return models.Errorf(models.KindNotFound, "job %s not found", id)
	}
	// The buffer has its own lock; keep the registry lock narrow.
	job.Logs.Append(level, message)
	return nil
}

// List returns snapshots matching the filter, ordered by creation
func (r *Registry) List(filter interfaces.JobFilter) []models.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.Job, 0, len(r.order))
	for _, id := range r.order {
		job, exists := r.jobs[id]
		if !exists {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.BatchID != "" && job.BatchID != filter.BatchID {
			continue
		}
		out = append(out, job.Snapshot())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// Stats returns counts per status
func (r *Registry) Stats() interfaces.RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := interfaces.RegistryStats{Total: len(r.jobs)}
	for _, job := range r.jobs {
		switch job.Status {
		case models.JobStatusQueued:
			stats.Queued++
		case models.JobStatusRunning:
			stats.Running++
		case models.JobStatusCompleted:
			stats.Completed++
		case models.JobStatusFailed:
			stats.Failed++
		case models.JobStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

// Delete evicts a record. Used when reaping terminal batches.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[id]; !exists {
		return false
	}
	delete(r.jobs, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}
