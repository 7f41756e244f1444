package models

import (
	"sync"
	"time"
)

// JobStatus represents the state of a download job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status is final
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo enforces the job state DAG:
// queued -> running -> {completed, failed, cancelled}, queued -> cancelled.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusRunning || next == JobStatusCancelled
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed || next == JobStatusCancelled
	}
	return false
}

// JobProgress tracks download progress within a running span
type JobProgress struct {
	Percent         float64   `json:"percent"`
	DownloadedBytes int64     `json:"downloaded_bytes"`
	TotalBytes      int64     `json:"total_bytes"`
	Speed           float64   `json:"speed"` // bytes per second
	ETASeconds      int       `json:"eta_seconds"`
	UpdatedAt       time.Time `json:"updated_at,omitempty"`
}

// Artifact describes the file produced by a successful download
type Artifact struct {
	Filename    string `json:"filename"`
	Path        string `json:"path"` // Absolute path under the storage root
	SizeBytes   int64  `json:"size_bytes"`
	PublicURL   string `json:"public_url"`
	Title       string `json:"title,omitempty"`
	Uploader    string `json:"uploader,omitempty"`
	DurationSec int    `json:"duration_sec,omitempty"`
}

// ErrorInfo is the terminal failure descriptor stored on a job
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Job represents a download job and its lifecycle record.
// The registry owns every Job; other components look up by ID and mutate
// under the registry lock.
type Job struct {
	ID       string          `json:"id"`
	BatchID  string          `json:"batch_id,omitempty"` // Set for batch children
	URL      string          `json:"url"`
	Options  DownloadOptions `json:"options"`
	Status   JobStatus       `json:"status"`
	Progress JobProgress     `json:"progress"`
	Artifact *Artifact       `json:"artifact,omitempty"` // Only present when completed
	Error    *ErrorInfo      `json:"error,omitempty"`    // Only present when failed/cancelled

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Logs *JobLogBuffer `json:"-"`
}

// Snapshot returns a copy safe to hand outside the registry lock.
// The log buffer is shared; it has its own lock.
func (j *Job) Snapshot() Job {
	copied := *j
	if j.Artifact != nil {
		a := *j.Artifact
		copied.Artifact = &a
	}
	if j.Error != nil {
		e := *j.Error
		copied.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		copied.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		copied.CompletedAt = &t
	}
	return copied
}

// JobLogEntry is a single timestamped log line on a job
type JobLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// DefaultJobLogCap bounds the per-job log ring buffer
const DefaultJobLogCap = 500

// JobLogBuffer is a bounded append-only log. Appends are O(1); once the cap is
// reached the oldest entries are overwritten.
type JobLogBuffer struct {
	mu      sync.Mutex
	entries []JobLogEntry
	next    int
	full    bool
}

// NewJobLogBuffer creates a log buffer with the given capacity (0 uses the default)
func NewJobLogBuffer(capacity int) *JobLogBuffer {
	if capacity <= 0 {
		capacity = DefaultJobLogCap
	}
	return &JobLogBuffer{entries: make([]JobLogEntry, capacity)}
}

// Append adds a log line, overwriting the oldest entry when full
func (b *JobLogBuffer) Append(level, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[b.next] = JobLogEntry{Timestamp: time.Now(), Level: level, Message: message}
	b.next++
	if b.next == len(b.entries) {
		b.next = 0
		b.full = true
	}
}

// Entries returns a chronological snapshot of the buffered lines
func (b *JobLogBuffer) Entries() []JobLogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		out := make([]JobLogEntry, b.next)
		copy(out, b.entries[:b.next])
		return out
	}
	out := make([]JobLogEntry, 0, len(b.entries))
	out = append(out, b.entries[b.next:]...)
	out = append(out, b.entries[:b.next]...)
	return out
}

// Len returns the number of buffered lines
func (b *JobLogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.entries)
	}
	return b.next
}
