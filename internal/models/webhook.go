package models

import (
	"time"
)

// EventKind identifies a webhook lifecycle event
type EventKind string

const (
	EventStarted   EventKind = "download.started"
	EventProgress  EventKind = "download.progress"
	EventCompleted EventKind = "download.completed"
	EventFailed    EventKind = "download.failed"
)

// WebhookEvent is the wire envelope POSTed to a receiver. The payload bytes
// that are signed are exactly the bytes transmitted; the dispatcher serializes
// this struct once.
type WebhookEvent struct {
	Event     EventKind   `json:"event"`
	Timestamp string      `json:"timestamp"` // RFC3339 UTC
	RequestID string      `json:"request_id"`
	Data      interface{} `json:"data"`
}

// NewWebhookEvent stamps an envelope for the given job and payload
func NewWebhookEvent(kind EventKind, jobID string, data interface{}) WebhookEvent {
	return WebhookEvent{
		Event:     kind,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: jobID,
		Data:      data,
	}
}

// StartedPayload is the data for download.started events
type StartedPayload struct {
	URL string `json:"url"`
}

// ProgressPayload is the data for download.progress events. Sequence is
// monotonic per job so receivers can detect elided intermediates.
type ProgressPayload struct {
	Sequence        uint64  `json:"sequence"`
	Percent         float64 `json:"percent"`
	DownloadedBytes int64   `json:"downloaded_bytes"`
	TotalBytes      int64   `json:"total_bytes,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
	ETASeconds      int     `json:"eta_seconds,omitempty"`
}

// CompletedPayload is the data for download.completed events
type CompletedPayload struct {
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	PublicURL string `json:"public_url"`
	Title     string `json:"title,omitempty"`
}

// FailedPayload is the data for download.failed events
type FailedPayload struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}
