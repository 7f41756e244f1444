package interfaces

import (
	"context"

	"github.com/ternarybob/carpo/internal/models"
)

// ProgressSink receives coalesced progress updates from a running download
type ProgressSink func(p models.JobProgress)

// Driver turns a job's option set into an invocation of the external
// downloader binary and streams its progress. Outcomes are always mapped to
// typed errors; the driver never panics across this boundary.
type Driver interface {
	// Run executes the download for the job, funneling progress into sink.
	// The returned error kind distinguishes Timeout, Cancelled, InvalidURL,
	// UnsupportedPlatform, SizeLimitExceeded, MetadataError and DownloadError.
	Run(ctx context.Context, job models.Job, sink ProgressSink) (*models.Artifact, error)

	// Listing invokes the downloader in metadata-only mode and returns the
	// flat entry list for a channel or playlist URL.
	Listing(ctx context.Context, url string) ([]models.VideoEntry, error)
}
