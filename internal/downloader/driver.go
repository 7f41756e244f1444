// Package downloader drives the external downloader binary for a single job:
// option synthesis, process invocation, progress funneling and error
// classification.
package downloader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carpo/internal/common"
	"github.com/ternarybob/carpo/internal/interfaces"
	"github.com/ternarybob/carpo/internal/models"
)

// maxConsecutiveSinkFailures fails the job when the progress sink keeps
// panicking, so a broken callback cannot drive a runaway loop.
const maxConsecutiveSinkFailures = 3

// maxStderrBytes bounds the stderr capture used for error classification
const maxStderrBytes = 16 * 1024

// pipeWaitDelay forces the output pipes closed after the process exits, so an
// orphaned grandchild holding stdout cannot stall the read loop.
const pipeWaitDelay = 5 * time.Second

// Driver implements interfaces.Driver over an external downloader binary
type Driver struct {
	cfg      common.DownloaderConfig
	files    interfaces.FileManager
	registry interfaces.JobRegistry
	logger   arbor.ILogger
}

// New wires the driver to the file manager and registry
func New(cfg common.DownloaderConfig, files interfaces.FileManager, registry interfaces.JobRegistry, logger arbor.ILogger) *Driver {
	return &Driver{
		cfg:      cfg,
		files:    files,
		registry: registry,
		logger:   logger,
	}
}

// Run executes the download for the job, funneling progress into sink.
// The binary runs in a private working directory under the storage root; on
// success the produced file is moved to its template-expanded location.
func (d *Driver) Run(ctx context.Context, job models.Job, sink interfaces.ProgressSink) (*models.Artifact, error) {
	timeout := d.cfg.JobTimeout
	if job.Options.TimeoutSec > 0 {
		timeout = time.Duration(job.Options.TimeoutSec) * time.Second
	}
	procCtx, procCancel := context.WithTimeout(ctx, timeout)
	defer procCancel()

	workdir, err := d.files.ValidatePath(job.ID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, models.Wrap(models.KindStorageError, "creating job workdir", err)
	}

	cmd := exec.CommandContext(procCtx, d.cfg.BinaryPath, append(buildArgs(job.Options, workdir), job.URL)...)
	cmd.Dir = workdir
	cmd.WaitDelay = pipeWaitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, models.Wrap(models.KindDownloadError, "creating stdout pipe", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = newBoundedWriter(&stderr, maxStderrBytes)

	if err := cmd.Start(); err != nil {
		return nil, models.Wrap(models.KindDownloadError, "starting downloader", err)
	}

	d.logger.Debug().
		Str("job_id", job.ID).
		Str("binary", d.cfg.BinaryPath).
		Str("workdir", workdir).
		Msg("Downloader started")

	var stalled atomic.Bool
	watchdog := time.AfterFunc(d.cfg.ProgressStallLimit, func() {
		stalled.Store(true)
		procCancel()
	})
	defer watchdog.Stop()

	var (
		info     infoLine
		haveInfo bool
		storm    bool
	)

	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		sinkFailures := 0
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		scanner.Split(scanCRLF)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			if tick, ok := parseProgress(line); ok {
				watchdog.Reset(d.cfg.ProgressStallLimit)
				if deliver(sink, tick.toJobProgress()) {
					sinkFailures = 0
				} else {
					sinkFailures++
					if sinkFailures >= maxConsecutiveSinkFailures {
						storm = true
						procCancel()
						return
					}
				}
				continue
			}

			if meta, ok := parseInfo(line); ok {
				info = meta
				haveInfo = true
				continue
			}

			_ = d.registry.AppendLog(job.ID, "info", line)
		}
	}()

	waitErr := cmd.Wait()
	<-scanDone
	d.appendStderrLog(job.ID, stderr.String())

	if storm {
		d.cleanupWorkdir(job.ID, workdir)
		return nil, models.E(models.KindDownloadError, "progress callback storm")
	}
	if waitErr != nil {
		err := classifyExit(procCtx, stalled.Load(), stderr.String(), waitErr)
		if models.IsKind(err, models.KindCancelled) || models.IsKind(err, models.KindTimeout) {
			d.cleanupWorkdir(job.ID, workdir)
		}
		return nil, err
	}

	return d.commitArtifact(job, workdir, info, haveInfo)
}

// Listing invokes the binary in metadata-only mode and returns the flat entry
// list for a channel or playlist URL.
func (d *Driver) Listing(ctx context.Context, url string) ([]models.VideoEntry, error) {
	procCtx, procCancel := context.WithTimeout(ctx, d.cfg.JobTimeout)
	defer procCancel()

	cmd := exec.CommandContext(procCtx, d.cfg.BinaryPath, listingArgs(url)...)
	cmd.WaitDelay = pipeWaitDelay
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, models.Wrap(models.KindMetadataError, "creating stdout pipe", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = newBoundedWriter(&stderr, maxStderrBytes)

	if err := cmd.Start(); err != nil {
		return nil, models.Wrap(models.KindMetadataError, "starting downloader", err)
	}

	var entries []models.VideoEntry
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "{") {
				continue
			}
			var raw listingEntry
			if err := json.Unmarshal([]byte(line), &raw); err != nil {
				continue
			}
			entries = append(entries, raw.toVideoEntry())
		}
	}()

	waitErr := cmd.Wait()
	<-scanDone
	if waitErr != nil {
		return nil, classifyExit(procCtx, false, stderr.String(), waitErr)
	}

	d.logger.Debug().
		Str("url", url).
		Int("entries", len(entries)).
		Msg("Listing extracted")

	return entries, nil
}

// deliver invokes the sink, converting a panic into a failed delivery
func deliver(sink interfaces.ProgressSink, p models.JobProgress) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	sink(p)
	return true
}

// commitArtifact locates the produced file, moves it to its template-expanded
// location and builds the artifact descriptor.
func (d *Driver) commitArtifact(job models.Job, workdir string, info infoLine, haveInfo bool) (*models.Artifact, error) {
	produced, err := findProducedFile(workdir)
	if err != nil {
		return nil, err
	}

	ext := strings.TrimPrefix(filepath.Ext(produced), ".")
	title := info.Title
	if !haveInfo {
		title = strings.TrimSuffix(filepath.Base(produced), filepath.Ext(produced))
	}

	rel, err := d.files.ExpandTemplate(job.Options.OutputTemplate, interfaces.TemplateMeta{
		JobID:      job.ID,
		Title:      title,
		Ext:        ext,
		Uploader:   info.Uploader,
		UploadDate: info.UploadDate,
		BatchID:    job.BatchID,
	})
	if err != nil {
		return nil, err
	}
	final, err := d.files.ValidatePath(rel)
	if err != nil {
		return nil, err
	}

	if final != produced {
		if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
			return nil, models.Wrap(models.KindStorageError, "creating artifact directory", err)
		}
		if err := os.Rename(produced, final); err != nil {
			return nil, models.Wrap(models.KindStorageError, "moving artifact", err)
		}
		// The workdir may now be empty; removal fails harmlessly otherwise.
		_ = os.Remove(workdir)
	}

	stat, err := os.Stat(final)
	if err != nil {
		return nil, models.Wrap(models.KindStorageError, "inspecting artifact", err)
	}

	return &models.Artifact{
		Filename:    filepath.Base(final),
		Path:        final,
		SizeBytes:   stat.Size(),
		PublicURL:   d.files.PublicURL(rel),
		Title:       title,
		Uploader:    info.Uploader,
		DurationSec: int(info.Duration),
	}, nil
}

// cleanupWorkdir removes partial output after a cancel or timeout
func (d *Driver) cleanupWorkdir(jobID, workdir string) {
	if err := os.RemoveAll(workdir); err != nil {
		d.logger.Warn().
			Err(err).
			Str("job_id", jobID).
			Str("workdir", workdir).
			Msg("Partial artifact cleanup failed")
	}
}

// appendStderrLog copies captured stderr lines into the job log
func (d *Driver) appendStderrLog(jobID, stderr string) {
	for _, line := range strings.Split(stderr, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			_ = d.registry.AppendLog(jobID, "error", trimmed)
		}
	}
}

// findProducedFile picks the largest regular file in the workdir. Embedding
// post-processors fold sidecar files into the media file, so the largest file
// is the artifact.
func findProducedFile(workdir string) (string, error) {
	entries, err := os.ReadDir(workdir)
	if err != nil {
		return "", models.Wrap(models.KindStorageError, "reading job workdir", err)
	}

	var (
		best     string
		bestSize int64 = -1
	)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		fileInfo, err := entry.Info()
		if err != nil {
			continue
		}
		if fileInfo.Size() > bestSize {
			best = filepath.Join(workdir, entry.Name())
			bestSize = fileInfo.Size()
		}
	}
	if best == "" {
		return "", models.E(models.KindDownloadError, "downloader produced no output file")
	}
	return best, nil
}

// listingEntry is one JSON object of the flat listing output
type listingEntry struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	WebpageURL    string  `json:"webpage_url"`
	Duration      float64 `json:"duration"`
	ViewCount     *int64  `json:"view_count"`
	UploadDate    string  `json:"upload_date"`
	Channel       string  `json:"channel"`
	Uploader      string  `json:"uploader"`
	Playlist      string  `json:"playlist"`
	PlaylistIndex int     `json:"playlist_index"`
}

func (e listingEntry) toVideoEntry() models.VideoEntry {
	url := e.WebpageURL
	if url == "" {
		url = e.URL
	}
	channel := e.Channel
	if channel == "" {
		channel = e.Uploader
	}
	views := int64(-1)
	if e.ViewCount != nil {
		views = *e.ViewCount
	}
	return models.VideoEntry{
		ID:            e.ID,
		Title:         e.Title,
		URL:           url,
		DurationSec:   int(e.Duration),
		ViewCount:     views,
		UploadDate:    e.UploadDate,
		Channel:       channel,
		Playlist:      e.Playlist,
		PlaylistIndex: e.PlaylistIndex,
	}
}

// boundedWriter caps how much of the child's stderr is retained
type boundedWriter struct {
	dst   *bytes.Buffer
	limit int
}

func newBoundedWriter(dst *bytes.Buffer, limit int) *boundedWriter {
	return &boundedWriter{dst: dst, limit: limit}
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.dst.Len()
	if remaining > 0 {
		if len(p) > remaining {
			w.dst.Write(p[:remaining])
		} else {
			w.dst.Write(p)
		}
	}
	return len(p), nil
}
