package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carpo/internal/interfaces"
	"github.com/ternarybob/carpo/internal/models"
)

func newTestRegistry() *Registry {
	return New(arbor.NewLogger())
}

func TestCreateAndGet(t *testing.T) {
	r := newTestRegistry()

	created, err := r.Create("job_1", "https://example.com/v.mp4", models.DownloadOptions{Quality: "720p"})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, created.Status)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := r.Get("job_1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/v.mp4", got.URL)
	assert.Equal(t, "720p", got.Options.Quality)
}

func TestCreateDuplicateConflicts(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Create("job_1", "https://example.com/a", models.DownloadOptions{})
	require.NoError(t, err)

	_, err = r.Create("job_1", "https://example.com/b", models.DownloadOptions{})
	require.Error(t, err)
	assert.Equal(t, models.KindConflict, models.KindOf(err))
}

func TestGetUnknownNotFound(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Get("job_missing")
	require.Error(t, err)
	assert.Equal(t, models.KindNotFound, models.KindOf(err))
}

func TestUpdateStatusTransitions(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Create("job_1", "https://example.com/v", models.DownloadOptions{})
	require.NoError(t, err)

	snap, err := r.Update("job_1", func(j *models.Job) {
		j.Status = models.JobStatusRunning
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, snap.Status)

	snap, err = r.Update("job_1", func(j *models.Job) {
		j.Status = models.JobStatusCompleted
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, snap.Status)

	// Terminal state wins over a late backwards transition
	snap, err = r.Update("job_1", func(j *models.Job) {
		j.Status = models.JobStatusRunning
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, snap.Status)
}

func TestQueuedCanCancelDirectly(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Create("job_1", "https://example.com/v", models.DownloadOptions{})
	require.NoError(t, err)

	snap, err := r.Update("job_1", func(j *models.Job) {
		j.Status = models.JobStatusCancelled
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, snap.Status)
}

func TestQueuedCannotComplete(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Create("job_1", "https://example.com/v", models.DownloadOptions{})
	require.NoError(t, err)

	snap, err := r.Update("job_1", func(j *models.Job) {
		j.Status = models.JobStatusCompleted
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, snap.Status)
}

func TestUpdateRejectedTransitionDiscardsWholeMutation(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Create("job_1", "https://example.com/v", models.DownloadOptions{})
	require.NoError(t, err)

	// QUEUED -> COMPLETED is illegal; none of the mutator's other writes
	// may survive the rejection.
	snap, err := r.Update("job_1", func(j *models.Job) {
		now := j.CreatedAt
		j.Status = models.JobStatusCompleted
		j.Error = &models.ErrorInfo{Kind: models.KindDownloadError, Message: "boom"}
		j.Artifact = &models.Artifact{Filename: "f.mp4"}
		j.CompletedAt = &now
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, snap.Status)
	assert.Nil(t, snap.Error)
	assert.Nil(t, snap.Artifact)
	assert.Nil(t, snap.CompletedAt)

	got, err := r.Get("job_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Nil(t, got.Error)
	assert.Nil(t, got.Artifact)
	assert.Nil(t, got.CompletedAt)
}

func TestUpdateProgressMonotoneBytes(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Create("job_1", "https://example.com/v", models.DownloadOptions{})
	require.NoError(t, err)

	require.NoError(t, r.UpdateProgress("job_1", models.JobProgress{Percent: 50, DownloadedBytes: 500, TotalBytes: 1000}))
	require.NoError(t, r.UpdateProgress("job_1", models.JobProgress{Percent: 10, DownloadedBytes: 100}))

	got, err := r.Get("job_1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.Progress.DownloadedBytes)
	assert.Equal(t, float64(50), got.Progress.Percent)
	assert.False(t, got.Progress.UpdatedAt.IsZero())
}

func TestListFilterAndOrder(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < 5; i++ {
		_, err := r.Create(fmt.Sprintf("job_%d", i), "https://example.com/v", models.DownloadOptions{})
		require.NoError(t, err)
	}
	_, err := r.Update("job_2", func(j *models.Job) { j.Status = models.JobStatusRunning })
	require.NoError(t, err)

	all := r.List(interfaces.JobFilter{})
	require.Len(t, all, 5)
	assert.Equal(t, "job_0", all[0].ID)
	assert.Equal(t, "job_4", all[4].ID)

	running := r.List(interfaces.JobFilter{Status: models.JobStatusRunning})
	require.Len(t, running, 1)
	assert.Equal(t, "job_2", running[0].ID)

	limited := r.List(interfaces.JobFilter{Limit: 2})
	assert.Len(t, limited, 2)
}

func TestListByBatch(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < 3; i++ {
		_, err := r.Create(fmt.Sprintf("batch_x:%d", i), "https://example.com/v", models.DownloadOptions{})
		require.NoError(t, err)
		_, err = r.Update(fmt.Sprintf("batch_x:%d", i), func(j *models.Job) { j.BatchID = "batch_x" })
		require.NoError(t, err)
	}
	_, err := r.Create("job_other", "https://example.com/v", models.DownloadOptions{})
	require.NoError(t, err)

	children := r.List(interfaces.JobFilter{BatchID: "batch_x"})
	assert.Len(t, children, 3)
}

func TestStats(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < 4; i++ {
		_, err := r.Create(fmt.Sprintf("job_%d", i), "https://example.com/v", models.DownloadOptions{})
		require.NoError(t, err)
	}
	_, err := r.Update("job_0", func(j *models.Job) { j.Status = models.JobStatusRunning })
	require.NoError(t, err)
	_, err = r.Update("job_1", func(j *models.Job) { j.Status = models.JobStatusCancelled })
	require.NoError(t, err)

	stats := r.Stats()
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Queued)
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 1, stats.Cancelled)
}

func TestAppendLogRingBuffer(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Create("job_1", "https://example.com/v", models.DownloadOptions{})
	require.NoError(t, err)

	for i := 0; i < models.DefaultJobLogCap+10; i++ {
		require.NoError(t, r.AppendLog("job_1", "info", fmt.Sprintf("line %d", i)))
	}

	got, err := r.Get("job_1")
	require.NoError(t, err)
	entries := got.Logs.Entries()
	require.Len(t, entries, models.DefaultJobLogCap)
	// Oldest lines were overwritten
	assert.Equal(t, "line 10", entries[0].Message)
	assert.Equal(t, fmt.Sprintf("line %d", models.DefaultJobLogCap+9), entries[len(entries)-1].Message)
}

func TestDelete(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Create("job_1", "https://example.com/v", models.DownloadOptions{})
	require.NoError(t, err)

	assert.True(t, r.Delete("job_1"))
	assert.False(t, r.Delete("job_1"))
	assert.Empty(t, r.List(interfaces.JobFilter{}))
}

func TestConcurrentUpdates(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Create("job_1", "https://example.com/v", models.DownloadOptions{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = r.UpdateProgress("job_1", models.JobProgress{DownloadedBytes: int64(n)})
			_ = r.AppendLog("job_1", "debug", "tick")
		}(i)
	}
	wg.Wait()

	got, err := r.Get("job_1")
	require.NoError(t, err)
	assert.Equal(t, 50, got.Logs.Len())
}
