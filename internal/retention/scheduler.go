// Package retention schedules and executes timed artifact deletions.
package retention

import (
	"container/heap"
	"os"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carpo/internal/common"
)

// task is one scheduled deletion
type task struct {
	id     string
	path   string
	fireAt time.Time
	index  int // heap index
}

// taskHeap orders tasks by deadline
type taskHeap []*task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *taskHeap) Push(x interface{}) { t := x.(*task); t.index = len(*h); *h = append(*h, t) }
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Scheduler runs a single background worker over a deadline min-heap.
// Cancellation tombstones a task; the worker skips tombstoned tasks on
// dequeue instead of removing them from the heap.
type Scheduler struct {
	mu         sync.Mutex
	cond       *sync.Cond
	heap       taskHeap
	byID       map[string]*task // pending tasks, including tombstoned ones
	tombstones map[string]struct{}
	live       int // tasks in the heap minus tombstones
	closed     bool
	done       chan struct{}
	logger     arbor.ILogger
}

// NewScheduler creates the scheduler and starts its worker
func NewScheduler(logger arbor.ILogger) *Scheduler {
	s := &Scheduler{
		byID:       make(map[string]*task),
		tombstones: make(map[string]struct{}),
		done:       make(chan struct{}),
		logger:     logger,
	}
	s.cond = sync.NewCond(&s.mu)
	go s.worker()
	return s
}

// Schedule queues path for deletion after delay
func (s *Scheduler) Schedule(path string, delay time.Duration) (string, time.Time) {
	fireAt := time.Now().Add(delay)
	t := &task{
		id:     common.NewDeletionID(),
		path:   path,
		fireAt: fireAt,
	}

	s.mu.Lock()
	heap.Push(&s.heap, t)
	s.byID[t.id] = t
	s.live++
	s.mu.Unlock()
	s.cond.Broadcast()

	s.logger.Debug().
		Str("task_id", t.id).
		Str("path", path).
		Str("fire_at", fireAt.Format(time.RFC3339)).
		Msg("Deletion scheduled")

	return t.id, fireAt
}

// Cancel tombstones a pending task. Returns false when the task already fired
// or is unknown.
func (s *Scheduler) Cancel(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, pending := s.byID[taskID]; !pending {
		return false
	}
	if _, gone := s.tombstones[taskID]; gone {
		return false
	}
	s.tombstones[taskID] = struct{}{}
	s.live--
	return true
}

// PendingCount returns the number of live tasks
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Shutdown stops the worker. With drain, remaining non-tombstoned tasks run
// synchronously in deadline order regardless of their deadlines; without it
// they are discarded.
func (s *Scheduler) Shutdown(drain bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
	<-s.done

	if !drain {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.heap.Len() > 0 {
		t := heap.Pop(&s.heap).(*task)
		delete(s.byID, t.id)
		if _, gone := s.tombstones[t.id]; gone {
			delete(s.tombstones, t.id)
			continue
		}
		s.live--
		s.remove(t)
	}
}

// worker consumes due tasks, sleeping until the next deadline or a signal
func (s *Scheduler) worker() {
	defer close(s.done)

	s.mu.Lock()
	for {
		if s.closed {
			s.mu.Unlock()
			return
		}

		if s.heap.Len() == 0 {
			s.cond.Wait()
			continue
		}

		next := s.heap[0]
		delay := time.Until(next.fireAt)
		if delay > 0 {
			// sync.Cond has no timed wait; arm a timer that wakes the loop
			// when the deadline arrives.
			timer := time.AfterFunc(delay, s.cond.Broadcast)
			s.cond.Wait()
			timer.Stop()
			continue
		}

		t := heap.Pop(&s.heap).(*task)
		delete(s.byID, t.id)
		if _, gone := s.tombstones[t.id]; gone {
			delete(s.tombstones, t.id)
			continue
		}
		s.live--

		s.mu.Unlock()
		s.remove(t)
		s.mu.Lock()
	}
}

// remove deletes the task's file. Best effort: a missing file is success,
// anything else is logged and terminal for the task.
func (s *Scheduler) remove(t *task) {
	err := os.Remove(t.path)
	switch {
	case err == nil:
		s.logger.Info().
			Str("task_id", t.id).
			Str("path", t.path).
			Msg("Artifact deleted")
	case os.IsNotExist(err):
		s.logger.Debug().
			Str("task_id", t.id).
			Str("path", t.path).
			Msg("Artifact already gone")
	default:
		s.logger.Warn().
			Err(err).
			Str("task_id", t.id).
			Str("path", t.path).
			Msg("Artifact deletion failed")
	}
}
