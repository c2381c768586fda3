package progress

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clipy/download-manager/internal/domain"
)

const (
	statusBuffer   = 64
	progressBuffer = 16
)

// Subscription is one subscriber's view of the event streams. Status changes
// and batched progress arrive on separate channels with bounded buffers; a
// stalled subscriber loses frames (counted) instead of blocking the manager.
type Subscription struct {
	status   chan domain.StatusChange
	progress chan []domain.ProgressUpdate

	droppedStatus   atomic.Int64
	droppedProgress atomic.Int64
}

// Status returns the status-change stream.
func (s *Subscription) Status() <-chan domain.StatusChange {
	return s.status
}

// Progress returns the batched progress stream.
func (s *Subscription) Progress() <-chan []domain.ProgressUpdate {
	return s.progress
}

// Dropped reports how many status events and progress batches were lost to
// a full buffer.
func (s *Subscription) Dropped() (status, progress int64) {
	return s.droppedStatus.Load(), s.droppedProgress.Load()
}

// Reporter decouples high-frequency worker progress from subscriber
// delivery. Each internal update overwrites the task's dirty snapshot; a
// periodic tick flushes all dirty snapshots as one batch. Status changes
// bypass the tick entirely so terminal transitions are never delayed.
type Reporter struct {
	interval time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	dirty map[string]domain.ProgressUpdate
	last  map[string]int64 // last flushed downloadedBytes, per task
	subs  map[*Subscription]struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewReporter creates a reporter and starts its flush loop.
func NewReporter(interval time.Duration, logger *slog.Logger) *Reporter {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	r := &Reporter{
		interval: interval,
		logger:   logger,
		dirty:    make(map[string]domain.ProgressUpdate),
		last:     make(map[string]int64),
		subs:     make(map[*Subscription]struct{}),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.loop()
	return r
}

// Subscribe registers a new subscriber.
func (r *Reporter) Subscribe() *Subscription {
	sub := &Subscription{
		status:   make(chan domain.StatusChange, statusBuffer),
		progress: make(chan []domain.ProgressUpdate, progressBuffer),
	}
	r.mu.Lock()
	r.subs[sub] = struct{}{}
	r.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channels.
func (r *Reporter) Unsubscribe(sub *Subscription) {
	r.mu.Lock()
	_, ok := r.subs[sub]
	delete(r.subs, sub)
	r.mu.Unlock()
	if ok {
		close(sub.status)
		close(sub.progress)
	}
}

// Publish records a progress snapshot. Snapshots older than what was already
// recorded or flushed for the task are dropped, so subscribers observe
// non-decreasing downloadedBytes per task.
func (r *Reporter) Publish(u domain.ProgressUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.dirty[u.TaskID]; ok && u.DownloadedBytes < prev.DownloadedBytes {
		return
	}
	if u.DownloadedBytes < r.last[u.TaskID] {
		return
	}
	r.dirty[u.TaskID] = u
}

// StatusChanged fans a status event out to all subscribers immediately. For
// terminal transitions the task's pending progress snapshot is flushed first
// so the last observed bytes precede the terminal event; retries reset the
// task's monotonicity baseline.
func (r *Reporter) StatusChanged(c domain.StatusChange) {
	r.mu.Lock()

	if c.NewStatus.IsTerminal() || c.NewStatus == domain.StatusPaused {
		if u, ok := r.dirty[c.TaskID]; ok {
			delete(r.dirty, c.TaskID)
			r.last[c.TaskID] = u.DownloadedBytes
			r.deliverBatchLocked([]domain.ProgressUpdate{u})
		}
	}
	if c.OldStatus == domain.StatusFailed && c.NewStatus == domain.StatusPending {
		delete(r.dirty, c.TaskID)
		delete(r.last, c.TaskID)
	}
	if c.NewStatus.IsTerminal() {
		delete(r.last, c.TaskID)
	}

	for sub := range r.subs {
		select {
		case sub.status <- c:
		default:
			sub.droppedStatus.Add(1)
			r.logger.Warn("subscriber status buffer full, dropping event",
				"task_id", c.TaskID, "new_status", c.NewStatus)
		}
	}
	r.mu.Unlock()
}

// Stop halts the flush loop after one final flush.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	<-r.done
}

func (r *Reporter) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.flush()
		case <-r.stopCh:
			r.flush()
			return
		}
	}
}

// flush delivers every dirty snapshot as a single batch and clears the
// dirty set.
func (r *Reporter) flush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.dirty) == 0 {
		return
	}
	batch := make([]domain.ProgressUpdate, 0, len(r.dirty))
	for id, u := range r.dirty {
		batch = append(batch, u)
		r.last[id] = u.DownloadedBytes
	}
	clear(r.dirty)

	r.deliverBatchLocked(batch)
}

func (r *Reporter) deliverBatchLocked(batch []domain.ProgressUpdate) {
	for sub := range r.subs {
		select {
		case sub.progress <- batch:
		default:
			sub.droppedProgress.Add(1)
		}
	}
}
