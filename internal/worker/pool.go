package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clipy/download-manager/internal/domain"
	"github.com/clipy/download-manager/internal/media"
	"github.com/clipy/download-manager/internal/metrics"
	"github.com/clipy/download-manager/internal/progress"
	"github.com/clipy/download-manager/internal/store"
	"github.com/clipy/download-manager/internal/taskerr"
)

// Pool runs claimed tasks through the three-phase pipeline under a
// configurable concurrency ceiling. The ceiling is an atomic owned by the
// pool; lowering it never preempts running tasks, the pool just stops
// claiming until occupancy drops.
type Pool struct {
	store    *store.TaskStore
	collab   media.Collaborator
	reporter *progress.Reporter
	logger   *slog.Logger

	limit        atomic.Int64
	active       atomic.Int64
	emitInterval time.Duration

	wake chan struct{}

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	wg sync.WaitGroup
}

// NewPool creates a pool with the given concurrency ceiling.
func NewPool(s *store.TaskStore, collab media.Collaborator, reporter *progress.Reporter, maxConcurrent int, emitInterval time.Duration, logger *slog.Logger) *Pool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if emitInterval <= 0 {
		emitInterval = 100 * time.Millisecond
	}
	p := &Pool{
		store:        s,
		collab:       collab,
		reporter:     reporter,
		logger:       logger,
		emitInterval: emitInterval,
		wake:         make(chan struct{}, 1),
		cancels:      make(map[string]context.CancelFunc),
	}
	p.limit.Store(int64(maxConcurrent))
	return p
}

// Wake nudges the claim loop. Safe to call from any goroutine; coalesces.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// SetLimit changes the concurrency ceiling for new claims.
func (p *Pool) SetLimit(n int) {
	p.limit.Store(int64(n))
	p.Wake()
}

// Limit returns the current concurrency ceiling.
func (p *Pool) Limit() int {
	return int(p.limit.Load())
}

// Active returns the current slot occupancy.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Abort cancels the run of a task if it is currently executing. The run
// winds down cooperatively at its next chunk or phase boundary.
func (p *Pool) Abort(id string) {
	p.mu.Lock()
	cancel, ok := p.cancels[id]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// Run drives the claim loop until ctx is cancelled, then waits for running
// tasks to wind down.
func (p *Pool) Run(ctx context.Context) error {
	p.Wake()
	for {
		select {
		case <-ctx.Done():
			p.abortAll()
			p.wg.Wait()
			return ctx.Err()
		case <-p.wake:
			p.dispatch(ctx)
		}
	}
}

func (p *Pool) abortAll() {
	p.mu.Lock()
	for _, cancel := range p.cancels {
		cancel()
	}
	p.mu.Unlock()
}

// dispatch claims Pending tasks FIFO until the ceiling is reached or the
// queue is empty. Only Run's goroutine calls it, so the occupancy check and
// the claim cannot race with another claimer.
func (p *Pool) dispatch(ctx context.Context) {
	for p.active.Load() < p.limit.Load() {
		task, ok := p.store.ClaimOldestPending()
		if !ok {
			return
		}

		p.active.Add(1)
		metrics.ActiveDownloads.Inc()
		p.wg.Add(1)
		go func(task domain.DownloadTask) {
			defer func() {
				p.active.Add(-1)
				metrics.ActiveDownloads.Dec()
				p.wg.Done()
				p.Wake()
			}()
			p.runTask(ctx, task)
		}(task)
	}
}

// runTask executes fetch → transfer → finalize for one claimed task.
// Transition failures mean a command (pause/cancel) took the task away
// between phases; the run abandons the slot without touching state.
func (p *Pool) runTask(ctx context.Context, task domain.DownloadTask) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancels[task.ID] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.cancels, task.ID)
		p.mu.Unlock()
		cancel()
	}()

	logger := p.logger.With("task_id", task.ID, "attempt", task.Attempt)
	logger.Info("task claimed", "source", task.SourceRef)
	started := time.Now()

	info, err := p.collab.FetchInfo(ctx, task.SourceRef)
	if err != nil {
		p.fail(logger, task.ID, err)
		return
	}
	if err := p.store.SetMediaInfo(task.ID, info.Title, info.Channel, info.Duration, info.TotalBytes); err != nil {
		logger.Warn("media info discarded", "error", err)
	}
	if _, err := p.store.Transition(task.ID, domain.EventInfoReady); err != nil {
		p.abandoned(logger, err)
		return
	}

	artifact, err := p.collab.Transfer(ctx, task.SourceRef, task.Options, p.progressFunc(task.ID, started))
	if err != nil {
		p.fail(logger, task.ID, err)
		return
	}
	if _, err := p.store.Transition(task.ID, domain.EventTransferComplete); err != nil {
		p.abandoned(logger, err)
		return
	}

	final, err := p.collab.Finalize(ctx, artifact, task.Options)
	if err != nil {
		p.fail(logger, task.ID, err)
		return
	}
	if _, err := p.store.Complete(task.ID, final.Path); err != nil {
		p.abandoned(logger, err)
		return
	}

	metrics.TasksCompleted.Inc()
	metrics.TaskDuration.Observe(time.Since(started).Seconds())
	logger.Info("task completed", "output", final.Path, "bytes", final.Size,
		"duration", time.Since(started))
}

// progressFunc records transfer progress in the store and republishes it at
// a bounded rate; the reporter coalesces further.
func (p *Pool) progressFunc(id string, started time.Time) media.ProgressFunc {
	var lastEmit time.Time
	return func(downloaded, total int64) {
		speed := int64(0)
		if elapsed := time.Since(started).Seconds(); elapsed > 0 {
			speed = int64(float64(downloaded) / elapsed)
		}
		eta := domain.ETAUnknown
		if speed > 0 && total > 0 && total >= downloaded {
			eta = (total - downloaded) / speed
		}

		snapshot, ok := p.store.RecordProgress(id, downloaded, total, speed, eta)
		if !ok {
			return
		}

		if now := time.Now(); now.Sub(lastEmit) >= p.emitInterval {
			lastEmit = now
			p.reporter.Publish(domain.ProgressUpdate{
				TaskID:          id,
				Progress:        snapshot.Progress,
				DownloadedBytes: snapshot.DownloadedBytes,
				TotalBytes:      snapshot.TotalBytes,
				Speed:           snapshot.Speed,
				ETASec:          snapshot.ETASec,
			})
		}
	}
}

// fail moves the task to Failed unless the error is a cancellation or the
// task was already transitioned away by a command.
func (p *Pool) fail(logger *slog.Logger, id string, err error) {
	if taskerr.KindOf(err) == taskerr.KindCancelled {
		logger.Info("task run stopped", "reason", "cancelled")
		return
	}

	terr := taskerr.Wrap(err)
	if _, ferr := p.store.Fail(id, terr); ferr != nil {
		p.abandoned(logger, ferr)
		return
	}
	metrics.TasksFailed.Inc()
	logger.Error("task failed", "kind", terr.Kind, "error", terr.Err)
}

func (p *Pool) abandoned(logger *slog.Logger, err error) {
	if errors.Is(err, taskerr.ErrInvalidTransition) || errors.Is(err, taskerr.ErrNotFound) {
		logger.Debug("task taken away mid-run", "error", err)
		return
	}
	logger.Error("unexpected transition failure", "error", err)
}
