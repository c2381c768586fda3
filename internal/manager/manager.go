package manager

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/google/uuid"

	"github.com/clipy/download-manager/internal/domain"
	"github.com/clipy/download-manager/internal/metrics"
	"github.com/clipy/download-manager/internal/progress"
	"github.com/clipy/download-manager/internal/store"
	"github.com/clipy/download-manager/internal/taskerr"
	"github.com/clipy/download-manager/internal/validation"
	"github.com/clipy/download-manager/internal/worker"
)

// Manager is the public command surface of the download subsystem. Commands
// validate against current state, mutate the store, and wake the pool;
// completion is reported asynchronously through the event streams.
type Manager struct {
	store      *store.TaskStore
	pool       *worker.Pool
	reporter   *progress.Reporter
	checkpoint *store.Checkpoint // nil disables warm-restart persistence
	logger     *slog.Logger

	retryAttempts int
}

// New wires the manager into the store's transition notifications.
// retryAttempts is the advisory cap surfaced to callers; the manager never
// auto-retries.
func New(s *store.TaskStore, pool *worker.Pool, reporter *progress.Reporter, checkpoint *store.Checkpoint, retryAttempts int, logger *slog.Logger) *Manager {
	m := &Manager{
		store:         s,
		pool:          pool,
		reporter:      reporter,
		checkpoint:    checkpoint,
		logger:        logger,
		retryAttempts: retryAttempts,
	}
	s.SetTransitionListener(m.onStatusChange)
	return m
}

func (m *Manager) onStatusChange(c domain.StatusChange) {
	switch {
	case c.NewStatus == domain.StatusCancelled:
		metrics.TasksCancelled.Inc()
	case c.OldStatus == domain.StatusFailed && c.NewStatus == domain.StatusPending:
		metrics.TasksRetried.Inc()
	}

	if c.OldStatus == domain.StatusPending || c.NewStatus == domain.StatusPending {
		metrics.PendingDownloads.Set(float64(m.store.CountByStatus(domain.StatusPending)))
	}

	m.reporter.StatusChanged(c)

	if c.NewStatus.IsTerminal() {
		m.saveCheckpoint()
	}
}

// Start creates a task in Pending and returns its id immediately. It never
// blocks on the transfer itself.
func (m *Manager) Start(sourceRef string, opts domain.DownloadOptions) (string, error) {
	if err := validation.ValidateSourceRef(sourceRef); err != nil {
		return "", fmt.Errorf("%v: %w", err, taskerr.ErrInvalidArgument)
	}

	task := domain.NewTask(uuid.NewString(), sourceRef, opts)
	if err := m.store.Insert(task); err != nil {
		return "", err
	}
	metrics.TasksCreated.Inc()
	m.logger.Info("download queued", "task_id", task.ID, "source", sourceRef)

	m.saveCheckpoint()
	m.pool.Wake()
	return task.ID, nil
}

// Pause suspends a Pending or active task. The running transfer, if any,
// winds down cooperatively.
func (m *Manager) Pause(id string) error {
	if _, err := m.store.Transition(id, domain.EventPause); err != nil {
		return err
	}
	m.pool.Abort(id)
	m.logger.Info("download paused", "task_id", id)
	return nil
}

// Resume re-queues a Paused task. It restarts from the fetch phase rather
// than resuming the stale transfer.
func (m *Manager) Resume(id string) error {
	if _, err := m.store.Transition(id, domain.EventResume); err != nil {
		return err
	}
	m.logger.Info("download resumed", "task_id", id)
	m.pool.Wake()
	return nil
}

// Cancel stops a task. Cancelling an already-terminal task is a no-op.
func (m *Manager) Cancel(id string) error {
	_, err := m.store.Transition(id, domain.EventCancel)
	if err != nil {
		if errors.Is(err, taskerr.ErrInvalidTransition) {
			if task, gerr := m.store.Get(id); gerr == nil && task.Status.IsTerminal() {
				return nil
			}
		}
		return err
	}
	m.pool.Abort(id)
	m.logger.Info("download cancelled", "task_id", id)
	return nil
}

// Retry re-queues a Failed task, clearing its error and bumping the attempt
// counter. Retry on any other status is an invalid transition.
func (m *Manager) Retry(id string) error {
	task, err := m.store.Transition(id, domain.EventRetry)
	if err != nil {
		return err
	}
	if task.Attempt > m.retryAttempts {
		m.logger.Warn("retry beyond advisory cap",
			"task_id", id, "attempt", task.Attempt, "cap", m.retryAttempts)
	}
	m.logger.Info("download retried", "task_id", id, "attempt", task.Attempt)
	m.pool.Wake()
	return nil
}

// SetMaxConcurrent changes the pool's concurrency ceiling. n must be >= 1.
func (m *Manager) SetMaxConcurrent(n int) error {
	if n < 1 {
		return fmt.Errorf("max concurrent %d: %w", n, taskerr.ErrInvalidArgument)
	}
	m.pool.SetLimit(n)
	m.logger.Info("concurrency updated", "max_concurrent", n)
	return nil
}

// MaxConcurrent returns the current concurrency ceiling.
func (m *Manager) MaxConcurrent() int {
	return m.pool.Limit()
}

// RetryAttempts returns the advisory retry cap from configuration.
func (m *Manager) RetryAttempts() int {
	return m.retryAttempts
}

// ClearCompleted removes all Completed and Cancelled tasks. Failed tasks
// stay visible until retried or removed explicitly.
func (m *Manager) ClearCompleted() int {
	removed := m.store.RemoveFinished()
	if removed > 0 {
		m.logger.Info("cleared finished downloads", "removed", removed)
		m.saveCheckpoint()
	}
	return removed
}

// Remove deletes one task; non-terminal tasks must be cancelled first.
func (m *Manager) Remove(id string) error {
	if err := m.store.Remove(id); err != nil {
		return err
	}
	m.saveCheckpoint()
	return nil
}

// Get returns a snapshot of one task.
func (m *Manager) Get(id string) (domain.DownloadTask, error) {
	return m.store.Get(id)
}

// ListAll returns a snapshot sequence over every task.
func (m *Manager) ListAll() iter.Seq[domain.DownloadTask] {
	return m.store.List(nil)
}

// ListActive returns tasks currently occupying a worker slot.
func (m *Manager) ListActive() iter.Seq[domain.DownloadTask] {
	return m.store.List(func(t domain.DownloadTask) bool { return t.Status.IsActive() })
}

// ListPending returns tasks waiting for a slot, including Paused ones.
func (m *Manager) ListPending() iter.Seq[domain.DownloadTask] {
	return m.store.List(func(t domain.DownloadTask) bool {
		return t.Status == domain.StatusPending || t.Status == domain.StatusPaused
	})
}

// ListCompleted returns Completed and Cancelled tasks.
func (m *Manager) ListCompleted() iter.Seq[domain.DownloadTask] {
	return m.store.List(func(t domain.DownloadTask) bool {
		return t.Status == domain.StatusCompleted || t.Status == domain.StatusCancelled
	})
}

// ListFailed returns Failed tasks.
func (m *Manager) ListFailed() iter.Seq[domain.DownloadTask] {
	return m.store.List(func(t domain.DownloadTask) bool { return t.Status == domain.StatusFailed })
}

// Subscribe registers an event-stream subscriber.
func (m *Manager) Subscribe() *progress.Subscription {
	return m.reporter.Subscribe()
}

// Unsubscribe removes a subscriber.
func (m *Manager) Unsubscribe(sub *progress.Subscription) {
	m.reporter.Unsubscribe(sub)
}

// Restore loads the checkpoint into the store and queues demoted tasks.
// Call once at startup, before the pool starts claiming.
func (m *Manager) Restore() (int, error) {
	if m.checkpoint == nil {
		return 0, nil
	}
	tasks, err := m.checkpoint.Load()
	if err != nil {
		return 0, fmt.Errorf("restore checkpoint: %w", err)
	}
	m.store.Restore(tasks)
	if len(tasks) > 0 {
		metrics.PendingDownloads.Set(float64(m.store.CountByStatus(domain.StatusPending)))
		m.logger.Info("restored tasks from checkpoint", "count", len(tasks))
		m.pool.Wake()
	}
	return len(tasks), nil
}

// Close checkpoints the final state and stops the reporter. The caller is
// responsible for stopping the pool's Run context first.
func (m *Manager) Close() {
	m.saveCheckpoint()
	m.reporter.Stop()
}

func (m *Manager) saveCheckpoint() {
	if m.checkpoint == nil {
		return
	}
	if err := m.checkpoint.Save(m.store.Snapshot()); err != nil {
		m.logger.Error("checkpoint save failed", "error", err)
	}
}
