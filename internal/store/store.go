package store

import (
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/clipy/download-manager/internal/domain"
	"github.com/clipy/download-manager/internal/taskerr"
)

// TransitionListener receives one notification per applied status change.
// It is invoked outside the store lock and must not block for long.
type TransitionListener func(domain.StatusChange)

// TaskStore is the authoritative, mutex-guarded map of download tasks.
//
// All status mutations go through the transition path so that illegal
// transitions are rejected centrally. Reads return copies; callers never see
// a pointer into the store.
type TaskStore struct {
	// eventMu serializes status mutations together with their listener
	// notification, so observers see transitions in the order they were
	// applied. It is acquired before mu and released after notify; the
	// listener may read the store but must never mutate it.
	eventMu  sync.Mutex
	mu       sync.RWMutex
	tasks    map[string]*domain.DownloadTask
	order    []string // insertion order, for FIFO claims and stable listing
	listener TransitionListener
}

// NewTaskStore creates an empty store.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[string]*domain.DownloadTask),
	}
}

// SetTransitionListener registers the single status-change listener.
// Must be called before the store is used concurrently.
func (s *TaskStore) SetTransitionListener(l TransitionListener) {
	s.listener = l
}

func (s *TaskStore) notify(id string, old, next domain.Status) {
	if s.listener != nil {
		s.listener(domain.StatusChange{
			TaskID:    id,
			OldStatus: old,
			NewStatus: next,
			Timestamp: time.Now(),
		})
	}
}

// Insert adds a new task and emits its creation status change.
func (s *TaskStore) Insert(task *domain.DownloadTask) error {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	s.mu.Lock()
	if _, exists := s.tasks[task.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("insert %s: %w", task.ID, taskerr.ErrDuplicateID)
	}
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)
	status := task.Status
	s.mu.Unlock()

	s.notify(task.ID, "", status)
	return nil
}

// Get returns a copy of the task.
func (s *TaskStore) Get(id string) (domain.DownloadTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[id]
	if !exists {
		return domain.DownloadTask{}, fmt.Errorf("get %s: %w", id, taskerr.ErrNotFound)
	}
	return *task, nil
}

// Transition applies one state-machine event and its side effects, and
// returns the updated task. This is the only sanctioned status mutation path.
func (s *TaskStore) Transition(id string, event domain.Event) (domain.DownloadTask, error) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	s.mu.Lock()
	task, old, err := s.transitionLocked(id, event)
	s.mu.Unlock()
	if err != nil {
		return domain.DownloadTask{}, err
	}

	s.notify(id, old, task.Status)
	return task, nil
}

// Fail moves a task to Failed and attaches the failure classification.
func (s *TaskStore) Fail(id string, failure *taskerr.TaskError) (domain.DownloadTask, error) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	s.mu.Lock()
	task, old, err := s.transitionLocked(id, domain.EventFail)
	if err != nil {
		s.mu.Unlock()
		return domain.DownloadTask{}, err
	}
	t := s.tasks[id]
	t.Error = &domain.Failure{Kind: failure.Kind, Message: failure.Err.Error()}
	task = *t
	s.mu.Unlock()

	s.notify(id, old, task.Status)
	return task, nil
}

// Complete finishes the processing phase, records the final artifact path
// and pins progress to 1.
func (s *TaskStore) Complete(id, outputPath string) (domain.DownloadTask, error) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	s.mu.Lock()
	task, old, err := s.transitionLocked(id, domain.EventFinalizeComplete)
	if err != nil {
		s.mu.Unlock()
		return domain.DownloadTask{}, err
	}
	t := s.tasks[id]
	t.OutputPath = outputPath
	t.Progress = 1
	if t.TotalBytes != domain.TotalBytesUnknown {
		t.DownloadedBytes = t.TotalBytes
	}
	t.Speed = 0
	t.ETASec = 0
	task = *t
	s.mu.Unlock()

	s.notify(id, old, task.Status)
	return task, nil
}

// transitionLocked applies the event, side effects included. Caller holds mu.
func (s *TaskStore) transitionLocked(id string, event domain.Event) (domain.DownloadTask, domain.Status, error) {
	task, exists := s.tasks[id]
	if !exists {
		return domain.DownloadTask{}, "", fmt.Errorf("transition %s: %w", id, taskerr.ErrNotFound)
	}

	next, ok := domain.Next(task.Status, event)
	if !ok {
		return domain.DownloadTask{}, "", fmt.Errorf("transition %s: %s on %s: %w",
			id, event, task.Status, taskerr.ErrInvalidTransition)
	}

	old := task.Status
	task.Status = next

	switch event {
	case domain.EventRetry:
		task.Attempt++
		task.Error = nil
		task.Progress = 0
		task.DownloadedBytes = 0
		task.Speed = 0
		task.ETASec = domain.ETAUnknown
	case domain.EventPause:
		task.Speed = 0
		task.ETASec = domain.ETAUnknown
	}

	if next.IsTerminal() && task.CompletedAt == nil {
		now := time.Now()
		task.CompletedAt = &now
	}

	return *task, old, nil
}

// ClaimOldestPending atomically selects the oldest-created Pending task and
// transitions it to Fetching. Returns false when no task is claimable.
func (s *TaskStore) ClaimOldestPending() (domain.DownloadTask, bool) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	s.mu.Lock()
	var claimed *domain.DownloadTask
	var old domain.Status
	for _, id := range s.order {
		t := s.tasks[id]
		if t == nil || t.Status != domain.StatusPending {
			continue
		}
		task, prev, err := s.transitionLocked(id, domain.EventClaim)
		if err != nil {
			continue
		}
		claimed, old = &task, prev
		break
	}
	s.mu.Unlock()

	if claimed == nil {
		return domain.DownloadTask{}, false
	}
	s.notify(claimed.ID, old, claimed.Status)
	return *claimed, true
}

// SetMediaInfo records the metadata reported by the fetch phase.
func (s *TaskStore) SetMediaInfo(id, title, channel string, duration, totalBytes int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[id]
	if !exists {
		return fmt.Errorf("set media info %s: %w", id, taskerr.ErrNotFound)
	}
	task.Title = title
	task.Channel = channel
	task.Duration = duration
	if totalBytes >= 0 {
		task.TotalBytes = totalBytes
	}
	return nil
}

// RecordProgress updates transfer progress for an active task. Stale updates
// (fewer bytes than already recorded) and updates for non-active tasks are
// ignored, keeping downloadedBytes monotonic within an attempt.
func (s *TaskStore) RecordProgress(id string, downloaded, total, speed, etaSec int64) (domain.DownloadTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[id]
	if !exists || !task.Status.IsActive() {
		return domain.DownloadTask{}, false
	}
	if downloaded < task.DownloadedBytes {
		return domain.DownloadTask{}, false
	}

	task.DownloadedBytes = downloaded
	if total >= 0 {
		task.TotalBytes = total
	}
	if task.TotalBytes > 0 && downloaded <= task.TotalBytes {
		task.Progress = float64(downloaded) / float64(task.TotalBytes)
	}
	task.Speed = speed
	task.ETASec = etaSec
	return *task, true
}

// List returns a restartable sequence over a snapshot of tasks matching the
// predicate, in creation order. The snapshot is taken at call time.
func (s *TaskStore) List(match func(domain.DownloadTask) bool) iter.Seq[domain.DownloadTask] {
	s.mu.RLock()
	snapshot := make([]domain.DownloadTask, 0, len(s.order))
	for _, id := range s.order {
		if t := s.tasks[id]; t != nil {
			if match == nil || match(*t) {
				snapshot = append(snapshot, *t)
			}
		}
	}
	s.mu.RUnlock()

	return func(yield func(domain.DownloadTask) bool) {
		for _, t := range snapshot {
			if !yield(t) {
				return
			}
		}
	}
}

// Remove deletes a single task. Non-terminal tasks must be cancelled first.
func (s *TaskStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[id]
	if !exists {
		return fmt.Errorf("remove %s: %w", id, taskerr.ErrNotFound)
	}
	if !task.Status.IsTerminal() {
		return fmt.Errorf("remove %s (%s): %w", id, task.Status, taskerr.ErrTaskActive)
	}

	s.removeLocked(id)
	return nil
}

// RemoveFinished deletes all Completed and Cancelled tasks and returns how
// many were removed. Failed tasks stay so they can be inspected and retried.
func (s *TaskStore) RemoveFinished() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, id := range append([]string(nil), s.order...) {
		t := s.tasks[id]
		if t == nil {
			continue
		}
		if t.Status == domain.StatusCompleted || t.Status == domain.StatusCancelled {
			s.removeLocked(id)
			removed++
		}
	}
	return removed
}

func (s *TaskStore) removeLocked(id string) {
	delete(s.tasks, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// CountByStatus returns how many tasks are currently in the given status.
func (s *TaskStore) CountByStatus(status domain.Status) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, t := range s.tasks {
		if t.Status == status {
			n++
		}
	}
	return n
}

// Snapshot returns copies of every task in creation order.
func (s *TaskStore) Snapshot() []domain.DownloadTask {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DownloadTask, 0, len(s.order))
	for _, id := range s.order {
		if t := s.tasks[id]; t != nil {
			out = append(out, *t)
		}
	}
	return out
}

// Restore loads checkpointed tasks into an empty store. Tasks persisted
// mid-phase are demoted to Pending so they get claimed again after restart.
func (s *TaskStore) Restore(tasks []domain.DownloadTask) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range tasks {
		t := tasks[i]
		if t.Status.IsActive() {
			t.Status = domain.StatusPending
			t.Speed = 0
			t.ETASec = domain.ETAUnknown
		}
		if _, exists := s.tasks[t.ID]; exists {
			continue
		}
		s.tasks[t.ID] = &t
		s.order = append(s.order, t.ID)
	}
}
