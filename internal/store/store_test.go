package store

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipy/download-manager/internal/domain"
	"github.com/clipy/download-manager/internal/taskerr"
)

func newTask() *domain.DownloadTask {
	return domain.NewTask(uuid.NewString(), "https://example.com/v/1", domain.DownloadOptions{
		Quality: "1080",
		Format:  "mp4",
	})
}

func TestInsertAndGet(t *testing.T) {
	s := NewTaskStore()
	task := newTask()

	require.NoError(t, s.Insert(task))

	got, err := s.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, domain.TotalBytesUnknown, got.TotalBytes)

	err = s.Insert(task)
	assert.ErrorIs(t, err, taskerr.ErrDuplicateID)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, taskerr.ErrNotFound)
}

func TestTransitionHappyPath(t *testing.T) {
	s := NewTaskStore()
	task := newTask()
	require.NoError(t, s.Insert(task))

	for _, step := range []struct {
		event domain.Event
		want  domain.Status
	}{
		{domain.EventClaim, domain.StatusFetching},
		{domain.EventInfoReady, domain.StatusDownloading},
		{domain.EventTransferComplete, domain.StatusProcessing},
		{domain.EventFinalizeComplete, domain.StatusCompleted},
	} {
		got, err := s.Transition(task.ID, step.event)
		require.NoError(t, err, "event %s", step.event)
		assert.Equal(t, step.want, got.Status)
	}

	got, err := s.Get(task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
}

func TestTransitionRejectsIllegalEvents(t *testing.T) {
	s := NewTaskStore()
	task := newTask()
	require.NoError(t, s.Insert(task))

	// Pending task cannot report transfer completion.
	_, err := s.Transition(task.ID, domain.EventTransferComplete)
	assert.ErrorIs(t, err, taskerr.ErrInvalidTransition)

	// Completed task never transitions again.
	_, _ = s.Transition(task.ID, domain.EventClaim)
	_, _ = s.Transition(task.ID, domain.EventInfoReady)
	_, _ = s.Transition(task.ID, domain.EventTransferComplete)
	_, _ = s.Transition(task.ID, domain.EventFinalizeComplete)

	for _, event := range []domain.Event{
		domain.EventClaim, domain.EventCancel, domain.EventPause,
		domain.EventRetry, domain.EventFail,
	} {
		_, err := s.Transition(task.ID, event)
		assert.ErrorIs(t, err, taskerr.ErrInvalidTransition, "event %s", event)
	}
}

func TestFailAndRetry(t *testing.T) {
	s := NewTaskStore()
	task := newTask()
	require.NoError(t, s.Insert(task))

	_, err := s.Transition(task.ID, domain.EventClaim)
	require.NoError(t, err)
	_, err = s.Transition(task.ID, domain.EventInfoReady)
	require.NoError(t, err)

	s.RecordProgress(task.ID, 500, 1000, 100, 5)

	got, err := s.Fail(task.ID, taskerr.New(taskerr.KindNetwork, errors.New("connection reset")))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, taskerr.KindNetwork, got.Error.Kind)

	// Retry is only legal from Failed.
	got, err = s.Transition(task.ID, domain.EventRetry)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempt)
	assert.Nil(t, got.Error)
	assert.Zero(t, got.Progress)
	assert.Zero(t, got.DownloadedBytes)

	_, err = s.Transition(task.ID, domain.EventRetry)
	assert.ErrorIs(t, err, taskerr.ErrInvalidTransition)
}

func TestPauseResumeRestartsFromPending(t *testing.T) {
	s := NewTaskStore()
	task := newTask()
	require.NoError(t, s.Insert(task))

	_, _ = s.Transition(task.ID, domain.EventClaim)
	_, _ = s.Transition(task.ID, domain.EventInfoReady)
	s.RecordProgress(task.ID, 300, 1000, 50, 14)

	got, err := s.Transition(task.ID, domain.EventPause)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, got.Status)
	assert.EqualValues(t, 300, got.DownloadedBytes, "pause freezes downloaded bytes")

	// Progress updates for a paused task are dropped.
	_, ok := s.RecordProgress(task.ID, 400, 1000, 50, 12)
	assert.False(t, ok)

	got, err = s.Transition(task.ID, domain.EventResume)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)

	// The resumed task is claimable again and re-enters Fetching.
	claimed, ok := s.ClaimOldestPending()
	require.True(t, ok)
	assert.Equal(t, task.ID, claimed.ID)
	assert.Equal(t, domain.StatusFetching, claimed.Status)
}

func TestClaimOldestPendingIsFIFO(t *testing.T) {
	s := NewTaskStore()
	first := newTask()
	second := newTask()
	third := newTask()
	for _, task := range []*domain.DownloadTask{first, second, third} {
		require.NoError(t, s.Insert(task))
	}

	// Cancel the first; the claim must skip it and take the second.
	_, err := s.Transition(first.ID, domain.EventCancel)
	require.NoError(t, err)

	claimed, ok := s.ClaimOldestPending()
	require.True(t, ok)
	assert.Equal(t, second.ID, claimed.ID)

	claimed, ok = s.ClaimOldestPending()
	require.True(t, ok)
	assert.Equal(t, third.ID, claimed.ID)

	_, ok = s.ClaimOldestPending()
	assert.False(t, ok)
}

func TestRecordProgressMonotonic(t *testing.T) {
	s := NewTaskStore()
	task := newTask()
	require.NoError(t, s.Insert(task))
	_, _ = s.Transition(task.ID, domain.EventClaim)
	_, _ = s.Transition(task.ID, domain.EventInfoReady)

	_, ok := s.RecordProgress(task.ID, 100, 1000, 10, 90)
	require.True(t, ok)

	// A stale update must not rewind downloadedBytes.
	_, ok = s.RecordProgress(task.ID, 50, 1000, 10, 95)
	assert.False(t, ok)

	got, err := s.Get(task.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 100, got.DownloadedBytes)
	assert.InDelta(t, 0.1, got.Progress, 1e-9)
}

func TestRemoveRules(t *testing.T) {
	s := NewTaskStore()
	active := newTask()
	done := newTask()
	require.NoError(t, s.Insert(active))
	require.NoError(t, s.Insert(done))

	_, _ = s.Transition(done.ID, domain.EventCancel)

	err := s.Remove(active.ID)
	assert.ErrorIs(t, err, taskerr.ErrTaskActive)

	assert.NoError(t, s.Remove(done.ID))
	assert.ErrorIs(t, s.Remove(done.ID), taskerr.ErrNotFound)
}

func TestRemoveFinishedKeepsFailed(t *testing.T) {
	s := NewTaskStore()
	completed := newTask()
	cancelled := newTask()
	failed := newTask()
	pending := newTask()
	for _, task := range []*domain.DownloadTask{completed, cancelled, failed, pending} {
		require.NoError(t, s.Insert(task))
	}

	_, _ = s.Transition(completed.ID, domain.EventClaim)
	_, _ = s.Transition(completed.ID, domain.EventInfoReady)
	_, _ = s.Transition(completed.ID, domain.EventTransferComplete)
	_, _ = s.Transition(completed.ID, domain.EventFinalizeComplete)

	_, _ = s.Transition(cancelled.ID, domain.EventCancel)

	_, _ = s.Transition(failed.ID, domain.EventClaim)
	_, _ = s.Fail(failed.ID, taskerr.New(taskerr.KindSourceUnavailable, errors.New("gone")))

	removed := s.RemoveFinished()
	assert.Equal(t, 2, removed)

	_, err := s.Get(failed.ID)
	assert.NoError(t, err, "failed tasks must survive clearCompleted")
	_, err = s.Get(pending.ID)
	assert.NoError(t, err)
	_, err = s.Get(completed.ID)
	assert.ErrorIs(t, err, taskerr.ErrNotFound)
	_, err = s.Get(cancelled.ID)
	assert.ErrorIs(t, err, taskerr.ErrNotFound)
}

func TestListSnapshotIsRestartable(t *testing.T) {
	s := NewTaskStore()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Insert(newTask()))
	}

	seq := s.List(func(task domain.DownloadTask) bool {
		return task.Status == domain.StatusPending
	})

	count := func() int {
		n := 0
		for range seq {
			n++
		}
		return n
	}
	assert.Equal(t, 3, count())
	// The sequence reflects store state at List() time, not a live view.
	_, _ = s.Transition(s.Snapshot()[0].ID, domain.EventCancel)
	assert.Equal(t, 3, count())
}

func TestTransitionListener(t *testing.T) {
	s := NewTaskStore()
	var changes []domain.StatusChange
	s.SetTransitionListener(func(c domain.StatusChange) {
		changes = append(changes, c)
	})

	task := newTask()
	require.NoError(t, s.Insert(task))
	_, _ = s.Transition(task.ID, domain.EventClaim)
	_, err := s.Transition(task.ID, domain.EventRetry)
	require.Error(t, err)

	require.Len(t, changes, 2, "rejected transitions must not notify")
	assert.Equal(t, domain.Status(""), changes[0].OldStatus)
	assert.Equal(t, domain.StatusPending, changes[0].NewStatus)
	assert.Equal(t, domain.StatusPending, changes[1].OldStatus)
	assert.Equal(t, domain.StatusFetching, changes[1].NewStatus)
}
