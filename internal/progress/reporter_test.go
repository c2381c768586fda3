package progress

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipy/download-manager/internal/domain"
)

func newTestReporter(t *testing.T, interval time.Duration) *Reporter {
	t.Helper()
	r := NewReporter(interval, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(r.Stop)
	return r
}

func update(id string, bytes int64) domain.ProgressUpdate {
	return domain.ProgressUpdate{
		TaskID:          id,
		DownloadedBytes: bytes,
		TotalBytes:      1000,
		Progress:        float64(bytes) / 1000,
	}
}

func waitBatch(t *testing.T, sub *Subscription) []domain.ProgressUpdate {
	t.Helper()
	select {
	case batch := <-sub.Progress():
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for progress batch")
		return nil
	}
}

func TestCoalescesToLatestSnapshotPerTick(t *testing.T) {
	r := newTestReporter(t, 20*time.Millisecond)
	sub := r.Subscribe()

	// Many rapid updates for one task must collapse into one entry.
	for i := int64(1); i <= 100; i++ {
		r.Publish(update("t1", i*10))
	}

	batch := waitBatch(t, sub)
	require.Len(t, batch, 1)
	assert.EqualValues(t, 1000, batch[0].DownloadedBytes)
}

func TestBatchesMultipleTasks(t *testing.T) {
	r := newTestReporter(t, 20*time.Millisecond)
	sub := r.Subscribe()

	r.Publish(update("a", 100))
	r.Publish(update("b", 200))

	batch := waitBatch(t, sub)
	seen := map[string]int64{}
	for _, u := range batch {
		seen[u.TaskID] = u.DownloadedBytes
	}
	assert.EqualValues(t, 100, seen["a"])
	assert.EqualValues(t, 200, seen["b"])
}

func TestDropsStaleSnapshots(t *testing.T) {
	r := newTestReporter(t, 20*time.Millisecond)
	sub := r.Subscribe()

	r.Publish(update("t1", 500))
	r.Publish(update("t1", 300)) // stale, must be ignored

	batch := waitBatch(t, sub)
	require.Len(t, batch, 1)
	assert.EqualValues(t, 500, batch[0].DownloadedBytes)

	// After a flush, older bytes still never resurface.
	r.Publish(update("t1", 400))
	select {
	case batch := <-sub.Progress():
		t.Fatalf("stale update delivered: %+v", batch)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestStatusChangeBypassesTick(t *testing.T) {
	// Huge interval: the tick never fires during the test.
	r := newTestReporter(t, time.Hour)
	sub := r.Subscribe()

	r.Publish(update("t1", 900))
	r.StatusChanged(domain.StatusChange{
		TaskID:    "t1",
		OldStatus: domain.StatusProcessing,
		NewStatus: domain.StatusCompleted,
		Timestamp: time.Now(),
	})

	// The pending snapshot is flushed ahead of the terminal event.
	batch := waitBatch(t, sub)
	require.Len(t, batch, 1)
	assert.EqualValues(t, 900, batch[0].DownloadedBytes)

	select {
	case c := <-sub.Status():
		assert.Equal(t, domain.StatusCompleted, c.NewStatus)
	case <-time.After(time.Second):
		t.Fatal("terminal status event not delivered immediately")
	}
}

func TestRetryResetsMonotonicityBaseline(t *testing.T) {
	r := newTestReporter(t, 20*time.Millisecond)
	sub := r.Subscribe()

	r.Publish(update("t1", 800))
	waitBatch(t, sub)

	r.StatusChanged(domain.StatusChange{
		TaskID:    "t1",
		OldStatus: domain.StatusFailed,
		NewStatus: domain.StatusPending,
		Timestamp: time.Now(),
	})
	<-sub.Status()

	// Fresh attempt starts from zero and must be delivered.
	r.Publish(update("t1", 50))
	batch := waitBatch(t, sub)
	require.Len(t, batch, 1)
	assert.EqualValues(t, 50, batch[0].DownloadedBytes)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	r := newTestReporter(t, time.Hour)
	sub := r.Subscribe()

	// Overflow the status buffer without draining.
	for i := 0; i < statusBuffer+10; i++ {
		r.StatusChanged(domain.StatusChange{TaskID: "t", NewStatus: domain.StatusPending})
	}

	droppedStatus, _ := sub.Dropped()
	assert.EqualValues(t, 10, droppedStatus)
}

func TestUnsubscribeClosesChannels(t *testing.T) {
	r := newTestReporter(t, 20*time.Millisecond)
	sub := r.Subscribe()
	r.Unsubscribe(sub)

	_, ok := <-sub.Status()
	assert.False(t, ok)
	_, ok2 := <-sub.Progress()
	assert.False(t, ok2)
}
