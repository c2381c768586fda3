package domain

import "time"

// StatusChange is emitted exactly once for every accepted command or worker
// transition that changes a task's status. OldStatus is empty for the
// creation event.
type StatusChange struct {
	TaskID    string    `json:"task_id"`
	OldStatus Status    `json:"old_status,omitempty"`
	NewStatus Status    `json:"new_status"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressUpdate is the coalesced per-task progress snapshot delivered to
// subscribers in batches at the reporter's tick interval.
type ProgressUpdate struct {
	TaskID          string  `json:"task_id"`
	Progress        float64 `json:"progress"`
	DownloadedBytes int64   `json:"downloaded_bytes"`
	TotalBytes      int64   `json:"total_bytes"`
	Speed           int64   `json:"speed"`
	ETASec          int64   `json:"eta_sec"`
}
