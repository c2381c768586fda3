package domain

import (
	"time"

	"github.com/clipy/download-manager/internal/taskerr"
)

// TotalBytesUnknown marks a transfer whose size the source has not reported yet.
const TotalBytesUnknown int64 = -1

// ETAUnknown marks a task without a usable ETA estimate.
const ETAUnknown int64 = -1

// DownloadOptions is the immutable snapshot of requested output parameters,
// captured when the task is created. Later setting changes never touch an
// in-flight task.
type DownloadOptions struct {
	Quality        string `json:"quality"`
	Format         string `json:"format"`
	AudioOnly      bool   `json:"audio_only"`
	OutputPath     string `json:"output_path"`
	Filename       string `json:"filename"`
	EmbedThumbnail bool   `json:"embed_thumbnail"`
	EmbedMetadata  bool   `json:"embed_metadata"`
}

// Failure describes why a task is in the Failed status.
type Failure struct {
	Kind    taskerr.Kind `json:"kind"`
	Message string       `json:"message"`
}

// DownloadTask is the central entity tracked by the manager.
//
// ID, SourceRef, Options and CreatedAt are immutable after creation. Status
// changes only through the store's transition path; progress fields change
// only while the task is active.
type DownloadTask struct {
	ID        string          `json:"id"`
	SourceRef string          `json:"source_ref"`
	Options   DownloadOptions `json:"options"`

	// Media metadata filled in once the fetch phase reports it.
	Title    string `json:"title,omitempty"`
	Channel  string `json:"channel,omitempty"`
	Duration int64  `json:"duration,omitempty"`

	Status          Status   `json:"status"`
	Progress        float64  `json:"progress"`
	DownloadedBytes int64    `json:"downloaded_bytes"`
	TotalBytes      int64    `json:"total_bytes"`
	Speed           int64    `json:"speed"`
	ETASec          int64    `json:"eta_sec"`
	OutputPath      string   `json:"output_path,omitempty"`
	Error           *Failure `json:"error,omitempty"`
	Attempt         int      `json:"attempt"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTask creates a Pending task with unknown size and ETA.
func NewTask(id, sourceRef string, opts DownloadOptions) *DownloadTask {
	return &DownloadTask{
		ID:         id,
		SourceRef:  sourceRef,
		Options:    opts,
		Status:     StatusPending,
		TotalBytes: TotalBytesUnknown,
		ETASec:     ETAUnknown,
		CreatedAt:  time.Now(),
	}
}
