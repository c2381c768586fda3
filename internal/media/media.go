package media

import (
	"context"

	"github.com/clipy/download-manager/internal/domain"
)

// Info is the metadata reported by the fetch phase.
type Info struct {
	ID         string
	Title      string
	Channel    string
	Thumbnail  string
	Duration   int64
	TotalBytes int64 // domain.TotalBytesUnknown until the source reports it
}

// LocalArtifact is the raw transferred payload before post-processing.
type LocalArtifact struct {
	Path string
	Size int64
}

// FinalArtifact is the finished output of a task.
type FinalArtifact struct {
	Path string
	Size int64
}

// ProgressFunc receives transfer progress. totalBytes may stay
// domain.TotalBytesUnknown for sources that never report a length.
type ProgressFunc func(downloadedBytes, totalBytes int64)

// Collaborator is the opaque media boundary. Implementations may speak HTTP
// or shell out to external binaries; the task manager only sees these three
// potentially slow, potentially failing calls.
type Collaborator interface {
	FetchInfo(ctx context.Context, sourceRef string) (Info, error)
	Transfer(ctx context.Context, sourceRef string, opts domain.DownloadOptions, onProgress ProgressFunc) (LocalArtifact, error)
	Finalize(ctx context.Context, artifact LocalArtifact, opts domain.DownloadOptions) (FinalArtifact, error)
}
