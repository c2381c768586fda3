package media

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/clipy/download-manager/internal/domain"
	"github.com/clipy/download-manager/internal/storage"
	"github.com/clipy/download-manager/internal/taskerr"
)

// HTTPCollaborator downloads sources over plain HTTP. Partial artifacts left
// by a previous attempt are continued with a ranged GET when the server
// supports it.
type HTTPCollaborator struct {
	files  *storage.FileStorage
	client *http.Client
	logger *slog.Logger
}

// NewHTTPCollaborator creates an HTTP collaborator storing artifacts in files.
func NewHTTPCollaborator(files *storage.FileStorage, timeout time.Duration, logger *slog.Logger) *HTTPCollaborator {
	return &HTTPCollaborator{
		files:  files,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// FetchInfo probes the source with a HEAD request.
func (c *HTTPCollaborator) FetchInfo(ctx context.Context, sourceRef string) (Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, sourceRef, nil)
	if err != nil {
		return Info{}, taskerr.New(taskerr.KindSourceUnavailable, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Info{}, taskerr.Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return Info{}, taskerr.New(taskerr.KindSourceUnavailable,
			fmt.Errorf("%s: %w", resp.Status, taskerr.ErrSourceUnavailable))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Info{}, taskerr.New(taskerr.KindNetwork, fmt.Errorf("bad status: %s", resp.Status))
	}

	info := Info{
		ID:         artifactName(sourceRef),
		Title:      titleFromURL(sourceRef),
		TotalBytes: domain.TotalBytesUnknown,
	}
	if resp.ContentLength >= 0 {
		info.TotalBytes = resp.ContentLength
	}
	return info, nil
}

// Transfer streams the source into a .part artifact, reporting progress per
// chunk. The context cancels the copy between chunks.
func (c *HTTPCollaborator) Transfer(ctx context.Context, sourceRef string, opts domain.DownloadOptions, onProgress ProgressFunc) (LocalArtifact, error) {
	filename := artifactName(sourceRef) + ".part"

	var existing int64
	if c.files.FileExists(filename) {
		if size, err := c.files.FileSize(filename); err == nil {
			existing = size
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceRef, nil)
	if err != nil {
		return LocalArtifact{}, taskerr.New(taskerr.KindSourceUnavailable, err)
	}
	if existing > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existing))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return LocalArtifact{}, taskerr.Wrap(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return LocalArtifact{}, taskerr.New(taskerr.KindSourceUnavailable,
			fmt.Errorf("%s: %w", resp.Status, taskerr.ErrSourceUnavailable))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return LocalArtifact{}, taskerr.New(taskerr.KindNetwork, fmt.Errorf("bad status: %s", resp.Status))
	}

	if existing > 0 && resp.StatusCode != http.StatusPartialContent {
		// Server ignored the range; start over.
		existing = 0
	}

	total := domain.TotalBytesUnknown
	if resp.ContentLength >= 0 {
		total = existing + resp.ContentLength
	}

	var file *os.File
	if existing > 0 {
		file, err = c.files.OpenAppend(filename)
	} else {
		file, err = c.files.CreateFile(filename)
	}
	if err != nil {
		return LocalArtifact{}, taskerr.New(taskerr.KindDisk, err)
	}
	defer file.Close()

	written, err := c.copyWithProgress(ctx, file, resp.Body, existing, total, onProgress)
	if err != nil {
		return LocalArtifact{}, taskerr.Wrap(err)
	}

	size := existing + written
	c.logger.Debug("transfer finished", "source", sourceRef, "bytes", size)
	return LocalArtifact{Path: c.files.Path(filename), Size: size}, nil
}

func (c *HTTPCollaborator) copyWithProgress(ctx context.Context, dst *os.File, src io.Reader, offset, total int64, onProgress ProgressFunc) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, taskerr.New(taskerr.KindDisk, werr)
			}
			if nw != nr {
				return written, taskerr.New(taskerr.KindDisk, io.ErrShortWrite)
			}
			if onProgress != nil {
				onProgress(offset+written, total)
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return written, nil
			}
			return written, rerr
		}
	}
}

// Finalize moves the artifact to its final output path.
func (c *HTTPCollaborator) Finalize(ctx context.Context, artifact LocalArtifact, opts domain.DownloadOptions) (FinalArtifact, error) {
	if err := ctx.Err(); err != nil {
		return FinalArtifact{}, taskerr.Wrap(err)
	}

	name := opts.Filename
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(artifact.Path), ".part")
	}
	if opts.Format != "" && filepath.Ext(name) == "" {
		name += "." + opts.Format
	}

	dir := opts.OutputPath
	if dir == "" {
		dir = c.files.Dir()
	}
	dst := filepath.Join(dir, name)

	if err := c.files.MoveTo(filepath.Base(artifact.Path), dst); err != nil {
		return FinalArtifact{}, taskerr.New(taskerr.KindDisk, err)
	}

	c.logger.Debug("artifact finalized", "path", dst, "bytes", artifact.Size)
	return FinalArtifact{Path: dst, Size: artifact.Size}, nil
}

// artifactName derives a stable filename for a source reference.
func artifactName(sourceRef string) string {
	return fmt.Sprintf("%x", sha1.Sum([]byte(sourceRef)))
}

func titleFromURL(sourceRef string) string {
	u, err := url.Parse(sourceRef)
	if err != nil {
		return sourceRef
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return u.Host
	}
	return strings.TrimSuffix(base, path.Ext(base))
}
