package media

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clipy/download-manager/internal/domain"
	"github.com/clipy/download-manager/internal/storage"
	"github.com/clipy/download-manager/internal/taskerr"
)

func newTestCollaborator(t *testing.T) (*HTTPCollaborator, string) {
	t.Helper()
	dir := t.TempDir()
	files := storage.NewFileStorage(dir)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHTTPCollaborator(files, 30*time.Second, logger), dir
}

func TestFetchInfoReportsSize(t *testing.T) {
	c, _ := newTestCollaborator(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "11")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	info, err := c.FetchInfo(context.Background(), server.URL+"/clip.mp4")
	if err != nil {
		t.Fatalf("FetchInfo error: %v", err)
	}
	if info.TotalBytes != 11 {
		t.Errorf("expected TotalBytes=11, got %d", info.TotalBytes)
	}
	if info.Title != "clip" {
		t.Errorf("expected title %q, got %q", "clip", info.Title)
	}
}

func TestFetchInfoSourceGone(t *testing.T) {
	c, _ := newTestCollaborator(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := c.FetchInfo(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if kind := taskerr.KindOf(err); kind != taskerr.KindSourceUnavailable {
		t.Errorf("expected kind %s, got %s", taskerr.KindSourceUnavailable, kind)
	}
}

func TestTransferReportsProgress(t *testing.T) {
	c, dir := newTestCollaborator(t)

	content := strings.Repeat("x", 70*1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, content)
	}))
	defer server.Close()

	var lastDone, lastTotal int64
	var calls int
	art, err := c.Transfer(context.Background(), server.URL+"/big.bin", domain.DownloadOptions{},
		func(done, total int64) {
			if done < lastDone {
				t.Errorf("progress went backwards: %d after %d", done, lastDone)
			}
			lastDone, lastTotal = done, total
			calls++
		})
	if err != nil {
		t.Fatalf("Transfer error: %v", err)
	}
	if art.Size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), art.Size)
	}
	if calls < 2 {
		t.Errorf("expected chunked progress callbacks, got %d", calls)
	}
	if lastDone != int64(len(content)) || lastTotal != int64(len(content)) {
		t.Errorf("final progress %d/%d, want %d/%d", lastDone, lastTotal, len(content), len(content))
	}

	data, err := os.ReadFile(art.Path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if len(data) != len(content) {
		t.Errorf("artifact has %d bytes, want %d", len(data), len(content))
	}
	if filepath.Dir(art.Path) != dir {
		t.Errorf("artifact stored outside storage dir: %s", art.Path)
	}
}

func TestTransferResumesPartialArtifact(t *testing.T) {
	c, _ := newTestCollaborator(t)

	full := "hello world"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.Header.Get("Range"), "bytes=5-") {
			w.WriteHeader(http.StatusPartialContent)
			io.WriteString(w, full[5:])
			return
		}
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, full)
	}))
	defer server.Close()

	sourceRef := server.URL + "/file"
	partName := artifactName(sourceRef) + ".part"
	if err := os.WriteFile(c.files.Path(partName), []byte(full[:5]), 0o644); err != nil {
		t.Fatal(err)
	}

	art, err := c.Transfer(context.Background(), sourceRef, domain.DownloadOptions{}, nil)
	if err != nil {
		t.Fatalf("Transfer error: %v", err)
	}
	data, err := os.ReadFile(art.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != full {
		t.Errorf("expected resumed content %q, got %q", full, string(data))
	}
}

func TestTransferCancelledMidStream(t *testing.T) {
	c, _ := newTestCollaborator(t)

	ctx, cancel := context.WithCancel(context.Background())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		io.WriteString(w, strings.Repeat("y", 64*1024))
		flusher.Flush()
		cancel()
		// Hold the connection open so only cancellation ends the copy.
		<-r.Context().Done()
	}))
	defer server.Close()

	_, err := c.Transfer(ctx, server.URL, domain.DownloadOptions{}, nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if kind := taskerr.KindOf(err); kind != taskerr.KindCancelled {
		t.Errorf("expected kind %s, got %s", taskerr.KindCancelled, kind)
	}
}

func TestFinalizeMovesArtifact(t *testing.T) {
	c, dir := newTestCollaborator(t)

	part := filepath.Join(dir, "abc123.part")
	if err := os.WriteFile(part, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "videos")
	final, err := c.Finalize(context.Background(), LocalArtifact{Path: part, Size: 7}, domain.DownloadOptions{
		OutputPath: out,
		Filename:   "my-clip",
		Format:     "mp4",
	})
	if err != nil {
		t.Fatalf("Finalize error: %v", err)
	}
	want := filepath.Join(out, "my-clip.mp4")
	if final.Path != want {
		t.Errorf("expected final path %s, got %s", want, final.Path)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("final artifact missing: %v", err)
	}
	if _, err := os.Stat(part); !os.IsNotExist(err) {
		t.Errorf("part file should be gone after finalize")
	}
}
