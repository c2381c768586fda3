package http

import (
	"encoding/json"
	"errors"
	"iter"
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/clipy/download-manager/internal/domain"
	"github.com/clipy/download-manager/internal/manager"
	"github.com/clipy/download-manager/internal/taskerr"
)

// DownloadHandler exposes the download manager's command surface over HTTP.
type DownloadHandler struct {
	manager   *manager.Manager
	validator *validator.Validate
	logger    *slog.Logger
}

// NewDownloadHandler creates a handler around the given manager.
func NewDownloadHandler(m *manager.Manager, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{
		manager:   m,
		validator: validator.New(),
		logger:    logger,
	}
}

// StartDownloadRequest is the body of POST /downloads.
type StartDownloadRequest struct {
	SourceRef string                 `json:"source_ref" validate:"required,url"`
	Options   domain.DownloadOptions `json:"options"`
}

// SetConcurrencyRequest is the body of PUT /settings/concurrency.
type SetConcurrencyRequest struct {
	MaxConcurrent int `json:"max_concurrent" validate:"required,gte=1"`
}

// StartDownload handles POST /downloads.
func (h *DownloadHandler) StartDownload(w http.ResponseWriter, r *http.Request) {
	var req StartDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	taskID, err := h.manager.Start(req.SourceRef, req.Options)
	if err != nil {
		writeManagerError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"task_id": taskID})
}

// GetDownload handles GET /downloads/{taskID}.
func (h *DownloadHandler) GetDownload(w http.ResponseWriter, r *http.Request) {
	task, err := h.manager.Get(chi.URLParam(r, "taskID"))
	if err != nil {
		writeManagerError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ListDownloads handles GET /downloads?status=all|active|pending|completed|failed.
func (h *DownloadHandler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	var seq iter.Seq[domain.DownloadTask]
	switch r.URL.Query().Get("status") {
	case "", "all":
		seq = h.manager.ListAll()
	case "active":
		seq = h.manager.ListActive()
	case "pending":
		seq = h.manager.ListPending()
	case "completed":
		seq = h.manager.ListCompleted()
	case "failed":
		seq = h.manager.ListFailed()
	default:
		writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}

	tasks := make([]domain.DownloadTask, 0)
	for task := range seq {
		tasks = append(tasks, task)
	}
	writeJSON(w, http.StatusOK, map[string]any{"downloads": tasks})
}

// Command handles the pause/resume/cancel/retry subcommands.
func (h *DownloadHandler) Command(command string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "taskID")

		var err error
		switch command {
		case "pause":
			err = h.manager.Pause(id)
		case "resume":
			err = h.manager.Resume(id)
		case "cancel":
			err = h.manager.Cancel(id)
		case "retry":
			err = h.manager.Retry(id)
		}
		if err != nil {
			writeManagerError(w, h.logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// RemoveDownload handles DELETE /downloads/{taskID}.
func (h *DownloadHandler) RemoveDownload(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Remove(chi.URLParam(r, "taskID")); err != nil {
		writeManagerError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearCompleted handles DELETE /downloads/completed.
func (h *DownloadHandler) ClearCompleted(w http.ResponseWriter, r *http.Request) {
	removed := h.manager.ClearCompleted()
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// SetConcurrency handles PUT /settings/concurrency.
func (h *DownloadHandler) SetConcurrency(w http.ResponseWriter, r *http.Request) {
	var req SetConcurrencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.manager.SetMaxConcurrent(req.MaxConcurrent); err != nil {
		writeManagerError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings handles GET /settings.
func (h *DownloadHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{
		"max_concurrent": h.manager.MaxConcurrent(),
		"retry_attempts": h.manager.RetryAttempts(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeManagerError maps the command error taxonomy onto HTTP statuses.
func writeManagerError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, taskerr.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, taskerr.ErrInvalidTransition), errors.Is(err, taskerr.ErrTaskActive),
		errors.Is(err, taskerr.ErrDuplicateID):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, taskerr.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("command failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
