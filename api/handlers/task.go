package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"presentationGenerator/api/dto"
	"presentationGenerator/api/middleware"
	"presentationGenerator/api/service"
	"presentationGenerator/api/validation"
	"presentationGenerator/models"
)

const maxBodyBytes = 64 << 10

type TaskService interface {
	CreateTask(ctx context.Context, traceID string, req *dto.CreateTaskRequest) (*dto.TaskResponse, error)
	Cancel(ctx context.Context, taskID string) (*dto.TaskResponse, error)
	Presentation(ctx context.Context, taskID string) (*dto.PresentationView, error)
}

type StatusProjector interface {
	Project(ctx context.Context, taskID string) (*dto.StatusView, error)
}

type SlideEditor interface {
	UpdateSlide(ctx context.Context, taskID string, n int, patch validation.SlidePatch, expectedVersion *string) (*models.Slide, string, error)
}

type TaskHandler struct {
	tasks     TaskService
	projector StatusProjector
	editor    SlideEditor
	logger    *zap.Logger
}

func NewTaskHandler(tasks TaskService, projector StatusProjector, editor SlideEditor, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		tasks:     tasks,
		projector: projector,
		editor:    editor,
		logger:    logger,
	}
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	var req dto.CreateTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, models.ValidationError(models.CodeInvalidRequest, "invalid request body: "+err.Error()))
		return
	}

	resp, err := h.tasks.CreateTask(r.Context(), traceID, &req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	w.Header().Set("Location", resp.Links["status"])
	h.respondJSON(w, http.StatusAccepted, resp)
}

func (h *TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	view, err := h.projector.Project(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, view)
}

func (h *TaskHandler) Presentation(w http.ResponseWriter, r *http.Request) {
	view, err := h.tasks.Presentation(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	w.Header().Set("ETag", etag(view.Version))
	h.respondJSON(w, http.StatusOK, view)
}

// UpdateSlide applies a partial edit. The expected version comes from
// If-Match, or from expected_version in the body when the header is absent.
// Without either the edit overwrites whatever is stored.
func (h *TaskHandler) UpdateSlide(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	n, err := strconv.Atoi(chi.URLParam(r, "slideNumber"))
	if err != nil {
		h.handleError(w, r, validation.ErrSlideOutOfRange)
		return
	}

	var req dto.UpdateSlideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, models.ValidationError(models.CodeInvalidRequest, "invalid request body: "+err.Error()))
		return
	}

	expected := req.ExpectedVersion
	if v, ok := ifMatch(r); ok {
		expected = &v
	}

	patch := validation.SlidePatch{
		Title:        req.Title,
		Content:      req.Content,
		SpeakerNotes: req.SpeakerNotes,
		LayoutType:   req.LayoutType,
	}
	slide, version, err := h.editor.UpdateSlide(r.Context(), taskID, n, patch, expected)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	w.Header().Set("ETag", etag(version))
	h.respondJSON(w, http.StatusOK, dto.UpdateSlideResponse{Slide: *slide, Version: version})
}

func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	resp, err := h.tasks.Cancel(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func etag(version string) string {
	return `"` + version + `"`
}

// ifMatch returns the version named by the If-Match header. A wildcard
// matches any version and is treated as absent.
func ifMatch(r *http.Request) (string, bool) {
	v := strings.TrimSpace(r.Header.Get("If-Match"))
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, `"`)
	if v == "" || v == "*" {
		return "", false
	}
	return v, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrTaskTerminated):
		return http.StatusConflict
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrVersionConflict):
		return http.StatusPreconditionFailed
	}
	return http.StatusInternalServerError
}

func (h *TaskHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	traceID := middleware.GetTraceID(r.Context())
	status := statusFor(err)

	message := "internal server error"
	code := "INTERNAL"
	var domainErr *models.Error
	if errors.As(err, &domainErr) {
		message = domainErr.Message
		code = domainErr.Code
	}

	fields := []zap.Field{
		zap.String("trace_id", traceID),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", fields...)
	} else {
		h.logger.Debug("Request rejected", fields...)
	}

	h.respondJSON(w, status, dto.ErrorResponse{
		Error:   message,
		Code:    code,
		TraceID: traceID,
	})
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("Failed to encode response", zap.Error(err))
	}
}
