package job

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/video-transcoder/internal/api/respond"
	"github.com/aliskhannn/video-transcoder/internal/middleware"
	"github.com/aliskhannn/video-transcoder/internal/model"
	jobrepo "github.com/aliskhannn/video-transcoder/internal/repository/job"
	jobsvc "github.com/aliskhannn/video-transcoder/internal/service/job"
)

// service defines the interface for job operations.
type service interface {
	Submit(ctx context.Context, req jobsvc.SubmitRequest) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID, caller model.Identity) (model.Job, error)
	List(ctx context.Context, caller model.Identity, limit int) ([]model.Job, error)
}

// Handler provides HTTP handlers for job endpoints.
type Handler struct {
	service service
}

// NewHandler creates a new Handler with the given service.
func NewHandler(s service) *Handler {
	return &Handler{service: s}
}

// SubmitRequest is the body of POST /api/jobs.
type SubmitRequest struct {
	InputRef      string        `json:"input_ref"`
	InputFilename string        `json:"input_filename"`
	Spec          model.RawSpec `json:"spec"`
}

// Submit validates and queues a transcoding job. It answers 202 with the
// job id; the work continues in the background.
func (h *Handler) Submit(c *ginext.Context) {
	caller, ok := middleware.GetIdentity(c)
	if !ok {
		respond.Fail(c, http.StatusUnauthorized, fmt.Errorf("missing identity"))
		return
	}

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		zlog.Logger.Err(err).Msg("failed to decode submit request")
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	id, err := h.service.Submit(c.Request.Context(), jobsvc.SubmitRequest{
		OwnerID:       caller.UserID,
		InputRef:      req.InputRef,
		InputFilename: req.InputFilename,
		Spec:          req.Spec,
	})
	if err != nil {
		var ve *model.ValidationError
		var se *model.SetupError
		switch {
		case errors.As(err, &ve):
			zlog.Logger.Warn().Err(err).Msg("rejected job spec")
			respond.Fail(c, http.StatusBadRequest, ve)
		case errors.As(err, &se):
			zlog.Logger.Err(err).Msg("failed to queue job")
			respond.Fail(c, http.StatusServiceUnavailable, fmt.Errorf("failed to queue job"))
		default:
			zlog.Logger.Err(err).Msg("failed to submit job")
			respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to submit job"))
		}
		return
	}

	respond.Accepted(c, map[string]interface{}{
		"job_id": id,
	})
}

// Get returns one job with its outputs and progress.
func (h *Handler) Get(c *ginext.Context) {
	caller, ok := middleware.GetIdentity(c)
	if !ok {
		respond.Fail(c, http.StatusUnauthorized, fmt.Errorf("missing identity"))
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to parse id")
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return
	}

	job, err := h.service.Get(c.Request.Context(), id, caller)
	if err != nil {
		switch {
		case errors.Is(err, jobrepo.ErrJobNotFound):
			zlog.Logger.Warn().Str("job_id", id.String()).Msg("job not found")
			respond.Fail(c, http.StatusNotFound, fmt.Errorf("job not found"))
		case errors.Is(err, jobsvc.ErrForbidden):
			zlog.Logger.Warn().Str("job_id", id.String()).Str("user_id", caller.UserID).Msg("job access denied")
			respond.Fail(c, http.StatusForbidden, fmt.Errorf("access denied"))
		default:
			zlog.Logger.Err(err).Msg("failed to get job")
			respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to get job"))
		}
		return
	}

	respond.OK(c, job)
}

// List returns the caller's jobs, newest first. ?limit= caps the count.
func (h *Handler) List(c *ginext.Context) {
	caller, ok := middleware.GetIdentity(c)
	if !ok {
		respond.Fail(c, http.StatusUnauthorized, fmt.Errorf("missing identity"))
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid limit"))
			return
		}
		limit = n
	}

	jobs, err := h.service.List(c.Request.Context(), caller, limit)
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to list jobs")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to list jobs"))
		return
	}

	respond.OK(c, jobs)
}
