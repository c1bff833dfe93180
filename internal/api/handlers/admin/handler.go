package admin

import (
	"context"
	"fmt"
	"net/http"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/video-transcoder/internal/api/respond"
	"github.com/aliskhannn/video-transcoder/internal/sweeper"
)

type cleaner interface {
	Sweep(ctx context.Context) (sweeper.Report, error)
}

// Handler serves operator endpoints.
type Handler struct {
	cleaner cleaner
}

func NewHandler(c cleaner) *Handler {
	return &Handler{cleaner: c}
}

// Cleanup runs a retention sweep synchronously and returns its report.
func (h *Handler) Cleanup(c *ginext.Context) {
	report, err := h.cleaner.Sweep(c.Request.Context())
	if err != nil {
		zlog.Logger.Err(err).Msg("manual sweep failed")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("sweep failed"))
		return
	}

	respond.OK(c, report)
}
