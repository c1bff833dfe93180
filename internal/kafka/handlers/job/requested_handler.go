package job

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/video-transcoder/internal/model"
)

// service defines the interface for running queued jobs.
type service interface {
	Process(ctx context.Context, id uuid.UUID) error
}

// RequestedHandler handles Kafka messages for newly submitted jobs.
type RequestedHandler struct {
	service service
}

// NewRequestedHandler creates a new handler with the given service.
func NewRequestedHandler(s service) *RequestedHandler {
	return &RequestedHandler{service: s}
}

// Handle decodes the job message and runs the job to a terminal state.
// Malformed messages are dropped; redelivery cannot fix them. An error
// leaves the message uncommitted.
func (h *RequestedHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var jm model.JobMessage
	if err := json.Unmarshal(msg.Value, &jm); err != nil {
		zlog.Logger.Warn().Err(err).Str("message", string(msg.Value)).Msg("dropping malformed job message")
		return nil
	}

	if jm.JobID == uuid.Nil {
		zlog.Logger.Warn().Str("message", string(msg.Value)).Msg("dropping job message without job id")
		return nil
	}

	if err := h.service.Process(ctx, jm.JobID); err != nil {
		return fmt.Errorf("process job %s: %w", jm.JobID, err)
	}

	zlog.Logger.Printf("job processed: %s", jm.JobID)

	return nil
}
