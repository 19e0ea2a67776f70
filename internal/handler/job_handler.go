// internal/handler/job_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/unclebandit/wa-dispatch/internal/model"
	"github.com/unclebandit/wa-dispatch/internal/service"
)

// MessageProcessor is the part of the message worker the push endpoints need.
type MessageProcessor interface {
	Process(ctx context.Context, job model.DispatchJob) (service.Outcome, error)
}

// JobHandler runs dispatch jobs pushed over HTTP by a queue that delivers via webhooks.
// A 500 asks the queue to redeliver; a 200 acknowledges, including non-retryable failures.
type JobHandler struct {
	Worker MessageProcessor
	Log    zerolog.Logger
}

type jobResponse struct {
	service.Outcome
	Error string `json:"error,omitempty"`
}

func (h *JobHandler) RegisterRoutes(r chi.Router) {
	r.Post("/jobs/send", h.handle(model.HandlerSend))
	r.Post("/jobs/send-ai", h.handle(model.HandlerSendAI))
}

func (h *JobHandler) handle(handler model.JobHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var job model.DispatchJob
		if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
			WriteJSONError(w, "invalid body", http.StatusBadRequest)
			return
		}
		if job.MessageID == "" || job.CampaignID == "" {
			WriteJSONError(w, "message_id and campaign_id are required", http.StatusBadRequest)
			return
		}
		job.Handler = handler

		out, err := h.Worker.Process(r.Context(), job)
		resp := jobResponse{Outcome: out}
		if err != nil {
			resp.Error = err.Error()
		}
		if out.Retry {
			h.Log.Warn().Err(err).Str("message_id", job.MessageID).Msg("Job failed, asking for redelivery")
			WriteJSON(w, http.StatusInternalServerError, resp)
			return
		}
		if err != nil {
			h.Log.Error().Err(err).Str("message_id", job.MessageID).Msg("Job failed permanently")
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
