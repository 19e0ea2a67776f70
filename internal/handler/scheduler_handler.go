// internal/handler/scheduler_handler.go
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/wa-dispatch/internal/service"
)

// DueRunner is satisfied by service.Scheduler.
type DueRunner interface {
	RunOnce(ctx context.Context) (*service.DueSummary, error)
}

type SchedulerHandler struct {
	Scheduler DueRunner
}

func (h *SchedulerHandler) RegisterRoutes(r chi.Router) {
	r.Post("/scheduler/run", h.Run)
}

// Run plans every due campaign now instead of waiting for the next tick.
func (h *SchedulerHandler) Run(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Scheduler.RunOnce(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}
