// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/unclebandit/wa-dispatch/internal/handler"
	"github.com/unclebandit/wa-dispatch/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
	Log             zerolog.Logger
}

func (c *CampaignController) RegisterRoutes(r chi.Router) {
	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/", c.CreateCampaign)
		r.Get("/", c.ListCampaigns)
		r.Get("/{id}", c.GetCampaignDetails)
		r.Post("/{id}/preview", c.PersonalizedPreview)
		r.Post("/{id}/pause", c.Pause)
		r.Post("/{id}/resume", c.Resume)
		r.Post("/{id}/cancel", c.Cancel)
		r.Post("/{id}/republish", c.Republish)
	})
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")

	var body struct {
		ContactIndex     int     `json:"contact_index"`
		TemplateIndex    int     `json:"template_index"`
		OverrideTemplate *string `json:"override_template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		handler.WriteJSONError(w, "invalid body", http.StatusBadRequest)
		return
	}

	rendered, err := c.CampaignService.RenderPreview(r.Context(), campaignID, body.ContactIndex, body.TemplateIndex, body.OverrideTemplate)
	if err != nil {
		handler.WriteServiceError(w, err)
		return
	}

	handler.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rendered_message": rendered,
		"used_template":    body.OverrideTemplate,
		"contact_index":    body.ContactIndex,
		"template_index":   body.TemplateIndex,
	})
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body service.CreateCampaignInput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		handler.WriteJSONError(w, "invalid body", http.StatusBadRequest)
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), body)
	if err != nil {
		handler.WriteServiceError(w, err)
		return
	}

	c.Log.Info().Str("campaign_id", campaign.ID).Str("tenant_id", campaign.TenantID).
		Int("contacts", len(campaign.Contacts)).Msg("Campaign created")
	handler.WriteJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	tenantID := r.URL.Query().Get("tenant_id")
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), tenantID, page, pageSize, status)
	if err != nil {
		handler.WriteServiceError(w, err)
		return
	}

	handler.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination, // total_count, total_pages, page, page_size
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	details, err := c.CampaignService.GetCampaignDetailsWithStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handler.WriteServiceError(w, err)
		return
	}

	handler.WriteJSON(w, http.StatusOK, details)
}

func (c *CampaignController) Pause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := c.CampaignService.Pause(r.Context(), id); err != nil {
		handler.WriteServiceError(w, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]string{"campaign_id": id, "status": "paused"})
}

func (c *CampaignController) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := c.CampaignService.Cancel(r.Context(), id); err != nil {
		handler.WriteServiceError(w, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]string{"campaign_id": id, "status": "cancelled"})
}

func (c *CampaignController) Resume(w http.ResponseWriter, r *http.Request) {
	result, err := c.CampaignService.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handler.WriteServiceError(w, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, result)
}

// Republish queues every still-queued entry again after a partial publish failure.
func (c *CampaignController) Republish(w http.ResponseWriter, r *http.Request) {
	result, err := c.CampaignService.Republish(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if result == nil {
			handler.WriteServiceError(w, err)
			return
		}
		c.Log.Error().Err(err).Str("campaign_id", result.CampaignID).Msg("Republish incomplete")
		handler.WriteJSON(w, http.StatusInternalServerError, result)
		return
	}
	handler.WriteJSON(w, http.StatusOK, result)
}
