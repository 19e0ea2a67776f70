// internal/handler/inbound_handler.go
package handler

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/unclebandit/wa-dispatch/internal/model"
)

// ReplyRecorder is satisfied by service.InboundService.
type ReplyRecorder interface {
	HandleReply(ctx context.Context, tenantID, instance, phone, text string) (*model.MessageLog, error)
}

// InboundHandler receives the provider's messages.upsert webhook.
// The tenant is part of the webhook URL configured on the instance.
type InboundHandler struct {
	Replies ReplyRecorder
	Log     zerolog.Logger
}

func (h *InboundHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/inbound", h.Inbound)
}

func (h *InboundHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		WriteJSONError(w, "tenant_id is required", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || !gjson.ValidBytes(body) {
		WriteJSONError(w, "invalid body", http.StatusBadRequest)
		return
	}
	doc := gjson.ParseBytes(body)

	if doc.Get("data.key.fromMe").Bool() {
		WriteJSON(w, http.StatusOK, map[string]interface{}{"matched": false, "ignored": "outgoing"})
		return
	}

	instance := doc.Get("instance").String()
	jid := doc.Get("data.key.remoteJid").String()
	text := firstNonEmpty(doc,
		"data.message.conversation",
		"data.message.extendedTextMessage.text",
		"data.message.imageMessage.caption",
	)
	if instance == "" || jid == "" || strings.HasSuffix(jid, "@g.us") {
		WriteJSON(w, http.StatusOK, map[string]interface{}{"matched": false, "ignored": "not a direct message"})
		return
	}
	phone, _, _ := strings.Cut(jid, "@")

	m, err := h.Replies.HandleReply(r.Context(), tenantID, instance, phone, text)
	if err != nil {
		h.Log.Error().Err(err).Str("tenant_id", tenantID).Str("instance", instance).Msg("Failed to record reply")
		WriteServiceError(w, err)
		return
	}
	if m == nil {
		WriteJSON(w, http.StatusOK, map[string]interface{}{"matched": false})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"matched": true, "message_id": m.ID, "campaign_id": m.CampaignID})
}

func firstNonEmpty(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := doc.Get(p).String(); v != "" {
			return v
		}
	}
	return ""
}
