package handlers

import (
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/lyallcooper/scanstream/internal/db"
	"github.com/lyallcooper/scanstream/internal/webhook"
)

// webhookRequest is the body of POST /webhooks
type webhookRequest struct {
	URL     string   `json:"url"`
	Events  []string `json:"events"`
	Secret  string   `json:"secret"`
	Enabled *bool    `json:"enabled"`
}

// validHTTPURL reports whether raw is an absolute http(s) URL
func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ListWebhooks handles GET /webhooks
func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.db.ListWebhooks()
	if err != nil {
		h.storeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, hooks)
}

// CreateWebhook handles POST /webhooks
func (h *Handler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.URL = strings.TrimSpace(req.URL)
	if !validHTTPURL(req.URL) {
		writeError(w, http.StatusBadRequest, "A valid http or https URL is required")
		return
	}
	for _, e := range req.Events {
		if !slices.Contains(webhook.Events, e) {
			writeError(w, http.StatusBadRequest, "Unknown event: "+e)
			return
		}
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	hook, err := h.db.CreateWebhook(&db.Webhook{
		URL:     req.URL,
		Events:  req.Events,
		Secret:  req.Secret,
		Enabled: enabled,
	})
	if err != nil {
		h.storeError(w, err, "")
		return
	}
	h.log.Info("webhook created", "id", hook.ID, "url", hook.URL)
	writeJSON(w, http.StatusCreated, hook)
}

// ToggleWebhook handles POST /webhooks/{id}/toggle
func (h *Handler) ToggleWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid webhook ID")
		return
	}

	hook, err := h.db.GetWebhook(id)
	if err != nil {
		h.storeError(w, err, "Webhook not found")
		return
	}
	if err := h.db.SetWebhookEnabled(id, !hook.Enabled); err != nil {
		h.storeError(w, err, "Webhook not found")
		return
	}
	hook.Enabled = !hook.Enabled
	writeJSON(w, http.StatusOK, hook)
}

// DeleteWebhook handles DELETE /webhooks/{id}
func (h *Handler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid webhook ID")
		return
	}
	if err := h.db.DeleteWebhook(id); err != nil {
		h.storeError(w, err, "Webhook not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
