package handlers

import (
	"context"
	"net/http"
	"net/url"

	"github.com/wolfman30/ligai/internal/events"
	"github.com/wolfman30/ligai/pkg/logging"
)

type webhookStore interface {
	ListWebhooks(ctx context.Context) ([]events.WebhookConfig, error)
	CreateWebhook(ctx context.Context, cfg events.WebhookConfig) (events.WebhookConfig, error)
}

// WebhooksHandler manages event subscribers.
type WebhooksHandler struct {
	store  webhookStore
	logger *logging.Logger
}

func NewWebhooksHandler(store webhookStore, logger *logging.Logger) *WebhooksHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhooksHandler{store: store, logger: logger}
}

// WebhookRequest is the body of POST /admin/webhooks.
type WebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}

// Events lists the subscribable event names.
// GET /admin/webhooks/events
func (h *WebhooksHandler) Events(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"events": events.Names()})
}

// GET /admin/webhooks
func (h *WebhooksHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListWebhooks(r.Context())
	if err != nil {
		h.logger.Error("listing webhooks failed", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []events.WebhookConfig{}
	}
	writeJSON(w, http.StatusOK, list)
}

// POST /admin/webhooks
func (h *WebhooksHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req WebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		jsonError(w, "url must be an absolute http(s) URL", http.StatusBadRequest)
		return
	}
	if len(req.Events) == 0 {
		jsonError(w, "at least one event is required", http.StatusBadRequest)
		return
	}
	names := make([]events.Name, 0, len(req.Events))
	for _, raw := range req.Events {
		n, err := events.ParseName(raw)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		names = append(names, n)
	}
	cfg, err := h.store.CreateWebhook(r.Context(), events.WebhookConfig{URL: req.URL, Events: names, Secret: req.Secret})
	if err != nil {
		h.logger.Error("creating webhook failed", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.logger.Info("webhook registered", "webhook_id", cfg.ID, "events", req.Events)
	writeJSON(w, http.StatusCreated, cfg)
}
