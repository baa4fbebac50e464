package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/wolfman30/ligai/internal/campaign"
	"github.com/wolfman30/ligai/pkg/logging"
)

const (
	maxCSVBody          = 10 << 20
	maxCampaignNameLen  = 100
	maxCampaignParallel = 50
)

type campaignStore interface {
	Create(ctx context.Context, c campaign.Campaign) (campaign.Campaign, error)
	Get(ctx context.Context, id int64) (campaign.Campaign, error)
	List(ctx context.Context) ([]campaign.Campaign, error)
	AddContacts(ctx context.Context, campaignID int64, contacts []campaign.Contact) (int, error)
	Contacts(ctx context.Context, campaignID int64) ([]campaign.Contact, error)
	RefreshStats(ctx context.Context, id int64) (campaign.Stats, error)
}

type campaignControl interface {
	Start(ctx context.Context, id int64) error
	Pause(ctx context.Context, id int64) error
	Resume(ctx context.Context, id int64) error
	IsRunning(id int64) bool
}

// CampaignsHandler administers campaigns and their contact lists.
type CampaignsHandler struct {
	store        campaignStore
	control      campaignControl
	defaultLimit int
	logger       *logging.Logger
}

func NewCampaignsHandler(store campaignStore, control campaignControl, defaultLimit int, logger *logging.Logger) *CampaignsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if defaultLimit <= 0 {
		defaultLimit = 5
	}
	return &CampaignsHandler{store: store, control: control, defaultLimit: defaultLimit, logger: logger}
}

// CampaignResponse adds whether a dialing loop is attached in this process.
type CampaignResponse struct {
	campaign.Campaign
	LoopRunning bool `json:"loop_running"`
}

// CreateCampaignRequest is the body of POST /admin/campaigns.
type CreateCampaignRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	PromptID      *int64 `json:"prompt_id,omitempty"`
	MaxConcurrent int    `json:"max_concurrent,omitempty"`
}

func (req CreateCampaignRequest) validate() error {
	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > maxCampaignNameLen {
		return fmt.Errorf("name must be 1-%d characters", maxCampaignNameLen)
	}
	if req.MaxConcurrent < 0 || req.MaxConcurrent > maxCampaignParallel {
		return fmt.Errorf("max_concurrent must be between 1 and %d", maxCampaignParallel)
	}
	return nil
}

// ContactsImportRequest is the JSON form of a contact import.
type ContactsImportRequest struct {
	Contacts []struct {
		PhoneNumber string `json:"phone_number"`
		Name        string `json:"name,omitempty"`
	} `json:"contacts"`
}

func (h *CampaignsHandler) respond(w http.ResponseWriter, status int, c campaign.Campaign) {
	writeJSON(w, status, CampaignResponse{Campaign: c, LoopRunning: h.control.IsRunning(c.ID)})
}

// load resolves the {campaignID} parameter, writing the error response itself.
func (h *CampaignsHandler) load(w http.ResponseWriter, r *http.Request) (campaign.Campaign, bool) {
	id, err := int64Param(r, "campaignID")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return campaign.Campaign{}, false
	}
	c, err := h.store.Get(r.Context(), id)
	if errors.Is(err, campaign.ErrCampaignNotFound) {
		jsonError(w, "campaign not found", http.StatusNotFound)
		return campaign.Campaign{}, false
	}
	if err != nil {
		h.logger.Error("loading campaign failed", "campaign_id", id, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return campaign.Campaign{}, false
	}
	return c, true
}

// Create registers a new pending campaign.
// POST /admin/campaigns
func (h *CampaignsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := req.validate(); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.MaxConcurrent == 0 {
		req.MaxConcurrent = h.defaultLimit
	}
	c, err := h.store.Create(r.Context(), campaign.Campaign{
		Name:          strings.TrimSpace(req.Name),
		Description:   req.Description,
		PromptID:      req.PromptID,
		MaxConcurrent: req.MaxConcurrent,
	})
	if err != nil {
		h.logger.Error("creating campaign failed", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.logger.Info("campaign created", "campaign_id", c.ID, "name", c.Name)
	h.respond(w, http.StatusCreated, c)
}

// List returns every campaign, newest first.
// GET /admin/campaigns
func (h *CampaignsHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("listing campaigns failed", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]CampaignResponse, 0, len(list))
	for _, c := range list {
		out = append(out, CampaignResponse{Campaign: c, LoopRunning: h.control.IsRunning(c.ID)})
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /admin/campaigns/{campaignID}
func (h *CampaignsHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	h.respond(w, http.StatusOK, c)
}

// Start begins dialing a pending or paused campaign.
// POST /admin/campaigns/{campaignID}/start
func (h *CampaignsHandler) Start(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	if c.TotalContacts == 0 {
		jsonError(w, "cannot start campaign with no contacts", http.StatusBadRequest)
		return
	}
	h.transitioned(w, r, c.ID, h.control.Start(r.Context(), c.ID), "Campaign started")
}

// Pause stops dialing; contacts already calling finish normally.
// POST /admin/campaigns/{campaignID}/pause
func (h *CampaignsHandler) Pause(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	h.transitioned(w, r, c.ID, h.control.Pause(r.Context(), c.ID), "Campaign paused")
}

// Resume restarts a paused campaign.
// POST /admin/campaigns/{campaignID}/resume
func (h *CampaignsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	h.transitioned(w, r, c.ID, h.control.Resume(r.Context(), c.ID), "Campaign resumed")
}

func (h *CampaignsHandler) transitioned(w http.ResponseWriter, r *http.Request, id int64, err error, msg string) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg})
	case errors.Is(err, campaign.ErrCampaignNotFound):
		jsonError(w, "campaign not found", http.StatusNotFound)
	case errors.Is(err, campaign.ErrAlreadyRunning),
		errors.Is(err, campaign.ErrNotRunning),
		errors.Is(err, campaign.ErrInvalidTransition):
		jsonError(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("campaign transition failed", "campaign_id", id, "path", r.URL.Path, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

// Stats recomputes and returns the contact counters.
// GET /admin/campaigns/{campaignID}/stats
func (h *CampaignsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	stats, err := h.store.RefreshStats(r.Context(), c.ID)
	if err != nil {
		h.logger.Error("campaign stats failed", "campaign_id", c.ID, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Contacts lists a campaign's contacts, optionally filtered by ?status=.
// GET /admin/campaigns/{campaignID}/contacts
func (h *CampaignsHandler) Contacts(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	var filter campaign.ContactStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := campaign.ParseContactStatus(raw)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter = st
	}
	contacts, err := h.store.Contacts(r.Context(), c.ID)
	if err != nil {
		h.logger.Error("listing contacts failed", "campaign_id", c.ID, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]campaign.Contact, 0, len(contacts))
	for _, ct := range contacts {
		if filter == "" || ct.Status == filter {
			out = append(out, ct)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// ImportContacts appends contacts from a CSV body (any Content-Type other
// than application/json) or a JSON contact list.
// POST /admin/campaigns/{campaignID}/contacts/import
func (h *CampaignsHandler) ImportContacts(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	if c.Status != campaign.StatusPending && c.Status != campaign.StatusPaused {
		jsonError(w, "can only add contacts to pending or paused campaigns", http.StatusConflict)
		return
	}

	var contacts []campaign.Contact
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req ContactsImportRequest
		if err := decodeJSON(r, &req); err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, ct := range req.Contacts {
			if n := len(digits(ct.PhoneNumber)); n < 10 || n > 15 {
				continue
			}
			contacts = append(contacts, campaign.Contact{PhoneNumber: strings.TrimSpace(ct.PhoneNumber), Name: ct.Name})
		}
	} else {
		parsed, err := campaign.ParseContacts(io.LimitReader(r.Body, maxCSVBody))
		if err != nil {
			jsonError(w, "error reading CSV: "+err.Error(), http.StatusBadRequest)
			return
		}
		contacts = parsed
	}
	if len(contacts) == 0 {
		jsonError(w, campaign.ErrNoContacts.Error(), http.StatusBadRequest)
		return
	}

	n, err := h.store.AddContacts(r.Context(), c.ID, contacts)
	if err != nil {
		h.logger.Error("importing contacts failed", "campaign_id", c.ID, "imported", n, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.logger.Info("contacts imported", "campaign_id", c.ID, "imported", n)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "imported": n})
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
