package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/ligai/internal/call"
	"github.com/wolfman30/ligai/internal/callrecords"
	"github.com/wolfman30/ligai/internal/dialer"
	"github.com/wolfman30/ligai/internal/esl"
	"github.com/wolfman30/ligai/internal/prompts"
	"github.com/wolfman30/ligai/pkg/logging"
)

type liveCalls interface {
	Snapshots() []call.Snapshot
	Snapshot(callID string) (call.Snapshot, bool)
	Hangup(ctx context.Context, callID string) (esl.Result, error)
}

type callDialer interface {
	Dial(ctx context.Context, req dialer.Request) (string, error)
}

type profileSource interface {
	Profile(ctx context.Context, promptID int64) (call.Profile, error)
}

type callHistory interface {
	Recent(ctx context.Context, limit int) ([]callrecords.Record, error)
	Get(ctx context.Context, callID string) (callrecords.Record, error)
}

// CallsHandler exposes live calls, manual dialing and call history.
type CallsHandler struct {
	live     liveCalls
	dialer   callDialer
	profiles profileSource
	history  callHistory
	logger   *logging.Logger
	now      func() time.Time
}

// NewCallsHandler builds the calls API. profiles and history may be nil when
// no database is configured.
func NewCallsHandler(live liveCalls, d callDialer, profiles profileSource, history callHistory, logger *logging.Logger) *CallsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CallsHandler{live: live, dialer: d, profiles: profiles, history: history, logger: logger, now: time.Now}
}

// ActiveCallResponse is a live call with its elapsed duration.
type ActiveCallResponse struct {
	call.Snapshot
	DurationSeconds float64 `json:"duration_seconds"`
}

func (h *CallsHandler) active(s call.Snapshot) ActiveCallResponse {
	return ActiveCallResponse{Snapshot: s, DurationSeconds: h.now().Sub(s.StartedAt).Seconds()}
}

// ListActive returns every live call.
// GET /admin/calls/active
func (h *CallsHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	snaps := h.live.Snapshots()
	out := make([]ActiveCallResponse, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, h.active(s))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetActive returns one live call.
// GET /admin/calls/active/{callID}
func (h *CallsHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	s, ok := h.live.Snapshot(chi.URLParam(r, "callID"))
	if !ok {
		jsonError(w, "active call not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, h.active(s))
}

// Hangup kills the switch channel of a live call.
// POST /admin/calls/{callID}/hangup
func (h *CallsHandler) Hangup(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	res, err := h.live.Hangup(r.Context(), callID)
	switch {
	case errors.Is(err, call.ErrCallNotFound):
		jsonError(w, "active call not found", http.StatusNotFound)
		return
	case err != nil || !res.OK:
		h.logger.Error("hangup failed", "call_id", callID, "reply", res.Raw, "error", err)
		jsonError(w, "failed to hang up call", http.StatusBadGateway)
		return
	}
	h.logger.Info("hangup requested", "call_id", callID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Call hangup initiated"})
}

// DialRequest is the body of POST /admin/calls/dial.
type DialRequest struct {
	PhoneNumber string `json:"phone_number"`
	PromptID    *int64 `json:"prompt_id,omitempty"`
}

// DialResponse reports whether the switch accepted the call.
type DialResponse struct {
	Success bool   `json:"success"`
	CallID  string `json:"call_id,omitempty"`
	Message string `json:"message"`
}

// Dial originates one outbound call.
// POST /admin/calls/dial
func (h *CallsHandler) Dial(w http.ResponseWriter, r *http.Request) {
	var req DialRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	dr := dialer.Request{Number: req.PhoneNumber, Source: dialer.SourceAPI}
	if req.PromptID != nil {
		if h.profiles == nil {
			jsonError(w, "prompts are unavailable", http.StatusServiceUnavailable)
			return
		}
		p, err := h.profiles.Profile(r.Context(), *req.PromptID)
		if errors.Is(err, prompts.ErrNotFound) {
			jsonError(w, "prompt not found", http.StatusNotFound)
			return
		}
		if err != nil {
			h.logger.Error("loading prompt for dial failed", "prompt_id", *req.PromptID, "error", err)
			jsonError(w, "internal error", http.StatusInternalServerError)
			return
		}
		dr.Profile = &p
	}

	callID, err := h.dialer.Dial(context.WithoutCancel(r.Context()), dr)
	if errors.Is(err, dialer.ErrInvalidNumber) {
		writeJSON(w, http.StatusBadRequest, DialResponse{Message: err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadGateway, DialResponse{Message: "Failed to initiate call"})
		return
	}
	writeJSON(w, http.StatusOK, DialResponse{Success: true, CallID: callID, Message: "Call initiated to " + req.PhoneNumber})
}

// History lists recently persisted calls.
// GET /admin/calls?limit=50
func (h *CallsHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		jsonError(w, "call history is unavailable", http.StatusServiceUnavailable)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 500 {
		limit = 50
	}
	records, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("listing call history failed", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []callrecords.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// Detail returns a persisted call with its messages.
// GET /admin/calls/{callID}
func (h *CallsHandler) Detail(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		jsonError(w, "call history is unavailable", http.StatusServiceUnavailable)
		return
	}
	rec, err := h.history.Get(r.Context(), chi.URLParam(r, "callID"))
	if errors.Is(err, callrecords.ErrNotFound) {
		jsonError(w, "call not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("loading call failed", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
