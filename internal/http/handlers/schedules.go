package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/ligai/internal/dialer"
	"github.com/wolfman30/ligai/internal/prompts"
	"github.com/wolfman30/ligai/internal/schedule"
	"github.com/wolfman30/ligai/pkg/logging"
)

type scheduleStore interface {
	Create(ctx context.Context, c schedule.Call) (schedule.Call, error)
	List(ctx context.Context) ([]schedule.Call, error)
	Cancel(ctx context.Context, id int64) error
}

// SchedulesHandler books calls for a future time.
type SchedulesHandler struct {
	store    scheduleStore
	profiles profileSource
	logger   *logging.Logger
	now      func() time.Time
}

func NewSchedulesHandler(store scheduleStore, profiles profileSource, logger *logging.Logger) *SchedulesHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SchedulesHandler{store: store, profiles: profiles, logger: logger, now: time.Now}
}

// ScheduleRequest is the body of POST /admin/schedules.
type ScheduleRequest struct {
	PhoneNumber   string    `json:"phone_number"`
	ScheduledTime time.Time `json:"scheduled_time"`
	PromptID      *int64    `json:"prompt_id,omitempty"`
	Notes         string    `json:"notes,omitempty"`
}

// Create stores a pending scheduled call.
// POST /admin/schedules
func (h *SchedulesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := dialer.Normalize(req.PhoneNumber, ""); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !req.ScheduledTime.After(h.now()) {
		jsonError(w, "scheduled_time must be in the future", http.StatusBadRequest)
		return
	}
	if req.PromptID != nil && h.profiles != nil {
		if _, err := h.profiles.Profile(r.Context(), *req.PromptID); err != nil {
			if errors.Is(err, prompts.ErrNotFound) {
				jsonError(w, "prompt not found", http.StatusNotFound)
				return
			}
			h.logger.Error("loading scheduled prompt failed", "prompt_id", *req.PromptID, "error", err)
			jsonError(w, "internal error", http.StatusInternalServerError)
			return
		}
	}
	c, err := h.store.Create(r.Context(), schedule.Call{
		PhoneNumber:   strings.TrimSpace(req.PhoneNumber),
		ScheduledTime: req.ScheduledTime.UTC(),
		PromptID:      req.PromptID,
		Notes:         req.Notes,
	})
	if err != nil {
		h.logger.Error("scheduling call failed", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.logger.Info("call scheduled", "scheduled_id", c.ID, "scheduled_time", c.ScheduledTime)
	writeJSON(w, http.StatusCreated, c)
}

// GET /admin/schedules
func (h *SchedulesHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("listing scheduled calls failed", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []schedule.Call{}
	}
	writeJSON(w, http.StatusOK, list)
}

// Cancel withdraws a call that has not started yet.
// DELETE /admin/schedules/{scheduleID}
func (h *SchedulesHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "scheduleID")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.store.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, schedule.ErrNotFound) {
			jsonError(w, "scheduled call not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, schedule.ErrNotPending) {
			jsonError(w, "scheduled call is not pending", http.StatusConflict)
			return
		}
		h.logger.Error("cancelling scheduled call failed", "scheduled_id", id, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
