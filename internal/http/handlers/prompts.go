package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/wolfman30/ligai/internal/prompts"
	"github.com/wolfman30/ligai/pkg/logging"
)

type promptRepository interface {
	List(ctx context.Context) ([]prompts.Prompt, error)
	Get(ctx context.Context, id int64) (prompts.Prompt, error)
	Active(ctx context.Context) (prompts.Prompt, bool, error)
	Create(ctx context.Context, p prompts.Prompt) (prompts.Prompt, error)
	Activate(ctx context.Context, id int64) error
}

// PromptsHandler manages the conversation profiles calls speak with.
type PromptsHandler struct {
	repo   promptRepository
	logger *logging.Logger
}

func NewPromptsHandler(repo promptRepository, logger *logging.Logger) *PromptsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &PromptsHandler{repo: repo, logger: logger}
}

// GET /admin/prompts
func (h *PromptsHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("listing prompts failed", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []prompts.Prompt{}
	}
	writeJSON(w, http.StatusOK, list)
}

// POST /admin/prompts
func (h *PromptsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var p prompts.Prompt
	if err := decodeJSON(r, &p); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	created, err := h.repo.Create(r.Context(), p)
	if errors.Is(err, prompts.ErrInvalidInput) {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.Error("creating prompt failed", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GET /admin/prompts/{promptID}
func (h *PromptsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "promptID")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, prompts.ErrNotFound) {
		jsonError(w, "prompt not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("loading prompt failed", "prompt_id", id, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Active returns the prompt inbound calls use, or null.
// GET /admin/prompts/active
func (h *PromptsHandler) Active(w http.ResponseWriter, r *http.Request) {
	p, ok, err := h.repo.Active(r.Context())
	if err != nil {
		h.logger.Error("loading active prompt failed", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Activate makes one prompt the only active prompt.
// POST /admin/prompts/{promptID}/activate
func (h *PromptsHandler) Activate(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "promptID")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.repo.Activate(r.Context(), id); err != nil {
		if errors.Is(err, prompts.ErrNotFound) {
			jsonError(w, "prompt not found", http.StatusNotFound)
			return
		}
		h.logger.Error("activating prompt failed", "prompt_id", id, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.logger.Info("prompt activated", "prompt_id", id)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
