package router

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/ligai/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/ligai/internal/http/middleware"
	"github.com/wolfman30/ligai/pkg/logging"
)

// Config holds router configuration. Nil handlers leave their routes unmounted.
type Config struct {
	Logger          *logging.Logger
	AudioBridge     http.Handler
	MetricsHandler  http.Handler
	AdminAuthSecret string
	DialLimiter     *httpmiddleware.RateLimiter
	ActiveCalls     interface{ Len() int }

	Calls     *handlers.CallsHandler
	Campaigns *handlers.CampaignsHandler
	Schedules *handlers.SchedulesHandler
	Prompts   *handlers.PromptsHandler
	Webhooks  *handlers.WebhooksHandler
}

// New creates the chi router for the audio bridge and the operator API.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", health(cfg.ActiveCalls))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	if cfg.AudioBridge != nil {
		r.Handle("/ws/{channelID}", cfg.AudioBridge)
	}

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret, cfg.Logger))

		if h := cfg.Calls; h != nil {
			admin.Route("/calls", func(r chi.Router) {
				r.Get("/", h.History)
				r.Get("/active", h.ListActive)
				r.Get("/active/{callID}", h.GetActive)
				r.Get("/{callID}", h.Detail)
				r.Post("/{callID}/hangup", h.Hangup)
				r.With(limit(cfg.DialLimiter)).Post("/dial", h.Dial)
			})
		}
		if h := cfg.Campaigns; h != nil {
			admin.Route("/campaigns", func(r chi.Router) {
				r.Get("/", h.List)
				r.Post("/", h.Create)
				r.Route("/{campaignID}", func(r chi.Router) {
					r.Get("/", h.Get)
					r.Post("/start", h.Start)
					r.Post("/pause", h.Pause)
					r.Post("/resume", h.Resume)
					r.Get("/stats", h.Stats)
					r.Get("/contacts", h.Contacts)
					r.Post("/contacts/import", h.ImportContacts)
				})
			})
		}
		if h := cfg.Schedules; h != nil {
			admin.Route("/schedules", func(r chi.Router) {
				r.Get("/", h.List)
				r.Post("/", h.Create)
				r.Delete("/{scheduleID}", h.Cancel)
			})
		}
		if h := cfg.Prompts; h != nil {
			admin.Route("/prompts", func(r chi.Router) {
				r.Get("/", h.List)
				r.Post("/", h.Create)
				r.Get("/active", h.Active)
				r.Get("/{promptID}", h.Get)
				r.Post("/{promptID}/activate", h.Activate)
			})
		}
		if h := cfg.Webhooks; h != nil {
			admin.Route("/webhooks", func(r chi.Router) {
				r.Get("/", h.List)
				r.Post("/", h.Create)
				r.Get("/events", h.Events)
			})
		}
	})

	return r
}

func limit(rl *httpmiddleware.RateLimiter) func(http.Handler) http.Handler {
	if rl == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return rl.Middleware
}

func health(load interface{ Len() int }) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active := 0
		if load != nil {
			active = load.Len()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","active_calls":%d}`, active)
	}
}
