package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/wolfman30/ligai/internal/observability/metrics"
	"github.com/wolfman30/ligai/pkg/logging"
)

const (
	SignatureHeader  = "X-Webhook-Signature"
	maxLoggedBody    = 1000
	defaultAttempts  = 3
	defaultWebhookTO = 10 * time.Second
	maxInFlight      = 16
)

// WebhookConfig is one subscriber endpoint.
type WebhookConfig struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Events    []Name    `json:"events"`
	Secret    string    `json:"-"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscribes reports whether the config wants name.
func (c WebhookConfig) Subscribes(name Name) bool {
	for _, n := range c.Events {
		if n == name {
			return true
		}
	}
	return false
}

// Delivery records one webhook attempt.
type Delivery struct {
	ConfigID     int64
	Event        Name
	Payload      string
	StatusCode   int
	ResponseBody string
	Attempt      int
	Success      bool
	Error        string
}

// WebhookStore loads subscribers and records deliveries.
type WebhookStore interface {
	ActiveWebhooks(ctx context.Context, name Name) ([]WebhookConfig, error)
	LogDelivery(ctx context.Context, d Delivery) error
}

// Sign returns the sha256=<hex> signature of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// WebhookNotifier posts events to every subscribed endpoint in the
// background. Each delivery is retried up to three times and every attempt
// is logged to the store. At most maxInFlight tasks run at once; the rest
// wait for a slot.
type WebhookNotifier struct {
	store   WebhookStore
	client  *http.Client
	delays  []time.Duration
	metrics *metrics.CallMetrics
	logger  *logging.Logger
	slots   chan struct{}

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

func NewWebhookNotifier(store WebhookStore, client *http.Client, m *metrics.CallMetrics, logger *logging.Logger) *WebhookNotifier {
	if store == nil {
		panic("events: webhook store required")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTO}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookNotifier{
		store:   store,
		client:  client,
		delays:  []time.Duration{time.Second, 5 * time.Second},
		metrics: m,
		logger:  logger,
		slots:   make(chan struct{}, maxInFlight),
		stop:    make(chan struct{}),
	}
}

// Emit returns immediately; delivery runs on its own goroutines.
func (w *WebhookNotifier) Emit(ctx context.Context, name Name, data map[string]any) {
	body, err := json.Marshal(newEnvelope(name, data))
	if err != nil {
		w.logger.Error("encoding webhook payload failed", "event", string(name), "error", err)
		return
	}
	w.spawn(func() {
		lookup, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultWebhookTO)
		defer cancel()
		configs, err := w.store.ActiveWebhooks(lookup, name)
		if err != nil {
			w.logger.Error("loading webhook configs failed", "event", string(name), "error", err)
			return
		}
		for _, cfg := range configs {
			cfg := cfg
			w.spawn(func() { w.deliver(cfg, name, body) })
		}
	})
}

func (w *WebhookNotifier) spawn(fn func()) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case w.slots <- struct{}{}:
		case <-w.stop:
			return
		}
		defer func() { <-w.slots }()
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("webhook task panicked", "panic", r)
			}
		}()
		fn()
	}()
}

func (w *WebhookNotifier) deliver(cfg WebhookConfig, name Name, body []byte) {
	logger := w.logger.With("webhook_id", cfg.ID, "url", cfg.URL, "event", string(name))
	for attempt := 1; attempt <= defaultAttempts; attempt++ {
		d := w.post(cfg, body)
		d.ConfigID, d.Event, d.Payload, d.Attempt = cfg.ID, name, string(body), attempt
		w.record(d, logger)
		w.metrics.ObserveWebhook(string(name), d.Success)
		if d.Success {
			logger.Info("webhook delivered", "attempt", attempt)
			return
		}
		logger.Warn("webhook delivery failed", "attempt", attempt, "status", d.StatusCode, "error", d.Error)
		if attempt == defaultAttempts {
			return
		}
		if !w.wait(w.delay(attempt)) {
			return
		}
	}
}

func (w *WebhookNotifier) post(cfg WebhookConfig, body []byte) Delivery {
	req, err := http.NewRequest(http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Delivery{Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(cfg.Secret, body))
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return Delivery{Error: err.Error()}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	d := Delivery{
		StatusCode:   resp.StatusCode,
		ResponseBody: string(respBody),
		Success:      resp.StatusCode >= 200 && resp.StatusCode < 300,
	}
	if !d.Success {
		d.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return d
}

func (w *WebhookNotifier) record(d Delivery, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.store.LogDelivery(ctx, d); err != nil {
		logger.Error("logging webhook delivery failed", "error", err)
	}
}

func (w *WebhookNotifier) delay(attempt int) time.Duration {
	if attempt-1 < len(w.delays) {
		return w.delays[attempt-1]
	}
	if len(w.delays) == 0 {
		return 0
	}
	return w.delays[len(w.delays)-1]
}

func (w *WebhookNotifier) wait(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.stop:
		return false
	case <-t.C:
		return true
	}
}

// Close abandons pending retries and waits for in-flight requests.
func (w *WebhookNotifier) Close() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
}

// Wait blocks until every queued delivery has finished, retries included.
func (w *WebhookNotifier) Wait() {
	w.wg.Wait()
}
