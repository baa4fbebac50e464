package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/ligai/internal/call"
	"github.com/wolfman30/ligai/internal/dialer"
	"github.com/wolfman30/ligai/internal/events"
	"github.com/wolfman30/ligai/pkg/logging"
)

// Registry reports live call sessions.
type Registry interface {
	Len() int
	Has(callID string) bool
}

// Dialer originates one call and returns its id.
type Dialer interface {
	Dial(ctx context.Context, req dialer.Request) (string, error)
}

// ChannelChecker asks the switch whether a channel is still up. Originated
// channels carry the call id as their uuid.
type ChannelChecker interface {
	Exists(ctx context.Context, channelID string) (bool, error)
}

// ProfileSource resolves a campaign prompt.
type ProfileSource interface {
	Profile(ctx context.Context, promptID int64) (call.Profile, error)
}

type EngineConfig struct {
	GlobalLimit   int
	DefaultLimit  int
	PollDelay     time.Duration
	Backoff       time.Duration
	WatchInterval time.Duration
	WatchMax      time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.GlobalLimit <= 0 {
		c.GlobalLimit = 15
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 5
	}
	if c.PollDelay <= 0 {
		c.PollDelay = time.Second
	}
	if c.Backoff <= 0 {
		c.Backoff = 5 * time.Second
	}
	if c.WatchInterval <= 0 {
		c.WatchInterval = 5 * time.Second
	}
	if c.WatchMax <= 0 {
		c.WatchMax = time.Hour
	}
	return c
}

// Engine runs campaign dialing loops. Global admission counts registered
// sessions plus calls this engine originated that have not connected yet.
type Engine struct {
	store    Store
	registry Registry
	dialer   Dialer
	channels ChannelChecker
	profiles ProfileSource
	notifier events.Notifier
	cfg      EngineConfig
	logger   *logging.Logger
	now      func() time.Time

	mu        sync.Mutex
	inflight  map[string]struct{}
	reserving int

	watchers sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

func NewEngine(store Store, registry Registry, d Dialer, channels ChannelChecker, profiles ProfileSource, notifier events.Notifier, cfg EngineConfig, logger *logging.Logger) *Engine {
	if store == nil || registry == nil || d == nil || channels == nil {
		panic("campaign: store, registry, dialer and channels are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if notifier == nil {
		notifier = events.Multi(nil)
	}
	return &Engine{
		store:    store,
		registry: registry,
		dialer:   d,
		channels: channels,
		profiles: profiles,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
		inflight: make(map[string]struct{}),
		stop:     make(chan struct{}),
	}
}

// Run dials the campaign until it has no pending contacts or its status is
// no longer running. Cancellation returns ctx.Err(); a dial already in
// progress finishes first.
func (e *Engine) Run(ctx context.Context, campaignID int64) error {
	logger := e.logger.With("campaign_id", campaignID)
	logger.Info("campaign loop started")
	defer logger.Info("campaign loop stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, wait, err := e.step(ctx, campaignID, logger)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("campaign iteration failed", "error", err)
			wait = e.cfg.Backoff
		}
		if done {
			return nil
		}
		if !sleepCtx(ctx, wait) {
			return ctx.Err()
		}
	}
}

func (e *Engine) step(ctx context.Context, campaignID int64, logger *logging.Logger) (bool, time.Duration, error) {
	c, err := e.store.Get(ctx, campaignID)
	if err != nil {
		if errors.Is(err, ErrCampaignNotFound) {
			return true, 0, nil
		}
		return false, 0, err
	}
	if c.Status != StatusRunning {
		logger.Info("campaign no longer running", "status", c.Status)
		return true, 0, nil
	}

	if !e.reserve() {
		logger.Debug("global call limit reached", "limit", e.cfg.GlobalLimit)
		return false, e.cfg.Backoff, nil
	}
	reserved := true
	defer func() {
		if reserved {
			e.release("")
		}
	}()

	limit := c.MaxConcurrent
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	calling, err := e.store.CountCalling(ctx, campaignID)
	if err != nil {
		return false, 0, err
	}
	if calling >= limit {
		logger.Debug("campaign call limit reached", "calling", calling, "limit", limit)
		return false, e.cfg.Backoff, nil
	}

	contact, ok, err := e.store.ClaimNext(ctx, campaignID, e.now().UTC())
	if err != nil {
		return false, 0, err
	}
	if !ok {
		return true, 0, e.complete(ctx, c, logger)
	}

	logger = logger.With("contact_id", contact.ID)
	req := dialer.Request{
		Number:     contact.PhoneNumber,
		Source:     dialer.SourceCampaign,
		CampaignID: campaignID,
		ContactID:  contact.ID,
		Profile:    e.profile(ctx, c, logger),
	}
	// The dial runs to completion even when the loop is cancelled.
	callID, dialErr := e.dialer.Dial(context.WithoutCancel(ctx), req)
	reserved = false
	e.release(callID)

	if dialErr != nil {
		logger.Warn("campaign call failed", "error", dialErr)
		e.fail(contact, dialErr, logger)
		return false, e.cfg.PollDelay, nil
	}

	if err := e.store.SetContactCall(context.WithoutCancel(ctx), contact.ID, callID); err != nil {
		logger.Error("storing contact call id failed", "call_id", callID, "error", err)
	}
	logger.Info("campaign call initiated", "call_id", callID)
	e.watch(campaignID, contact.ID, callID)
	return false, e.cfg.PollDelay, nil
}

func (e *Engine) profile(ctx context.Context, c Campaign, logger *logging.Logger) *call.Profile {
	if c.PromptID == nil || e.profiles == nil {
		return nil
	}
	p, err := e.profiles.Profile(ctx, *c.PromptID)
	if err != nil {
		logger.Warn("campaign prompt unavailable; using active prompt", "prompt_id", *c.PromptID, "error", err)
		return nil
	}
	return &p
}

func (e *Engine) complete(ctx context.Context, c Campaign, logger *logging.Logger) error {
	err := e.store.Transition(ctx, c.ID, []Status{StatusRunning}, StatusCompleted, e.now().UTC())
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return nil
		}
		return fmt.Errorf("campaign: mark completed: %w", err)
	}
	stats, err := e.store.RefreshStats(ctx, c.ID)
	if err != nil {
		logger.Warn("refreshing campaign stats failed", "error", err)
	}
	logger.Info("campaign completed", "completed", stats.Completed, "failed", stats.Failed)
	e.notifier.Emit(ctx, events.CampaignCompleted, map[string]any{
		"campaign_id":        c.ID,
		"name":               c.Name,
		"total_contacts":     stats.Total,
		"completed_contacts": stats.Completed,
		"failed_contacts":    stats.Failed,
	})
	return nil
}

func (e *Engine) fail(contact Contact, cause error, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reason := "Failed to initiate call"
	if errors.Is(cause, dialer.ErrInvalidNumber) {
		reason = cause.Error()
	}
	if err := e.store.FailContact(ctx, contact.ID, reason); err != nil {
		logger.Error("marking contact failed", "error", err)
	}
	if _, err := e.store.RefreshStats(ctx, contact.CampaignID); err != nil {
		logger.Warn("refreshing campaign stats failed", "error", err)
	}
}

// reserve takes a global slot for one origination.
func (e *Engine) reserve() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.occupiedLocked() >= e.cfg.GlobalLimit {
		return false
	}
	e.reserving++
	return true
}

// release returns a reserved slot; a non-empty callID keeps it occupied
// until the call is over.
func (e *Engine) release(callID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reserving--
	if callID != "" {
		e.inflight[callID] = struct{}{}
	}
}

func (e *Engine) occupiedLocked() int {
	n := e.registry.Len() + e.reserving
	for id := range e.inflight {
		if !e.registry.Has(id) {
			n++
		}
	}
	return n
}

// Occupied is the number of global slots in use.
func (e *Engine) Occupied() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.occupiedLocked()
}

func (e *Engine) forget(callID string) {
	e.mu.Lock()
	delete(e.inflight, callID)
	e.mu.Unlock()
}

// watch marks the contact completed once the call has left both the
// registry and the switch, or after WatchMax.
func (e *Engine) watch(campaignID, contactID int64, callID string) {
	e.watchers.Add(1)
	go func() {
		defer e.watchers.Done()
		defer e.forget(callID)
		logger := e.logger.With("campaign_id", campaignID, "contact_id", contactID, "call_id", callID)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("call watcher panicked", "panic", r)
			}
			e.finish(campaignID, contactID, logger)
		}()
		e.waitForCall(callID, logger)
	}()
}

func (e *Engine) waitForCall(callID string, logger *logging.Logger) {
	deadline := e.now().Add(e.cfg.WatchMax)
	ticker := time.NewTicker(e.cfg.WatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
		}
		if !e.live(callID, logger) {
			return
		}
		if e.now().After(deadline) {
			logger.Warn("call watch expired")
			return
		}
	}
}

func (e *Engine) live(callID string, logger *logging.Logger) bool {
	if e.registry.Has(callID) {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.WatchInterval)
	defer cancel()
	exists, err := e.channels.Exists(ctx, callID)
	if err != nil {
		logger.Debug("channel check failed", "error", err)
		return true
	}
	return exists
}

func (e *Engine) finish(campaignID, contactID int64, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.CompleteContact(ctx, contactID, e.now().UTC()); err != nil {
		logger.Error("marking contact completed", "error", err)
		return
	}
	if _, err := e.store.RefreshStats(ctx, campaignID); err != nil {
		logger.Warn("refreshing campaign stats failed", "error", err)
	}
	logger.Info("campaign contact completed")
}

// Close releases every watcher and waits for them to record their contacts.
func (e *Engine) Close() {
	e.stopOnce.Do(func() { close(e.stop) })
	e.watchers.Wait()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
