package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/ligai/internal/call"
	"github.com/wolfman30/ligai/internal/dialer"
	"github.com/wolfman30/ligai/pkg/logging"
)

type callDialer interface {
	Dial(ctx context.Context, req dialer.Request) (string, error)
}

type profileSource interface {
	Profile(ctx context.Context, promptID int64) (call.Profile, error)
}

type callLoad interface {
	Len() int
	Has(callID string) bool
}

// Scheduler periodically dials scheduled calls that have come due.
type Scheduler struct {
	store     Store
	dialer    callDialer
	profiles  profileSource
	load      callLoad
	maxActive int
	logger    *logging.Logger
	interval  time.Duration
	lookahead time.Duration
	now       func() time.Time
}

func NewScheduler(store Store, d callDialer, profiles profileSource, load callLoad, maxActive int, logger *logging.Logger) *Scheduler {
	if store == nil || d == nil {
		panic("schedule: store and dialer are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		store:     store,
		dialer:    d,
		profiles:  profiles,
		load:      load,
		maxActive: maxActive,
		logger:    logger,
		interval:  10 * time.Second,
		lookahead: time.Minute,
		now:       time.Now,
	}
}

func (s *Scheduler) WithInterval(d time.Duration) *Scheduler {
	if d > 0 {
		s.interval = d
	}
	return s
}

// WithLookahead dials calls scheduled up to d in the future.
func (s *Scheduler) WithLookahead(d time.Duration) *Scheduler {
	if d >= 0 {
		s.lookahead = d
	}
	return s
}

func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick dials every due call that fits under the concurrency ceiling and
// returns how many were attempted. Calls dialed earlier in the same tick
// count against the ceiling until they show up in the registry.
func (s *Scheduler) Tick(ctx context.Context) int {
	due, err := s.store.Due(ctx, s.now().Add(s.lookahead))
	if err != nil {
		s.logger.Error("loading due scheduled calls failed", "error", err)
		return 0
	}
	attempted := 0
	var dialed []string
	for _, c := range due {
		if ctx.Err() != nil {
			return attempted
		}
		if s.load != nil && s.maxActive > 0 && s.occupied(dialed) >= s.maxActive {
			s.logger.Warn("max concurrent calls reached, skipping scheduled call", "scheduled_id", c.ID)
			continue
		}
		callID, ok := s.execute(ctx, c)
		if !ok {
			continue
		}
		attempted++
		if callID != "" {
			dialed = append(dialed, callID)
		}
	}
	return attempted
}

func (s *Scheduler) occupied(dialed []string) int {
	n := s.load.Len()
	for _, id := range dialed {
		if !s.load.Has(id) {
			n++
		}
	}
	return n
}

func (s *Scheduler) execute(ctx context.Context, c Call) (string, bool) {
	logger := s.logger.With("scheduled_id", c.ID)
	if err := s.store.Claim(ctx, c.ID); err != nil {
		if !errors.Is(err, ErrNotPending) {
			logger.Error("claiming scheduled call failed", "error", err)
		}
		return "", false
	}

	req := dialer.Request{Number: c.PhoneNumber, Source: dialer.SourceSchedule}
	if c.PromptID != nil && s.profiles != nil {
		p, err := s.profiles.Profile(ctx, *c.PromptID)
		if err != nil {
			logger.Warn("scheduled prompt unavailable; using active prompt", "prompt_id", *c.PromptID, "error", err)
		} else {
			req.Profile = &p
		}
	}

	callID, dialErr := s.dialer.Dial(context.WithoutCancel(ctx), req)
	status := StatusCompleted
	if dialErr != nil {
		status = StatusFailed
		logger.Error("scheduled call failed to initiate", "error", dialErr)
	} else {
		logger.Info("scheduled call executed", "call_id", callID)
	}

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.store.Finish(finishCtx, c.ID, status, callID); err != nil {
		logger.Error("recording scheduled call outcome failed", "status", status, "error", err)
	}
	return callID, true
}
