package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/ligai/pkg/logging"
)

type runner interface {
	Run(ctx context.Context, campaignID int64) error
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the running campaign loops: at most one per campaign.
type Manager struct {
	store  Store
	engine runner
	logger *logging.Logger
	now    func() time.Time

	root   context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	loops map[int64]*loop
}

func NewManager(store Store, engine *Engine, logger *logging.Logger) *Manager {
	if engine == nil {
		panic("campaign: engine required")
	}
	return newManager(store, engine, logger)
}

func newManager(store Store, engine runner, logger *logging.Logger) *Manager {
	if store == nil {
		panic("campaign: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	root, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:  store,
		engine: engine,
		logger: logger,
		now:    time.Now,
		root:   root,
		cancel: cancel,
		loops:  make(map[int64]*loop),
	}
}

// Start moves a pending or paused campaign to running and launches its loop.
func (m *Manager) Start(ctx context.Context, id int64) error {
	return m.launch(ctx, id, []Status{StatusPending, StatusPaused})
}

// Resume restarts a paused campaign from its persisted contact state.
func (m *Manager) Resume(ctx context.Context, id int64) error {
	return m.launch(ctx, id, []Status{StatusPaused})
}

func (m *Manager) launch(ctx context.Context, id int64, from []Status) error {
	if m.IsRunning(id) {
		return ErrAlreadyRunning
	}
	if err := m.store.Transition(ctx, id, from, StatusRunning, m.now().UTC()); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			if c, getErr := m.store.Get(ctx, id); getErr == nil && c.Status == StatusRunning {
				m.spawn(id)
				return ErrAlreadyRunning
			}
		}
		return err
	}
	m.spawn(id)
	m.logger.Info("campaign started", "campaign_id", id)
	return nil
}

func (m *Manager) spawn(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loops[id]; ok {
		return
	}
	ctx, cancel := context.WithCancel(m.root)
	l := &loop{cancel: cancel, done: make(chan struct{})}
	m.loops[id] = l
	go func() {
		defer close(l.done)
		defer m.drop(id, l)
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("campaign loop panicked", "campaign_id", id, "panic", r)
			}
		}()
		if err := m.engine.Run(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("campaign loop exited", "campaign_id", id, "error", err)
		}
	}()
}

func (m *Manager) drop(id int64, l *loop) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loops[id] == l {
		delete(m.loops, id)
	}
}

// Pause sets a running campaign to paused and stops its loop. No contact
// is dequeued after Pause returns.
func (m *Manager) Pause(ctx context.Context, id int64) error {
	if err := m.store.Transition(ctx, id, []Status{StatusRunning}, StatusPaused, m.now().UTC()); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return fmt.Errorf("%w: campaign %d", ErrNotRunning, id)
		}
		return err
	}
	m.mu.Lock()
	l := m.loops[id]
	m.mu.Unlock()
	if l != nil {
		l.cancel()
		select {
		case <-l.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.logger.Info("campaign paused", "campaign_id", id)
	return nil
}

func (m *Manager) IsRunning(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loops[id]
	return ok
}

// Recover relaunches loops for campaigns persisted as running.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	campaigns, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range campaigns {
		if c.Status != StatusRunning {
			continue
		}
		m.spawn(c.ID)
		n++
	}
	if n > 0 {
		m.logger.Info("resumed running campaigns", "count", n)
	}
	return n, nil
}

// Shutdown cancels every loop and waits for them to return. Campaign
// statuses are left as they are so Recover can pick them up.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	m.mu.Lock()
	loops := make([]*loop, 0, len(m.loops))
	for _, l := range m.loops {
		loops = append(loops, l)
	}
	m.mu.Unlock()
	for _, l := range loops {
		select {
		case <-l.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
