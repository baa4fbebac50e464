package call

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/wolfman30/ligai/internal/esl"
	"github.com/wolfman30/ligai/internal/observability/metrics"
)

var ErrCallNotFound = errors.New("call: no live call with that id")

// Registry maps call ids to live sessions. Its size is the number of open
// switch audio connections with a started session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	metrics  *metrics.CallMetrics
}

func NewRegistry(m *metrics.CallMetrics) *Registry {
	return &Registry{sessions: make(map[string]*Session), metrics: m}
}

// Add registers s under its call id.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.CallID()]; exists {
		return ErrDuplicateCall
	}
	r.sessions[s.CallID()] = s
	r.metrics.SetActiveCalls(len(r.sessions))
	return nil
}

// Remove drops s if it is still the registered session for its id.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.CallID()]; ok && cur == s {
		delete(r.sessions, s.CallID())
	}
	r.metrics.SetActiveCalls(len(r.sessions))
}

func (r *Registry) Get(callID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// Has reports whether callID is live.
func (r *Registry) Has(callID string) bool {
	_, ok := r.Get(callID)
	return ok
}

// Len is the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the live view of one call.
func (r *Registry) Snapshot(callID string) (Snapshot, bool) {
	s, ok := r.Get(callID)
	if !ok {
		return Snapshot{}, false
	}
	return s.Snapshot(), true
}

// Hangup asks the switch to kill the channel of a live call. The session
// ends when the switch closes the audio connection.
func (r *Registry) Hangup(ctx context.Context, callID string) (esl.Result, error) {
	s, ok := r.Get(callID)
	if !ok {
		return esl.Result{}, ErrCallNotFound
	}
	return s.Hangup(ctx)
}

// Snapshots returns every live session ordered by start time.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].CallID < out[j].CallID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// StopAll ends every live session.
func (r *Registry) StopAll() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()
	for _, s := range sessions {
		s.Stop()
	}
}
