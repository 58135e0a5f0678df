// Package session maps session identifiers to their rounds.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	"github.com/CodeAndHammer/khamklai/internal/constants"
	"github.com/CodeAndHammer/khamklai/internal/game"
	"github.com/CodeAndHammer/khamklai/internal/metrics"
	"github.com/CodeAndHammer/khamklai/internal/util"
)

// ErrClosed is returned once the registry has been shut down.
var ErrClosed = errors.New("session registry closed")

// Registry lazily creates one Round per session id. Entries are never removed.
type Registry struct {
	scheduler *game.Scheduler
	metrics   *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]*game.Round
	closed   bool
	creating singleflight.Group
}

func NewRegistry(scheduler *game.Scheduler, m *metrics.Metrics) *Registry {
	return &Registry{
		scheduler: scheduler,
		metrics:   m,
		sessions:  make(map[string]*game.Round),
	}
}

// NormalizeID maps a missing or blank id to the default session.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return constants.DefaultSessionID
	}
	return id
}

func (r *Registry) Get(id string) (*game.Round, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	round, ok := r.sessions[NormalizeID(id)]
	return round, ok
}

// GetOrCreate returns the session's round, creating it on first use.
// Concurrent first requests for one id share a single creation. A failed
// creation stores nothing.
func (r *Registry) GetOrCreate(ctx context.Context, id string) (*game.Round, error) {
	id = NormalizeID(id)
	r.mu.RLock()
	round, ok := r.sessions[id]
	closed := r.closed
	r.mu.RUnlock()
	if ok {
		return round, nil
	}
	if closed {
		return nil, ErrClosed
	}

	v, err, _ := r.creating.Do(id, func() (any, error) {
		if round, ok := r.Get(id); ok {
			return round, nil
		}
		util.WithRequest(ctx).Infof("Creating new session: %s", id)
		round, err := r.scheduler.NewRound(ctx, id)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			round.Close()
			return nil, ErrClosed
		}
		r.sessions[id] = round
		n := len(r.sessions)
		r.mu.Unlock()
		r.metrics.SetSessions(n)
		return round, nil
	})
	if err != nil {
		util.WithRequest(ctx).Warnf("Failed to create session %s: %v", id, err)
		return nil, err
	}
	return v.(*game.Round), nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs returns the registered session ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.sessions)
}

// Close stops every session's timers and refuses further creations,
// including ones already in flight. Used on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	rounds := lo.Values(r.sessions)
	r.mu.Unlock()
	for _, round := range rounds {
		round.Close()
	}
}
