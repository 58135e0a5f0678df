// Package game holds the per-session round state machine.
//
// A Round cycles between ACTIVE (guesses accepted) and RESOLVING (the fixed
// delay after a solve or timeout) for the lifetime of the process. The
// Scheduler owns the shared collaborators and the timing configuration.
package game

import (
	"context"
	"fmt"
	"time"

	"github.com/CodeAndHammer/khamklai/internal/clock"
	"github.com/CodeAndHammer/khamklai/internal/constants"
	"github.com/CodeAndHammer/khamklai/internal/metrics"
	"github.com/CodeAndHammer/khamklai/internal/models"
	"github.com/CodeAndHammer/khamklai/internal/scoring"
	"github.com/CodeAndHammer/khamklai/internal/util"
)

type Settings struct {
	RoundDuration time.Duration
	ResetDelay    time.Duration
	// SetupTimeout bounds the embedding call made when a new round starts.
	SetupTimeout time.Duration
	// AvoidRepeat skips the previous word when picking the next one. Off,
	// every round draws uniformly from the whole list.
	AvoidRepeat bool
}

func DefaultSettings() Settings {
	return Settings{
		RoundDuration: constants.DefaultRoundDuration,
		ResetDelay:    constants.DefaultResetDelay,
		SetupTimeout:  constants.DefaultSetupTimeout,
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithSettings(settings Settings) Option {
	return func(s *Scheduler) {
		if settings.RoundDuration > 0 {
			s.settings.RoundDuration = settings.RoundDuration
		}
		if settings.ResetDelay > 0 {
			s.settings.ResetDelay = settings.ResetDelay
		}
		if settings.SetupTimeout > 0 {
			s.settings.SetupTimeout = settings.SetupTimeout
		}
		s.settings.AvoidRepeat = settings.AvoidRepeat
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

type Scheduler struct {
	words    []models.WordEntry
	embedder scoring.Embedder
	scorer   *scoring.Engine
	clock    clock.Clock
	settings Settings
	metrics  *metrics.Metrics
}

func NewScheduler(words []models.WordEntry, embedder scoring.Embedder, scorer *scoring.Engine, opts ...Option) *Scheduler {
	s := &Scheduler{
		words:    words,
		embedder: embedder,
		scorer:   scorer,
		clock:    clock.Real{},
		settings: DefaultSettings(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Settings() Settings { return s.settings }

// NewRound creates the session's first round. It blocks on the target
// embedding; on failure nothing is armed and the error is returned.
func (s *Scheduler) NewRound(ctx context.Context, sessionID string) (*Round, error) {
	entry, vec, err := s.prepare(ctx, "")
	if err != nil {
		return nil, err
	}

	r := &Round{
		id:        sessionID,
		scheduler: s,
	}
	r.mu.Lock()
	r.startLocked(entry, vec)
	r.mu.Unlock()

	util.WithRequest(ctx).Infof("Session %s started round %d", sessionID, r.number)
	return r, nil
}

// prepare selects the next word and computes its context embedding.
func (s *Scheduler) prepare(ctx context.Context, previous string) (models.WordEntry, []float32, error) {
	if !s.settings.AvoidRepeat {
		previous = ""
	}
	entry, err := RandomWordEntryExcluding(ctx, s.words, previous)
	if err != nil {
		return models.WordEntry{}, nil, err
	}
	vec, err := s.embedder.Get(ctx, scoring.TargetContext(entry))
	if err != nil {
		return models.WordEntry{}, nil, fmt.Errorf("prepare round for %q: %w", entry.Word, err)
	}
	return entry, vec, nil
}
