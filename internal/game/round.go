package game

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/CodeAndHammer/khamklai/internal/clock"
	"github.com/CodeAndHammer/khamklai/internal/constants"
	"github.com/CodeAndHammer/khamklai/internal/models"
	"github.com/CodeAndHammer/khamklai/internal/scoring"
	"github.com/CodeAndHammer/khamklai/internal/util"
)

type Phase int

const (
	PhaseActive Phase = iota
	PhaseResolving
)

func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "active"
	case PhaseResolving:
		return "resolving"
	default:
		return "unknown"
	}
}

type OutcomeKind int

const (
	OutcomeWaiting OutcomeKind = iota
	OutcomeDuplicate
	OutcomeUnknown
	OutcomeCorrect
	OutcomeScored
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeWaiting:
		return constants.OutcomeWaiting
	case OutcomeDuplicate:
		return constants.OutcomeDuplicate
	case OutcomeUnknown:
		return constants.OutcomeUnknown
	case OutcomeCorrect:
		return constants.OutcomeCorrect
	default:
		return constants.OutcomeScored
	}
}

// Outcome is the result of submitting one guess.
type Outcome struct {
	Kind       OutcomeKind
	Percentage float64
	// By is the player who first submitted a duplicate guess.
	By     string
	Answer string
	Winner string
	Round  uint64
	// Recorded is false when the round moved on while the guess was being
	// scored; the score is still reported against the word it was accepted for.
	Recorded bool
}

// Snapshot is a copy of a round's observable state.
type Snapshot struct {
	SessionID   string
	Answer      string
	TimeLeft    int
	Leaderboard map[string]float64
	Guesses     map[string]models.GuessRecord
	Active      bool
	Phase       Phase
	Round       uint64
	StartedAt   time.Time
}

// Round is one session's mutable game state. All fields below mu are guarded
// by it.
type Round struct {
	id        string
	scheduler *Scheduler

	mu          sync.Mutex
	entry       models.WordEntry
	embedding   []float32
	guesses     map[string]models.GuessRecord
	leaderboard map[string]float64
	active      bool
	phase       Phase
	startTime   time.Time
	number      uint64
	timer       clock.Timer
	timerSeq    uint64
	closed      bool
}

func (r *Round) ID() string { return r.id }

// Submit evaluates a guess from player. Exact, structural and related-word
// layers run under the lock; an undecided guess is scored outside it against
// the target captured at acceptance.
func (r *Round) Submit(ctx context.Context, player, guess string) (Outcome, error) {
	key := scoring.Normalize(guess)
	log := util.WithRequest(ctx).WithField("session", r.id)

	// Duplicates are answered until the next word is assigned, so a guess
	// repeated during the reset delay still reports the first scorer.
	r.mu.Lock()
	if rec, ok := r.guesses[key]; ok {
		number := r.number
		r.mu.Unlock()
		r.observe(OutcomeDuplicate)
		return Outcome{Kind: OutcomeDuplicate, By: rec.Player, Percentage: rec.Percentage, Round: number, Recorded: true}, nil
	}
	if !r.active {
		number := r.number
		r.mu.Unlock()
		r.observe(OutcomeWaiting)
		return Outcome{Kind: OutcomeWaiting, Round: number}, nil
	}

	res, decided := r.scheduler.scorer.Prescreen(key, r.entry)
	if decided {
		out := r.applyLocked(player, key, res)
		r.mu.Unlock()
		if out.Kind == OutcomeCorrect {
			log.Infof("Player %s solved round %d with %q", player, out.Round, out.Answer)
		}
		r.observe(out.Kind)
		return out, nil
	}

	target := scoring.Target{Entry: r.entry, Embedding: r.embedding}
	number := r.number
	r.mu.Unlock()

	// The synchronous layers are deterministic for an undecided guess, so
	// Score falls through to the semantic layer against the captured target.
	res, err := r.scheduler.scorer.Score(ctx, key, target)
	if err != nil {
		log.Warnf("Semantic scoring failed for %q: %v", key, err)
		return Outcome{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.number != number || !r.active {
		out := Outcome{Kind: OutcomeScored, Percentage: res.Percentage, Round: number}
		if res.Rejected {
			out = Outcome{Kind: OutcomeUnknown, Round: number}
		}
		log.Debugf("Round %d ended while scoring %q, result not recorded", number, key)
		r.observe(out.Kind)
		return out, nil
	}
	if rec, ok := r.guesses[key]; ok {
		r.observe(OutcomeDuplicate)
		return Outcome{Kind: OutcomeDuplicate, By: rec.Player, Percentage: rec.Percentage, Round: number, Recorded: true}, nil
	}
	out := r.applyLocked(player, key, res)
	r.observe(out.Kind)
	return out, nil
}

// applyLocked records a decided result for the current round.
func (r *Round) applyLocked(player, key string, res scoring.Result) Outcome {
	switch {
	case res.Rejected:
		return Outcome{Kind: OutcomeUnknown, Round: r.number}
	case res.Exact:
		r.recordLocked(player, key, res.Percentage)
		out := Outcome{
			Kind:       OutcomeCorrect,
			Percentage: res.Percentage,
			Answer:     r.entry.Word,
			Winner:     player,
			Round:      r.number,
			Recorded:   true,
		}
		r.resolveLocked(constants.RoundEndSolved)
		return out
	default:
		r.recordLocked(player, key, res.Percentage)
		return Outcome{Kind: OutcomeScored, Percentage: res.Percentage, Round: r.number, Recorded: true}
	}
}

func (r *Round) recordLocked(player, key string, pct float64) {
	r.guesses[key] = models.GuessRecord{Player: player, Percentage: pct}
	if best, ok := r.leaderboard[player]; !ok || pct > best {
		r.leaderboard[player] = pct
	}
}

// startLocked assigns a new word and opens the round. Guess history and the
// leaderboard are reset here and nowhere else.
func (r *Round) startLocked(entry models.WordEntry, vec []float32) {
	r.entry = entry
	r.embedding = vec
	r.guesses = make(map[string]models.GuessRecord)
	r.leaderboard = make(map[string]float64)
	r.active = true
	r.phase = PhaseActive
	r.startTime = r.scheduler.clock.Now()
	r.number++
	r.armLocked(r.scheduler.settings.RoundDuration, r.onRoundTimeout)
	r.scheduler.metrics.RoundStarted()
}

// resolveLocked closes the round and schedules the next word.
func (r *Round) resolveLocked(reason string) {
	r.active = false
	r.phase = PhaseResolving
	r.armLocked(r.scheduler.settings.ResetDelay, r.onResetDelay)
	r.scheduler.metrics.RoundEnded(reason)
}

// armLocked replaces any pending timer. Callbacks carry the sequence number
// they were armed with and do nothing once superseded.
func (r *Round) armLocked(d time.Duration, fn func(seq uint64)) {
	if r.closed {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timerSeq++
	seq := r.timerSeq
	r.timer = r.scheduler.clock.AfterFunc(d, func() { fn(seq) })
}

func (r *Round) onRoundTimeout(seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq != r.timerSeq || !r.active {
		return
	}
	r.timer = nil
	util.LogInfo("Session %s round %d timed out, answer was %q", r.id, r.number, r.entry.Word)
	r.resolveLocked(constants.RoundEndTimeout)
}

func (r *Round) onResetDelay(seq uint64) {
	r.mu.Lock()
	if seq != r.timerSeq || r.phase != PhaseResolving || r.closed {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	previous := r.entry.Word
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.scheduler.settings.SetupTimeout)
	entry, vec, err := r.scheduler.prepare(ctx, previous)
	cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	if seq != r.timerSeq || r.phase != PhaseResolving || r.closed {
		return
	}
	if err != nil {
		util.LogWarn("Session %s could not prepare next round, retrying in %v: %v", r.id, r.scheduler.settings.ResetDelay, err)
		r.scheduler.metrics.RoundSetupFailed()
		r.armLocked(r.scheduler.settings.ResetDelay, r.onResetDelay)
		return
	}
	r.startLocked(entry, vec)
	util.LogInfo("Session %s started round %d", r.id, r.number)
}

// Snapshot copies the round state. TimeLeft is whole seconds rounded up,
// never negative, and zero while resolving.
func (r *Round) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeLeft := 0
	if r.active {
		remaining := r.scheduler.settings.RoundDuration - r.scheduler.clock.Now().Sub(r.startTime)
		timeLeft = int(math.Ceil(math.Max(0, remaining.Seconds())))
	}
	return Snapshot{
		SessionID:   r.id,
		Answer:      r.entry.Word,
		TimeLeft:    timeLeft,
		Leaderboard: lo.Assign(r.leaderboard),
		Guesses:     lo.Assign(r.guesses),
		Active:      r.active,
		Phase:       r.phase,
		Round:       r.number,
		StartedAt:   r.startTime,
	}
}

// Close stops the pending timer; the round never advances afterwards.
func (r *Round) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Round) observe(kind OutcomeKind) {
	r.scheduler.metrics.Guess(kind.String())
}
