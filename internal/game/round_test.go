package game

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeAndHammer/khamklai/internal/clock"
	"github.com/CodeAndHammer/khamklai/internal/embedding"
	"github.com/CodeAndHammer/khamklai/internal/models"
	"github.com/CodeAndHammer/khamklai/internal/scoring"
)

var (
	cat = models.WordEntry{Word: "แมว", Related: []string{"เหมียว", "สัตว์เลี้ยง"}}
	dog = models.WordEntry{Word: "หมา", Related: []string{"สุนัข"}}
)

type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   map[string]int
	err     error
	onGet   func(text string)
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{
		vectors: map[string][]float32{
			scoring.TargetContext(cat):     {1, 0, 0},
			scoring.TargetContext(dog):     {0, 0, 1},
			scoring.GuessContext("ลูกแมว"): {0.97, 0.2431, 0},
			scoring.GuessContext("ลูกหมา"): {0, 0.2431, 0.97},
			scoring.GuessContext("รถยนต์"): {0, 1, 0},
		},
		calls: make(map[string]int),
	}
}

func (f *fakeEmbedder) Get(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls[text]++
	err := f.err
	hook := f.onGet
	vec, ok := f.vectors[text]
	f.mu.Unlock()

	if hook != nil {
		hook(text)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return []float32{0, 1, 0}, nil
	}
	return vec, nil
}

func (f *fakeEmbedder) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

var testSettings = Settings{
	RoundDuration: 60 * time.Second,
	ResetDelay:    5 * time.Second,
	SetupTimeout:  time.Second,
	AvoidRepeat:   true,
}

func newTestScheduler(t *testing.T, words []models.WordEntry) (*Scheduler, *fakeEmbedder, *clock.Fake) {
	t.Helper()
	emb := newFakeEmbedder()
	clk := clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	s := NewScheduler(words, emb, scoring.NewEngine(emb),
		WithClock(clk),
		WithSettings(testSettings),
	)
	return s, emb, clk
}

func newTestRound(t *testing.T, words []models.WordEntry) (*Round, *fakeEmbedder, *clock.Fake) {
	t.Helper()
	s, emb, clk := newTestScheduler(t, words)
	r, err := s.NewRound(context.Background(), "s1")
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r, emb, clk
}

func TestScenarioCatRound(t *testing.T) {
	r, _, _ := newTestRound(t, []models.WordEntry{cat})
	ctx := context.Background()

	out, err := r.Submit(ctx, "alice", "เหมียว")
	require.NoError(t, err)
	assert.Equal(t, OutcomeScored, out.Kind)
	assert.GreaterOrEqual(t, out.Percentage, 92.0)
	assert.LessOrEqual(t, out.Percentage, 97.0)
	related := out.Percentage

	out, err = r.Submit(ctx, "bob", "  แมว ")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCorrect, out.Kind)
	assert.Equal(t, 100.0, out.Percentage)
	assert.Equal(t, "แมว", out.Answer)
	assert.Equal(t, "bob", out.Winner)

	snap := r.Snapshot()
	assert.False(t, snap.Active)
	assert.Equal(t, PhaseResolving, snap.Phase)
	assert.Equal(t, 100.0, snap.Leaderboard["bob"])

	out, err = r.Submit(ctx, "carol", "เหมียว")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out.Kind)
	assert.Equal(t, "alice", out.By)
	assert.Equal(t, related, out.Percentage)

	out, err = r.Submit(ctx, "carol", "ลูกแมว")
	require.NoError(t, err)
	assert.Equal(t, OutcomeWaiting, out.Kind)
}

func TestDuplicateKeepsFirstScorer(t *testing.T) {
	r, emb, _ := newTestRound(t, []models.WordEntry{cat})
	ctx := context.Background()

	first, err := r.Submit(ctx, "alice", "ลูกแมว")
	require.NoError(t, err)
	require.Equal(t, OutcomeScored, first.Kind)
	assert.GreaterOrEqual(t, first.Percentage, 0.01)
	assert.LessOrEqual(t, first.Percentage, 99.99)

	for _, variant := range []string{"ลูกแมว", " ลูกแมว\t", "ลูกแมว  "} {
		out, err := r.Submit(ctx, "bob", variant)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, out.Kind)
		assert.Equal(t, "alice", out.By)
		assert.Equal(t, first.Percentage, out.Percentage)
	}

	emb.mu.Lock()
	defer emb.mu.Unlock()
	assert.Equal(t, 1, emb.calls[scoring.GuessContext("ลูกแมว")])

	snap := r.Snapshot()
	assert.Len(t, snap.Guesses, 1)
	_, bobScored := snap.Leaderboard["bob"]
	assert.False(t, bobScored)
}

func TestRejectionsAreNotRecorded(t *testing.T) {
	r, _, _ := newTestRound(t, []models.WordEntry{cat})
	ctx := context.Background()

	for _, guess := range []string{"xyxyxy", "กกกก", "รถยนต์"} {
		out, err := r.Submit(ctx, "alice", guess)
		require.NoError(t, err)
		assert.Equal(t, OutcomeUnknown, out.Kind, "guess %q", guess)
		assert.Zero(t, out.Percentage)
	}
	snap := r.Snapshot()
	assert.Empty(t, snap.Guesses)
	assert.Empty(t, snap.Leaderboard)
	assert.True(t, snap.Active)
}

func TestLeaderboardKeepsBestScore(t *testing.T) {
	r, _, _ := newTestRound(t, []models.WordEntry{cat})
	ctx := context.Background()

	high, err := r.Submit(ctx, "alice", "เหมียว")
	require.NoError(t, err)
	low, err := r.Submit(ctx, "alice", "ลูกแมว")
	require.NoError(t, err)
	require.Less(t, low.Percentage, high.Percentage)

	assert.Equal(t, high.Percentage, r.Snapshot().Leaderboard["alice"])
}

func TestTimeoutThenReset(t *testing.T) {
	r, _, clk := newTestRound(t, []models.WordEntry{cat, dog})
	ctx := context.Background()

	first := r.Snapshot()
	assert.Equal(t, 60, first.TimeLeft)
	_, err := r.Submit(ctx, "alice", "ลูกแมว")
	require.NoError(t, err)

	clk.Advance(testSettings.RoundDuration)
	snap := r.Snapshot()
	assert.False(t, snap.Active)
	assert.Equal(t, PhaseResolving, snap.Phase)
	assert.Zero(t, snap.TimeLeft)
	assert.Equal(t, first.Answer, snap.Answer)

	out, err := r.Submit(ctx, "bob", "สุนัข")
	require.NoError(t, err)
	assert.Equal(t, OutcomeWaiting, out.Kind)

	clk.Advance(testSettings.ResetDelay)
	snap = r.Snapshot()
	assert.True(t, snap.Active)
	assert.Equal(t, PhaseActive, snap.Phase)
	assert.Equal(t, uint64(2), snap.Round)
	assert.NotEqual(t, first.Answer, snap.Answer, "consecutive rounds use different words")
	assert.Empty(t, snap.Guesses)
	assert.Empty(t, snap.Leaderboard)
	assert.Equal(t, 60, snap.TimeLeft)
	assert.Equal(t, 1, clk.Pending())
}

func TestCorrectGuessCancelsRoundTimer(t *testing.T) {
	r, _, clk := newTestRound(t, []models.WordEntry{cat, dog})
	ctx := context.Background()

	clk.Advance(10 * time.Second)
	answer := r.Snapshot().Answer
	out, err := r.Submit(ctx, "alice", answer)
	require.NoError(t, err)
	require.Equal(t, OutcomeCorrect, out.Kind)
	assert.Equal(t, 1, clk.Pending(), "only the reset timer is armed")

	clk.Advance(testSettings.ResetDelay)
	snap := r.Snapshot()
	require.True(t, snap.Active)
	require.Equal(t, uint64(2), snap.Round)

	// The first round's deadline passes without ending the second round.
	clk.Advance(testSettings.RoundDuration - 10*time.Second - testSettings.ResetDelay)
	snap = r.Snapshot()
	assert.True(t, snap.Active)
	assert.Equal(t, uint64(2), snap.Round)
	assert.Equal(t, 15, snap.TimeLeft)

	clk.Advance(15 * time.Second)
	assert.False(t, r.Snapshot().Active)
}

func TestTimeLeftMonotonic(t *testing.T) {
	r, _, clk := newTestRound(t, []models.WordEntry{cat})

	prev := r.Snapshot().TimeLeft
	for i := 0; i < 12; i++ {
		clk.Advance(7 * time.Second)
		snap := r.Snapshot()
		if snap.Round != 1 {
			break
		}
		assert.LessOrEqual(t, snap.TimeLeft, prev)
		assert.GreaterOrEqual(t, snap.TimeLeft, 0)
		prev = snap.TimeLeft
	}
	assert.Zero(t, prev)
}

func TestSetupFailureKeepsResolvingAndRetries(t *testing.T) {
	r, emb, clk := newTestRound(t, []models.WordEntry{cat, dog})

	emb.setErr(fmt.Errorf("%w: connection refused", embedding.ErrProviderUnavailable))
	clk.Advance(testSettings.RoundDuration + testSettings.ResetDelay)

	snap := r.Snapshot()
	assert.False(t, snap.Active)
	assert.Equal(t, PhaseResolving, snap.Phase)
	assert.Equal(t, uint64(1), snap.Round)
	assert.Equal(t, 1, clk.Pending(), "retry is armed")

	emb.setErr(nil)
	clk.Advance(testSettings.ResetDelay)
	snap = r.Snapshot()
	assert.True(t, snap.Active)
	assert.Equal(t, uint64(2), snap.Round)
}

// stallingProvider answers the first call and then blocks until the caller's
// context is done.
type stallingProvider struct {
	calls atomic.Int64
}

func (p *stallingProvider) ModelName() string { return "stalling" }

func (p *stallingProvider) Embed(ctx context.Context, _ string) ([]float32, error) {
	if p.calls.Add(1) == 1 {
		return []float32{1, 0, 0}, nil
	}
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %w", embedding.ErrProviderUnavailable, ctx.Err())
}

func TestSetupTimeoutBoundsNextRound(t *testing.T) {
	provider := &stallingProvider{}
	cache, err := embedding.NewCache(provider)
	require.NoError(t, err)

	settings := testSettings
	settings.SetupTimeout = 50 * time.Millisecond
	clk := clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	s := NewScheduler([]models.WordEntry{cat, dog}, cache, scoring.NewEngine(cache),
		WithClock(clk),
		WithSettings(settings),
	)
	r, err := s.NewRound(context.Background(), "s1")
	require.NoError(t, err)
	t.Cleanup(r.Close)

	start := time.Now()
	clk.Advance(settings.RoundDuration + settings.ResetDelay)
	assert.Less(t, time.Since(start), 2*time.Second, "setup gave up at its timeout")

	snap := r.Snapshot()
	assert.False(t, snap.Active)
	assert.Equal(t, PhaseResolving, snap.Phase)
	assert.Equal(t, uint64(1), snap.Round)
	assert.Equal(t, 1, clk.Pending(), "retry is armed")
}

func TestNextWordDrawsFromWholeListByDefault(t *testing.T) {
	emb := newFakeEmbedder()
	s := NewScheduler([]models.WordEntry{cat, dog}, emb, scoring.NewEngine(emb))
	assert.False(t, s.Settings().AvoidRepeat)

	repeated := false
	for i := 0; i < 200 && !repeated; i++ {
		entry, _, err := s.prepare(context.Background(), cat.Word)
		require.NoError(t, err)
		repeated = entry.Word == cat.Word
	}
	assert.True(t, repeated, "previous word stays eligible")
}

func TestNewRoundProviderFailure(t *testing.T) {
	s, emb, clk := newTestScheduler(t, []models.WordEntry{cat})
	emb.setErr(embedding.ErrProviderUnavailable)

	_, err := s.NewRound(context.Background(), "s1")
	assert.ErrorIs(t, err, embedding.ErrProviderUnavailable)
	assert.Zero(t, clk.Pending())
}

func TestSemanticResultScoredAgainstAcceptedWord(t *testing.T) {
	r, emb, clk := newTestRound(t, []models.WordEntry{cat, dog})

	// Each guess is close to its own word and orthogonal to the other one.
	guess := "ลูกแมว"
	if r.Snapshot().Answer == dog.Word {
		guess = "ลูกหมา"
	}
	guessText := scoring.GuessContext(guess)
	emb.onGet = func(text string) {
		if text == guessText {
			clk.Advance(testSettings.RoundDuration + testSettings.ResetDelay)
		}
	}

	out, err := r.Submit(context.Background(), "alice", guess)
	require.NoError(t, err)
	assert.Equal(t, OutcomeScored, out.Kind, "scored against the word active at acceptance")
	assert.Greater(t, out.Percentage, 50.0)
	assert.False(t, out.Recorded)
	assert.Equal(t, uint64(1), out.Round)

	snap := r.Snapshot()
	assert.Equal(t, uint64(2), snap.Round)
	assert.Empty(t, snap.Guesses)
}

func TestConcurrentSubmissions(t *testing.T) {
	r, _, _ := newTestRound(t, []models.WordEntry{cat})
	ctx := context.Background()

	guesses := []string{"เหมียว", "สัตว์เลี้ยง", "ลูกแมว", "รถยนต์"}
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		for _, g := range guesses {
			wg.Add(1)
			go func(player, guess string) {
				defer wg.Done()
				_, err := r.Submit(ctx, player, guess)
				assert.NoError(t, err)
			}(fmt.Sprintf("p%d", p), g)
		}
	}
	wg.Wait()

	snap := r.Snapshot()
	assert.Len(t, snap.Guesses, 3)
	for player, best := range snap.Leaderboard {
		for _, rec := range snap.Guesses {
			if rec.Player == player {
				assert.GreaterOrEqual(t, best, rec.Percentage)
			}
		}
	}
}

func TestCloseStopsTimers(t *testing.T) {
	r, _, clk := newTestRound(t, []models.WordEntry{cat})
	r.Close()
	assert.Zero(t, clk.Pending())

	clk.Advance(time.Hour)
	snap := r.Snapshot()
	assert.Equal(t, uint64(1), snap.Round)
}
