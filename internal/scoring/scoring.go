// Package scoring converts a raw guess into a percentage or a rejection.
//
// Layers are evaluated in order and the first applicable one wins: exact
// match, structural filter, related-word match, semantic similarity. The
// first three are synchronous (Prescreen); only the semantic layer calls
// the embedding cache.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/CodeAndHammer/khamklai/internal/constants"
	"github.com/CodeAndHammer/khamklai/internal/embedding"
	"github.com/CodeAndHammer/khamklai/internal/models"
	"github.com/CodeAndHammer/khamklai/internal/util"
)

type Layer string

const (
	LayerExact      Layer = "exact"
	LayerStructural Layer = "structural"
	LayerRelated    Layer = "related"
	LayerSemantic   Layer = "semantic"
)

// Result is either a percentage or a rejection. A rejection is not a zero
// score: callers report it as unknown.
type Result struct {
	Percentage float64
	Rejected   bool
	Exact      bool
	Layer      Layer
	Similarity float64
}

// Embedder resolves text to a vector; *embedding.Cache satisfies it.
type Embedder interface {
	Get(ctx context.Context, text string) ([]float32, error)
}

// Target is the word being guessed together with its context embedding,
// captured by value when the guess is accepted.
type Target struct {
	Entry     models.WordEntry
	Embedding []float32
}

// Option configures an Engine.
type Option func(*Engine)

// WithJitter replaces the source of the related-word jitter. f must return
// values in [0, 1).
func WithJitter(f func() float64) Option {
	return func(e *Engine) {
		if f != nil {
			e.jitter = f
		}
	}
}

type Engine struct {
	embedder Embedder
	jitter   func() float64
}

func NewEngine(embedder Embedder, opts ...Option) *Engine {
	e := &Engine{
		embedder: embedder,
		jitter:   rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Normalize lowercases and trims text for comparison and as a guess key.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// GuessContext wraps a guess in the fixed sentence used for its embedding.
func GuessContext(guess string) string {
	return fmt.Sprintf(constants.GuessContextTemplate, Normalize(guess))
}

// TargetContext builds the sentence describing a target word.
func TargetContext(entry models.WordEntry) string {
	word := Normalize(entry.Word)
	if len(entry.Related) == 0 {
		return fmt.Sprintf(constants.GuessContextTemplate, word)
	}
	return fmt.Sprintf(constants.TargetContextTemplate, word, strings.Join(entry.Related, " "))
}

// IsStructurallyValid reports whether a normalised guess is worth embedding:
// non-empty, at least two runes, contains a Thai consonant and is not one
// rune repeated.
func IsStructurallyValid(guess string) bool {
	if guess == "" || utf8.RuneCountInString(guess) < constants.MinGuessRunes {
		return false
	}
	runes := []rune(guess)
	if !lo.ContainsBy(runes, isThaiConsonant) {
		return false
	}
	return len(lo.Uniq(runes)) > 1
}

func isThaiConsonant(r rune) bool {
	return r >= constants.ThaiConsonantFirst && r <= constants.ThaiConsonantLast
}

// Prescreen runs the synchronous layers. decided is false when only the
// semantic layer can settle the guess.
func (e *Engine) Prescreen(guess string, entry models.WordEntry) (res Result, decided bool) {
	guess = Normalize(guess)

	if guess == Normalize(entry.Word) {
		return Result{Percentage: constants.ExactScore, Exact: true, Layer: LayerExact}, true
	}
	if !IsStructurallyValid(guess) {
		return Result{Rejected: true, Layer: LayerStructural}, true
	}
	if lo.ContainsBy(entry.Related, func(w string) bool { return Normalize(w) == guess }) {
		return Result{Percentage: e.relatedScore(), Layer: LayerRelated}, true
	}
	return Result{}, false
}

func (e *Engine) relatedScore() float64 {
	span := constants.RelatedScoreMax - constants.RelatedScoreMin
	score := constants.RelatedScoreMin + e.jitter()*span
	return round2(lo.Clamp(score, constants.RelatedScoreMin, constants.RelatedScoreMax))
}

// Semantic scores a guess by cosine similarity against targetEmbedding.
// Provider failures are returned as errors; low similarity is a rejection.
func (e *Engine) Semantic(ctx context.Context, guess string, targetEmbedding []float32) (Result, error) {
	vec, err := e.embedder.Get(ctx, GuessContext(guess))
	if err != nil {
		return Result{}, err
	}
	sim, err := embedding.CosineSimilarity(vec, targetEmbedding)
	if err != nil {
		if errors.Is(err, embedding.ErrDegenerateVector) {
			util.WithRequest(ctx).Warnf("Degenerate embedding for guess %q, rejecting", guess)
			return Result{Rejected: true, Layer: LayerSemantic}, nil
		}
		return Result{}, err
	}
	if sim < constants.MinConfidence {
		return Result{Rejected: true, Layer: LayerSemantic, Similarity: sim}, nil
	}
	return Result{Percentage: RescaleSimilarity(sim), Layer: LayerSemantic, Similarity: sim}, nil
}

// Score runs every layer against target.
func (e *Engine) Score(ctx context.Context, guess string, target Target) (Result, error) {
	if res, decided := e.Prescreen(guess, target.Entry); decided {
		return res, nil
	}
	return e.Semantic(ctx, guess, target.Embedding)
}

// RescaleSimilarity maps a similarity at or above the confidence threshold to
// a percentage in [0.01, 99.99].
func RescaleSimilarity(sim float64) float64 {
	scaled := math.Max(0, (sim-constants.RescaleFloor)/(1-constants.RescaleFloor))
	pct := math.Pow(scaled, constants.RescaleExponent) * 100
	return round2(lo.Clamp(pct, constants.SemanticScoreMin, constants.SemanticScoreMax))
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
