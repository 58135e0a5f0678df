// Package embedding turns text into vectors: providers, a memoising cache and cosine similarity.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrProviderUnavailable marks a transient provider failure; callers may retry.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
	ErrDegenerateVector    = errors.New("degenerate embedding vector")
)

// Provider produces a normalised, mean-pooled embedding for a single text.
// The same text must always map to the same vector.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

const (
	ProviderLocal  = "local"
	ProviderOpenAI = "openai"
)

// ProviderConfig selects and configures a Provider.
type ProviderConfig struct {
	Name    string
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// NewProvider builds the provider named in cfg.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch strings.ToLower(cfg.Name) {
	case "", ProviderLocal:
		return NewLocalProvider(), nil
	case ProviderOpenAI:
		if cfg.BaseURL == "" {
			return nil, errors.New("openai embedding provider: base url is required")
		}
		return NewOpenAIProvider(cfg.BaseURL, cfg.Model, cfg.APIKey, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q; valid: %s, %s", cfg.Name, ProviderLocal, ProviderOpenAI)
	}
}

func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(sum))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v * inv
	}
	return out
}
