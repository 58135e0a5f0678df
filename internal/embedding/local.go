package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

const (
	localModelName = "local-trigram-hash"
	localDimension = 384
	localNGram     = 3
)

// LocalProvider is a deterministic, dependency-free embedder built from hashed
// character trigrams. Thai has no spaces between words, so runes rather than
// whitespace tokens carry the signal.
type LocalProvider struct{}

func NewLocalProvider() *LocalProvider { return &LocalProvider{} }

func (p *LocalProvider) ModelName() string { return localModelName }

func (p *LocalProvider) Embed(_ context.Context, text string) ([]float32, error) {
	return embedOne(text), nil
}

func embedOne(text string) []float32 {
	vec := make([]float32, localDimension)
	for _, gram := range charNGrams(cleanText(text), localNGram) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(gram))
		sum := h.Sum64()
		idx := int(sum % uint64(localDimension))
		if (sum>>32)&1 == 1 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}
	return normalize(vec)
}

func cleanText(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.Is(unicode.Mn, r) {
			return r
		}
		return ' '
	}, text)
}

func charNGrams(text string, n int) []string {
	runes := []rune("^" + text + "$")
	if len(runes) < n {
		return []string{string(runes)}
	}
	out := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		out = append(out, string(runes[i:i+n]))
	}
	return out
}

var _ Provider = (*LocalProvider)(nil)
