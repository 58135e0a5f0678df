package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeAndHammer/khamklai/internal/constants"
)

type countingProvider struct {
	calls   atomic.Int64
	texts   sync.Map
	release chan struct{}
	err     error
}

func (p *countingProvider) ModelName() string { return "counting" }

func (p *countingProvider) Embed(_ context.Context, text string) ([]float32, error) {
	p.calls.Add(1)
	p.texts.Store(text, true)
	if p.release != nil {
		<-p.release
	}
	if p.err != nil {
		return nil, p.err
	}
	return embedOne(text), nil
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
		err  error
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1, nil},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0, nil},
		{"opposite", []float32{1, 0}, []float32{-2, 0}, -1, nil},
		{"scaled", []float32{3, 4}, []float32{6, 8}, 1, nil},
		{"zero", []float32{0, 0}, []float32{1, 0}, 0, ErrDegenerateVector},
		{"mismatch", []float32{1}, []float32{1, 0}, 0, ErrDegenerateVector},
		{"empty", nil, nil, 0, ErrDegenerateVector},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CosineSimilarity(tc.a, tc.b)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestLocalProviderDeterministicAndNormalised(t *testing.T) {
	p := NewLocalProvider()
	a, err := p.Embed(context.Background(), "query: คำว่า แมว")
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), "query: คำว่า แมว")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, localDimension)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)

	other, _ := p.Embed(context.Background(), "query: คำว่า หมา")
	sim, err := CosineSimilarity(a, other)
	require.NoError(t, err)
	assert.Less(t, sim, 1.0)
}

func TestCacheHitAvoidsProvider(t *testing.T) {
	p := &countingProvider{}
	c, err := NewCache(p)
	require.NoError(t, err)

	first, err := c.Get(context.Background(), "แมว")
	require.NoError(t, err)
	second, err := c.Get(context.Background(), "แมว")
	require.NoError(t, err)

	assert.Equal(t, int64(1), p.calls.Load())
	assert.Equal(t, first, second)
	assert.Equal(t, 1, c.Len())

	_, ok := p.texts.Load(constants.EmbeddingQueryPrefix + "แมว")
	assert.True(t, ok, "provider must receive the query-prefixed text")
}

func TestCacheCoalescesConcurrentMisses(t *testing.T) {
	p := &countingProvider{release: make(chan struct{})}
	c, err := NewCache(p)
	require.NoError(t, err)

	const callers = 16
	results := make([][]float32, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vec, err := c.Get(context.Background(), "เหมียว")
			assert.NoError(t, err)
			results[i] = vec
		}(i)
	}

	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(p.release)
	wg.Wait()

	assert.Equal(t, int64(1), p.calls.Load())
	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
}

func TestCacheDoesNotStoreErrors(t *testing.T) {
	p := &countingProvider{err: ErrProviderUnavailable}
	c, err := NewCache(p)
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "แมว")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Zero(t, c.Len())

	p.err = nil
	_, err = c.Get(context.Background(), "แมว")
	assert.NoError(t, err)
	assert.Equal(t, int64(2), p.calls.Load())
}

func TestCacheSurvivesCallerCancellation(t *testing.T) {
	p := &countingProvider{}
	c, err := NewCache(p)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Get(ctx, "แมว")
	assert.NoError(t, err)
}

type blockingProvider struct{}

func (blockingProvider) ModelName() string { return "blocking" }

func (blockingProvider) Embed(ctx context.Context, _ string) ([]float32, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, ctx.Err())
}

func TestCacheKeepsCallerDeadline(t *testing.T) {
	c, err := NewCache(blockingProvider{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = c.Get(ctx, "แมว")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Zero(t, c.Len())
}

func TestBoundedCache(t *testing.T) {
	p := &countingProvider{}
	c, err := NewCache(p, WithMaxEntries(100))
	require.NoError(t, err)
	defer c.Close()

	a, err := c.Get(context.Background(), "แมว")
	require.NoError(t, err)
	b, err := c.Get(context.Background(), "แมว")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.LessOrEqual(t, p.calls.Load(), int64(2))
}

func TestOpenAIProvider(t *testing.T) {
	var gotAuth string
	var gotReq embeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[3,4]}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL+"/v1/", "multilingual-e5-small", "secret", time.Second)
	vec, err := p.Embed(context.Background(), "query: แมว")
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, []string{"query: แมว"}, gotReq.Input)
	assert.Equal(t, "multilingual-e5-small", gotReq.Model)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, vec, 1e-6)
}

func TestOpenAIProviderErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `oops`},
		{"api error", http.StatusBadRequest, `{"error":{"message":"bad input"}}`},
		{"empty data", http.StatusOK, `{"data":[]}`},
		{"bad json", http.StatusOK, `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewOpenAIProvider(srv.URL, "m", "", time.Second).Embed(context.Background(), "x")
			assert.True(t, errors.Is(err, ErrProviderUnavailable), "got %v", err)
		})
	}
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Name: "local"})
	require.NoError(t, err)
	assert.IsType(t, &LocalProvider{}, p)

	p, err = NewProvider(ProviderConfig{Name: "openai", BaseURL: "http://localhost:8081/v1", Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "m", p.ModelName())

	_, err = NewProvider(ProviderConfig{Name: "openai"})
	assert.Error(t, err)
	_, err = NewProvider(ProviderConfig{Name: "word2vec"})
	assert.Error(t, err)
}
