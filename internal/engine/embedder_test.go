package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/store"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"Hello World", 2},
		{"Kevin likes coffee, black.", 4},
		{"a b c", 0}, // single chars skipped
		{"", 0},
		{"Café au lait", 3},
		{"케빈은 커피를 좋아한다", 3},
	}

	for _, tt := range tests {
		tokens := tokenize(tt.input)
		if len(tokens) != tt.want {
			t.Errorf("tokenize(%q) = %d tokens %v, want %d", tt.input, len(tokens), tokens, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	vec := []float64{3, 4}
	normalize(vec)

	norm := math.Sqrt(vec[0]*vec[0] + vec[1]*vec[1])
	if math.Abs(norm-1) > 1e-10 {
		t.Errorf("normalized magnitude = %f, want 1", norm)
	}

	zero := []float64{0, 0, 0}
	normalize(zero) // should not panic
	assert.Equal(t, []float64{0, 0, 0}, zero)
}

func TestTEIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req struct {
			Inputs string `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Kevin likes coffee", req.Inputs)

		w.Write([]byte(`[[0.1, 0.2, 0.3]]`))
	}))
	defer srv.Close()

	emb := NewTEIEmbedder(srv.URL, "", 3, time.Second)
	vec, err := emb.Embed(context.Background(), "Kevin likes coffee")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "tei:default", emb.Model())
	assert.Equal(t, 3, emb.Dimensions())
}

func TestTEIEmbedderMalformed(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"overloaded"}`},
		{"empty outer array", http.StatusOK, `[]`},
		{"empty vector", http.StatusOK, `[[]]`},
		{"not json", http.StatusOK, `nope`},
		{"wrong dimensions", http.StatusOK, `[[0.1, 0.2]]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewTEIEmbedder(srv.URL, "", 3, time.Second).Embed(context.Background(), "x")
			assert.Error(t, err)
		})
	}
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req["model"])
		assert.Equal(t, "hello", req["input"])
		w.Write([]byte(`{"embeddings": [[1, 0]]}`))
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(srv.URL+"/", "nomic-embed-text", 0, time.Second)
	vec, err := emb.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, vec)
	assert.Equal(t, "ollama:nomic-embed-text", emb.Model())
}

func TestHashEmbedder(t *testing.T) {
	ctx := context.Background()
	emb := NewHashEmbedder(128)

	a, err := emb.Embed(ctx, "Kevin likes coffee")
	require.NoError(t, err)
	b, err := emb.Embed(ctx, "kevin likes COFFEE!")
	require.NoError(t, err)
	c, err := emb.Embed(ctx, "the weather in Seoul")
	require.NoError(t, err)

	assert.Len(t, a, 128)
	assert.InDelta(t, 0, store.CosineDistance(a, b), 1e-9, "case and punctuation do not matter")
	assert.Greater(t, store.CosineDistance(a, c), 0.2)
	assert.Equal(t, "hash:128", emb.Model())
}

func TestHashEmbedderNeverReturnsZeroVector(t *testing.T) {
	ctx := context.Background()
	emb := NewHashEmbedder(64)

	for _, fact := range []string{"케빈은 커피를 좋아한다", "I a b", "!!!", "Café"} {
		a, err := emb.Embed(ctx, fact)
		require.NoError(t, err)
		b, err := emb.Embed(ctx, fact)
		require.NoError(t, err)

		assert.InDelta(t, 1, store.CosineSimilarity(a, a), 1e-9, "%q must embed to a unit vector", fact)
		assert.InDelta(t, 0, store.CosineDistance(a, b), 1e-9, "%q must match itself", fact)
	}

	a, err := emb.Embed(ctx, "Café")
	require.NoError(t, err)
	b, err := emb.Embed(ctx, "caf")
	require.NoError(t, err)
	assert.Greater(t, store.CosineDistance(a, b), 0.2, "accented letters are kept")
}

type countingEmbedder struct {
	calls atomic.Int32
	err   error
}

func (c *countingEmbedder) Model() string   { return "counting" }
func (c *countingEmbedder) Dimensions() int { return 2 }

func (c *countingEmbedder) Embed(context.Context, string) ([]float64, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return []float64{1, 0}, nil
}

func TestCachedEmbedder(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	emb, err := NewCachedEmbedder(inner, 100)
	require.NoError(t, err)
	defer emb.Close()

	first, err := emb.Embed(ctx, "fact")
	require.NoError(t, err)
	emb.cache.Wait()

	first[0] = 42 // callers may not corrupt the cached vector
	second, err := emb.Embed(ctx, "fact")
	require.NoError(t, err)

	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, []float64{1, 0}, second)
	assert.Equal(t, "counting", emb.Model())
}

func TestCachedEmbedderDoesNotCacheErrors(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("down")}
	emb, err := NewCachedEmbedder(inner, 100)
	require.NoError(t, err)
	defer emb.Close()

	for range 2 {
		_, err := emb.Embed(context.Background(), "fact")
		assert.Error(t, err)
		emb.cache.Wait()
	}
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestBreakerEmbedderOpens(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("connection refused")}
	emb := NewBreakerEmbedder(inner, config.BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		MinRequests:      2,
		FailureThreshold: 0.5,
	}, nil)

	ctx := context.Background()
	for range 2 {
		_, err := emb.Embed(ctx, "fact")
		assert.ErrorContains(t, err, "connection refused")
	}
	assert.Equal(t, gobreaker.StateOpen, emb.State())

	_, err := emb.Embed(ctx, "fact")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), inner.calls.Load(), "open breaker does not call the provider")
}

func TestBreakerErrorBecomesProviderError(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("connection refused")}
	emb := NewBreakerEmbedder(inner, config.BreakerConfig{MinRequests: 1, FailureThreshold: 0.1, Timeout: time.Minute}, nil)
	st := newMemStore()
	n := testNetwork(st, emb)

	n.ActivateNode(context.Background(), "fact")
	err := n.ActivateNode(context.Background(), "fact")

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Zero(t, st.callCount())
}

func TestNewEmbedder(t *testing.T) {
	cfg := config.Default().Embedder

	emb, err := NewEmbedder(cfg, nil)
	require.NoError(t, err)
	cached, ok := emb.(*CachedEmbedder)
	require.True(t, ok, "cache wraps the chain")
	_, ok = cached.next.(*BreakerEmbedder)
	assert.True(t, ok, "remote providers get a breaker")
	cached.Close()

	cfg.Provider = "hash"
	cfg.CacheSize = 0
	emb, err = NewEmbedder(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &HashEmbedder{}, emb)

	cfg.Provider = "ollama"
	cfg.Breaker.Enabled = false
	emb, err = NewEmbedder(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "ollama:nomic-embed-text", emb.Model())

	cfg.Provider = "word2vec"
	_, err = NewEmbedder(cfg, nil)
	assert.Error(t, err)
}
