package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/lazypower/recall/internal/config"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
	Dimensions() int
}

// NewEmbedder builds the configured provider. Remote providers sit behind a
// circuit breaker when enabled, and everything sits behind a vector cache
// when cache_size is positive.
func NewEmbedder(cfg config.EmbedderConfig, logger *zap.Logger) (Embedder, error) {
	var emb Embedder
	switch cfg.Provider {
	case "tei":
		emb = NewTEIEmbedder(cfg.URL, cfg.Model, cfg.Dimensions, cfg.Timeout)
	case "ollama":
		model := cfg.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		emb = NewOllamaEmbedder(cfg.URL, model, cfg.Dimensions, cfg.Timeout)
	case "hash":
		emb = NewHashEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.Provider)
	}

	if cfg.Provider != "hash" && cfg.Breaker.Enabled {
		emb = NewBreakerEmbedder(emb, cfg.Breaker, logger)
	}

	if cfg.CacheSize > 0 {
		cached, err := NewCachedEmbedder(emb, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		emb = cached
	}
	return emb, nil
}

// OllamaEmbedder uses Ollama's embedding API.
type OllamaEmbedder struct {
	url    string
	model  string
	dims   int
	client *http.Client
}

// NewOllamaEmbedder creates an embedder using Ollama's API. dims of zero
// accepts whatever length the model returns.
func NewOllamaEmbedder(url, model string, dims int, timeout time.Duration) *OllamaEmbedder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OllamaEmbedder{
		url:    strings.TrimRight(url, "/"),
		model:  model,
		dims:   dims,
		client: &http.Client{Timeout: timeout},
	}
}

func (o *OllamaEmbedder) Model() string   { return "ollama:" + o.model }
func (o *OllamaEmbedder) Dimensions() int { return o.dims }

// Embed sends text to Ollama's embed endpoint and returns the embedding vector.
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(map[string]any{
		"model": o.model,
		"input": text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	respBody, err := postJSON(ctx, o.client, o.url+"/api/embed", body)
	if err != nil {
		return nil, fmt.Errorf("ollama embed api: %w", err)
	}

	var result struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama returned no embeddings")
	}
	return checkDimensions(result.Embeddings[0], o.dims)
}

// postJSON posts body and returns the response body, treating any non-200
// status as an error.
func postJSON(ctx context.Context, client *http.Client, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}
	return respBody, nil
}

func checkDimensions(vec []float64, want int) ([]float64, error) {
	if want > 0 && len(vec) != want {
		return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(vec), want)
	}
	return vec, nil
}

// tokenize splits text into lowercase tokens of letters and digits in any
// script, stripping punctuation. Single-rune tokens are skipped.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var current []rune
	flush := func() {
		if len(current) > 1 {
			tokens = append(tokens, string(current))
		}
		current = current[:0]
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			current = append(current, r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// normalize performs in-place L2 normalization.
func normalize(vec []float64) {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
}
