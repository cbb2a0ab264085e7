package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// TEIEmbedder calls a HuggingFace text-embeddings-inference server.
type TEIEmbedder struct {
	url    string
	model  string
	dims   int
	client *http.Client
}

// NewTEIEmbedder creates an embedder posting to url, the server's /embed
// route. model is informational; TEI serves a single model.
func NewTEIEmbedder(url, model string, dims int, timeout time.Duration) *TEIEmbedder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if model == "" {
		model = "default"
	}
	return &TEIEmbedder{
		url:    url,
		model:  model,
		dims:   dims,
		client: &http.Client{Timeout: timeout},
	}
}

func (t *TEIEmbedder) Model() string   { return "tei:" + t.model }
func (t *TEIEmbedder) Dimensions() int { return t.dims }

// Embed posts {"inputs": text}. The response must be a non-empty array of
// non-empty vectors; the first one is returned.
func (t *TEIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(map[string]string{"inputs": text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	respBody, err := postJSON(ctx, t.client, t.url, body)
	if err != nil {
		return nil, fmt.Errorf("tei embed: %w", err)
	}

	var result [][]float64
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode tei response: %w", err)
	}
	if len(result) == 0 || len(result[0]) == 0 {
		return nil, fmt.Errorf("tei returned no embeddings")
	}
	return checkDimensions(result[0], t.dims)
}
