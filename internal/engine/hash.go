package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
)

// HashEmbedder is an offline feature-hashing bag-of-words embedder. Each
// token lands in one signed bucket; the result is L2-normalized, so the same
// text always embeds to distance 0 from itself. Text with no usable tokens
// hashes whole into a single bucket, so no vector is ever zero. Useful
// without a model server, and for tests.
type HashEmbedder struct {
	dims int
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Model() string   { return fmt.Sprintf("hash:%d", h.dims) }
func (h *HashEmbedder) Dimensions() int { return h.dims }

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, h.dims)
	for _, tok := range tokenize(text) {
		h.add(vec, tok)
	}
	// No tokens, or colliding tokens that cancelled out.
	if isZero(vec) {
		h.add(vec, strings.ToLower(strings.TrimSpace(text)))
	}
	normalize(vec)
	return vec, nil
}

func (h *HashEmbedder) add(vec []float64, tok string) {
	f := fnv.New64a()
	f.Write([]byte(tok))
	sum := f.Sum64()

	sign := 1.0
	if sum>>63 == 1 {
		sign = -1
	}
	vec[sum%uint64(h.dims)] += sign
}

func isZero(vec []float64) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
