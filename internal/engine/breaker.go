package engine

import (
	"context"
	"errors"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/lazypower/recall/internal/config"
)

// BreakerEmbedder fails fast while a remote provider keeps failing, instead
// of stalling every activation on a dead endpoint.
type BreakerEmbedder struct {
	next Embedder
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerEmbedder(next Embedder, cfg config.BreakerConfig, logger *zap.Logger) *BreakerEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        next.Model(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("embedder circuit breaker state changed",
				zap.String("breaker", name), zap.Stringer("from", from), zap.Stringer("to", to))
		},
		// A caller giving up says nothing about the provider's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerEmbedder{next: next, cb: cb}
}

func (b *BreakerEmbedder) Model() string   { return b.next.Model() }
func (b *BreakerEmbedder) Dimensions() int { return b.next.Dimensions() }

// State reports the breaker's current state.
func (b *BreakerEmbedder) State() gobreaker.State { return b.cb.State() }

func (b *BreakerEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return v.([]float64), nil
}
