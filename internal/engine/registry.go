package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/recall/internal/store"
)

// Registry hands out one Network per conversation. Cycles for the same
// conversation are serialized; different conversations run in parallel
// against the shared store.
type Registry struct {
	store    store.Store
	embedder Embedder
	opts     []Option
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	convs map[string]*conversation

	stopOnce sync.Once
	stopCh   chan struct{}
}

type conversation struct {
	mu       sync.Mutex
	net      *Network
	lastUsed time.Time
}

// NewRegistry creates a registry whose networks share st and emb and are
// built with opts.
func NewRegistry(st store.Store, emb Embedder, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:    st,
		embedder: emb,
		opts:     append([]Option{WithLogger(logger)}, opts...),
		logger:   logger,
		now:      time.Now,
		convs:    make(map[string]*conversation),
		stopCh:   make(chan struct{}),
	}
}

// With runs fn against the conversation's network, creating it on first use.
// fn holds the conversation exclusively until it returns.
func (r *Registry) With(id string, fn func(*Network) error) error {
	r.mu.Lock()
	c, ok := r.convs[id]
	if !ok {
		c = &conversation{net: New(r.store, r.embedder, r.opts...)}
		r.convs[id] = c
		conversationsActive.Set(float64(len(r.convs)))
		r.logger.Debug("conversation started", zap.String("conversation", id))
	}
	c.lastUsed = r.now()
	r.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(c.net)
}

// View runs fn against an existing conversation's network without creating
// one or counting as use. Reports whether the conversation existed.
func (r *Registry) View(id string, fn func(*Network)) bool {
	r.mu.Lock()
	c, ok := r.convs[id]
	r.mu.Unlock()
	if !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.net)
	return true
}

// Drop forgets a conversation's working set. Stored nodes and edges stay.
// Reports whether the conversation existed.
func (r *Registry) Drop(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.convs[id]; !ok {
		return false
	}
	delete(r.convs, id)
	conversationsActive.Set(float64(len(r.convs)))
	return true
}

// Len returns the number of live conversations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.convs)
}

// EvictIdle drops every conversation unused for longer than idle and
// returns how many were dropped.
func (r *Registry) EvictIdle(idle time.Duration) int {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, c := range r.convs {
		if c.lastUsed.Before(cutoff) {
			delete(r.convs, id)
			evicted++
		}
	}
	conversationsActive.Set(float64(len(r.convs)))
	return evicted
}

// StartEvictionTimer evicts idle conversations every idle/4 until Stop.
func (r *Registry) StartEvictionTimer(idle time.Duration) {
	if idle <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(max(idle/4, time.Second))
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := r.EvictIdle(idle); n > 0 {
					r.logger.Info("evicted idle conversations", zap.Int("count", n))
				}
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the eviction goroutine.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}
