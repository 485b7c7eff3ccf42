package hub

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/civic-chat/internal/config"
	"github.com/Tyrowin/civic-chat/internal/identity"
	"github.com/Tyrowin/civic-chat/internal/logging"
)

// Hub owns the connection registry and every connection's lifecycle.
type Hub struct {
	resolver identity.Resolver
	ws       config.WebSocketConfig
	rl       config.RateLimitConfig
	registry *Registry
	metrics  *Metrics
	log      zerolog.Logger
	now      func() time.Time
	validate *validator.Validate
	serve    func(*Client)

	// mu orders activation against Shutdown.
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// Option configures a Hub.
type Option func(*Hub)

// WithClock overrides the clock used to timestamp envelopes.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// WithMetrics records hub activity in m.
func WithMetrics(m *Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithLogger sets the hub's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Hub) { h.log = l }
}

// New creates a hub that authenticates connections with resolver.
func New(resolver identity.Resolver, ws config.WebSocketConfig, rl config.RateLimitConfig, opts ...Option) *Hub {
	h := &Hub{
		resolver: resolver,
		ws:       ws,
		rl:       rl,
		registry: NewRegistry(),
		log:      logging.L().With().Str(logging.FieldComponent, "hub").Logger(),
		now:      time.Now,
		validate: validator.New(),
	}
	h.serve = h.servePumps
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry returns the hub's connection registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// ActiveCount returns the number of Active connections.
func (h *Hub) ActiveCount() int {
	return h.registry.Len()
}

func (h *Hub) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

// Shutdown stops accepting connections, closes every Active connection with
// a going-away close frame and waits for their goroutines to finish.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	var closed int
	h.registry.ForEach(func(c *Client, _ Participant) {
		c.closeWith(websocket.CloseGoingAway, reasonShuttingDown)
		closed++
	})
	h.log.Info().Int(logging.FieldClients, closed).Msg("Closing client connections")

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info().Msg("Hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn().Dur("timeout", timeout).Msg("Hub shutdown timed out; some connections may still be open")
		return context.DeadlineExceeded
	}
}
