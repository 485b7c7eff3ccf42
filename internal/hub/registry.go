package hub

import (
	"sync"

	"github.com/samber/lo"
)

// Participant is the identity bound to a registered connection.
type Participant struct {
	UserID      int64
	DisplayName string
}

// Registry maps live connections to their participant records. It is safe
// for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	clients map[*Client]Participant
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[*Client]Participant)}
}

// Register adds c with participant p. It reports false, leaving the existing
// record untouched, if c is already registered.
func (r *Registry) Register(c *Client, p Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[c]; exists {
		return false
	}
	r.clients[c] = p
	return true
}

// Unregister removes c and returns the record it held.
func (r *Registry) Unregister(c *Client) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.clients[c]
	if exists {
		delete(r.clients, c)
	}
	return p, exists
}

// Lookup returns the record for c.
func (r *Registry) Lookup(c *Client) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.clients[c]
	return p, exists
}

// ForEach calls visit for every entry of a snapshot taken under the lock.
// visit runs without the lock held and may call back into the registry.
func (r *Registry) ForEach(visit func(*Client, Participant)) {
	for _, e := range r.snapshot() {
		visit(e.Key, e.Value)
	}
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *Registry) snapshot() []lo.Entry[*Client, Participant] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Entries(r.clients)
}
