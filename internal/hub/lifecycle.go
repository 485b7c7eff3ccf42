package hub

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/civic-chat/internal/identity"
	"github.com/Tyrowin/civic-chat/internal/logging"
)

// State is a connection's lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const reasonShuttingDown = "Server shutting down"

// Accept takes ownership of a freshly upgraded connection. It resolves the
// identity behind r and either activates the connection or closes it with
// a policy-violation close frame. Accept returns once the connection is
// Active or Closed; an Active connection is then served by its own pumps.
func (h *Hub) Accept(r *http.Request, conn *websocket.Conn) {
	c := newClient(h, conn, logging.ClientIP(r))
	logging.Annotate(r.Context(), logging.FieldConnID, c.id)

	if h.isClosing() {
		h.reject(c, websocket.CloseGoingAway, reasonShuttingDown)
		h.admitted(r, "shutting_down")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.ws.HandshakeTimeout)
	id, err := h.resolver.ResolveIdentity(ctx, r)
	cancel()
	if err != nil {
		reason := identity.Reason(err)
		c.log.Info().Err(err).Str("reason", reason).Msg("Rejecting websocket connection")
		h.reject(c, websocket.ClosePolicyViolation, reason)
		h.admitted(r, "rejected")
		return
	}

	p := Participant{UserID: id.ID, DisplayName: identity.DisplayName(id.Name)}
	if !h.activate(c, p) {
		h.reject(c, websocket.CloseGoingAway, reasonShuttingDown)
		h.admitted(r, "shutting_down")
		return
	}
	logging.Annotate(r.Context(), logging.FieldUserID, p.UserID)
	h.admitted(r, "accepted")
}

// admitted records how the handshake behind r ended.
func (h *Hub) admitted(r *http.Request, result string) {
	h.metrics.connection(result)
	logging.Annotate(r.Context(), logging.FieldWSResult, result)
}

// reject closes a connection that never became Active.
func (h *Hub) reject(c *Client, code int, reason string) {
	c.state.Store(int32(StateClosed))
	c.closeSend()
	c.closeWith(code, reason)
}

// activate moves c from Connecting to Active: the welcome is queued before c
// becomes visible to broadcasts, so it is always the first frame c receives.
// Pumps start only once the join notice is queued, so peers never see a
// message from c or its departure ahead of it.
func (h *Hub) activate(c *Client, p Participant) bool {
	h.mu.Lock()
	if h.closing || !c.state.CompareAndSwap(int32(StateConnecting), int32(StateActive)) {
		h.mu.Unlock()
		return false
	}

	c.log = c.log.With().
		Int64(logging.FieldUserID, p.UserID).
		Str(logging.FieldUsername, p.DisplayName).
		Logger()

	if payload, err := encode(NewSystemEnvelope(welcomeText(p.DisplayName), h.now())); err == nil {
		_ = c.enqueue(payload)
	}
	h.registry.Register(c, p)
	// Counted before closing can be set so Shutdown waits for these pumps.
	h.wg.Add(1)
	h.mu.Unlock()

	count := h.registry.Len()
	h.metrics.setActive(count)
	c.log.Info().Int(logging.FieldClients, count).Msg("Client connected")

	h.Broadcast(NewSystemEnvelope(joinedText(p.DisplayName), h.now()), c)

	go func() {
		defer h.wg.Done()
		h.serve(c)
	}()
	return true
}

// deactivate moves c to Closed. It is idempotent; only the call that removes
// c from the registry announces the departure.
func (h *Hub) deactivate(c *Client) {
	if State(c.state.Swap(int32(StateClosed))) == StateClosed {
		return
	}

	p, removed := h.registry.Unregister(c)
	c.closeSend()
	c.closeConn()
	if !removed {
		return
	}

	count := h.registry.Len()
	h.metrics.setActive(count)
	c.log.Info().Int(logging.FieldClients, count).Msg("Client disconnected")

	if h.isClosing() {
		return
	}
	h.Broadcast(NewSystemEnvelope(leftText(p.DisplayName), h.now()), nil)
}
