package hub

import (
	"encoding/json"
)

// inbound is the only payload shape clients may send.
type inbound struct {
	Content *string `json:"content" validate:"required"`
}

// HandleInbound relays a raw payload from c as a message envelope to every
// participant, c included. Malformed payloads and payloads from connections
// that are not registered are dropped; c stays connected either way.
func (h *Hub) HandleInbound(c *Client, raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.metrics.dropInbound("malformed")
		c.log.Info().Err(err).Msg("Dropping malformed payload")
		return
	}
	if err := h.validate.Struct(msg); err != nil {
		h.metrics.dropInbound("missing_content")
		c.log.Info().Err(err).Msg("Dropping payload without content")
		return
	}

	p, ok := h.registry.Lookup(c)
	if !ok {
		h.metrics.dropInbound("unregistered")
		c.log.Debug().Msg("Dropping payload from unregistered connection")
		return
	}

	h.Broadcast(NewMessageEnvelope(p.DisplayName, *msg.Content, h.now()), nil)
}
