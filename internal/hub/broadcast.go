package hub

import (
	"encoding/json"
	"errors"
)

func encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Broadcast serializes env once and queues it to every registered connection
// except exclude, which may be nil. It never blocks: a closed recipient is
// skipped and a recipient whose send buffer is full is evicted. It returns
// the number of connections the envelope was queued to.
func (h *Hub) Broadcast(env Envelope, exclude *Client) int {
	payload, err := encode(env)
	if err != nil {
		h.log.Error().Err(err).Str("type", env.EnvelopeType()).Msg("Failed to encode envelope")
		return 0
	}

	var (
		delivered int
		evicted   []*Client
	)
	h.registry.ForEach(func(c *Client, _ Participant) {
		if c == exclude {
			return
		}
		switch err := c.enqueue(payload); {
		case err == nil:
			delivered++
		case errors.Is(err, errSendBufferFull):
			h.metrics.drop("buffer_full")
			evicted = append(evicted, c)
		default:
			h.metrics.drop("closed")
		}
	})
	h.metrics.broadcast(env.EnvelopeType(), delivered)

	h.log.Debug().
		Str("type", env.EnvelopeType()).
		Int("delivered", delivered).
		Int("evicted", len(evicted)).
		Msg("Broadcast envelope")

	for _, c := range evicted {
		c.log.Warn().Msg("Evicting client with full send buffer")
		h.deactivate(c)
	}
	return delivered
}
