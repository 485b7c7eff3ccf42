package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/civic-chat/internal/config"
	"github.com/Tyrowin/civic-chat/internal/hub"
	"github.com/Tyrowin/civic-chat/internal/logging"
)

// WebSocketHandler upgrades requests from allowed origins and hands the
// connection to the hub, which authenticates it.
type WebSocketHandler struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates the upgrade endpoint for h.
func NewWebSocketHandler(h *hub.Hub, cfg config.WebSocketConfig, log zerolog.Logger) *WebSocketHandler {
	origins := newOriginPolicy(cfg, log)
	return &WebSocketHandler{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin:      origins.check,
		},
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		log := logging.Ctx(r.Context())
		log.Info().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	h.hub.Accept(r, conn)
}
