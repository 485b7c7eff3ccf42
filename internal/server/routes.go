package server

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/civic-chat/internal/config"
	"github.com/Tyrowin/civic-chat/internal/hub"
	"github.com/Tyrowin/civic-chat/internal/logging"
)

// SetupRoutes builds the application router. gatherer may be nil when
// metrics are disabled.
func SetupRoutes(h *hub.Hub, cfg config.Config, gatherer prometheus.Gatherer, log zerolog.Logger) http.Handler {
	r := mux.NewRouter()

	r.Handle(cfg.WebSocket.Path, NewWebSocketHandler(h, cfg.WebSocket, log)).Methods(http.MethodGet)
	r.HandleFunc("/", HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/healthz", HealthzHandler(h)).Methods(http.MethodGet)
	r.HandleFunc("/test", TestPageHandler(cfg.WebSocket.Path)).Methods(http.MethodGet)

	if cfg.Metrics.Enabled && gatherer != nil {
		r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{log}),
		handlers.PrintRecoveryStack(false),
	)
	return logging.HTTPMiddleware(log)(recovery(r))
}

// recoveryLogger adapts zerolog to handlers.RecoveryHandlerLogger.
type recoveryLogger struct {
	log zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.log.Error().Interface("panic", v).Msg("Recovered from handler panic")
}
