package server

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/Tyrowin/civic-chat/internal/config"
)

// originPolicy decides which browser origins may open websocket connections.
type originPolicy struct {
	allowed  map[string]struct{}
	allowAll bool
	log      zerolog.Logger
}

func newOriginPolicy(cfg config.WebSocketConfig, log zerolog.Logger) *originPolicy {
	origins, allowAll := config.NormalizeOrigins(cfg.AllowedOrigins)
	return &originPolicy{
		allowed:  lo.SliceToMap(origins, func(o string) (string, struct{}) { return o, struct{}{} }),
		allowAll: allowAll || cfg.AllowAllOrigins,
		log:      log,
	}
}

func (p *originPolicy) allows(r *http.Request) bool {
	if p.allowAll {
		return true
	}

	header := r.Header.Get("Origin")
	if header == "" {
		return false
	}
	origin, ok := config.NormalizeOrigin(header)
	if !ok {
		return false
	}
	_, exists := p.allowed[origin]
	return exists
}

// check is the upgrader's CheckOrigin hook.
func (p *originPolicy) check(r *http.Request) bool {
	if p.allows(r) {
		return true
	}
	p.log.Warn().Str("origin", r.Header.Get("Origin")).Msg("Blocked websocket connection from disallowed origin")
	return false
}
