package config

import (
	"net/url"
	"strings"

	"github.com/samber/lo"

	"github.com/Tyrowin/civic-chat/internal/logging"
)

// NormalizeOrigins lower-cases and de-duplicates configured origins. A "*"
// entry switches the allow-list off and is reported through the bool result.
func NormalizeOrigins(origins []string) ([]string, bool) {
	if len(origins) == 0 {
		return nil, false
	}

	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range splitList(origins) {
		if origin == "*" {
			allowAll = true
			continue
		}

		normalizedOrigin, ok := NormalizeOrigin(origin)
		if !ok {
			l := logging.L()
			l.Warn().Str("origin", origin).Msg("Ignoring invalid origin in configuration")
			continue
		}

		normalized = append(normalized, normalizedOrigin)
	}

	return lo.Uniq(normalized), allowAll
}

// NormalizeOrigin reduces an origin to scheme://host in lower case.
func NormalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
