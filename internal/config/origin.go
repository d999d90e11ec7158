package config

import (
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// SetAllowedOrigins replaces the allow-list. "*" allows every origin;
// invalid entries are skipped.
func (c *Config) SetAllowedOrigins(origins []string) {
	normalized, allowAll := normalizeOrigins(origins)
	c.AllowedOrigins = normalized
	c.allowAll = allowAll
	c.allowed = make(map[string]struct{}, len(normalized))
	for _, origin := range normalized {
		c.allowed[origin] = struct{}{}
	}
	if allowAll {
		c.AllowedOrigins = append(c.AllowedOrigins, "*")
	}
}

// OriginAllowed reports whether a WebSocket upgrade from origin may proceed.
// Requests without an Origin header (non-browser clients) are allowed.
func (c *Config) OriginAllowed(origin string) bool {
	if origin == "" || c.allowAll {
		return true
	}
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	_, exists := c.allowed[normalized]
	return exists
}

func normalizeOrigins(origins []string) ([]string, bool) {
	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAll = true
			continue
		}

		normalizedOrigin, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn().Str("module", "config").Str("origin", origin).Msg("ignoring invalid origin")
			continue
		}
		normalized = append(normalized, normalizedOrigin)
	}
	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
