package app

import (
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/mx-space/distill/internal/config"
)

// Browser clients read the quota headers and the export filename, and resume
// event streams with Last-Event-ID.
var (
	corsAllowHeaders  = []string{"Origin", "Content-Type", "Authorization", "Last-Event-ID"}
	corsExposeHeaders = []string{
		"Content-Length", "Content-Disposition", "X-Request-Id",
		"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After",
	}
)

func corsConfig(cfg *config.AppConfig) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     corsAllowHeaders,
		ExposeHeaders:    corsExposeHeaders,
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.IsDev() || len(cfg.AllowedOrigins) == 0 {
		c.AllowOriginFunc = func(string) bool { return true }
		return c
	}
	c.AllowOriginFunc = newOriginMatcher(cfg.AllowedOrigins).Allow
	return c
}

// originMatcher holds allowed_origins entries reduced to hosts. An entry is a
// host ("app.example.com"), a full origin, a subdomain wildcard
// ("*.example.com"), a port wildcard ("localhost:*") or "*".
type originMatcher []string

func newOriginMatcher(entries []string) originMatcher {
	m := make(originMatcher, 0, len(entries))
	for _, e := range entries {
		if e = originHost(e); e != "" {
			m = append(m, e)
		}
	}
	return m
}

func (m originMatcher) Allow(origin string) bool {
	host := originHost(origin)
	if host == "" {
		return false
	}
	for _, pattern := range m {
		if hostMatches(pattern, host) {
			return true
		}
	}
	return false
}

// originHost lowercases the host[:port] of an origin. Values without a
// scheme are taken as hosts already.
func originHost(origin string) string {
	origin = strings.ToLower(strings.TrimSpace(origin))
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		return u.Host
	}
	return strings.TrimSuffix(origin, "/")
}

func hostMatches(pattern, host string) bool {
	switch {
	case pattern == "*" || pattern == host:
		return true
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(host, pattern[1:])
	case strings.HasSuffix(pattern, ":*"):
		name, _, ok := strings.Cut(host, ":")
		return ok && name == strings.TrimSuffix(pattern, ":*")
	}
	return false
}
