package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mx-space/distill/internal/config"
	jwtpkg "github.com/mx-space/distill/internal/pkg/jwt"
	"go.uber.org/zap"
)

// newVerifier builds the bearer token verifier. Without a secret no JWT can
// verify and only API tokens authenticate.
func newVerifier(cfg *config.AppConfig, logger *zap.Logger) (*jwtpkg.Verifier, error) {
	secret := cfg.JWTSecret
	if secret == "" {
		logger.Warn("jwt_secret is empty, only API tokens will authenticate")
		secret = uuid.NewString()
	}
	return jwtpkg.NewVerifier(secret, cfg.JWTIssuer)
}

// applyTimezone sets the process zone used for log timestamps and archive
// key dates.
func applyTimezone(raw string) error {
	tz := strings.TrimSpace(raw)
	if tz == "" {
		return nil
	}
	loc, err := parseTimezoneLocation(tz)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	time.Local = loc
	_ = os.Setenv("TZ", tz)
	return nil
}

// parseTimezoneLocation accepts an IANA name or a fixed "+hh:mm" offset.
func parseTimezoneLocation(tz string) (*time.Location, error) {
	if loc, err := time.LoadLocation(tz); err == nil {
		return loc, nil
	}
	if t, err := time.Parse("-07:00", tz); err == nil {
		_, offset := t.Zone()
		return time.FixedZone(tz, offset), nil
	}
	return nil, fmt.Errorf("expect IANA zone (e.g. Europe/Berlin) or UTC offset (e.g. +08:00)")
}

// humanizeDuration renders d with its two most significant units, e.g.
// "3d 4h" or "12m 5s".
func humanizeDuration(d time.Duration) string {
	units := []struct {
		size time.Duration
		name string
	}{
		{24 * time.Hour, "d"},
		{time.Hour, "h"},
		{time.Minute, "m"},
		{time.Second, "s"},
	}
	var parts []string
	for _, u := range units {
		if d < u.size && len(parts) == 0 {
			continue
		}
		n := d / u.size
		d -= n * u.size
		parts = append(parts, fmt.Sprintf("%d%s", n, u.name))
		if len(parts) == 2 {
			break
		}
	}
	if len(parts) == 0 {
		return "0s"
	}
	return strings.Join(parts, " ")
}
