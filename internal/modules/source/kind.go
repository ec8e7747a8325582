package source

import (
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"

	"github.com/mx-space/distill/internal/pkg/apperr"
	"golang.org/x/crypto/blake2b"
)

// Kind is the class of a submitted source.
type Kind string

const (
	KindVideo    Kind = "video"
	KindWebURL   Kind = "web_url"
	KindFileText Kind = "file_text"
)

func ParseKind(raw string) (Kind, bool) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindVideo, KindWebURL, KindFileText:
		return k, true
	}
	return "", false
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,64}$`)

var youtubeHosts = map[string]bool{
	"youtube.com":              true,
	"www.youtube.com":          true,
	"m.youtube.com":            true,
	"music.youtube.com":        true,
	"youtube-nocookie.com":     true,
	"www.youtube-nocookie.com": true,
	"youtu.be":                 true,
}

// VideoID returns the YouTube video id of locator, if it is a YouTube URL.
func VideoID(locator string) (string, bool) {
	u, ok := parseHTTPURL(locator)
	if !ok {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if !youtubeHosts[host] {
		return "", false
	}

	var id string
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch {
	case host == "youtu.be":
		id = segments[0]
	case segments[0] == "watch":
		id = u.Query().Get("v")
	case len(segments) >= 2 && (segments[0] == "shorts" || segments[0] == "embed" || segments[0] == "live" || segments[0] == "v"):
		id = segments[1]
	}
	if !videoIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

func parseHTTPURL(raw string) (*url.URL, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.ContainsAny(s, " \n\t") {
		return nil, false
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	return u, true
}

// Detect classifies locator. A non-empty hint wins when it is consistent
// with the locator; an inconsistent hint is a validation error.
func Detect(locator, hint string) (Kind, error) {
	if strings.TrimSpace(locator) == "" {
		return "", apperr.Validation("a url or text is required")
	}

	detected := KindFileText
	if _, ok := VideoID(locator); ok {
		detected = KindVideo
	} else if _, ok := parseHTTPURL(locator); ok {
		detected = KindWebURL
	}

	if strings.TrimSpace(hint) == "" {
		return detected, nil
	}
	kind, ok := ParseKind(hint)
	if !ok {
		return "", apperr.Validation("unsupported source type %q", hint)
	}
	switch {
	case kind == detected:
		return kind, nil
	case kind == KindWebURL && detected == KindVideo:
		// A YouTube page may be read as a plain web page on request.
		return kind, nil
	case kind == KindFileText:
		return kind, nil
	}
	return "", apperr.Validation("source type %q does not match the submitted input", hint)
}

// Identity derives the stable content identity for a source.
func Identity(kind Kind, locator string) string {
	switch kind {
	case KindVideo:
		if id, ok := VideoID(locator); ok {
			return "yt:" + id
		}
	case KindWebURL:
		return "url:" + digest(normalizeURL(locator))
	}
	return "text:" + digest(strings.TrimSpace(locator))
}

func digest(s string) string {
	sum := blake2b.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:32]
}

// normalizeURL drops fragments, tracking parameters and trailing slashes so
// trivially different links share a cache entry.
func normalizeURL(raw string) string {
	u, ok := parseHTTPURL(raw)
	if !ok {
		return strings.TrimSpace(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")

	query := u.Query()
	for key := range query {
		if strings.HasPrefix(key, "utm_") || key == "fbclid" || key == "gclid" {
			query.Del(key)
		}
	}
	u.RawQuery = query.Encode()
	return u.String()
}
