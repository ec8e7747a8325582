package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	appcfg "github.com/mx-space/distill/internal/config"
	"golang.org/x/time/rate"
)

// ErrNoCaptions means the video has no usable caption track. It is final for
// the live transcript strategy.
var ErrNoCaptions = errors.New("video has no captions")

// FetchError is a non-2xx response from an outbound fetch.
type FetchError struct {
	URL        string
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
}

// Preview is lightweight video metadata shown next to a result.
type Preview struct {
	Title        string `json:"title"`
	Author       string `json:"author"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

// YouTube fetches transcripts and oEmbed previews. All requests share one
// token bucket.
type YouTube struct {
	baseURL   string
	oembedURL string
	userAgent string
	maxBody   int64
	client    *http.Client
	limiter   *rate.Limiter
}

func NewYouTube(cfg appcfg.SourceConfig, client *http.Client) *YouTube {
	if client == nil {
		client = &http.Client{Timeout: cfg.FetchTimeout}
	}
	burst := cfg.YouTubeBurst
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if cfg.YouTubeRPS > 0 {
		limit = rate.Limit(cfg.YouTubeRPS)
	}
	return &YouTube{
		baseURL:   strings.TrimRight(cfg.YouTubeBaseURL, "/"),
		oembedURL: cfg.YouTubeOEmbedURL,
		userAgent: cfg.UserAgent,
		maxBody:   cfg.MaxBodyBytes,
		client:    client,
		limiter:   rate.NewLimiter(limit, burst),
	}
}

func (y *YouTube) get(ctx context.Context, target string) ([]byte, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", y.userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,es;q=0.8")

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: target, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, y.maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
}

// Transcript returns the caption text of videoID, preferring a track in
// language and manual captions over automatic ones.
func (y *YouTube) Transcript(ctx context.Context, videoID, language string) (string, error) {
	page, err := y.get(ctx, y.baseURL+"/watch?v="+url.QueryEscape(videoID))
	if err != nil {
		return "", err
	}
	tracks, err := parseCaptionTracks(page)
	if err != nil {
		return "", err
	}
	track := pickTrack(tracks, language)

	trackURL, err := y.resolve(track.BaseURL)
	if err != nil {
		return "", err
	}
	q := trackURL.Query()
	q.Set("fmt", "json3")
	trackURL.RawQuery = q.Encode()

	body, err := y.get(ctx, trackURL.String())
	if err != nil {
		return "", err
	}
	text, err := parseJSON3(body)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", ErrNoCaptions
	}
	return text, nil
}

func (y *YouTube) resolve(ref string) (*url.URL, error) {
	base, err := url.Parse(y.baseURL + "/")
	if err != nil {
		return nil, err
	}
	target, err := base.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("caption url: %w", err)
	}
	return target, nil
}

// parseCaptionTracks pulls the captionTracks array out of the player
// response embedded in the watch page.
func parseCaptionTracks(page []byte) ([]captionTrack, error) {
	const marker = `"captionTracks":`
	s := string(page)
	idx := strings.Index(s, marker)
	if idx < 0 {
		return nil, ErrNoCaptions
	}
	rest := s[idx+len(marker):]
	end := matchingBracket(rest)
	if end < 0 {
		return nil, ErrNoCaptions
	}

	var tracks []captionTrack
	if err := json.Unmarshal([]byte(rest[:end+1]), &tracks); err != nil {
		return nil, fmt.Errorf("decode caption tracks: %w", err)
	}
	usable := tracks[:0]
	for _, t := range tracks {
		if t.BaseURL != "" {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 {
		return nil, ErrNoCaptions
	}
	return usable, nil
}

// matchingBracket returns the index of the ']' closing the array that starts
// at s[0], or -1.
func matchingBracket(s string) int {
	if !strings.HasPrefix(s, "[") {
		return -1
	}
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func pickTrack(tracks []captionTrack, language string) captionTrack {
	matches := func(t captionTrack) bool {
		return language != "" && strings.HasPrefix(strings.ToLower(t.LanguageCode), language)
	}
	for _, t := range tracks {
		if matches(t) && t.Kind != "asr" {
			return t
		}
	}
	for _, t := range tracks {
		if matches(t) {
			return t
		}
	}
	for _, t := range tracks {
		if t.Kind != "asr" {
			return t
		}
	}
	return tracks[0]
}

func parseJSON3(body []byte) (string, error) {
	var doc struct {
		Events []struct {
			Segs []struct {
				UTF8 string `json:"utf8"`
			} `json:"segs"`
		} `json:"events"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("decode transcript: %w", err)
	}

	var b strings.Builder
	for _, event := range doc.Events {
		for _, seg := range event.Segs {
			b.WriteString(seg.UTF8)
		}
		b.WriteByte(' ')
	}
	return strings.Join(strings.Fields(b.String()), " "), nil
}

// Preview fetches oEmbed metadata for videoID.
func (y *YouTube) Preview(ctx context.Context, videoID string) (*Preview, error) {
	watch := y.baseURL + "/watch?v=" + url.QueryEscape(videoID)
	target := y.oembedURL + "?format=json&url=" + url.QueryEscape(watch)
	body, err := y.get(ctx, target)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Title        string `json:"title"`
		AuthorName   string `json:"author_name"`
		ThumbnailURL string `json:"thumbnail_url"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode oembed: %w", err)
	}
	return &Preview{Title: doc.Title, Author: doc.AuthorName, ThumbnailURL: doc.ThumbnailURL}, nil
}
