package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	appcfg "github.com/mx-space/distill/internal/config"
	"github.com/mx-space/distill/internal/modules/processing/parser"
	"github.com/mx-space/distill/internal/pkg/apperr"
	"github.com/mx-space/distill/internal/pkg/retry"
	"go.uber.org/zap"
)

// ErrNextStrategy tells the resolver to try the next strategy in the chain.
var ErrNextStrategy = errors.New("source: try next strategy")

// Failure reasons carried in source-unavailable messages.
const (
	ReasonNoContent   = "no-content"
	ReasonFetchFailed = "fetch-failed"
	ReasonUnsupported = "unsupported-source"
)

// Status steps reported through Notify.
const (
	StepTranscriptRetry = "transcript-retry"
)

// Notify receives progress updates while a source resolves.
type Notify func(step, message string)

// CacheReader is the cache access the fallback strategies need.
type CacheReader interface {
	// LatestTranscript returns the newest stored transcript for contentID, or "".
	LatestTranscript(ctx context.Context, contentID string) (string, error)
	// LatestResult returns the newest stored result for contentID, preferring
	// mode, or nil.
	LatestResult(ctx context.Context, contentID, mode string) (*parser.Result, error)
}

// Request is what a resolver needs to know about a submission.
type Request struct {
	Kind      Kind
	Locator   string
	ContentID string
	Mode      string
	// Language is the preferred caption language ("es", "en" or "").
	Language string
}

type strategy struct {
	name string
	run  func(ctx context.Context, req Request, notify Notify) (*Content, error)
}

// Resolver turns a request into content by walking an ordered strategy list
// for the request's kind.
type Resolver struct {
	cache            CacheReader
	youtube          *YouTube
	web              *WebFetcher
	transcriptPolicy retry.Policy
	maxChars         int
	logger           *zap.Logger
	chains           map[Kind][]strategy
}

type ResolverOption func(*Resolver)

func WithLogger(logger *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTranscriptBackoff overrides the delay between transcript attempts.
func WithTranscriptBackoff(base, max time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.transcriptPolicy.BaseDelay = base
		r.transcriptPolicy.MaxDelay = max
	}
}

func NewResolver(cache CacheReader, youtube *YouTube, web *WebFetcher, cfg appcfg.SourceConfig, maxChars int, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		cache:            cache,
		youtube:          youtube,
		web:              web,
		transcriptPolicy: retry.Exponential(cfg.TranscriptAttempts, 500*time.Millisecond, 4*time.Second, transcriptRetryable),
		maxChars:         maxChars,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("source")
	r.chains = map[Kind][]strategy{
		KindVideo: {
			{name: "cached-transcript", run: r.cachedTranscript},
			{name: "live-transcript", run: r.liveTranscript},
			{name: "stale-result", run: r.staleResult},
		},
		KindWebURL:   {{name: "web-page", run: r.webPage}},
		KindFileText: {{name: "passthrough", run: passthrough}},
	}
	return r
}

// Resolve returns content for req, truncated to the character budget.
func (r *Resolver) Resolve(ctx context.Context, req Request, notify Notify) (*Content, error) {
	if notify == nil {
		notify = func(string, string) {}
	}
	chain, ok := r.chains[req.Kind]
	if !ok {
		return nil, apperr.SourceUnavailable(ReasonUnsupported+": unsupported source type", nil)
	}

	for _, s := range chain {
		content, err := s.run(ctx, req, notify)
		if errors.Is(err, ErrNextStrategy) {
			r.logger.Debug("strategy yielded nothing", zap.String("strategy", s.name), zap.String("content_id", req.ContentID))
			continue
		}
		if err != nil {
			return nil, err
		}
		content.Text, content.Truncated = Truncate(content.Text, r.maxChars)
		return content, nil
	}
	return nil, apperr.SourceUnavailable(ReasonNoContent+": no transcript is available for this video", nil)
}

func (r *Resolver) cachedTranscript(ctx context.Context, req Request, _ Notify) (*Content, error) {
	if r.cache == nil {
		return nil, ErrNextStrategy
	}
	transcript, err := r.cache.LatestTranscript(ctx, req.ContentID)
	if err != nil {
		r.logger.Warn("cached transcript lookup failed", zap.String("content_id", req.ContentID), zap.Error(err))
		return nil, ErrNextStrategy
	}
	if strings.TrimSpace(transcript) == "" {
		return nil, ErrNextStrategy
	}
	return &Content{Text: transcript, Source: CacheTranscript, Transcript: transcript}, nil
}

func (r *Resolver) liveTranscript(ctx context.Context, req Request, notify Notify) (*Content, error) {
	if r.youtube == nil {
		return nil, ErrNextStrategy
	}
	videoID, ok := VideoID(req.Locator)
	if !ok {
		return nil, ErrNextStrategy
	}

	policy := r.transcriptPolicy.WithOnRetry(func(attempt int, delay time.Duration, err error) {
		r.logger.Warn("transcript fetch failed, retrying",
			zap.String("video_id", videoID), zap.Int("attempt", attempt), zap.Duration("backoff", delay), zap.Error(err))
		notify(StepTranscriptRetry, fmt.Sprintf("Retrying transcript (%d/%d)", attempt+1, r.transcriptPolicy.MaxAttempts))
	})

	var transcript string
	err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		text, err := r.youtube.Transcript(ctx, videoID, req.Language)
		if err != nil {
			return err
		}
		transcript = text
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.logger.Warn("live transcript unavailable", zap.String("video_id", videoID), zap.Error(err))
		return nil, ErrNextStrategy
	}
	return &Content{Text: transcript, Source: FreshlyFetched, Transcript: transcript}, nil
}

func (r *Resolver) staleResult(ctx context.Context, req Request, _ Notify) (*Content, error) {
	if r.cache == nil {
		return nil, ErrNextStrategy
	}
	result, err := r.cache.LatestResult(ctx, req.ContentID, req.Mode)
	if err != nil {
		r.logger.Warn("stale result lookup failed", zap.String("content_id", req.ContentID), zap.Error(err))
		return nil, ErrNextStrategy
	}
	if result == nil || len(result.Phases) == 0 {
		return nil, ErrNextStrategy
	}
	return &Content{Text: ResultAsText(result), Source: CacheStaleResult}, nil
}

func (r *Resolver) webPage(ctx context.Context, req Request, _ Notify) (*Content, error) {
	if r.web == nil {
		return nil, apperr.SourceUnavailable(ReasonUnsupported+": web pages are not enabled", nil)
	}
	page, err := r.web.Fetch(ctx, req.Locator)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperr.SourceUnavailable(ReasonFetchFailed+": the page could not be fetched", err)
	}
	if strings.TrimSpace(page.Text) == "" {
		return nil, apperr.SourceUnavailable(ReasonNoContent+": the page has no readable text", nil)
	}
	return &Content{Text: page.Text, Title: page.Title, Source: FreshlyFetched}, nil
}

func passthrough(_ context.Context, req Request, _ Notify) (*Content, error) {
	text := strings.TrimSpace(req.Locator)
	if text == "" {
		return nil, apperr.Validation("text is empty")
	}
	return &Content{Text: text, Source: FreshlyFetched}, nil
}

// ResultAsText rebuilds transcript-like prose from a stored result so it can
// be analysed again when the original source is unavailable.
func ResultAsText(result *parser.Result) string {
	var b strings.Builder
	if result.Objective != "" {
		b.WriteString(result.Objective)
		b.WriteString("\n\n")
	}
	for _, phase := range result.Phases {
		b.WriteString(phase.Title)
		b.WriteString("\n")
		for _, item := range phase.Items {
			b.WriteString("- ")
			b.WriteString(item)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if result.ProTip != "" {
		b.WriteString(result.ProTip)
	}
	return strings.TrimSpace(b.String())
}

func transcriptRetryable(err error) bool {
	if errors.Is(err, ErrNoCaptions) {
		return false
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.StatusCode == http.StatusTooManyRequests || fetchErr.StatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
