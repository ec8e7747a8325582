package extraction

import (
	"context"
	"fmt"
	"strings"

	appcfg "github.com/mx-space/distill/internal/config"
	"github.com/mx-space/distill/internal/models"
	"github.com/mx-space/distill/internal/modules/processing/ai"
	"github.com/mx-space/distill/internal/modules/processing/parser"
	"github.com/mx-space/distill/internal/modules/processing/prompt"
	"github.com/mx-space/distill/internal/modules/source"
	"github.com/mx-space/distill/internal/pkg/apperr"
	"github.com/mx-space/distill/internal/pkg/quota"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Limiter is the per-user quota. *quota.Limiter satisfies it.
type Limiter interface {
	Consume(ctx context.Context, userID string) (quota.Decision, error)
	Peek(ctx context.Context, userID string) (quota.Decision, error)
	Refund(ctx context.Context, userID string) error
}

// Resolver turns a request into content. *source.Resolver satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, req source.Request, notify source.Notify) (*source.Content, error)
}

// Previewer fetches video metadata. *source.YouTube satisfies it.
type Previewer interface {
	Preview(ctx context.Context, videoID string) (*source.Preview, error)
}

// Service admits and runs extractions.
type Service struct {
	store           *Store
	limiter         Limiter
	resolver        Resolver
	previewer       Previewer
	engines         EngineSource
	writer          *Writer
	archiver        parser.Archiver
	maxOutputTokens int
	logger          *zap.Logger
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPreviewer enables the video preview lookup.
func WithPreviewer(p Previewer) Option {
	return func(s *Service) { s.previewer = p }
}

// WithArchiver stores raw model output the repair cascade gave up on.
func WithArchiver(a parser.Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

func NewService(store *Store, limiter Limiter, resolver Resolver, engines EngineSource, writer *Writer, cfg appcfg.ExtractionConfig, opts ...Option) *Service {
	s := &Service{
		store:           store,
		limiter:         limiter,
		resolver:        resolver,
		engines:         engines,
		writer:          writer,
		maxOutputTokens: cfg.MaxOutputTokens,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("extraction")
	return s
}

// Run is an admitted extraction waiting to execute.
type Run struct {
	svc      *Service
	userID   string
	kind     source.Kind
	locator  string
	mode     prompt.Mode
	language prompt.Language
	key      CacheKey
	engine   *Engine
	hit      *models.ExtractionCacheModel
	// Quota is the window after admission, for response headers.
	Quota quota.Decision
}

// Cached reports whether the run will be served from the cache.
func (r *Run) Cached() bool { return r.hit != nil }

// Key is the cache key of the run.
func (r *Run) Key() CacheKey { return r.key }

// UserID is the owner of the run.
func (r *Run) UserID() string { return r.userID }

// Prepare validates in, looks up the cache and charges the quota on a miss.
// Every failure here happens before any output is produced.
func (s *Service) Prepare(ctx context.Context, userID string, in Input) (*Run, error) {
	run, err := s.Plan(ctx, userID, in)
	if err != nil {
		return nil, err
	}
	if err := run.Admit(ctx); err != nil {
		return nil, err
	}
	return run, nil
}

// Plan validates in and looks up the cache without touching the quota.
func (s *Service) Plan(ctx context.Context, userID string, in Input) (*Run, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.New(apperr.KindUnauthenticated, "authentication required")
	}

	mode, ok := prompt.ModeActionPlan, true
	if strings.TrimSpace(in.Mode) != "" {
		mode, ok = prompt.ParseMode(in.Mode)
	}
	if !ok {
		return nil, apperr.Validation("mode must be one of %s", joinModes())
	}
	language, ok := prompt.ParseLanguage(in.OutputLanguage)
	if !ok {
		return nil, apperr.Validation("outputLanguage must be auto, es or en")
	}
	kind, locator, err := detectSource(in)
	if err != nil {
		return nil, err
	}

	engine, err := s.engines(ctx)
	if err != nil {
		return nil, err
	}

	run := &Run{
		svc:      s,
		userID:   userID,
		kind:     kind,
		locator:  locator,
		mode:     mode,
		language: language,
		engine:   engine,
		key: CacheKey{
			ContentID:     source.Identity(kind, locator),
			Mode:          string(mode),
			Language:      string(language),
			PromptVersion: prompt.Version,
			ModelID:       engine.ModelID(),
		},
	}

	hit, err := s.store.Lookup(ctx, run.key)
	if err != nil {
		s.logger.Warn("cache lookup failed, treating as miss", zap.String("content_id", run.key.ContentID), zap.Error(err))
	}
	run.hit = hit
	return run, nil
}

// Admit charges one quota unit unless the run is a cache hit.
func (r *Run) Admit(ctx context.Context) error {
	s := r.svc
	if r.hit != nil {
		d, err := s.limiter.Peek(ctx, r.userID)
		if err != nil {
			s.logger.Warn("quota peek failed", zap.String("user_id", r.userID), zap.Error(err))
		}
		r.Quota = d
		return nil
	}

	d, err := s.limiter.Consume(ctx, r.userID)
	if err != nil {
		return apperr.Internal(fmt.Errorf("consume quota: %w", err))
	}
	r.Quota = d
	if !d.Allowed {
		return apperr.RateLimited(apperr.RateLimit{
			Limit:             d.Limit,
			Remaining:         d.Remaining,
			ResetAt:           d.ResetAt,
			RetryAfterSeconds: d.RetryAfterSeconds,
		})
	}
	return nil
}

// Refund returns the unit Admit charged. Cache hits were never charged.
func (r *Run) Refund(ctx context.Context) {
	if r.hit != nil {
		return
	}
	if err := r.svc.limiter.Refund(ctx, r.userID); err != nil {
		r.svc.logger.Warn("quota refund failed", zap.String("user_id", r.userID), zap.Error(err))
	}
}

func detectSource(in Input) (source.Kind, string, error) {
	url := strings.TrimSpace(in.URL)
	text := strings.TrimSpace(in.Text)
	hint := strings.TrimSpace(in.SourceType)

	switch {
	case url == "" && text == "":
		return "", "", apperr.Validation("either url or text is required")
	case url != "" && text != "":
		return "", "", apperr.Validation("provide either url or text, not both")
	case text != "":
		if hint != "" {
			if kind, ok := source.ParseKind(hint); !ok || kind != source.KindFileText {
				return "", "", apperr.Validation("sourceType %q does not match a text submission", hint)
			}
		}
		return source.KindFileText, text, nil
	}

	kind, err := source.Detect(url, hint)
	if err != nil {
		return "", "", err
	}
	if kind == source.KindFileText && hint == "" {
		return "", "", apperr.Validation("url must be an http(s) link")
	}
	return kind, url, nil
}

func joinModes() string {
	names := make([]string, len(prompt.Modes))
	for i, m := range prompt.Modes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

// Execute runs the pipeline, reporting progress to obs. A cancelled ctx
// returns its error and skips persistence.
func (r *Run) Execute(ctx context.Context, obs Observer) (*Response, error) {
	if obs == nil {
		obs = discardObserver{}
	}
	if r.hit != nil {
		obs.Status(StepCache, "Found a previous result")
		return r.commitHit(ctx)
	}
	obs.Status(StepCache, "No previous result, starting a new extraction")
	return r.extract(ctx, obs)
}

func (r *Run) commitHit(ctx context.Context) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := r.hit.Result
	o := &Outcome{
		UserID:       r.userID,
		Key:          r.key,
		CacheHit:     true,
		Kind:         r.kind,
		SourceURL:    r.sourceURL(),
		Language:     r.hit.ResolvedLanguage,
		Title:        r.hit.Title,
		ThumbnailURL: r.hit.ThumbnailURL,
		Result:       &result,
	}
	rec := r.svc.writer.Commit(ctx, o)
	return newResponse(o, rec), nil
}

func (r *Run) extract(ctx context.Context, obs Observer) (*Response, error) {
	s := r.svc
	log := s.logger.With(zap.String("user_id", r.userID), zap.String("content_id", r.key.ContentID), zap.String("mode", r.key.Mode))

	if r.kind == source.KindVideo {
		obs.Status(StepTranscript, "Fetching the transcript")
	} else {
		obs.Status(StepSource, "Reading the source")
	}
	captionLanguage := ""
	if r.language != prompt.LanguageAuto {
		captionLanguage = string(r.language)
	}
	content, err := s.resolver.Resolve(ctx, source.Request{
		Kind:      r.kind,
		Locator:   r.locator,
		ContentID: r.key.ContentID,
		Mode:      r.key.Mode,
		Language:  captionLanguage,
	}, obs.Status)
	if err != nil {
		return nil, err
	}

	language := r.language.Resolve(content.Text)
	obs.Status(StepLanguage, "Writing the result in "+language.Name())

	// The preview overlaps the AI call; its failure only loses the thumbnail.
	g, gctx := errgroup.WithContext(ctx)
	var preview *source.Preview
	if videoID, ok := source.VideoID(r.locator); ok && r.kind == source.KindVideo && s.previewer != nil {
		g.Go(func() error {
			p, err := s.previewer.Preview(gctx, videoID)
			if err != nil {
				log.Debug("video preview unavailable", zap.Error(err))
				return nil
			}
			preview = p
			return nil
		})
	}

	obs.Status(StepAnalyzing, "Analyzing the content")
	p := prompt.Build(r.mode, language, content.Text, content.Title)
	req := ai.Request{System: p.System, Prompt: p.User, MaxTokens: s.maxOutputTokens}

	var completion *ai.Completion
	if obs.Streaming() {
		completion, err = r.engine.Extract.InvokeStream(ctx, req, ai.BudgetPrimary, obs.Text)
	} else {
		completion, err = r.engine.Extract.Invoke(ctx, req, ai.BudgetPrimary)
	}
	if err != nil {
		_ = g.Wait()
		return nil, err
	}

	usage := []UsageEntry{{Operation: parser.OperationExtract, Model: r.engine.Extract.Identity(), Completion: completion}}
	cascade := parser.NewCascade(r.engine.Repair, s.maxOutputTokens, parser.WithArchiver(s.archiver), parser.WithLogger(s.logger))
	result, err := cascade.Run(ctx, completion.Text, parser.Hooks{
		OnRepair: func(strategy prompt.RepairStrategy) {
			obs.Status(StepRepair, "Repairing the response format ("+string(strategy)+")")
		},
		OnUsage: func(operation string, c *ai.Completion) {
			usage = append(usage, UsageEntry{Operation: operation, Model: r.engine.Repair.Identity(), Completion: c})
		},
	})
	_ = g.Wait()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o := &Outcome{
		UserID:        r.userID,
		Key:           r.key,
		Kind:          r.kind,
		SourceURL:     r.sourceURL(),
		ContentSource: content.Source,
		Language:      string(language),
		Title:         content.Title,
		Truncated:     content.Truncated,
		Transcript:    content.Transcript,
		Result:        result,
		Usage:         usage,
	}
	if preview != nil {
		if o.Title == "" {
			o.Title = preview.Title
		}
		o.ThumbnailURL = preview.ThumbnailURL
	}
	if o.Title == "" {
		o.Title = fallbackTitle(result)
	}

	rec := s.writer.Commit(ctx, o)
	log.Info("extraction finished",
		zap.String("content_source", string(content.Source)),
		zap.Int("ai_calls", len(usage)),
		zap.Bool("recorded", rec != nil))
	return newResponse(o, rec), nil
}

func (r *Run) sourceURL() string {
	if r.kind == source.KindFileText {
		return ""
	}
	return r.locator
}

// fallbackTitle derives a title from the objective for sources without one.
func fallbackTitle(result *parser.Result) string {
	title := []rune(strings.TrimSpace(result.Objective))
	if len(title) > 80 {
		return strings.TrimSpace(string(title[:80])) + "…"
	}
	return string(title)
}

// Stream executes the run in its own goroutine and returns its events. The
// channel ends with exactly one done event, preceded by either a result or an
// error, and is closed afterwards. Nothing is sent once ctx is done.
func (r *Run) Stream(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		obs := &channelObserver{ctx: ctx, ch: ch}
		resp, err := r.Execute(ctx, obs)
		if err != nil {
			if ctx.Err() == nil {
				r.svc.logger.Warn("extraction failed", zap.String("user_id", r.userID), zap.String("kind", string(apperr.KindOf(err))), zap.Error(err))
			}
			obs.send(Event{Type: EventError, Data: ErrorDataOf(err)})
			obs.send(Event{Type: EventDone, Data: DoneData{OK: false}})
			return
		}
		obs.send(Event{Type: EventResult, Data: resp})
		obs.send(Event{Type: EventDone, Data: DoneData{OK: true}})
	}()
	return ch
}
