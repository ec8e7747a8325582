package extraction

import (
	"context"
	"time"

	"github.com/mx-space/distill/internal/models"
	"github.com/mx-space/distill/internal/modules/processing/ai"
	"github.com/mx-space/distill/internal/modules/processing/parser"
	"github.com/mx-space/distill/internal/modules/source"
	"go.uber.org/zap"
)

// UsageEntry is one AI call made by a run.
type UsageEntry struct {
	Operation  string
	Model      ai.ModelIdentity
	Completion *ai.Completion
}

// Outcome is everything a finished run hands to the writer.
type Outcome struct {
	UserID        string
	Key           CacheKey
	CacheHit      bool
	Kind          source.Kind
	SourceURL     string
	ContentSource source.ContentSource
	Language      string
	Title         string
	ThumbnailURL  string
	Truncated     bool
	Transcript    string
	Result        *parser.Result
	Usage         []UsageEntry
}

// Writer commits a finished run: cache entry, owned record, usage rows.
type Writer struct {
	store   *Store
	pricing *ai.Pricing
	logger  *zap.Logger
	now     func() time.Time
}

func NewWriter(store *Store, pricing *ai.Pricing, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pricing == nil {
		pricing = ai.NewPricing(nil)
	}
	return &Writer{store: store, pricing: pricing, logger: logger.Named("writer"), now: time.Now}
}

// Commit runs the three persistence steps. Each failure is logged and the
// remaining steps still run; the returned record is nil when it could not be
// stored. Results built from a stale cached result are not cached again, so
// the next request retries the live transcript.
func (w *Writer) Commit(ctx context.Context, o *Outcome) *models.ExtractionModel {
	log := w.logger.With(zap.String("user_id", o.UserID), zap.String("content_id", o.Key.ContentID), zap.String("mode", o.Key.Mode))

	if !o.CacheHit && o.ContentSource != source.CacheStaleResult {
		if err := w.store.Upsert(ctx, w.cacheEntry(o)); err != nil {
			log.Error("cache upsert failed", zap.Error(err))
		}
	}

	rec := &models.ExtractionModel{
		UserID:        o.UserID,
		Mode:          o.Key.Mode,
		Language:      o.Language,
		SourceKind:    string(o.Kind),
		SourceURL:     o.SourceURL,
		ContentID:     o.Key.ContentID,
		ContentSource: string(o.ContentSource),
		Title:         o.Title,
		ThumbnailURL:  o.ThumbnailURL,
		Cached:        o.CacheHit,
		Truncated:     o.Truncated,
		Objective:     o.Result.Objective,
		Phases:        o.Result.Phases,
		ProTip:        o.Result.ProTip,
		Metadata:      o.Result.Metadata,
	}
	if err := w.store.CreateRecord(ctx, rec); err != nil {
		log.Error("record write failed", zap.Error(err))
		rec = nil
	}

	if len(o.Usage) > 0 {
		var extractionID *string
		if rec != nil {
			extractionID = &rec.ID
		}
		if err := w.store.RecordUsage(ctx, w.usageRows(o, extractionID)); err != nil {
			log.Error("usage write failed", zap.Error(err))
		}
	}
	return rec
}

func (w *Writer) cacheEntry(o *Outcome) *models.ExtractionCacheModel {
	entry := &models.ExtractionCacheModel{
		ContentID:        o.Key.ContentID,
		Mode:             o.Key.Mode,
		Language:         o.Key.Language,
		PromptVersion:    o.Key.PromptVersion,
		ModelID:          o.Key.ModelID,
		ResolvedLanguage: o.Language,
		SourceKind:       string(o.Kind),
		Title:            o.Title,
		ThumbnailURL:     o.ThumbnailURL,
		Result:           *o.Result,
		UpdatedAt:        w.now(),
	}
	if o.Transcript != "" {
		transcript := o.Transcript
		entry.Transcript = &transcript
	}
	return entry
}

func (w *Writer) usageRows(o *Outcome, extractionID *string) []models.AIUsageModel {
	rows := make([]models.AIUsageModel, 0, len(o.Usage))
	for _, u := range o.Usage {
		if u.Completion == nil {
			continue
		}
		rows = append(rows, models.AIUsageModel{
			UserID:       o.UserID,
			ExtractionID: extractionID,
			Operation:    u.Operation,
			Provider:     u.Model.Provider,
			Model:        u.Model.Model,
			InputTokens:  u.Completion.InputTokens,
			OutputTokens: u.Completion.OutputTokens,
			CostUSD:      w.pricing.Estimate(u.Model.Model, u.Completion.InputTokens, u.Completion.OutputTokens),
		})
	}
	return rows
}
