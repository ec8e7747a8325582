package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mx-space/distill/internal/models"
	"github.com/mx-space/distill/internal/modules/processing/parser"
	"github.com/mx-space/distill/internal/pkg/pagination"
	"github.com/mx-space/distill/internal/pkg/response"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CacheKey identifies one cached result.
type CacheKey struct {
	ContentID     string
	Mode          string
	Language      string
	PromptVersion string
	ModelID       string
}

// Store persists the result cache, owned records and usage rows.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Lookup returns the exact cache entry for key, or nil on a miss.
func (s *Store) Lookup(ctx context.Context, key CacheKey) (*models.ExtractionCacheModel, error) {
	var entry models.ExtractionCacheModel
	err := s.db.WithContext(ctx).
		Where("content_id = ? AND mode = ? AND language = ? AND prompt_version = ? AND model_id = ?",
			key.ContentID, key.Mode, key.Language, key.PromptVersion, key.ModelID).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Upsert writes entry, replacing any row with the same key. The stored
// transcript is only overwritten when entry carries one.
func (s *Store) Upsert(ctx context.Context, entry *models.ExtractionCacheModel) error {
	columns := []string{"resolved_language", "source_kind", "title", "thumbnail_url", "result", "updated_at"}
	if entry.Transcript != nil {
		columns = append(columns, "transcript")
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "content_id"}, {Name: "mode"}, {Name: "language"}, {Name: "prompt_version"}, {Name: "model_id"},
		},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(entry).Error
}

// LatestTranscript returns the newest non-empty transcript stored for
// contentID under any mode, prompt or model.
func (s *Store) LatestTranscript(ctx context.Context, contentID string) (string, error) {
	var entry models.ExtractionCacheModel
	err := s.db.WithContext(ctx).
		Select("transcript").
		Where("content_id = ? AND transcript IS NOT NULL AND transcript <> ''", contentID).
		Order("updated_at DESC").
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if entry.Transcript == nil {
		return "", nil
	}
	return *entry.Transcript, nil
}

// LatestResult returns the newest stored result for contentID, preferring
// entries in mode. Prompt and model versions are ignored.
func (s *Store) LatestResult(ctx context.Context, contentID, mode string) (*parser.Result, error) {
	entry, err := s.latestEntry(ctx, s.db.Where("content_id = ? AND mode = ?", contentID, mode))
	if err != nil || entry != nil {
		return resultOf(entry), err
	}
	entry, err = s.latestEntry(ctx, s.db.Where("content_id = ?", contentID))
	return resultOf(entry), err
}

func (s *Store) latestEntry(ctx context.Context, query *gorm.DB) (*models.ExtractionCacheModel, error) {
	var entry models.ExtractionCacheModel
	err := query.WithContext(ctx).Order("updated_at DESC").Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func resultOf(entry *models.ExtractionCacheModel) *parser.Result {
	if entry == nil {
		return nil
	}
	result := entry.Result
	return &result
}

// PurgeStale deletes entries last written before cutoff whose prompt version
// or model differ from the active ones.
func (s *Store) PurgeStale(ctx context.Context, cutoff time.Time, promptVersion, modelID string) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("updated_at < ? AND (prompt_version <> ? OR model_id <> ?)", cutoff, promptVersion, modelID).
		Delete(&models.ExtractionCacheModel{})
	return res.RowsAffected, res.Error
}

// CreateRecord stores rec with the next order number of its user.
func (s *Store) CreateRecord(ctx context.Context, rec *models.ExtractionModel) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		counter := models.UserCounterModel{UserID: rec.UserID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&counter).Error; err != nil {
			return fmt.Errorf("ensure counter: %w", err)
		}
		if err := tx.Model(&models.UserCounterModel{}).
			Where("user_id = ?", rec.UserID).
			UpdateColumn("last_order", gorm.Expr("last_order + 1")).Error; err != nil {
			return fmt.Errorf("bump counter: %w", err)
		}
		if err := tx.Where("user_id = ?", rec.UserID).Take(&counter).Error; err != nil {
			return fmt.Errorf("read counter: %w", err)
		}
		rec.OrderNumber = counter.LastOrder
		return tx.Create(rec).Error
	})
}

// ListRecords returns userID's records, newest order number first. An empty
// mode lists every mode.
func (s *Store) ListRecords(ctx context.Context, userID, mode string, q pagination.Query) ([]models.ExtractionModel, response.Pagination, error) {
	query := s.db.WithContext(ctx).Model(&models.ExtractionModel{}).Where("user_id = ?", userID)
	if mode != "" {
		query = query.Where("mode = ?", mode)
	}
	var records []models.ExtractionModel
	pag, err := pagination.Paginate(query.Order("order_number DESC"), q, &records)
	return records, pag, err
}

// GetRecord returns the record id owned by userID, or nil.
func (s *Store) GetRecord(ctx context.Context, userID, id string) (*models.ExtractionModel, error) {
	var rec models.ExtractionModel
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteRecord removes the record id owned by userID and reports whether it
// existed.
func (s *Store) DeleteRecord(ctx context.Context, userID, id string) (bool, error) {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.ExtractionModel{})
	return res.RowsAffected > 0, res.Error
}

// RecordUsage inserts usage rows in one statement.
func (s *Store) RecordUsage(ctx context.Context, rows []models.AIUsageModel) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

// UsageSince sums the tokens and estimated cost userID spent after since.
func (s *Store) UsageSince(ctx context.Context, userID string, since time.Time) (UsageSummary, error) {
	var sum UsageSummary
	err := s.db.WithContext(ctx).Model(&models.AIUsageModel{}).
		Select("COUNT(*) AS calls, COALESCE(SUM(input_tokens), 0) AS input_tokens, COALESCE(SUM(output_tokens), 0) AS output_tokens, COALESCE(SUM(cost_usd), 0) AS cost_usd").
		Where("user_id = ? AND created_at >= ?", userID, since).
		Scan(&sum).Error
	return sum, err
}

// UsageSummary aggregates AI usage rows.
type UsageSummary struct {
	Calls        int64   `json:"calls"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`
}
