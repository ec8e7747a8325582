package models

import (
	"time"

	"github.com/mx-space/distill/internal/modules/processing/parser"
)

// ExtractionCacheModel is one cached result, unique per content identity,
// mode, requested language, prompt version and model.
type ExtractionCacheModel struct {
	ID               uint          `json:"-"                gorm:"primaryKey;autoIncrement"`
	ContentID        string        `json:"content_id"       gorm:"size:80;not null;uniqueIndex:idx_cache_key,priority:1;index"`
	Mode             string        `json:"mode"             gorm:"size:32;not null;uniqueIndex:idx_cache_key,priority:2"`
	Language         string        `json:"language"         gorm:"size:8;not null;uniqueIndex:idx_cache_key,priority:3"`
	PromptVersion    string        `json:"prompt_version"   gorm:"size:32;not null;uniqueIndex:idx_cache_key,priority:4"`
	ModelID          string        `json:"model_id"         gorm:"size:128;not null;uniqueIndex:idx_cache_key,priority:5"`
	ResolvedLanguage string        `json:"resolved_language" gorm:"size:8"`
	SourceKind       string        `json:"source_kind"      gorm:"size:16"`
	Title            string        `json:"title"            gorm:"size:512"`
	ThumbnailURL     string        `json:"thumbnail_url"    gorm:"type:text"`
	Transcript       *string       `json:"-"                gorm:"type:longtext"`
	Result           parser.Result `json:"result"           gorm:"type:longtext;serializer:json"`
	CreatedAt        time.Time     `json:"created"`
	UpdatedAt        time.Time     `json:"modified"         gorm:"index"`
}

func (ExtractionCacheModel) TableName() string { return "extraction_cache" }

// ExtractionModel is a result owned by a user. OrderNumber is unique and
// increasing per user.
type ExtractionModel struct {
	Base
	UserID        string          `json:"-"              gorm:"size:64;not null;uniqueIndex:idx_user_order,priority:1"`
	OrderNumber   int64           `json:"order_number"   gorm:"not null;uniqueIndex:idx_user_order,priority:2"`
	Mode          string          `json:"mode"           gorm:"size:32;not null"`
	Language      string          `json:"language"       gorm:"size:8"`
	SourceKind    string          `json:"source_kind"    gorm:"size:16"`
	SourceURL     string          `json:"source_url"     gorm:"type:text"`
	ContentID     string          `json:"content_id"     gorm:"size:80;index"`
	ContentSource string          `json:"content_source" gorm:"size:32"`
	Title         string          `json:"title"          gorm:"size:512"`
	ThumbnailURL  string          `json:"thumbnail_url"  gorm:"type:text"`
	Cached        bool            `json:"cached"`
	Truncated     bool            `json:"truncated"`
	Objective     string          `json:"objective"      gorm:"type:text"`
	Phases        []parser.Phase  `json:"phases"         gorm:"type:longtext;serializer:json"`
	ProTip        string          `json:"pro_tip"        gorm:"type:text"`
	Metadata      parser.Metadata `json:"metadata"       gorm:"type:text;serializer:json"`
}

func (ExtractionModel) TableName() string { return "extractions" }

// Result returns the structured result stored on the record.
func (m *ExtractionModel) Result() parser.Result {
	return parser.Result{Objective: m.Objective, Phases: m.Phases, ProTip: m.ProTip, Metadata: m.Metadata}
}

// UserCounterModel hands out per-user order numbers.
type UserCounterModel struct {
	UserID    string `gorm:"size:64;primaryKey"`
	LastOrder int64  `gorm:"not null;default:0"`
}

func (UserCounterModel) TableName() string { return "user_counters" }

// AIUsageModel records tokens and estimated cost of one AI call.
type AIUsageModel struct {
	ID           uint      `json:"-"             gorm:"primaryKey;autoIncrement"`
	UserID       string    `json:"-"             gorm:"size:64;not null;index"`
	ExtractionID *string   `json:"extraction_id" gorm:"type:char(36);index"`
	Operation    string    `json:"operation"     gorm:"size:32;not null"`
	Provider     string    `json:"provider"      gorm:"size:32"`
	Model        string    `json:"model"         gorm:"size:128"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	CreatedAt    time.Time `json:"created"`
}

func (AIUsageModel) TableName() string { return "ai_usages" }
