package extraction

import (
	"time"

	"github.com/mx-space/distill/internal/models"
	"github.com/mx-space/distill/internal/modules/processing/parser"
)

// Input is the request body of every extraction endpoint.
type Input struct {
	URL            string `json:"url"`
	Text           string `json:"text"`
	Mode           string `json:"mode"`
	OutputLanguage string `json:"outputLanguage"`
	SourceType     string `json:"sourceType"`
}

// SourceInfo describes where a result's content came from.
type SourceInfo struct {
	Kind          string `json:"kind"`
	ContentID     string `json:"contentId"`
	ContentSource string `json:"contentSource,omitempty"`
	Title         string `json:"title,omitempty"`
	ThumbnailURL  string `json:"thumbnailUrl,omitempty"`
	URL           string `json:"url,omitempty"`
	Truncated     bool   `json:"truncated"`
}

// Response is a finished extraction. ID and OrderNumber are empty when the
// owned record could not be written.
type Response struct {
	ID          string `json:"id,omitempty"`
	OrderNumber int64  `json:"orderNumber,omitempty"`
	Cached      bool   `json:"cached"`
	Mode        string `json:"mode"`
	Language    string `json:"language"`
	parser.Result
	Source    SourceInfo `json:"source"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

func newResponse(o *Outcome, rec *models.ExtractionModel) *Response {
	resp := &Response{
		Cached:   o.CacheHit,
		Mode:     o.Key.Mode,
		Language: o.Language,
		Result:   *o.Result,
		Source: SourceInfo{
			Kind:          string(o.Kind),
			ContentID:     o.Key.ContentID,
			ContentSource: string(o.ContentSource),
			Title:         o.Title,
			ThumbnailURL:  o.ThumbnailURL,
			URL:           o.SourceURL,
			Truncated:     o.Truncated,
		},
	}
	if rec != nil {
		resp.ID = rec.ID
		resp.OrderNumber = rec.OrderNumber
		created := rec.CreatedAt
		resp.CreatedAt = &created
	}
	return resp
}

// RecordResponse renders a stored record.
func RecordResponse(rec *models.ExtractionModel) *Response {
	created := rec.CreatedAt
	return &Response{
		ID:          rec.ID,
		OrderNumber: rec.OrderNumber,
		Cached:      rec.Cached,
		Mode:        rec.Mode,
		Language:    rec.Language,
		Result:      rec.Result(),
		Source: SourceInfo{
			Kind:          rec.SourceKind,
			ContentID:     rec.ContentID,
			ContentSource: rec.ContentSource,
			Title:         rec.Title,
			ThumbnailURL:  rec.ThumbnailURL,
			URL:           rec.SourceURL,
			Truncated:     rec.Truncated,
		},
		CreatedAt: &created,
	}
}
