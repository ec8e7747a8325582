package extraction

import (
	"github.com/mx-space/distill/internal/models"
	"github.com/mx-space/distill/internal/modules/processing/markdown"
)

// ExportDocument converts a stored record for the markdown renderer.
func ExportDocument(rec *models.ExtractionModel) *markdown.Document {
	sections := make([]markdown.Section, len(rec.Phases))
	for i, phase := range rec.Phases {
		sections[i] = markdown.Section{Title: phase.Title, Items: phase.Items}
	}
	return &markdown.Document{
		Title:        rec.Title,
		Mode:         rec.Mode,
		Language:     rec.Language,
		SourceKind:   rec.SourceKind,
		SourceURL:    rec.SourceURL,
		ThumbnailURL: rec.ThumbnailURL,
		OrderNumber:  rec.OrderNumber,
		CreatedAt:    rec.CreatedAt,
		Objective:    rec.Objective,
		Sections:     sections,
		ProTip:       rec.ProTip,
		Meta: markdown.Meta{
			ReadingTime:  rec.Metadata.ReadingTime,
			Difficulty:   rec.Metadata.Difficulty,
			OriginalTime: rec.Metadata.OriginalTime,
			SavedTime:    rec.Metadata.SavedTime,
		},
	}
}
