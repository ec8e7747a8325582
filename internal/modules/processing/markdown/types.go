package markdown

import "time"

// Document is an extraction prepared for export.
type Document struct {
	Title        string
	Mode         string
	Language     string
	SourceKind   string
	SourceURL    string
	ThumbnailURL string
	OrderNumber  int64
	CreatedAt    time.Time
	Objective    string
	Sections     []Section
	ProTip       string
	Meta         Meta
}

type Section struct {
	Title string
	Items []string
}

// Meta is the time and difficulty summary shown under the objective.
type Meta struct {
	ReadingTime  string
	Difficulty   string
	OriginalTime string
	SavedTime    string
}

// frontMatter is the YAML header of an exported file.
type frontMatter struct {
	Title     string `yaml:"title"`
	Mode      string `yaml:"mode"`
	Language  string `yaml:"language,omitempty"`
	Source    string `yaml:"source,omitempty"`
	Kind      string `yaml:"kind,omitempty"`
	Order     int64  `yaml:"order,omitempty"`
	Created   string `yaml:"created,omitempty"`
	Thumbnail string `yaml:"thumbnail,omitempty"`
}
