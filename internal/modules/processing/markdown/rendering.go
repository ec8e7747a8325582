package markdown

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
	"gopkg.in/yaml.v3"
)

var markdownEngine = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Linkify,
		extension.Typographer,
	),
	goldmark.WithRendererOptions(
		htmlrenderer.WithXHTML(),
	),
)

const documentStyle = `body{max-width:760px;margin:2em auto;padding:0 1em;font:16px/1.6 -apple-system,"Segoe UI",Helvetica,Arial,sans-serif;color:#24292f}
h1,h2,h3{line-height:1.25}blockquote{margin:0;padding:0 1em;color:#57606a;border-left:.25em solid #d0d7de}
table{border-collapse:collapse}td,th{border:1px solid #d0d7de;padding:4px 10px}img{max-width:100%}`

// Render writes doc as Markdown with a YAML front matter header.
func Render(doc *Document) (string, error) {
	fm := frontMatter{
		Title:     doc.Title,
		Mode:      doc.Mode,
		Language:  doc.Language,
		Source:    doc.SourceURL,
		Kind:      doc.SourceKind,
		Order:     doc.OrderNumber,
		Thumbnail: doc.ThumbnailURL,
	}
	if !doc.CreatedAt.IsZero() {
		fm.Created = doc.CreatedAt.UTC().Format(time.RFC3339)
	}
	header, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("encode front matter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(header)
	b.WriteString("---\n\n")
	b.WriteString(Body(doc))
	return b.String(), nil
}

// Body renders doc without front matter.
func Body(doc *Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", chooseFirstNonEmpty(strings.TrimSpace(doc.Title), "Extraction"))

	if doc.Objective != "" {
		fmt.Fprintf(&b, "> %s\n\n", strings.Join(strings.Fields(doc.Objective), " "))
	}

	if rows := metaRows(doc.Meta); len(rows) > 0 {
		b.WriteString("| | |\n|---|---|\n")
		for _, row := range rows {
			fmt.Fprintf(&b, "| %s | %s |\n", row[0], row[1])
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## %s\n\n", sectionHeading(doc.Mode))
	for i, section := range doc.Sections {
		fmt.Fprintf(&b, "### %d. %s\n\n", i+1, strings.TrimSpace(section.Title))
		for _, item := range section.Items {
			fmt.Fprintf(&b, "- %s\n", escapeInline(item))
		}
		b.WriteString("\n")
	}

	if doc.ProTip != "" {
		fmt.Fprintf(&b, "## Pro tip\n\n%s\n", strings.TrimSpace(doc.ProTip))
	}
	return b.String()
}

func metaRows(m Meta) [][2]string {
	var rows [][2]string
	add := func(label, value string) {
		if v := strings.TrimSpace(value); v != "" {
			rows = append(rows, [2]string{label, strings.ReplaceAll(v, "|", `\|`)})
		}
	}
	add("Reading time", m.ReadingTime)
	add("Difficulty", m.Difficulty)
	add("Original length", m.OriginalTime)
	add("Time saved", m.SavedTime)
	return rows
}

// RenderMarkdownContent converts Markdown to an HTML fragment.
func RenderMarkdownContent(markdownText string) string {
	text := strings.TrimSpace(markdownText)
	if text == "" {
		return ""
	}
	var out bytes.Buffer
	if err := markdownEngine.Convert([]byte(text), &out); err != nil {
		return template.HTMLEscapeString(text)
	}
	return out.String()
}

// RenderHTMLDocument renders doc as a standalone HTML page.
func RenderHTMLDocument(doc *Document) string {
	var b strings.Builder
	b.Grow(4096)

	lang := doc.Language
	if lang == "" {
		lang = "en"
	}
	b.WriteString("<!DOCTYPE html>\n<html lang=\"")
	b.WriteString(template.HTMLEscapeString(lang))
	b.WriteString("\">\n  <head>\n")
	b.WriteString("    <meta charset=\"UTF-8\" />\n")
	b.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\" />\n")
	b.WriteString("    <meta name=\"referrer\" content=\"no-referrer\" />\n")
	b.WriteString("    <style>\n")
	b.WriteString(documentStyle)
	b.WriteString("\n    </style>\n")
	b.WriteString("    <title>")
	b.WriteString(template.HTMLEscapeString(chooseFirstNonEmpty(strings.TrimSpace(doc.Title), "Extraction")))
	b.WriteString("</title>\n  </head>\n\n  <body>\n    <article>\n")
	b.WriteString(RenderMarkdownContent(Body(doc)))
	b.WriteString("    </article>\n")
	if doc.SourceURL != "" {
		b.WriteString("    <footer><a rel=\"noreferrer nofollow\" href=\"")
		b.WriteString(template.HTMLEscapeString(doc.SourceURL))
		b.WriteString("\">Source</a></footer>\n")
	}
	b.WriteString("  </body>\n</html>")
	return b.String()
}
