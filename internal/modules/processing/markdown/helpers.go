package markdown

import (
	"strings"
	"unicode"
)

// modeHeadings names the section list per extraction mode.
var modeHeadings = map[string]string{
	"action_plan":       "Action plan",
	"executive_summary": "Key findings",
	"business_ideas":    "Business ideas",
	"key_quotes":        "Quotes by theme",
	"concept_map":       "Concepts",
}

func sectionHeading(mode string) string {
	if h, ok := modeHeadings[mode]; ok {
		return h
	}
	return "Sections"
}

// chooseFirstNonEmpty returns primary when non-blank, otherwise fallback.
func chooseFirstNonEmpty(primary, fallback string) string {
	if strings.TrimSpace(primary) != "" {
		return primary
	}
	return fallback
}

// Filename builds the .md filename for an exported document.
func Filename(doc *Document) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			return r
		case unicode.IsSpace(r), r == '/', r == '\\', r == '.':
			return '-'
		}
		return -1
	}, strings.TrimSpace(doc.Title))
	name = strings.Trim(collapseDashes(name), "-")
	if len([]rune(name)) > 80 {
		name = strings.Trim(string([]rune(name)[:80]), "-")
	}
	if name == "" {
		name = "extraction"
	}
	return name + ".md"
}

func collapseDashes(s string) string {
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return s
}

// escapeInline keeps list items from being read as markdown structure.
func escapeInline(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s != "" && strings.ContainsRune("#>-+*", rune(s[0])) {
		return `\` + s
	}
	return s
}
