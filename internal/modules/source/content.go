package source

import (
	"strings"
	"unicode"
)

// ContentSource records where resolved text came from.
type ContentSource string

const (
	FreshlyFetched   ContentSource = "freshly-fetched"
	CacheTranscript  ContentSource = "cache-transcript"
	CacheStaleResult ContentSource = "cache-stale-result"
)

// TruncationMarker is appended to content cut to the character budget.
const TruncationMarker = "\n\n[content truncated]"

// Content is the normalised text a pipeline run works on.
type Content struct {
	Text      string
	Title     string
	Source    ContentSource
	Truncated bool
	// Transcript is the untruncated transcript of a fresh video fetch, kept
	// for the cache write.
	Transcript string
}

// Truncate cuts text to at most max runes plus the marker, breaking at the
// last whitespace when one falls in the second half of the budget.
func Truncate(text string, max int) (string, bool) {
	if max <= 0 {
		return text, false
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text, false
	}

	cut := max
	for i := max; i > max/2; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace) + TruncationMarker, true
}
