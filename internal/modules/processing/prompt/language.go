package prompt

import (
	"strings"
	"unicode"
)

type Language string

const (
	LanguageAuto    Language = "auto"
	LanguageSpanish Language = "es"
	LanguageEnglish Language = "en"
)

// ParseLanguage accepts auto, es and en. Empty input means auto.
func ParseLanguage(raw string) (Language, bool) {
	switch l := Language(strings.ToLower(strings.TrimSpace(raw))); l {
	case "":
		return LanguageAuto, true
	case LanguageAuto, LanguageSpanish, LanguageEnglish:
		return l, true
	}
	return "", false
}

// Name is the human-readable language name used in prompts.
func (l Language) Name() string {
	if l == LanguageSpanish {
		return "Spanish"
	}
	return "English"
}

// Resolve returns l unless it is auto, in which case the language is detected
// from content.
func (l Language) Resolve(content string) Language {
	if l == LanguageSpanish || l == LanguageEnglish {
		return l
	}
	return DetectLanguage(content)
}

const detectSampleWords = 2000

var spanishMarkers = map[string]struct{}{
	"el": {}, "la": {}, "los": {}, "las": {}, "de": {}, "del": {}, "que": {}, "y": {},
	"en": {}, "un": {}, "una": {}, "por": {}, "para": {}, "con": {}, "es": {}, "se": {},
	"su": {}, "al": {}, "lo": {}, "como": {}, "pero": {}, "más": {}, "muy": {}, "también": {},
	"porque": {}, "esto": {}, "está": {}, "son": {}, "hay": {}, "cuando": {},
}

var englishMarkers = map[string]struct{}{
	"the": {}, "and": {}, "of": {}, "to": {}, "in": {}, "is": {}, "that": {}, "it": {},
	"for": {}, "you": {}, "with": {}, "on": {}, "this": {}, "are": {}, "be": {}, "was": {},
	"have": {}, "at": {}, "or": {}, "but": {}, "not": {}, "what": {}, "about": {}, "because": {},
	"they": {}, "we": {}, "can": {}, "from": {}, "your": {}, "there": {},
}

// DetectLanguage guesses Spanish or English from stop-word frequency over the
// first words of text. Ties and empty input resolve to English.
func DetectLanguage(text string) Language {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(words) > detectSampleWords {
		words = words[:detectSampleWords]
	}

	var es, en int
	for _, w := range words {
		if _, ok := spanishMarkers[w]; ok {
			es++
		}
		if _, ok := englishMarkers[w]; ok {
			en++
		}
		// ñ and accented vowels are strong Spanish signals the word lists miss.
		if strings.ContainsAny(w, "ñáéíóú") {
			es++
		}
	}
	if es > en {
		return LanguageSpanish
	}
	return LanguageEnglish
}
