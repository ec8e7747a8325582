package parser

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Difficulty levels accepted in Metadata.
const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
)

// Result is the structured breakdown produced for a piece of content.
type Result struct {
	Objective string   `json:"objective"`
	Phases    []Phase  `json:"phases"`
	ProTip    string   `json:"proTip"`
	Metadata  Metadata `json:"metadata"`
}

type Phase struct {
	ID    int      `json:"id"`
	Title string   `json:"title"`
	Items []string `json:"items"`
}

type Metadata struct {
	ReadingTime  string `json:"readingTime"`
	Difficulty   string `json:"difficulty"`
	OriginalTime string `json:"originalTime"`
	SavedTime    string `json:"savedTime"`
}

// flexString accepts a JSON string or number; models sometimes answer
// "readingTime": 5.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type wireResult struct {
	Objective string      `json:"objective"`
	Phases    []wirePhase `json:"phases"`
	ProTip    string      `json:"proTip"`
	Metadata  struct {
		ReadingTime  flexString `json:"readingTime"`
		Difficulty   flexString `json:"difficulty"`
		OriginalTime flexString `json:"originalTime"`
		SavedTime    flexString `json:"savedTime"`
	} `json:"metadata"`
}

type wirePhase struct {
	Title string   `json:"title"`
	Items []string `json:"items"`
}

var difficultySynonyms = map[string]string{
	"beginner":     DifficultyBeginner,
	"basic":        DifficultyBeginner,
	"easy":         DifficultyBeginner,
	"principiante": DifficultyBeginner,
	"básico":       DifficultyBeginner,
	"basico":       DifficultyBeginner,
	"fácil":        DifficultyBeginner,
	"facil":        DifficultyBeginner,
	"intermediate": DifficultyIntermediate,
	"medium":       DifficultyIntermediate,
	"intermedio":   DifficultyIntermediate,
	"medio":        DifficultyIntermediate,
	"advanced":     DifficultyAdvanced,
	"hard":         DifficultyAdvanced,
	"expert":       DifficultyAdvanced,
	"avanzado":     DifficultyAdvanced,
	"difícil":      DifficultyAdvanced,
	"dificil":      DifficultyAdvanced,
	"experto":      DifficultyAdvanced,
}

// NormalizeDifficulty maps free-form difficulty labels onto the enum.
// Unknown labels become intermediate.
func NormalizeDifficulty(raw string) string {
	if d, ok := difficultySynonyms[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return d
	}
	return DifficultyIntermediate
}

func (w *wireResult) normalize() *Result {
	out := &Result{
		Objective: strings.TrimSpace(w.Objective),
		ProTip:    strings.TrimSpace(w.ProTip),
		Metadata: Metadata{
			ReadingTime:  strings.TrimSpace(string(w.Metadata.ReadingTime)),
			Difficulty:   NormalizeDifficulty(string(w.Metadata.Difficulty)),
			OriginalTime: strings.TrimSpace(string(w.Metadata.OriginalTime)),
			SavedTime:    strings.TrimSpace(string(w.Metadata.SavedTime)),
		},
	}
	for _, phase := range w.Phases {
		items := make([]string, 0, len(phase.Items))
		for _, item := range phase.Items {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		if len(items) == 0 {
			continue
		}
		id := len(out.Phases) + 1
		title := strings.TrimSpace(phase.Title)
		if title == "" {
			title = "Phase " + strconv.Itoa(id)
		}
		out.Phases = append(out.Phases, Phase{ID: id, Title: title, Items: items})
	}
	return out
}

// Cap trims r to at most maxPhases phases of maxItems items each.
func (r *Result) Cap(maxPhases, maxItems int) {
	if maxPhases > 0 && len(r.Phases) > maxPhases {
		r.Phases = r.Phases[:maxPhases]
	}
	for i := range r.Phases {
		if maxItems > 0 && len(r.Phases[i].Items) > maxItems {
			r.Phases[i].Items = r.Phases[i].Items[:maxItems]
		}
	}
}
