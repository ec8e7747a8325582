package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrUnparseable is returned when raw model text cannot be turned into a
// Result. Parse errors wrap it.
var ErrUnparseable = errors.New("model output is not a valid result")

const resultSchemaJSON = `{
  "type": "object",
  "required": ["objective", "phases"],
  "properties": {
    "objective": {"type": "string"},
    "proTip": {"type": "string"},
    "phases": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["title", "items"],
        "properties": {
          "id": {"type": ["integer", "string"]},
          "title": {"type": "string"},
          "items": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "metadata": {
      "type": "object",
      "properties": {
        "readingTime": {"type": ["string", "number"]},
        "difficulty": {"type": "string"},
        "originalTime": {"type": ["string", "number"]},
        "savedTime": {"type": ["string", "number"]}
      }
    }
  }
}`

var resultSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("result.json", strings.NewReader(resultSchemaJSON)); err != nil {
		panic(fmt.Sprintf("add result schema: %v", err))
	}
	schema, err := compiler.Compile("result.json")
	if err != nil {
		panic(fmt.Sprintf("compile result schema: %v", err))
	}
	return schema
}

// Parse extracts a Result from raw model text: code fences are stripped, the
// outermost JSON object is located and decoded, with a second attempt after
// removing trailing commas. The decoded value must match the result schema
// and contain at least one non-empty phase.
func Parse(raw string) (*Result, error) {
	body := outermostObject(stripFences(raw))
	if body == "" {
		return nil, fmt.Errorf("%w: no JSON object found", ErrUnparseable)
	}

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		body = stripTrailingCommas(body)
		if retryErr := json.Unmarshal([]byte(body), &doc); retryErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
	}
	if err := resultSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	var wire wireResult
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	result := wire.normalize()
	if len(result.Phases) == 0 {
		return nil, fmt.Errorf("%w: no phases with items", ErrUnparseable)
	}
	return result, nil
}

// stripFences drops an opening code fence that precedes the JSON object. The
// closing fence is left for outermostObject to skip, so backticks inside
// string values survive.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	if brace := strings.IndexByte(s, '{'); brace >= 0 && brace < start {
		return s
	}
	rest := s[start+3:]
	// Skip the info string ("json") up to the end of the fence line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		return rest[nl+1:]
	}
	return strings.TrimPrefix(rest, "json")
}

// outermostObject returns the first balanced {...} span, ignoring braces in
// strings. An unterminated object is returned up to the end of s so that the
// decode error reflects the truncation.
func outermostObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}

// stripTrailingCommas removes commas directly followed (modulo whitespace) by
// a closing bracket, outside of strings.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
