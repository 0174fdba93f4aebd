package risk

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrMalformed is returned when a model response cannot be read as risks
var ErrMalformed = errors.New("malformed risk response")

// Shape identifies which of the accepted response layouts was found
type Shape int

const (
	ShapeMalformed Shape = iota
	ShapeArray
	ShapeSingle
	ShapeWrapped
)

func (s Shape) String() string {
	switch s {
	case ShapeArray:
		return "array"
	case ShapeSingle:
		return "single"
	case ShapeWrapped:
		return "wrapped"
	default:
		return "malformed"
	}
}

// wrapperKeys are the object keys a list of risks may be nested under
var wrapperKeys = []string{"risks", "data", "items"}

// Candidate is a risk as the model wrote it, before normalization
type Candidate struct {
	ID              string `json:"id"`
	OriginalText    string `json:"originalText"`
	OriginalSnake   string `json:"original_text"`
	RiskDescription string `json:"riskDescription"`
	DescriptionAlt  string `json:"description"`
	Reason          string `json:"reason"`
	Level           string `json:"level"`
	RiskLevel       string `json:"riskLevel"`
	SuggestedText   string `json:"suggestedText"`
	SuggestedSnake  string `json:"suggested_text"`
	Suggestion      string `json:"suggestion"`
}

// Parsed is the tagged result of reading a model response
type Parsed struct {
	Shape      Shape
	Candidates []Candidate
	Err        error
}

// ParseResponse reads a model response. The body may be a JSON array of
// risks, a single risk object, or an object wrapping the array under one of
// wrapperKeys, optionally inside a fenced code block or surrounded by prose.
func ParseResponse(raw string) Parsed {
	body := extractJSON(raw)
	if body == "" {
		return malformed(errors.New("no JSON value in response"))
	}

	switch body[0] {
	case '[':
		var list []Candidate
		if err := json.Unmarshal([]byte(body), &list); err != nil {
			return malformed(err)
		}
		return Parsed{Shape: ShapeArray, Candidates: list}

	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(body), &fields); err != nil {
			return malformed(err)
		}

		for _, key := range wrapperKeys {
			value, ok := fields[key]
			if !ok {
				continue
			}
			value = bytes.TrimSpace(value)
			if len(value) == 0 || value[0] != '[' {
				continue
			}
			var list []Candidate
			if err := json.Unmarshal(value, &list); err != nil {
				return malformed(fmt.Errorf("%s: %w", key, err))
			}
			return Parsed{Shape: ShapeWrapped, Candidates: list}
		}

		var single Candidate
		if err := json.Unmarshal([]byte(body), &single); err != nil {
			return malformed(err)
		}
		if single.originalText() == "" {
			return malformed(errors.New("object has neither a risk list nor originalText"))
		}
		return Parsed{Shape: ShapeSingle, Candidates: []Candidate{single}}
	}

	return malformed(errors.New("response is not a JSON array or object"))
}

func malformed(err error) Parsed {
	return Parsed{Shape: ShapeMalformed, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
}

// extractJSON strips a surrounding code fence and any prose around the
// outermost JSON array or object.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return ""
	}
	return s[start : end+1]
}

// Risks normalizes the parsed candidates. A malformed response yields an
// empty, non-nil slice and the parse error.
func (p Parsed) Risks() ([]Risk, error) {
	if p.Shape == ShapeMalformed {
		return []Risk{}, p.Err
	}
	return Normalize(p.Candidates), nil
}

// Normalize converts candidates into risks. Candidates without original
// text are dropped, unknown levels become MEDIUM, missing or repeated ids
// are replaced and every risk starts unaddressed.
func Normalize(candidates []Candidate) []Risk {
	out := make([]Risk, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))

	for _, c := range candidates {
		original := c.originalText()
		if strings.TrimSpace(original) == "" {
			continue
		}

		id := strings.TrimSpace(c.ID)
		if id == "" || seen[id] {
			id = uuid.NewString()
		}
		seen[id] = true

		level, ok := ParseLevel(firstNonEmpty(c.Level, c.RiskLevel))
		if !ok {
			level = LevelMedium
		}

		out = append(out, Risk{
			ID:              id,
			OriginalText:    original,
			RiskDescription: firstNonEmpty(c.RiskDescription, c.DescriptionAlt),
			Reason:          c.Reason,
			Level:           level,
			SuggestedText:   firstNonEmpty(c.SuggestedText, c.SuggestedSnake, c.Suggestion),
		})
	}

	return out
}

func (c Candidate) originalText() string {
	return firstNonEmpty(c.OriginalText, c.OriginalSnake)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
