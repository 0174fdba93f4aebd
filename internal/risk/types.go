package risk

import "strings"

// Level is the severity of a risk annotation
type Level string

const (
	LevelHigh   Level = "HIGH"
	LevelMedium Level = "MEDIUM"
	LevelLow    Level = "LOW"
)

// Levels lists the severities from most to least severe
func Levels() []Level {
	return []Level{LevelHigh, LevelMedium, LevelLow}
}

// ParseLevel accepts the English names in any case and the single-character
// Chinese forms models often return.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH", "高", "高风险", "CRITICAL":
		return LevelHigh, true
	case "MEDIUM", "MODERATE", "中", "中风险":
		return LevelMedium, true
	case "LOW", "低", "低风险":
		return LevelLow, true
	default:
		return "", false
	}
}

// Valid reports whether l is one of the known levels
func (l Level) Valid() bool {
	return l == LevelHigh || l == LevelMedium || l == LevelLow
}

// Resolution records how an addressed risk was resolved
type Resolution string

const (
	ResolutionNone     Resolution = ""
	ResolutionAccepted Resolution = "accepted"
	ResolutionIgnored  Resolution = "ignored"
)

// Risk is one annotation returned by the analyzer. OriginalText is an exact
// substring of the text the analyzer was given.
type Risk struct {
	ID              string     `json:"id"`
	OriginalText    string     `json:"originalText"`
	RiskDescription string     `json:"riskDescription"`
	Reason          string     `json:"reason"`
	Level           Level      `json:"level"`
	SuggestedText   string     `json:"suggestedText"`
	IsAddressed     bool       `json:"isAddressed"`
	Resolution      Resolution `json:"resolution,omitempty"`
}

// Clone returns a copy of risks that shares no backing array
func Clone(risks []Risk) []Risk {
	if risks == nil {
		return nil
	}
	out := make([]Risk, len(risks))
	copy(out, risks)
	return out
}
