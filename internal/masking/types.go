package masking

import "errors"

var (
	// ErrUnknownDetector is returned when a detector id is not in the catalog.
	ErrUnknownDetector = errors.New("unknown detector")
	// ErrRuleNotFound is returned when a rule id is not in the library.
	ErrRuleNotFound = errors.New("mask rule not found")
	// ErrInvalidRule is returned for rules with an empty target or placeholder.
	ErrInvalidRule = errors.New("mask rule requires a target and a placeholder")
)

// MaskRule is a user-declared literal that is replaced by Placeholder
// wherever it occurs in a document.
type MaskRule struct {
	ID          string `json:"id" db:"id"`
	Target      string `json:"target" db:"target"`
	Placeholder string `json:"placeholder" db:"placeholder"`
}

// PlaceholderMap maps a placeholder token back to the original text it replaced.
type PlaceholderMap map[string]string

// Finding summarises the replacements made by one rule or one detector.
type Finding struct {
	Source      string `json:"source"`
	Kind        string `json:"kind"`
	Placeholder string `json:"placeholder"`
	Count       int    `json:"count"`
}

// Finding kinds.
const (
	FindingRule     = "rule"
	FindingDetector = "detector"
)

// Result is the outcome of masking a document.
//
// Every key of PlaceholderMap appears verbatim in MaskedText.
type Result struct {
	MaskedText        string         `json:"maskedText"`
	PlaceholderMap    PlaceholderMap `json:"placeholderMap"`
	TotalReplacements int            `json:"totalReplacements"`
	Findings          []Finding      `json:"findings"`
}

// Unmask restores the original text for this result's placeholders.
func (r *Result) Unmask(text string) string {
	if r == nil {
		return text
	}
	return Unmask(text, r.PlaceholderMap)
}

// DetectorSet is the set of enabled detector ids.
type DetectorSet map[string]bool

// NewDetectorSet builds a set from detector ids.
func NewDetectorSet(ids ...string) DetectorSet {
	set := make(DetectorSet, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// Has reports whether id is enabled.
func (s DetectorSet) Has(id string) bool {
	return s[id]
}

// IDs returns the enabled ids in catalog order.
func (s DetectorSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for _, d := range catalog {
		if s[d.ID] {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

// Clone returns an independent copy of the set.
func (s DetectorSet) Clone() DetectorSet {
	out := make(DetectorSet, len(s))
	for id, on := range s {
		if on {
			out[id] = true
		}
	}
	return out
}
