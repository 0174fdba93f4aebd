package review

import (
	"sort"

	"github.com/raaihank/contract-sentinel/internal/locate"
	"github.com/raaihank/contract-sentinel/internal/masking"
	"github.com/raaihank/contract-sentinel/internal/risk"
)

// Segment is one run of the working text. Plain runs have no RiskID.
type Segment struct {
	Text        string     `json:"text"`
	RiskID      string     `json:"riskId,omitempty"`
	Level       risk.Level `json:"level,omitempty"`
	IsAnimating bool       `json:"isAnimating,omitempty"`
	IsSelected  bool       `json:"isSelected,omitempty"`
}

// Plain reports whether the segment belongs to no risk
func (s Segment) Plain() bool {
	return s.RiskID == ""
}

type candidate struct {
	text      string
	offset    int
	riskID    string
	level     risk.Level
	animating bool
}

type span struct {
	Segment
	start int
}

// Segments splits the working text into plain and highlighted runs whose
// concatenation is exactly the working text.
//
// Each active risk highlights one occurrence of its original text: the
// first one still inside a plain run at or after its first offset. Later
// occurrences stay plain.
func (e *Engine) Segments() []Segment {
	var candidates []candidate
	for _, r := range e.ActiveRisks() {
		candidates = append(candidates, candidate{
			text:   r.OriginalText,
			offset: locate.IndexOf(e.text, r.OriginalText, 0),
			riskID: r.ID,
			level:  r.Level,
		})
	}
	if e.anim != nil && e.anim.text != "" {
		candidates = append(candidates, candidate{
			text:      e.anim.text,
			offset:    e.anim.offset,
			riskID:    e.anim.riskID,
			level:     e.anim.level,
			animating: true,
		})
	}
	// The replacement owns its own offset; a risk starting there looks further on
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].offset != candidates[j].offset {
			return candidates[i].offset < candidates[j].offset
		}
		return candidates[i].animating && !candidates[j].animating
	})

	spans := []span{{Segment: Segment{Text: e.text}}}
	for _, c := range candidates {
		spans = splitFirst(spans, c)
	}

	out := make([]Segment, 0, len(spans))
	for _, s := range spans {
		if s.Text == "" {
			continue
		}
		s.IsSelected = s.RiskID != "" && s.RiskID == e.selectedID
		out = append(out, s.Segment)
	}
	return out
}

// splitFirst converts the first occurrence of c.text at or after c.offset
// that lies wholly inside a plain span. An animating candidate only matches
// at exactly c.offset.
func splitFirst(spans []span, c candidate) []span {
	if c.text == "" {
		return spans
	}

	for i, s := range spans {
		if !s.Plain() {
			continue
		}
		from := c.offset - s.start
		if from < 0 {
			if c.animating {
				continue
			}
			from = 0
		}
		at := locate.IndexOf(s.Text, c.text, from)
		if at < 0 || (c.animating && at != from) {
			continue
		}

		end := at + len(c.text)
		replaced := []span{
			{Segment: Segment{Text: s.Text[:at]}, start: s.start},
			{Segment: Segment{Text: c.text, RiskID: c.riskID, Level: c.level, IsAnimating: c.animating}, start: s.start + at},
			{Segment: Segment{Text: s.Text[end:]}, start: s.start + end},
		}

		out := make([]span, 0, len(spans)+2)
		out = append(out, spans[:i]...)
		out = append(out, replaced...)
		out = append(out, spans[i+1:]...)
		return out
	}

	return spans
}

// UnmaskSegments restores original values inside each segment's text for
// display. Segment boundaries and tags are unchanged.
func UnmaskSegments(segments []Segment, m masking.PlaceholderMap) []Segment {
	out := make([]Segment, len(segments))
	for i, s := range segments {
		s.Text = masking.Unmask(s.Text, m)
		out[i] = s
	}
	return out
}
