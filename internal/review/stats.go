package review

import "github.com/raaihank/contract-sentinel/internal/risk"

// Stats summarises a review. Hidden counts risks that are neither addressed
// nor locatable in the working text.
type Stats struct {
	Total         int                `json:"total"`
	Visible       int                `json:"visible"`
	Hidden        int                `json:"hidden"`
	Active        int                `json:"active"`
	Accepted      int                `json:"accepted"`
	Ignored       int                `json:"ignored"`
	ActiveByLevel map[risk.Level]int `json:"activeByLevel"`
}

// Stats computes the summary for the current state
func (e *Engine) Stats() Stats {
	active := e.ActiveRisks()
	stats := Stats{
		Total:         len(e.risks),
		Visible:       len(e.VisibleRisks()),
		Active:        len(active),
		ActiveByLevel: make(map[risk.Level]int, 3),
	}
	stats.Hidden = stats.Total - stats.Visible

	for _, l := range risk.Levels() {
		stats.ActiveByLevel[l] = 0
	}
	for _, r := range active {
		stats.ActiveByLevel[r.Level]++
	}

	for _, r := range e.risks {
		switch r.Resolution {
		case risk.ResolutionAccepted:
			stats.Accepted++
		case risk.ResolutionIgnored:
			stats.Ignored++
		}
	}

	return stats
}
