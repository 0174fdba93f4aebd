package review

import (
	"errors"
	"fmt"
	"sort"

	"github.com/raaihank/contract-sentinel/internal/locate"
	"github.com/raaihank/contract-sentinel/internal/risk"
)

var (
	// ErrRiskNotFound is returned for an unknown risk id
	ErrRiskNotFound = errors.New("risk not found")
	// ErrRiskAddressed is returned when acting on a risk that is already resolved
	ErrRiskAddressed = errors.New("risk already addressed")
)

// Direction for Navigate
type Direction int

const (
	Next Direction = iota
	Prev
)

// Token identifies one accept animation. It is only honoured by Settle while
// that animation is still the current one.
type Token uint64

type snapshot struct {
	text       string
	risks      []risk.Risk
	selectedID string
}

type animation struct {
	token     Token
	riskID    string
	level     risk.Level
	text      string
	offset    int
	nextFocus string
}

// Engine owns a working document, its risk annotations and the edit
// history. It is not safe for concurrent use; callers serialise access per
// session.
type Engine struct {
	text       string
	risks      []risk.Risk
	selectedID string
	history    []snapshot
	anim       *animation
	lastToken  Token
}

// New starts a review of text with the given risks. The risks are copied.
func New(text string, risks []risk.Risk) *Engine {
	return &Engine{
		text:  text,
		risks: risk.Clone(risks),
	}
}

// Text returns the current working text
func (e *Engine) Text() string {
	return e.text
}

// Risks returns a copy of every risk, addressed or not, in input order
func (e *Engine) Risks() []risk.Risk {
	return risk.Clone(e.risks)
}

// SelectedID returns the focused risk id, or "" when nothing is selected
func (e *Engine) SelectedID() string {
	return e.selectedID
}

// Animating returns the risk whose accept animation is in flight
func (e *Engine) Animating() (string, bool) {
	if e.anim == nil {
		return "", false
	}
	return e.anim.riskID, true
}

// CanUndo reports whether there is history to undo
func (e *Engine) CanUndo() bool {
	return len(e.history) > 0
}

// VisibleRisks returns the risks that are addressed or whose original text
// is still present in the working text.
func (e *Engine) VisibleRisks() []risk.Risk {
	out := make([]risk.Risk, 0, len(e.risks))
	for _, r := range e.risks {
		if e.visible(r) {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) visible(r risk.Risk) bool {
	return r.IsAddressed || (r.OriginalText != "" && locate.Contains(e.text, r.OriginalText))
}

// ActiveRisks returns the visible, unaddressed risks ordered by where their
// original text first occurs in the working text. Ties keep input order.
func (e *Engine) ActiveRisks() []risk.Risk {
	type located struct {
		r      risk.Risk
		offset int
	}

	found := make([]located, 0, len(e.risks))
	for _, r := range e.risks {
		if r.IsAddressed || r.OriginalText == "" {
			continue
		}
		if off := locate.IndexOf(e.text, r.OriginalText, 0); off >= 0 {
			found = append(found, located{r: r, offset: off})
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].offset < found[j].offset
	})

	out := make([]risk.Risk, len(found))
	for i, f := range found {
		out[i] = f.r
	}
	return out
}

// Accept replaces the first occurrence of the risk's original text with its
// suggested text and marks it accepted. Focus moves to the next active risk
// when the returned token is settled. If the original text is no longer
// present the text is left alone but the risk is still marked addressed.
func (e *Engine) Accept(id string) (Token, error) {
	idx, err := e.pending(id)
	if err != nil {
		return 0, err
	}

	e.push()
	nextFocus := e.nextFocus(id)
	r := e.risks[idx]

	text, offset := locate.ReplaceFirst(e.text, r.OriginalText, r.SuggestedText)
	e.text = text
	e.risks[idx].IsAddressed = true
	e.risks[idx].Resolution = risk.ResolutionAccepted

	e.lastToken++
	e.anim = nil
	if offset >= 0 {
		e.anim = &animation{
			token:     e.lastToken,
			riskID:    r.ID,
			level:     r.Level,
			text:      r.SuggestedText,
			offset:    offset,
			nextFocus: nextFocus,
		}
	} else {
		e.selectedID = e.focusOrFirst(nextFocus)
	}

	return e.lastToken, nil
}

// Settle ends the accept animation identified by token and moves focus to
// the risk chosen at accept time, or to the first active risk if that one
// has since become inactive. No focus is set when the accepted risk was the
// only active one. It reports whether the token was current.
func (e *Engine) Settle(token Token) bool {
	if e.anim == nil || e.anim.token != token {
		return false
	}
	nextFocus := e.anim.nextFocus
	e.anim = nil
	e.selectedID = e.focusOrFirst(nextFocus)
	return true
}

// Ignore marks the risk ignored without touching the text and moves focus
// immediately.
func (e *Engine) Ignore(id string) error {
	idx, err := e.pending(id)
	if err != nil {
		return err
	}

	e.push()
	nextFocus := e.nextFocus(id)

	e.risks[idx].IsAddressed = true
	e.risks[idx].Resolution = risk.ResolutionIgnored
	e.anim = nil
	e.selectedID = e.focusOrFirst(nextFocus)
	return nil
}

// Undo restores the state from before the most recent accept or ignore and
// cancels any animation in flight. It reports whether anything was undone.
func (e *Engine) Undo() bool {
	e.anim = nil
	if len(e.history) == 0 {
		return false
	}

	last := e.history[len(e.history)-1]
	e.history = e.history[:len(e.history)-1]

	e.text = last.text
	e.risks = last.risks
	e.selectedID = last.selectedID
	return true
}

// Navigate moves the selection one step through the active risks with
// wraparound. With nothing selected, Next picks the first and Prev the last.
func (e *Engine) Navigate(dir Direction) string {
	active := e.ActiveRisks()
	if len(active) == 0 {
		return e.selectedID
	}

	current := indexOf(active, e.selectedID)
	var target int
	switch {
	case current < 0 && dir == Prev:
		target = len(active) - 1
	case current < 0:
		target = 0
	case dir == Prev:
		target = (current - 1 + len(active)) % len(active)
	default:
		target = (current + 1) % len(active)
	}

	e.selectedID = active[target].ID
	return e.selectedID
}

// Select focuses an active risk. An empty id clears the selection.
func (e *Engine) Select(id string) error {
	if id == "" {
		e.selectedID = ""
		return nil
	}

	idx := e.find(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrRiskNotFound, id)
	}
	if e.risks[idx].IsAddressed {
		return fmt.Errorf("%w: %s", ErrRiskAddressed, id)
	}
	if !e.visible(e.risks[idx]) {
		return fmt.Errorf("%w: %s is not in the working text", ErrRiskNotFound, id)
	}

	e.selectedID = id
	return nil
}

// SelectFirst selects the first active risk at level, or at any level when
// level is empty. With no match the selection is cleared.
func (e *Engine) SelectFirst(level risk.Level) string {
	e.selectedID = ""
	for _, r := range e.ActiveRisks() {
		if level == "" || r.Level == level {
			e.selectedID = r.ID
			break
		}
	}
	return e.selectedID
}

func (e *Engine) push() {
	e.history = append(e.history, snapshot{
		text:       e.text,
		risks:      risk.Clone(e.risks),
		selectedID: e.selectedID,
	})
}

// nextFocus picks the active risk following id in offset order, wrapping to
// the first, or "" when id is the only active risk.
func (e *Engine) nextFocus(id string) string {
	active := e.ActiveRisks()
	pos := indexOf(active, id)
	if pos < 0 {
		if len(active) == 0 {
			return ""
		}
		return active[0].ID
	}

	others := append(active[:pos:pos], active[pos+1:]...)
	if len(others) == 0 {
		return ""
	}
	if pos < len(others) {
		return others[pos].ID
	}
	return others[0].ID
}

// focusOrFirst keeps an empty id empty: it means no other risk was active
// when the action started.
func (e *Engine) focusOrFirst(id string) string {
	if id == "" {
		return ""
	}
	active := e.ActiveRisks()
	if indexOf(active, id) >= 0 {
		return id
	}
	if len(active) == 0 {
		return ""
	}
	return active[0].ID
}

func (e *Engine) pending(id string) (int, error) {
	idx := e.find(id)
	if idx < 0 {
		return -1, fmt.Errorf("%w: %s", ErrRiskNotFound, id)
	}
	if e.risks[idx].IsAddressed {
		return -1, fmt.Errorf("%w: %s", ErrRiskAddressed, id)
	}
	return idx, nil
}

func (e *Engine) find(id string) int {
	for i, r := range e.risks {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func indexOf(risks []risk.Risk, id string) int {
	if id == "" {
		return -1
	}
	for i, r := range risks {
		if r.ID == id {
			return i
		}
	}
	return -1
}
