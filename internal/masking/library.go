package masking

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Library is an ordered collection of mask rules. Identity is the rule id,
// but a target may only appear once: adding a rule for an existing target
// replaces the older rule.
type Library struct {
	rules []MaskRule
}

// NewLibrary builds a library from rules, applying the same de-duplication
// as Upsert.
func NewLibrary(rules ...MaskRule) *Library {
	lib := &Library{}
	for _, r := range rules {
		_, _ = lib.Upsert(r)
	}
	return lib
}

// Rules returns a copy of the rules in insertion order.
func (l *Library) Rules() []MaskRule {
	out := make([]MaskRule, len(l.rules))
	copy(out, l.rules)
	return out
}

// Len returns the number of rules.
func (l *Library) Len() int {
	return len(l.rules)
}

// Get returns the rule with the given id.
func (l *Library) Get(id string) (MaskRule, bool) {
	if i := l.indexByID(id); i >= 0 {
		return l.rules[i], true
	}
	return MaskRule{}, false
}

// Add creates a rule for target with a fresh id, typically from a user
// selecting text and labelling it.
func (l *Library) Add(target, placeholder string) (MaskRule, error) {
	return l.Upsert(MaskRule{ID: uuid.NewString(), Target: target, Placeholder: placeholder})
}

// Upsert inserts or replaces rule. A rule with a known id is edited in
// place; otherwise any rule with the same target is dropped before the new
// rule is appended.
func (l *Library) Upsert(rule MaskRule) (MaskRule, error) {
	if err := ValidateRule(rule); err != nil {
		return MaskRule{}, err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	if i := l.indexByID(rule.ID); i >= 0 {
		l.rules[i] = rule
		l.dropTargetExcept(rule.Target, rule.ID)
		return rule, nil
	}

	l.dropTargetExcept(rule.Target, "")
	l.rules = append(l.rules, rule)
	return rule, nil
}

// Update edits the target and placeholder of an existing rule.
func (l *Library) Update(id, target, placeholder string) (MaskRule, error) {
	if l.indexByID(id) < 0 {
		return MaskRule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return l.Upsert(MaskRule{ID: id, Target: target, Placeholder: placeholder})
}

// Remove deletes the rule with the given id.
func (l *Library) Remove(id string) error {
	i := l.indexByID(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	l.rules = append(l.rules[:i], l.rules[i+1:]...)
	return nil
}

func (l *Library) indexByID(id string) int {
	for i, r := range l.rules {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (l *Library) dropTargetExcept(target, keepID string) {
	kept := l.rules[:0]
	for _, r := range l.rules {
		if r.Target == target && r.ID != keepID {
			continue
		}
		kept = append(kept, r)
	}
	l.rules = kept
}

// ValidateRule reports whether rule can be applied.
func ValidateRule(rule MaskRule) error {
	if strings.TrimSpace(rule.Target) == "" || strings.TrimSpace(rule.Placeholder) == "" {
		return ErrInvalidRule
	}
	return nil
}
