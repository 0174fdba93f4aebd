package store

import (
	"context"
	"time"

	"github.com/raaihank/contract-sentinel/internal/masking"
	"github.com/raaihank/contract-sentinel/internal/session"
)

// RuleStore persists the mask rule library. Targets are unique: saving a
// rule whose target already exists replaces the older rule.
type RuleStore interface {
	ListRules(ctx context.Context) ([]masking.MaskRule, error)
	SaveRule(ctx context.Context, rule masking.MaskRule) error
	UpsertRules(ctx context.Context, rules []masking.MaskRule) (*BatchResult, error)
	DeleteRule(ctx context.Context, id string) error
}

// Store persists review sessions and mask rules
type Store interface {
	session.Store
	RuleStore
	Close() error
}

// BatchResult contains the outcome of a bulk rule upsert
type BatchResult struct {
	Upserted   int64         `json:"upserted"`
	Duplicates int64         `json:"duplicates"`
	Duration   time.Duration `json:"duration"`
}

// dedupe collapses rules that share a target, keeping the last one.
func dedupe(rules []masking.MaskRule) ([]masking.MaskRule, int64) {
	lib := masking.NewLibrary(rules...)
	return lib.Rules(), int64(len(rules) - lib.Len())
}
