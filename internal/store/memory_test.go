package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raaihank/contract-sentinel/internal/masking"
	"github.com/raaihank/contract-sentinel/internal/risk"
	"github.com/raaihank/contract-sentinel/internal/session"
)

func TestMemorySessions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "new", "mid"} {
		offsets := []time.Duration{0, 2 * time.Hour, time.Hour}
		s := session.BuildSession(session.Document{Name: id, Text: "x"}, nil, []risk.Risk{{ID: "r", OriginalText: "x"}}, base.Add(offsets[i]), session.WithID(id))
		if err := m.SaveSession(ctx, s); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
	}

	recent, err := m.LoadRecentSessions(ctx, 2)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "new" || recent[1].ID != "mid" {
		t.Errorf("Expected new, mid; got %d sessions", len(recent))
	}

	got, err := m.GetSession(ctx, "old")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	got.Risks[0].IsAddressed = true
	again, _ := m.GetSession(ctx, "old")
	if again.Risks[0].IsAddressed {
		t.Error("Returned sessions must be copies")
	}

	if _, err := m.GetSession(ctx, "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRules(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.SaveRule(ctx, masking.MaskRule{ID: "1", Target: "TechCorp", Placeholder: "[A]"}); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	result, err := m.UpsertRules(ctx, []masking.MaskRule{
		{ID: "2", Target: "Globex", Placeholder: "[B]"},
		{ID: "3", Target: "TechCorp", Placeholder: "[A2]"},
	})
	if err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}
	if result.Upserted != 2 || result.Duplicates != 0 {
		t.Errorf("Unexpected result %+v", result)
	}

	rules, _ := m.ListRules(ctx)
	if len(rules) != 2 || rules[0].ID != "2" || rules[1].Placeholder != "[A2]" {
		t.Errorf("Unexpected rules %+v", rules)
	}

	if _, err := m.UpsertRules(ctx, []masking.MaskRule{{ID: "4", Target: ""}}); !errors.Is(err, masking.ErrInvalidRule) {
		t.Errorf("Expected ErrInvalidRule, got %v", err)
	}
	if err := m.DeleteRule(ctx, "missing"); !errors.Is(err, masking.ErrRuleNotFound) {
		t.Errorf("Expected ErrRuleNotFound, got %v", err)
	}
}
