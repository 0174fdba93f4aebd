package session

import (
	"testing"
	"time"

	"github.com/raaihank/contract-sentinel/internal/masking"
	"github.com/raaihank/contract-sentinel/internal/risk"
)

func TestBuildSession(t *testing.T) {
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	doc := Document{Name: "nda.txt", Text: "TechCorp pays $5,000.", ModifiedAt: now.Add(-time.Hour)}

	t.Run("Unmasked", func(t *testing.T) {
		s := BuildSession(doc, nil, nil, now)
		if s.ID == "" {
			t.Error("Expected generated id")
		}
		if s.WorkingText != doc.Text {
			t.Errorf("Expected working text from document, got '%s'", s.WorkingText)
		}
		if s.Masked() {
			t.Error("Session should not be masked")
		}
		if s.Risks == nil {
			t.Error("Risks should be an empty list, not nil")
		}
		if !s.Timestamp.Equal(now) {
			t.Errorf("Unexpected timestamp %v", s.Timestamp)
		}
	})

	t.Run("Masked", func(t *testing.T) {
		mr := masking.Compute(doc.Text, []masking.MaskRule{{ID: "1", Target: "TechCorp", Placeholder: "[A]"}}, nil)
		risks := []risk.Risk{{ID: "r", OriginalText: "$5,000"}}

		s := BuildSession(doc, mr, risks, now)
		if s.WorkingText != "[A] pays $5,000." {
			t.Errorf("Expected masked working text, got '%s'", s.WorkingText)
		}

		risks[0].IsAddressed = true
		if s.Risks[0].IsAddressed {
			t.Error("Session must not share the caller's risk slice")
		}
	})

	t.Run("Options", func(t *testing.T) {
		s := BuildSession(doc, nil, nil, now, WithID("fixed"), WithWorkingText("edited"))
		if s.ID != "fixed" || s.WorkingText != "edited" {
			t.Errorf("Options not applied: %+v", s)
		}
	})
}
