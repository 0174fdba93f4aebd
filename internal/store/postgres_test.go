package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/raaihank/contract-sentinel/internal/masking"
	"github.com/raaihank/contract-sentinel/internal/risk"
	"github.com/raaihank/contract-sentinel/internal/session"
	"go.uber.org/zap"
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("Unmet expectations: %v", err)
		}
		_ = db.Close()
	})

	return NewPostgresFromDB(sqlx.NewDb(db, "postgres"), zap.NewNop()), mock
}

var sessionCols = []string{"id", "document_name", "document_text", "document_modified_at", "risks", "masking", "working_text", "saved_at"}

func TestPostgresSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	mr := masking.Compute("TechCorp pays.", []masking.MaskRule{{ID: "1", Target: "TechCorp", Placeholder: "[A]"}}, nil)
	saved := session.BuildSession(
		session.Document{Name: "nda.txt", Text: "TechCorp pays.", ModifiedAt: now},
		mr,
		[]risk.Risk{{ID: "r", OriginalText: "pays", Level: risk.LevelLow}},
		now,
		session.WithID("s1"),
	)

	t.Run("Save", func(t *testing.T) {
		p, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO review_sessions")).
			WithArgs("s1", "nda.txt", "TechCorp pays.", now, sqlmock.AnyArg(), sqlmock.AnyArg(), "[A] pays.", now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := p.SaveSession(ctx, saved); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
	})

	t.Run("Get", func(t *testing.T) {
		p, mock := newMockStore(t)
		risks, _ := json.Marshal(saved.Risks)
		masked, _ := json.Marshal(saved.Masking)

		mock.ExpectQuery(regexp.QuoteMeta("FROM review_sessions WHERE id = $1")).
			WithArgs("s1").
			WillReturnRows(sqlmock.NewRows(sessionCols).
				AddRow("s1", "nda.txt", "TechCorp pays.", now, risks, masked, "[A] pays.", now))

		got, err := p.GetSession(ctx, "s1")
		if err != nil {
			t.Fatalf("Failed to get: %v", err)
		}
		if got.WorkingText != "[A] pays." || got.Masking.PlaceholderMap["[A]"] != "TechCorp" {
			t.Errorf("Unexpected session %+v", got)
		}
		if len(got.Risks) != 1 || got.Risks[0].Level != risk.LevelLow {
			t.Errorf("Unexpected risks %+v", got.Risks)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		p, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM review_sessions WHERE id = $1")).
			WithArgs("nope").
			WillReturnRows(sqlmock.NewRows(sessionCols))

		if _, err := p.GetSession(ctx, "nope"); !errors.Is(err, session.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("LoadRecentUnmasked", func(t *testing.T) {
		p, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("ORDER BY saved_at DESC LIMIT $1")).
			WithArgs(5).
			WillReturnRows(sqlmock.NewRows(sessionCols).
				AddRow("s2", "b.txt", "text", now, []byte(`[]`), nil, "text", now).
				AddRow("s3", "c.txt", "text", now, []byte(`not json`), nil, "text", now))

		sessions, err := p.LoadRecentSessions(ctx, 5)
		if err != nil {
			t.Fatalf("Failed to load: %v", err)
		}
		if len(sessions) != 1 || sessions[0].ID != "s2" {
			t.Fatalf("Expected only the readable session, got %d", len(sessions))
		}
		if sessions[0].Masked() {
			t.Error("Session without masking column should not be masked")
		}
	})
}

func TestPostgresRules(t *testing.T) {
	ctx := context.Background()

	t.Run("List", func(t *testing.T) {
		p, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id, target, placeholder FROM mask_rules ORDER BY seq")).
			WillReturnRows(sqlmock.NewRows([]string{"id", "target", "placeholder"}).
				AddRow("1", "TechCorp", "[A]").
				AddRow("2", "Globex", "[B]"))

		rules, err := p.ListRules(ctx)
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(rules) != 2 || rules[1].Placeholder != "[B]" {
			t.Errorf("Unexpected rules %+v", rules)
		}
	})

	t.Run("SaveReplacesTarget", func(t *testing.T) {
		p, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM mask_rules WHERE target = $1 AND id <> $2")).
			WithArgs("TechCorp", "r1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO mask_rules (id, target, placeholder)")).
			WithArgs("r1", "TechCorp", "[A]").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		if err := p.SaveRule(ctx, masking.MaskRule{ID: "r1", Target: "TechCorp", Placeholder: "[A]"}); err != nil {
			t.Fatalf("Failed to save rule: %v", err)
		}
	})

	t.Run("SaveInvalid", func(t *testing.T) {
		p, _ := newMockStore(t)
		if err := p.SaveRule(ctx, masking.MaskRule{ID: "r1"}); !errors.Is(err, masking.ErrInvalidRule) {
			t.Errorf("Expected ErrInvalidRule, got %v", err)
		}
	})

	t.Run("UpsertCollapsesDuplicateTargets", func(t *testing.T) {
		p, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM mask_rules m")).
			WithArgs(pq.StringArray{"2", "3"}, pq.StringArray{"Globex", "TechCorp"}).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE")).
			WithArgs("2", "Globex", "[B]", "3", "TechCorp", "[A2]").
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		result, err := p.UpsertRules(ctx, []masking.MaskRule{
			{ID: "1", Target: "TechCorp", Placeholder: "[A]"},
			{ID: "2", Target: "Globex", Placeholder: "[B]"},
			{ID: "3", Target: "TechCorp", Placeholder: "[A2]"},
		})
		if err != nil {
			t.Fatalf("Failed to upsert: %v", err)
		}
		if result.Upserted != 2 || result.Duplicates != 1 {
			t.Errorf("Unexpected result %+v", result)
		}
	})

	t.Run("UpsertRetargetsExistingID", func(t *testing.T) {
		// X already exists under another target; it is edited in place and
		// whichever rule held the new target is dropped
		p, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM mask_rules m")).
			WithArgs(pq.StringArray{"X"}, pq.StringArray{"Globex"}).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE SET")).
			WithArgs("X", "Globex", "[P]").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		result, err := p.UpsertRules(ctx, []masking.MaskRule{{ID: "X", Target: "Globex", Placeholder: "[P]"}})
		if err != nil {
			t.Fatalf("Failed to upsert: %v", err)
		}
		if result.Upserted != 1 {
			t.Errorf("Unexpected result %+v", result)
		}
	})

	t.Run("UpsertRollsBackOnFailure", func(t *testing.T) {
		p, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM mask_rules m")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO mask_rules")).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		if _, err := p.UpsertRules(ctx, []masking.MaskRule{{ID: "X", Target: "Globex", Placeholder: "[P]"}}); err == nil {
			t.Error("Expected upsert error")
		}
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		p, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM mask_rules WHERE id = $1")).
			WithArgs("nope").
			WillReturnResult(sqlmock.NewResult(0, 0))

		if err := p.DeleteRule(ctx, "nope"); !errors.Is(err, masking.ErrRuleNotFound) {
			t.Errorf("Expected ErrRuleNotFound, got %v", err)
		}
	})
}

func TestMaskDatabaseURL(t *testing.T) {
	got := maskDatabaseURL("postgres://sentinel:hunter2@db:5432/contracts?sslmode=disable")
	if got != "postgres://sentinel:***@db:5432/contracts?sslmode=disable" {
		t.Errorf("Unexpected masked URL '%s'", got)
	}
	if got := maskDatabaseURL("postgres://db/contracts"); got != "postgres://db/contracts" {
		t.Errorf("URL without credentials should be unchanged, got '%s'", got)
	}
}
