package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/raaihank/contract-sentinel/internal/config"
	"github.com/raaihank/contract-sentinel/internal/masking"
	"github.com/raaihank/contract-sentinel/internal/risk"
	"github.com/raaihank/contract-sentinel/internal/session"
	"go.uber.org/zap"
)

// Schema creates the tables used by Postgres
const Schema = `
CREATE TABLE IF NOT EXISTS review_sessions (
	id                   TEXT PRIMARY KEY,
	document_name        TEXT NOT NULL,
	document_text        TEXT NOT NULL,
	document_modified_at TIMESTAMPTZ NOT NULL,
	risks                JSONB NOT NULL,
	masking              JSONB,
	working_text         TEXT NOT NULL,
	saved_at             TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_review_sessions_saved_at ON review_sessions (saved_at DESC);

CREATE TABLE IF NOT EXISTS mask_rules (
	seq         BIGSERIAL,
	id          TEXT PRIMARY KEY,
	target      TEXT NOT NULL UNIQUE,
	placeholder TEXT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// Postgres stores sessions and mask rules in PostgreSQL
type Postgres struct {
	db     *sqlx.DB
	logger *zap.Logger
}

type sessionRow struct {
	ID                 string    `db:"id"`
	DocumentName       string    `db:"document_name"`
	DocumentText       string    `db:"document_text"`
	DocumentModifiedAt time.Time `db:"document_modified_at"`
	Risks              []byte    `db:"risks"`
	Masking            []byte    `db:"masking"`
	WorkingText        string    `db:"working_text"`
	SavedAt            time.Time `db:"saved_at"`
}

const sessionColumns = `id, document_name, document_text, document_modified_at, risks, masking, working_text, saved_at`

// NewPostgres connects, configures the pool and applies Schema
func NewPostgres(cfg config.StorageConfig, logger *zap.Logger) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	p := NewPostgresFromDB(db, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("Session store initialized",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return p, nil
}

// NewPostgresFromDB wraps an existing connection
func NewPostgresFromDB(db *sqlx.DB, logger *zap.Logger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

// Migrate creates the tables if they do not exist
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SaveSession writes s, replacing any earlier save with the same id
func (p *Postgres) SaveSession(ctx context.Context, s *session.ReviewSession) error {
	row, err := toRow(s)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO review_sessions (` + sessionColumns + `)
		VALUES (:id, :document_name, :document_text, :document_modified_at, :risks, :masking, :working_text, :saved_at)
		ON CONFLICT (id) DO UPDATE SET
			risks = EXCLUDED.risks,
			masking = EXCLUDED.masking,
			working_text = EXCLUDED.working_text,
			saved_at = EXCLUDED.saved_at`

	if _, err := p.db.NamedExecContext(ctx, query, row); err != nil {
		p.logger.Error("Failed to save session", zap.Error(err), zap.String("session_id", s.ID))
		return fmt.Errorf("failed to save session: %w", err)
	}

	p.logger.Debug("Session saved",
		zap.String("session_id", s.ID),
		zap.Int("risks", len(s.Risks)),
		zap.Bool("masked", s.Masked()))

	return nil
}

// LoadRecentSessions returns up to limit sessions, newest first
func (p *Postgres) LoadRecentSessions(ctx context.Context, limit int) ([]*session.ReviewSession, error) {
	var rows []sessionRow
	query := `SELECT ` + sessionColumns + ` FROM review_sessions ORDER BY saved_at DESC LIMIT $1`
	if err := p.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	sessions := make([]*session.ReviewSession, 0, len(rows))
	for _, row := range rows {
		s, err := row.toSession()
		if err != nil {
			p.logger.Warn("Skipping unreadable session", zap.String("session_id", row.ID), zap.Error(err))
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// GetSession returns one session by id
func (p *Postgres) GetSession(ctx context.Context, id string) (*session.ReviewSession, error) {
	var row sessionRow
	query := `SELECT ` + sessionColumns + ` FROM review_sessions WHERE id = $1`
	if err := p.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", session.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return row.toSession()
}

// ListRules returns every rule in insertion order
func (p *Postgres) ListRules(ctx context.Context) ([]masking.MaskRule, error) {
	rules := []masking.MaskRule{}
	if err := p.db.SelectContext(ctx, &rules, `SELECT id, target, placeholder FROM mask_rules ORDER BY seq`); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// SaveRule inserts or edits rule and drops any other rule with its target
func (p *Postgres) SaveRule(ctx context.Context, rule masking.MaskRule) error {
	if err := masking.ValidateRule(rule); err != nil {
		return err
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM mask_rules WHERE target = $1 AND id <> $2`, rule.Target, rule.ID); err != nil {
		return fmt.Errorf("failed to replace rule target: %w", err)
	}

	query := `
		INSERT INTO mask_rules (id, target, placeholder)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			target = EXCLUDED.target,
			placeholder = EXCLUDED.placeholder,
			updated_at = NOW()`
	if _, err := tx.ExecContext(ctx, query, rule.ID, rule.Target, rule.Placeholder); err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rule: %w", err)
	}
	return nil
}

// UpsertRules writes rules in one transaction with the same semantics as
// SaveRule: a known id is edited in place and any other rule holding one of
// the batch targets is dropped first.
func (p *Postgres) UpsertRules(ctx context.Context, rules []masking.MaskRule) (*BatchResult, error) {
	for _, r := range rules {
		if err := masking.ValidateRule(r); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.ID, err)
		}
	}

	unique, duplicates := dedupe(rules)
	result := &BatchResult{Duplicates: duplicates}
	if len(unique) == 0 {
		return result, nil
	}

	start := time.Now()
	ids := make(pq.StringArray, 0, len(unique))
	targets := make(pq.StringArray, 0, len(unique))
	valueStrings := make([]string, 0, len(unique))
	valueArgs := make([]interface{}, 0, len(unique)*3)
	for i, r := range unique {
		ids = append(ids, r.ID)
		targets = append(targets, r.Target)
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d)", i*3+1, i*3+2, i*3+3))
		valueArgs = append(valueArgs, r.ID, r.Target, r.Placeholder)
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	replaced := `
		DELETE FROM mask_rules m
		USING unnest($1::text[], $2::text[]) AS b(id, target)
		WHERE m.target = b.target AND m.id <> b.id`
	if _, err := tx.ExecContext(ctx, replaced, ids, targets); err != nil {
		p.logger.Error("Batch rule target replacement failed", zap.Error(err))
		return result, fmt.Errorf("failed to replace rule targets: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO mask_rules (id, target, placeholder)
		VALUES %s
		ON CONFLICT (id) DO UPDATE SET
			target = EXCLUDED.target,
			placeholder = EXCLUDED.placeholder,
			updated_at = NOW()`,
		strings.Join(valueStrings, ","))

	res, err := tx.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		p.logger.Error("Batch rule upsert failed", zap.Error(err))
		return result, fmt.Errorf("batch rule upsert failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit rule batch: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		p.logger.Warn("Could not get rows affected", zap.Error(err))
		affected = int64(len(unique))
	}

	result.Upserted = affected
	result.Duration = time.Since(start)

	p.logger.Info("Batch rule upsert completed",
		zap.Int64("upserted", result.Upserted),
		zap.Int64("duplicates_collapsed", result.Duplicates),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// DeleteRule removes one rule by id
func (p *Postgres) DeleteRule(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM mask_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", masking.ErrRuleNotFound, id)
	}
	return nil
}

// Close closes the database connection
func (p *Postgres) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func toRow(s *session.ReviewSession) (*sessionRow, error) {
	risks, err := json.Marshal(s.Risks)
	if err != nil {
		return nil, fmt.Errorf("failed to encode risks: %w", err)
	}

	row := &sessionRow{
		ID:                 s.ID,
		DocumentName:       s.Document.Name,
		DocumentText:       s.Document.Text,
		DocumentModifiedAt: s.Document.ModifiedAt,
		Risks:              risks,
		WorkingText:        s.WorkingText,
		SavedAt:            s.Timestamp,
	}

	if s.Masking != nil {
		if row.Masking, err = json.Marshal(s.Masking); err != nil {
			return nil, fmt.Errorf("failed to encode masking result: %w", err)
		}
	}

	return row, nil
}

func (row sessionRow) toSession() (*session.ReviewSession, error) {
	s := &session.ReviewSession{
		ID: row.ID,
		Document: session.Document{
			Name:       row.DocumentName,
			Text:       row.DocumentText,
			ModifiedAt: row.DocumentModifiedAt,
		},
		Timestamp:   row.SavedAt,
		WorkingText: row.WorkingText,
		Risks:       []risk.Risk{},
	}

	if err := json.Unmarshal(row.Risks, &s.Risks); err != nil {
		return nil, fmt.Errorf("failed to decode risks: %w", err)
	}
	if len(row.Masking) > 0 {
		s.Masking = &masking.Result{}
		if err := json.Unmarshal(row.Masking, s.Masking); err != nil {
			return nil, fmt.Errorf("failed to decode masking result: %w", err)
		}
	}

	return s, nil
}

// maskDatabaseURL masks the password in a database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	if colon <= strings.Index(userPart, "://")+2 {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
