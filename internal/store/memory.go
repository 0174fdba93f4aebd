package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/raaihank/contract-sentinel/internal/masking"
	"github.com/raaihank/contract-sentinel/internal/risk"
	"github.com/raaihank/contract-sentinel/internal/session"
)

// Memory keeps sessions and rules in process memory. It is used when no
// database is configured and in tests.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*session.ReviewSession
	rules    *masking.Library
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*session.ReviewSession),
		rules:    masking.NewLibrary(),
	}
}

// SaveSession stores a copy of s
func (m *Memory) SaveSession(_ context.Context, s *session.ReviewSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = copySession(s)
	return nil
}

// LoadRecentSessions returns up to limit sessions, newest first
func (m *Memory) LoadRecentSessions(_ context.Context, limit int) ([]*session.ReviewSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*session.ReviewSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, copySession(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetSession returns a copy of one session
func (m *Memory) GetSession(_ context.Context, id string) (*session.ReviewSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	return copySession(s), nil
}

// ListRules returns the rules in insertion order
func (m *Memory) ListRules(_ context.Context) ([]masking.MaskRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rules.Rules(), nil
}

// SaveRule inserts or edits one rule
func (m *Memory) SaveRule(_ context.Context, rule masking.MaskRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.rules.Upsert(rule)
	return err
}

// UpsertRules writes rules keyed by target
func (m *Memory) UpsertRules(_ context.Context, rules []masking.MaskRule) (*BatchResult, error) {
	for _, r := range rules {
		if err := masking.ValidateRule(r); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.ID, err)
		}
	}

	start := time.Now()
	unique, duplicates := dedupe(rules)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range unique {
		if _, err := m.rules.Upsert(r); err != nil {
			return nil, err
		}
	}

	return &BatchResult{
		Upserted:   int64(len(unique)),
		Duplicates: duplicates,
		Duration:   time.Since(start),
	}, nil
}

// DeleteRule removes one rule by id
func (m *Memory) DeleteRule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rules.Remove(id)
}

// Close is a no-op
func (m *Memory) Close() error {
	return nil
}

func copySession(s *session.ReviewSession) *session.ReviewSession {
	c := *s
	c.Risks = risk.Clone(s.Risks)
	if s.Masking != nil {
		mr := *s.Masking
		mr.PlaceholderMap = make(masking.PlaceholderMap, len(s.Masking.PlaceholderMap))
		for k, v := range s.Masking.PlaceholderMap {
			mr.PlaceholderMap[k] = v
		}
		mr.Findings = append([]masking.Finding(nil), s.Masking.Findings...)
		c.Masking = &mr
	}
	return &c
}
