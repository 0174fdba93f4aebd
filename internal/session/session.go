package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/raaihank/contract-sentinel/internal/masking"
	"github.com/raaihank/contract-sentinel/internal/risk"
)

// ErrNotFound is returned when a session id is unknown to the store
var ErrNotFound = errors.New("review session not found")

// Document is an uploaded contract. It is never modified after upload.
type Document struct {
	Name       string    `json:"name"`
	Text       string    `json:"text"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// ReviewSession is the persisted unit of a review. WorkingText is the text
// the review should resume from; reopening never re-masks the document.
type ReviewSession struct {
	ID          string          `json:"id"`
	Document    Document        `json:"document"`
	Risks       []risk.Risk     `json:"riskAnnotations"`
	Timestamp   time.Time       `json:"timestamp"`
	Masking     *masking.Result `json:"maskingResult,omitempty"`
	WorkingText string          `json:"workingText"`
}

// Masked reports whether the session reviewed masked text
func (s *ReviewSession) Masked() bool {
	return s.Masking != nil
}

// Store persists review sessions
type Store interface {
	SaveSession(ctx context.Context, s *ReviewSession) error
	LoadRecentSessions(ctx context.Context, limit int) ([]*ReviewSession, error)
	GetSession(ctx context.Context, id string) (*ReviewSession, error)
}

// Option customises BuildSession
type Option func(*ReviewSession)

// WithID sets the session id instead of generating one
func WithID(id string) Option {
	return func(s *ReviewSession) {
		s.ID = id
	}
}

// WithWorkingText records text edited since the session was opened
func WithWorkingText(text string) Option {
	return func(s *ReviewSession) {
		s.WorkingText = text
	}
}

// BuildSession assembles a review session. The working text defaults to the
// masked text when masking was used and to the document text otherwise.
func BuildSession(doc Document, mr *masking.Result, risks []risk.Risk, now time.Time, opts ...Option) *ReviewSession {
	s := &ReviewSession{
		ID:        uuid.NewString(),
		Document:  doc,
		Risks:     risk.Clone(risks),
		Timestamp: now,
		Masking:   mr,
	}
	if s.Risks == nil {
		s.Risks = []risk.Risk{}
	}

	s.WorkingText = InitialText(doc, mr)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitialText is the text a new review starts from
func InitialText(doc Document, mr *masking.Result) string {
	if mr != nil {
		return mr.MaskedText
	}
	return doc.Text
}
