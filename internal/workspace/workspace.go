package workspace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/raaihank/contract-sentinel/internal/analyzer"
	"github.com/raaihank/contract-sentinel/internal/config"
	"github.com/raaihank/contract-sentinel/internal/logger"
	"github.com/raaihank/contract-sentinel/internal/masking"
	"github.com/raaihank/contract-sentinel/internal/review"
	"github.com/raaihank/contract-sentinel/internal/risk"
	"github.com/raaihank/contract-sentinel/internal/session"
	"github.com/raaihank/contract-sentinel/internal/websocket"
	"go.uber.org/zap"
)

var (
	// ErrSessionNotOpen is returned for a session id with no open workspace
	ErrSessionNotOpen = errors.New("review session is not open")
	// ErrClosed is returned after the manager has been shut down
	ErrClosed = errors.New("workspace manager is closed")
	// ErrTooManyOpen is returned when the open-session limit is reached
	ErrTooManyOpen = errors.New("too many open review sessions")
	// ErrAnalysisFailed wraps analyzer errors other than a malformed reply
	ErrAnalysisFailed = errors.New("risk identification failed")
)

// Publisher receives review, masking and session events
type Publisher interface {
	BroadcastEvent(event websocket.Event)
}

// OpenRequest describes a new review
type OpenRequest struct {
	Document     session.Document    `json:"document"`
	Rules        []masking.MaskRule  `json:"rules,omitempty"`
	Mask         bool                `json:"mask"`
	Analyze      bool                `json:"analyze"`
	Risks        []risk.Candidate    `json:"risks,omitempty"` // used when Analyze is false
	Stance       analyzer.Stance     `json:"stance,omitempty"`
	Strictness   analyzer.Strictness `json:"strictness,omitempty"`
	RulesContext string              `json:"rulesContext,omitempty"`
}

// View is the rendered state of an open review
type View struct {
	SessionID     string           `json:"sessionId"`
	DocumentName  string           `json:"documentName"`
	Text          string           `json:"text"`
	Segments      []review.Segment `json:"segments"`
	Risks         []risk.Risk      `json:"risks"`
	SelectedID    string           `json:"selectedId,omitempty"`
	Animating     string           `json:"animating,omitempty"`
	CanUndo       bool             `json:"canUndo"`
	Stats         review.Stats     `json:"stats"`
	Masked        bool             `json:"masked"`
	Unmasked      bool             `json:"unmasked"`
	AnalysisError string           `json:"analysisError,omitempty"`
}

// Manager runs one actor per open review session
type Manager struct {
	masker     *masking.Masker
	identifier analyzer.Identifier
	store      session.Store
	publisher  Publisher
	config     config.ReviewConfig
	logger     *logger.Logger
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*actor
	closed   bool
}

// Option customises a Manager
type Option func(*Manager)

// WithPublisher sends events to p
func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a workspace manager. identifier may be nil when no
// analyzer is configured.
func NewManager(cfg config.ReviewConfig, masker *masking.Masker, identifier analyzer.Identifier, store session.Store, log *logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		masker:     masker,
		identifier: identifier,
		store:      store,
		config:     cfg,
		logger:     log.WithComponent("workspace"),
		now:        time.Now,
		sessions:   make(map[string]*actor),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open masks and analyses a document, persists the new session and starts a
// review of it. A malformed analyzer reply opens the review with no risks and
// reports the problem in View.AnalysisError. Any other analyzer error aborts.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*View, error) {
	if err := m.checkCapacity(""); err != nil {
		return nil, err
	}

	var mr *masking.Result
	if req.Mask {
		if m.masker == nil {
			return nil, errors.New("masking is not configured")
		}
		mr = m.masker.Mask(ctx, req.Document.Text, req.Rules)
		m.publish(websocket.Event{
			Type: websocket.EventTypeMasking,
			Data: websocket.MaskingEvent{
				DocumentName:      req.Document.Name,
				TotalReplacements: mr.TotalReplacements,
				Findings:          mr.Findings,
			},
		})
	}

	var (
		risks       []risk.Risk
		analysisErr string
	)
	if req.Analyze {
		if m.identifier == nil {
			return nil, analyzer.ErrDisabled
		}
		found, err := m.identifier.IdentifyRisks(ctx, analyzer.Request{
			DocumentText: session.InitialText(req.Document, mr),
			Stance:       req.Stance,
			Strictness:   req.Strictness,
			RulesContext: req.RulesContext,
		})
		switch {
		case errors.Is(err, analyzer.ErrMalformedResponse):
			m.logger.Warn("Analyzer reply unreadable, opening review without risks", zap.Error(err))
			analysisErr = err.Error()
		case err != nil:
			return nil, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
		default:
			risks = found
		}
	} else {
		risks = risk.Normalize(req.Risks)
	}

	s := session.BuildSession(req.Document, mr, risks, m.now())
	if m.store != nil {
		if err := m.store.SaveSession(ctx, s); err != nil {
			return nil, fmt.Errorf("failed to save session: %w", err)
		}
	}

	if _, err := m.start(s, analysisErr); err != nil {
		return nil, err
	}

	m.logger.Info("Review opened",
		zap.String("session_id", s.ID),
		zap.Bool("masked", mr != nil),
		zap.Int("risks", len(s.Risks)))
	m.publishSession(s.ID, "opened", s)

	return m.View(ctx, s.ID, false)
}

// Reopen resumes a saved session from its working text. The document is not
// masked again. An already open session is returned as is.
func (m *Manager) Reopen(ctx context.Context, id string) (*View, error) {
	if _, ok := m.lookup(id); ok {
		return m.View(ctx, id, false)
	}
	if m.store == nil {
		return nil, session.ErrNotFound
	}
	if err := m.checkCapacity(id); err != nil {
		return nil, err
	}

	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	if _, err := m.start(s, ""); err != nil {
		return nil, err
	}

	m.logger.Info("Review reopened", zap.String("session_id", id), zap.Int("risks", len(s.Risks)))
	m.publishSession(id, "reopened", s)

	return m.View(ctx, id, false)
}

// View renders an open review. With unmask set, masked text is restored
// for display.
func (m *Manager) View(ctx context.Context, id string, unmask bool) (*View, error) {
	var v *View
	err := m.with(ctx, id, func(a *actor) {
		v = a.view(unmask)
	})
	return v, err
}

// Accept applies a risk's suggestion. Focus moves once the animation window
// has elapsed.
func (m *Manager) Accept(ctx context.Context, id, riskID string) (*View, error) {
	return m.act(ctx, id, "accept", riskID, func(a *actor) error {
		token, err := a.engine.Accept(riskID)
		if err != nil {
			return err
		}
		if _, animating := a.engine.Animating(); animating {
			a.scheduleSettle(token)
		} else {
			a.stopTimer()
		}
		return nil
	})
}

// Ignore resolves a risk without changing the text
func (m *Manager) Ignore(ctx context.Context, id, riskID string) (*View, error) {
	return m.act(ctx, id, "ignore", riskID, func(a *actor) error {
		a.stopTimer()
		return a.engine.Ignore(riskID)
	})
}

// Undo reverts the latest accept or ignore. An empty history is not an error.
func (m *Manager) Undo(ctx context.Context, id string) (*View, error) {
	return m.act(ctx, id, "undo", "", func(a *actor) error {
		a.stopTimer()
		a.engine.Undo()
		return nil
	})
}

// Navigate moves the selection through the active risks
func (m *Manager) Navigate(ctx context.Context, id string, dir review.Direction) (*View, error) {
	return m.act(ctx, id, "navigate", "", func(a *actor) error {
		a.engine.Navigate(dir)
		return nil
	})
}

// Select focuses a risk. An empty riskID clears the selection.
func (m *Manager) Select(ctx context.Context, id, riskID string) (*View, error) {
	return m.act(ctx, id, "select", riskID, func(a *actor) error {
		return a.engine.Select(riskID)
	})
}

// SelectFirst focuses the first active risk at level, or at any level
func (m *Manager) SelectFirst(ctx context.Context, id string, level risk.Level) (*View, error) {
	return m.act(ctx, id, "select", "", func(a *actor) error {
		a.engine.SelectFirst(level)
		return nil
	})
}

// Save persists the current working text and risk states. Saving again
// overwrites the stored session.
func (m *Manager) Save(ctx context.Context, id string) (*session.ReviewSession, error) {
	if m.store == nil {
		return nil, errors.New("no session store configured")
	}

	var s *session.ReviewSession
	if err := m.with(ctx, id, func(a *actor) {
		s = a.snapshot(m.now())
	}); err != nil {
		return nil, err
	}

	if err := m.store.SaveSession(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	m.logger.Info("Review saved", zap.String("session_id", id))
	m.publishSession(id, "saved", s)
	return s, nil
}

// Recent lists saved sessions, newest first
func (m *Manager) Recent(ctx context.Context, limit int) ([]*session.ReviewSession, error) {
	if m.store == nil {
		return []*session.ReviewSession{}, nil
	}
	if limit <= 0 {
		limit = m.config.RecentSessions
	}
	return m.store.LoadRecentSessions(ctx, limit)
}

// Get loads a saved session
func (m *Manager) Get(ctx context.Context, id string) (*session.ReviewSession, error) {
	if m.store == nil {
		return nil, session.ErrNotFound
	}
	return m.store.GetSession(ctx, id)
}

// Close stops the workspace of an open session without saving it
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	a, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotOpen, id)
	}

	a.stop()
	m.logger.Info("Review closed", zap.String("session_id", id))
	m.publish(websocket.Event{
		Type:      websocket.EventTypeSession,
		SessionID: id,
		Data:      websocket.SessionEvent{Action: "closed", DocumentName: a.doc.Name, Masked: a.masking != nil},
	})
	return nil
}

// OpenSessions returns the ids of open reviews in sorted order
func (m *Manager) OpenSessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown stops every open workspace. Later calls fail with ErrClosed.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	actors := m.sessions
	m.sessions = make(map[string]*actor)
	m.closed = true
	m.mu.Unlock()

	for _, a := range actors {
		a.stop()
	}
	m.logger.Info("Workspace manager stopped", zap.Int("closed_sessions", len(actors)))
}

func (m *Manager) checkCapacity(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if _, ok := m.sessions[id]; ok {
		return nil
	}
	if m.config.MaxOpen > 0 && len(m.sessions) >= m.config.MaxOpen {
		return ErrTooManyOpen
	}
	return nil
}

func (m *Manager) start(s *session.ReviewSession, analysisErr string) (*actor, error) {
	a := newActor(s, m.config.AnimationWindow, m.logger)
	a.analysisErr = analysisErr
	a.onSettle = func(review.Token) {
		m.publishReview(a, "settle", "")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if existing, ok := m.sessions[s.ID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	if m.config.MaxOpen > 0 && len(m.sessions) >= m.config.MaxOpen {
		m.mu.Unlock()
		return nil, ErrTooManyOpen
	}
	m.sessions[s.ID] = a
	m.mu.Unlock()

	go a.run()
	return a, nil
}

func (m *Manager) lookup(id string) (*actor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.sessions[id]
	return a, ok
}

func (m *Manager) with(ctx context.Context, id string, fn func(a *actor)) error {
	a, ok := m.lookup(id)
	if !ok {
		if m.isClosed() {
			return ErrClosed
		}
		return fmt.Errorf("%w: %s", ErrSessionNotOpen, id)
	}
	return a.do(ctx, func() { fn(a) })
}

// act runs an engine action and returns the resulting view
func (m *Manager) act(ctx context.Context, id, action, riskID string, fn func(a *actor) error) (*View, error) {
	var (
		v      *View
		actErr error
	)
	err := m.with(ctx, id, func(a *actor) {
		if actErr = fn(a); actErr != nil {
			return
		}
		v = a.view(false)
		m.publishReview(a, action, riskID)
	})
	if err != nil {
		return nil, err
	}
	if actErr != nil {
		return nil, actErr
	}
	return v, nil
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// publishReview must run on the actor
func (m *Manager) publishReview(a *actor, action, riskID string) {
	animating, _ := a.engine.Animating()
	m.publish(websocket.Event{
		Type:      websocket.EventTypeReview,
		SessionID: a.id,
		Data: websocket.ReviewEvent{
			Action:     action,
			RiskID:     riskID,
			SelectedID: a.engine.SelectedID(),
			Animating:  animating,
			CanUndo:    a.engine.CanUndo(),
			Stats:      a.engine.Stats(),
		},
	})
}

func (m *Manager) publishSession(id, action string, s *session.ReviewSession) {
	m.publish(websocket.Event{
		Type:      websocket.EventTypeSession,
		SessionID: id,
		Data: websocket.SessionEvent{
			Action:       action,
			DocumentName: s.Document.Name,
			Risks:        len(s.Risks),
			Masked:       s.Masked(),
		},
	})
}

func (m *Manager) publish(event websocket.Event) {
	if m.publisher == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = m.now()
	}
	m.publisher.BroadcastEvent(event)
}
