package workspace

import (
	"context"
	"time"

	"github.com/raaihank/contract-sentinel/internal/logger"
	"github.com/raaihank/contract-sentinel/internal/masking"
	"github.com/raaihank/contract-sentinel/internal/review"
	"github.com/raaihank/contract-sentinel/internal/session"
	"go.uber.org/zap"
)

// actor owns one review engine. Every read and write of the engine runs on
// the actor goroutine.
type actor struct {
	id          string
	doc         session.Document
	masking     *masking.Result
	engine      *review.Engine
	analysisErr string

	window   time.Duration
	timer    *time.Timer
	onSettle func(review.Token)

	cmds   chan func()
	done   chan struct{}
	logger *logger.Logger
}

func newActor(s *session.ReviewSession, window time.Duration, log *logger.Logger) *actor {
	return &actor{
		id:      s.ID,
		doc:     s.Document,
		masking: s.Masking,
		engine:  review.New(s.WorkingText, s.Risks),
		window:  window,
		cmds:    make(chan func()),
		done:    make(chan struct{}),
		logger:  log.WithSessionID(s.ID),
	}
}

func (a *actor) run() {
	for {
		select {
		case fn := <-a.cmds:
			fn()
		case <-a.done:
			a.stopTimer()
			return
		}
	}
}

// do runs fn on the actor goroutine and waits for it to finish
func (a *actor) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	cmd := func() {
		defer close(finished)
		fn()
	}

	select {
	case a.cmds <- cmd:
	case <-a.done:
		return ErrSessionNotOpen
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting. It is dropped once the actor has stopped.
func (a *actor) post(fn func()) {
	select {
	case a.cmds <- fn:
	case <-a.done:
	}
}

func (a *actor) stop() {
	close(a.done)
}

// scheduleSettle arms the animation timer for token. Must run on the actor.
func (a *actor) scheduleSettle(token review.Token) {
	a.stopTimer()
	if a.window <= 0 {
		a.settle(token)
		return
	}
	a.timer = time.AfterFunc(a.window, func() {
		a.post(func() { a.settle(token) })
	})
}

func (a *actor) settle(token review.Token) {
	if !a.engine.Settle(token) {
		return
	}
	a.logger.Debug("Accept animation settled", zap.String("selected_id", a.engine.SelectedID()))
	if a.onSettle != nil {
		a.onSettle(token)
	}
}

func (a *actor) stopTimer() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// view renders the current state. Must run on the actor.
func (a *actor) view(unmask bool) *View {
	animating, _ := a.engine.Animating()
	v := &View{
		SessionID:     a.id,
		DocumentName:  a.doc.Name,
		Text:          a.engine.Text(),
		Segments:      a.engine.Segments(),
		Risks:         a.engine.Risks(),
		SelectedID:    a.engine.SelectedID(),
		Animating:     animating,
		CanUndo:       a.engine.CanUndo(),
		Stats:         a.engine.Stats(),
		Masked:        a.masking != nil,
		AnalysisError: a.analysisErr,
	}
	if unmask && a.masking != nil {
		v.Text = a.masking.Unmask(v.Text)
		v.Segments = review.UnmaskSegments(v.Segments, a.masking.PlaceholderMap)
		v.Unmasked = true
	}
	return v
}

// snapshot builds the persisted form of the review. Must run on the actor.
func (a *actor) snapshot(now time.Time) *session.ReviewSession {
	return session.BuildSession(a.doc, a.masking, a.engine.Risks(), now,
		session.WithID(a.id),
		session.WithWorkingText(a.engine.Text()),
	)
}
