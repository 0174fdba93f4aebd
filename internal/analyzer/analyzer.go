package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/raaihank/contract-sentinel/internal/config"
	"github.com/raaihank/contract-sentinel/internal/logger"
	"github.com/raaihank/contract-sentinel/internal/risk"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrMalformedResponse is returned when the model reply holds no readable risks
	ErrMalformedResponse = risk.ErrMalformed
	// ErrUnsupportedProvider is returned for an unknown provider name
	ErrUnsupportedProvider = errors.New("unsupported analyzer provider")
	// ErrDisabled is returned when no provider is configured
	ErrDisabled = errors.New("risk analysis is disabled")
)

// Identifier finds risks in a document. Each returned risk's OriginalText
// should be a verbatim substring of the document text.
type Identifier interface {
	IdentifyRisks(ctx context.Context, req Request) ([]risk.Risk, error)
}

// backend sends one prompt to a model and returns its raw text reply
type backend interface {
	complete(ctx context.Context, system, user string) (string, error)
}

// Analyzer turns a model backend into an Identifier. It fills in default
// stance and strictness, throttles calls and normalizes replies.
type Analyzer struct {
	provider   string
	model      string
	backend    backend
	limiter    *rate.Limiter
	timeout    time.Duration
	stance     Stance
	strictness Strictness
	logger     *logger.Logger
}

// New builds the analyzer for cfg.Provider
func New(ctx context.Context, cfg config.AnalyzerConfig, log *logger.Logger) (*Analyzer, error) {
	a := &Analyzer{
		provider:   cfg.Provider,
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		stance:     Stance(cfg.Stance),
		strictness: Strictness(cfg.Strictness),
		logger:     log.WithComponent("analyzer"),
	}

	var err error
	switch cfg.Provider {
	case "", "none":
		a.provider = "none"
	case ProviderGemini:
		a.backend, a.model, err = newGemini(ctx, cfg)
	default:
		if _, ok := openAICompatible[cfg.Provider]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
		}
		a.backend, a.model, err = newOpenAI(cfg)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RequestsPerMinute > 0 {
		a.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	a.logger.Info("Analyzer initialized",
		zap.String("provider", a.provider),
		zap.String("model", a.model),
		zap.Int("requests_per_minute", cfg.RequestsPerMinute))

	return a, nil
}

// Enabled reports whether a provider is configured
func (a *Analyzer) Enabled() bool {
	return a.backend != nil
}

// Provider returns the configured provider name
func (a *Analyzer) Provider() string {
	return a.provider
}

// IdentifyRisks asks the model for risks in req.DocumentText. A reply that
// cannot be read yields an empty list together with ErrMalformedResponse.
func (a *Analyzer) IdentifyRisks(ctx context.Context, req Request) ([]risk.Risk, error) {
	if a.backend == nil {
		return nil, ErrDisabled
	}
	if req.Stance == "" {
		req.Stance = a.stance
	}
	if req.Strictness == "" {
		req.Strictness = a.strictness
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("analyzer rate limit: %w", err)
		}
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	system, user := BuildPrompt(req)
	start := time.Now()

	raw, err := a.backend.complete(ctx, system, user)
	if err != nil {
		a.logger.Error("Risk identification failed",
			zap.String("provider", a.provider),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, fmt.Errorf("%s: %w", a.provider, err)
	}

	parsed := risk.ParseResponse(raw)
	risks, err := parsed.Risks()

	a.logger.Info("Risk identification completed",
		zap.String("provider", a.provider),
		zap.String("response_shape", parsed.Shape.String()),
		zap.Int("risks", len(risks)),
		zap.Int("document_bytes", len(req.DocumentText)),
		zap.Duration("duration", time.Since(start)))

	return risks, err
}

// Close releases provider clients that hold connections
func (a *Analyzer) Close() error {
	if c, ok := a.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
