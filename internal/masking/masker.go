package masking

import (
	"context"
	"fmt"
	"sync"

	"github.com/raaihank/contract-sentinel/internal/config"
	"github.com/raaihank/contract-sentinel/internal/logger"
	"go.uber.org/zap"
)

// ResultCache stores masking results keyed by their inputs.
type ResultCache interface {
	Lookup(ctx context.Context, original string, rules []MaskRule, enabled DetectorSet) (*Result, bool)
	Store(ctx context.Context, original string, rules []MaskRule, enabled DetectorSet, result *Result) error
}

// Masker applies Compute with a process-wide enabled-detector set.
type Masker struct {
	mu      sync.RWMutex
	enabled DetectorSet
	cache   ResultCache
	logger  *logger.Logger
}

// New creates a masker with the detectors named in cfg enabled.
func New(cfg config.MaskingConfig, log *logger.Logger) (*Masker, error) {
	m := &Masker{
		enabled: make(DetectorSet),
		logger:  log,
	}

	if err := m.Configure(cfg.Detectors); err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	log.Info("Masker initialized",
		zap.Int("catalog_size", len(catalog)),
		zap.Strings("enabled_detectors", m.EnabledDetectors().IDs()),
	)

	return m, nil
}

// SetCache attaches a result cache. A nil cache disables caching.
func (m *Masker) SetCache(cache ResultCache) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = cache
}

// Configure replaces the enabled set. "all" enables every detector and
// "default" enables the catalog defaults.
func (m *Masker) Configure(ids []string) error {
	set := make(DetectorSet)
	for _, id := range ids {
		switch id {
		case "all":
			for k := range AllDetectors() {
				set[k] = true
			}
		case "default":
			for k := range DefaultDetectors() {
				set[k] = true
			}
		default:
			if _, ok := LookupDetector(id); !ok {
				return fmt.Errorf("%w: %s", ErrUnknownDetector, id)
			}
			set[id] = true
		}
	}

	m.mu.Lock()
	m.enabled = set
	m.mu.Unlock()
	return nil
}

// EnableDetector enables a catalog detector
func (m *Masker) EnableDetector(id string) error {
	if _, ok := LookupDetector(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDetector, id)
	}

	m.mu.Lock()
	m.enabled[id] = true
	m.mu.Unlock()

	m.logger.Info("Detector enabled", zap.String("detector", id))
	return nil
}

// DisableDetector disables a catalog detector
func (m *Masker) DisableDetector(id string) error {
	if _, ok := LookupDetector(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDetector, id)
	}

	m.mu.Lock()
	delete(m.enabled, id)
	m.mu.Unlock()

	m.logger.Info("Detector disabled", zap.String("detector", id))
	return nil
}

// EnabledDetectors returns a copy of the enabled set
func (m *Masker) EnabledDetectors() DetectorSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled.Clone()
}

// Mask masks original with rules and the currently enabled detectors.
func (m *Masker) Mask(ctx context.Context, original string, rules []MaskRule) *Result {
	return m.MaskWith(ctx, original, rules, m.EnabledDetectors())
}

// MaskWith masks original with an explicit detector set.
func (m *Masker) MaskWith(ctx context.Context, original string, rules []MaskRule, enabled DetectorSet) *Result {
	m.mu.RLock()
	cache := m.cache
	m.mu.RUnlock()

	if cache != nil {
		if cached, ok := cache.Lookup(ctx, original, rules, enabled); ok {
			return cached
		}
	}

	result := Compute(original, rules, enabled)

	summaries := make([]logger.MaskingSummary, len(result.Findings))
	for i, f := range result.Findings {
		summaries[i] = logger.MaskingSummary{Source: f.Source, Kind: f.Kind, Placeholder: f.Placeholder, Count: f.Count}
	}
	m.logger.LogMasking(len(original), result.TotalReplacements, summaries)

	if cache != nil {
		if err := cache.Store(ctx, original, rules, enabled, result); err != nil {
			m.logger.Warn("Failed to cache masking result", zap.Error(err))
		}
	}

	return result
}
