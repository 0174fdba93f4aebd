package ruleimport

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/raaihank/contract-sentinel/internal/masking"
	"github.com/raaihank/contract-sentinel/internal/store"
	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"
)

// RuleWriter stores batches of rules keyed by target
type RuleWriter interface {
	UpsertRules(ctx context.Context, rules []masking.MaskRule) (*store.BatchResult, error)
}

// CacheClearer drops cached masking results
type CacheClearer interface {
	Clear(ctx context.Context) error
}

// ruleNamespace derives stable ids for rows without one, so importing the
// same file twice does not churn ids
var ruleNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("contract-sentinel/mask-rule"))

// Pipeline imports mask rule libraries into the rule store
type Pipeline struct {
	writer RuleWriter
	cache  CacheClearer
	config Config
	logger *zap.Logger
}

// NewPipeline creates an import pipeline. cache may be nil.
func NewPipeline(writer RuleWriter, cache CacheClearer, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Pipeline{
		writer: writer,
		cache:  cache,
		config: cfg,
		logger: logger,
	}
}

// ImportFile imports a CSV, Parquet or JSON-lines file chosen by extension
func (p *Pipeline) ImportFile(ctx context.Context, path string) (*Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	format := DetectFileFormat(path)
	p.logger.Info("Starting rule import",
		zap.String("file", path),
		zap.String("format", string(format)),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Bool("dry_run", p.config.DryRun))

	return p.Import(ctx, file, format)
}

// Import reads rules from r in the given format and writes them in batches
func (p *Pipeline) Import(ctx context.Context, r io.Reader, format FileFormat) (*Result, error) {
	start := time.Now()
	result := &Result{DryRun: p.config.DryRun}

	var (
		next func() (*RuleRecord, error)
		err  error
	)
	switch format {
	case FormatCSV:
		next, err = csvRecords(r)
	case FormatParquet:
		var closeReader func() error
		next, closeReader, err = parquetRecords(r)
		if err == nil {
			defer closeReader()
		}
	case FormatJSON:
		next = jsonRecords(r)
	default:
		err = fmt.Errorf("unsupported file format: %s", format)
	}
	if err != nil {
		return result, err
	}

	if err := p.processBatches(ctx, next, result); err != nil {
		return result, err
	}

	if p.cache != nil && p.config.ClearCache && !p.config.DryRun && result.Imported > 0 {
		if err := p.cache.Clear(ctx); err != nil {
			p.logger.Warn("Failed to clear masking cache", zap.Error(err))
		} else {
			result.CacheCleared = true
		}
	}

	result.Duration = time.Since(start)
	p.logger.Info("Rule import completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("imported", result.Imported),
		zap.Int64("invalid", result.Invalid),
		zap.Int64("duplicates", result.Duplicates),
		zap.Int("batches", result.Batches),
		zap.Bool("cache_cleared", result.CacheCleared),
		zap.Duration("duration", result.Duration))

	return result, nil
}

func (p *Pipeline) processBatches(ctx context.Context, next func() (*RuleRecord, error), result *Result) error {
	batch := make([]masking.MaskRule, 0, p.config.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		result.Batches++

		if p.config.DryRun {
			result.Imported += int64(len(batch))
			batch = batch[:0]
			return nil
		}

		dbStart := time.Now()
		written, err := p.writer.UpsertRules(ctx, batch)
		if err != nil {
			return fmt.Errorf("batch %d failed: %w", result.Batches, err)
		}
		result.DatabaseTime += time.Since(dbStart)
		result.Imported += written.Upserted
		result.Duplicates += written.Duplicates

		p.logger.Debug("Batch written",
			zap.Int("batch", result.Batches),
			zap.Int64("upserted", written.Upserted),
			zap.Duration("duration", time.Since(dbStart)))

		batch = batch[:0]
		return nil
	}

	var row int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		record, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			p.reject(result, ValidationError{Row: row, Message: err.Error()})
			continue
		}
		result.TotalRecords++

		rule, verr := p.toRule(record)
		if verr != nil {
			verr.Row = row
			p.reject(result, *verr)
			continue
		}

		batch = append(batch, rule)
		if len(batch) >= p.config.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	return flush()
}

func (p *Pipeline) toRule(record *RuleRecord) (masking.MaskRule, *ValidationError) {
	rule := masking.MaskRule{
		ID:          strings.TrimSpace(record.ID),
		Target:      record.Target,
		Placeholder: strings.TrimSpace(record.Placeholder),
	}

	switch {
	case strings.TrimSpace(rule.Target) == "":
		return rule, &ValidationError{Field: "target", Message: "target is empty"}
	case rule.Placeholder == "":
		return rule, &ValidationError{Field: "placeholder", Message: "placeholder is empty"}
	case p.config.MaxTargetLength > 0 && len(rule.Target) > p.config.MaxTargetLength:
		return rule, &ValidationError{Field: "target", Message: fmt.Sprintf("target longer than %d bytes", p.config.MaxTargetLength)}
	case strings.Contains(rule.Target, rule.Placeholder):
		return rule, &ValidationError{Field: "placeholder", Message: "placeholder occurs inside its own target"}
	}

	if rule.ID == "" {
		rule.ID = uuid.NewSHA1(ruleNamespace, []byte(rule.Target)).String()
	}
	return rule, nil
}

func (p *Pipeline) reject(result *Result, verr ValidationError) {
	result.Invalid++
	if p.config.MaxErrors <= 0 || len(result.Errors) < p.config.MaxErrors {
		result.Errors = append(result.Errors, verr)
	}
	p.logger.Debug("Invalid rule row",
		zap.Int64("row", verr.Row),
		zap.String("field", verr.Field),
		zap.String("reason", verr.Message))
}

// csvRecords reads a CSV file with a header naming target and placeholder
// columns and an optional id column
func csvRecords(r io.Reader) (func() (*RuleRecord, error), error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		columns[name] = i
	}
	for _, required := range []string{"target", "placeholder"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("CSV header is missing the %q column", required)
		}
	}

	field := func(record []string, name string) string {
		if i, ok := columns[name]; ok && i < len(record) {
			return record[i]
		}
		return ""
	}

	failed := false
	return func() (*RuleRecord, error) {
		if failed {
			return nil, io.EOF
		}
		record, err := reader.Read()
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.Is(err, io.EOF) && !errors.As(err, &parseErr) {
				failed = true
			}
			return nil, err
		}
		return &RuleRecord{
			ID:          field(record, "id"),
			Target:      field(record, "target"),
			Placeholder: field(record, "placeholder"),
		}, nil
	}, nil
}

// parquetRecords reads RuleRecord rows. Parquet needs random access, so
// the input is buffered in memory; rule libraries are small.
func parquetRecords(r io.Reader) (func() (*RuleRecord, error), func() error, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read Parquet input: %w", err)
	}

	input := bytes.NewReader(data)
	if _, err := parquet.OpenFile(input, input.Size()); err != nil {
		return nil, nil, fmt.Errorf("invalid Parquet file: %w", err)
	}

	reader := parquet.NewReader(input)
	return func() (*RuleRecord, error) {
		var record RuleRecord
		if err := reader.Read(&record); err != nil {
			return nil, err
		}
		return &record, nil
	}, reader.Close, nil
}

// jsonRecords reads one JSON object per line. A record of the wrong shape is
// reported and skipped; a syntax error is reported and ends the input since
// the decoder cannot resynchronise.
func jsonRecords(r io.Reader) func() (*RuleRecord, error) {
	decoder := json.NewDecoder(r)
	failed := false

	return func() (*RuleRecord, error) {
		if failed {
			return nil, io.EOF
		}

		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			failed = true
			return nil, fmt.Errorf("invalid JSON at offset %d: %w", decoder.InputOffset(), err)
		}

		var record RuleRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("invalid JSON record: %w", err)
		}
		return &record, nil
	}
}
