package ruleimport

import (
	"path/filepath"
	"strings"
	"time"
)

// RuleRecord is one row of a rule library file
type RuleRecord struct {
	ID          string `parquet:"id" json:"id"`
	Target      string `parquet:"target" json:"target"`
	Placeholder string `parquet:"placeholder" json:"placeholder"`
}

// Result summarises one import run
type Result struct {
	TotalRecords int64             `json:"total_records"`
	Imported     int64             `json:"imported"`
	Invalid      int64             `json:"invalid"`
	Duplicates   int64             `json:"duplicates"`
	Batches      int               `json:"batches"`
	DryRun       bool              `json:"dry_run"`
	CacheCleared bool              `json:"cache_cleared"`
	Duration     time.Duration     `json:"duration"`
	DatabaseTime time.Duration     `json:"database_time"`
	Errors       []ValidationError `json:"errors,omitempty"`
}

// Config contains import pipeline configuration
type Config struct {
	BatchSize       int  `yaml:"batch_size" mapstructure:"batch_size"`
	DryRun          bool `yaml:"dry_run" mapstructure:"dry_run"`
	ClearCache      bool `yaml:"clear_cache" mapstructure:"clear_cache"`
	MaxTargetLength int  `yaml:"max_target_length" mapstructure:"max_target_length"`
	MaxErrors       int  `yaml:"max_errors" mapstructure:"max_errors"` // errors kept in Result
}

// DefaultConfig returns the settings used by the CLI
func DefaultConfig() Config {
	return Config{
		BatchSize:       500,
		ClearCache:      true,
		MaxTargetLength: 500,
		MaxErrors:       100,
	}
}

// ValidationError describes a rejected row. It never carries the target
// text, which is the sensitive value the rule exists to hide.
type ValidationError struct {
	Row     int64  `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "jsonl"
)

// DetectFileFormat detects file format from extension, defaulting to CSV
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV
	}
}
