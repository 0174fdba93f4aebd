package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/contract-sentinel/internal/cache"
	"github.com/raaihank/contract-sentinel/internal/config"
	"github.com/raaihank/contract-sentinel/internal/logger"
	"github.com/raaihank/contract-sentinel/internal/ruleimport"
	"github.com/raaihank/contract-sentinel/internal/store"
)

func main() {
	defaults := ruleimport.DefaultConfig()
	var (
		configPath = flag.String("config", "", "Configuration file path")
		inputFile  = flag.String("input", "", "Rule library file (CSV, Parquet or JSON lines)")
		batchSize  = flag.Int("batch-size", defaults.BatchSize, "Rules written per database round trip")
		dryRun     = flag.Bool("dry-run", false, "Validate only, don't write to the database")
		skipCache  = flag.Bool("skip-cache", false, "Don't clear the Redis masking cache after import")
		maxLength  = flag.Int("max-target-length", defaults.MaxTargetLength, "Reject targets longer than this many bytes")
		jsonReport = flag.Bool("json", false, "Print the import report as JSON")
	)
	flag.Parse()

	if *inputFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input rules.csv --batch-size 200\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input rules.parquet --dry-run\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling import")
		cancel()
	}()

	importCfg := defaults
	importCfg.BatchSize = *batchSize
	importCfg.DryRun = *dryRun
	importCfg.ClearCache = !*skipCache
	importCfg.MaxTargetLength = *maxLength

	result, err := run(ctx, cfg, importCfg, *inputFile, log)
	if err != nil {
		log.Fatal("Rule import failed", zap.Error(err))
	}

	if *jsonReport {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	} else {
		printReport(result)
	}

	if result.Invalid > 0 {
		os.Exit(2)
	}
}

func run(ctx context.Context, cfg *config.Config, importCfg ruleimport.Config, path string, log *logger.Logger) (*ruleimport.Result, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("input file: %w", err)
	}

	var writer ruleimport.RuleWriter
	if importCfg.DryRun {
		writer = store.NewMemory()
	} else {
		if cfg.Storage.DatabaseURL == "" {
			return nil, fmt.Errorf("storage.database_url is required unless --dry-run is set")
		}
		pg, err := store.NewPostgres(cfg.Storage, log.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		writer = pg
	}

	var clearer ruleimport.CacheClearer
	if importCfg.ClearCache && !importCfg.DryRun && cfg.Cache.Enabled {
		mc, err := cache.NewMaskingCache(cfg.Cache, log.Logger)
		if err != nil {
			log.Warn("Masking cache unavailable, stale entries may be served until they expire", zap.Error(err))
		} else {
			defer mc.Close()
			clearer = mc
		}
	}

	pipeline := ruleimport.NewPipeline(writer, clearer, importCfg, log.WithComponent("ruleimport").Logger)
	return pipeline.ImportFile(ctx, path)
}

func printReport(r *ruleimport.Result) {
	fmt.Printf("\n=== Rule Import ===\n")
	fmt.Printf("Records read:    %d\n", r.TotalRecords)
	fmt.Printf("Imported:        %d\n", r.Imported)
	fmt.Printf("Invalid:         %d\n", r.Invalid)
	fmt.Printf("Duplicates:      %d\n", r.Duplicates)
	fmt.Printf("Batches:         %d\n", r.Batches)
	fmt.Printf("Dry run:         %v\n", r.DryRun)
	fmt.Printf("Cache cleared:   %v\n", r.CacheCleared)
	fmt.Printf("Duration:        %v\n", r.Duration)
	fmt.Printf("Database time:   %v\n", r.DatabaseTime)

	if len(r.Errors) > 0 {
		fmt.Printf("\n=== Rejected rows ===\n")
		for _, e := range r.Errors {
			fmt.Printf("row %d: %s (%s)\n", e.Row, e.Message, e.Field)
		}
		if int64(len(r.Errors)) < r.Invalid {
			fmt.Printf("... and %d more\n", r.Invalid-int64(len(r.Errors)))
		}
	}
}
