package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raaihank/contract-sentinel/internal/analyzer"
	"github.com/raaihank/contract-sentinel/internal/api"
	"github.com/raaihank/contract-sentinel/internal/cache"
	"github.com/raaihank/contract-sentinel/internal/config"
	"github.com/raaihank/contract-sentinel/internal/logger"
	"github.com/raaihank/contract-sentinel/internal/masking"
	"github.com/raaihank/contract-sentinel/internal/session"
	"github.com/raaihank/contract-sentinel/internal/store"
	"github.com/raaihank/contract-sentinel/internal/websocket"
	"github.com/raaihank/contract-sentinel/internal/workspace"
	"go.uber.org/zap"
)

var (
	version = api.Version
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.String("health-check", "", "Check the server at this base URL and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("contract-sentinel %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck != "" {
		performHealthCheck(*healthCheck)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: true,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting contract-sentinel",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := initializeServices(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer svc.cleanup()

	if path := config.FileUsed(); path != "" {
		log.Info("Watching configuration file", zap.String("path", path))
		config.Watch(func(updated *config.Config) {
			if err := svc.masker.Configure(updated.Masking.Detectors); err != nil {
				log.Warn("Ignoring detector change", zap.Error(err))
				return
			}
			log.Info("Configuration reloaded",
				zap.Strings("enabled_detectors", svc.masker.EnabledDetectors().IDs()))
		}, func(err error) {
			log.Warn("Configuration reload rejected", zap.Error(err))
		})
	}

	server := api.New(cfg, log, api.Dependencies{
		Masker:     svc.masker,
		Rules:      svc.rules,
		Workspaces: svc.workspaces,
		Hub:        svc.hub,
		Cache:      svc.cache,
		Provider:   svc.provider,
	})

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- server.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", zap.Error(err))
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		stopCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
		defer stop()

		if err := server.Stop(stopCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
		}
		svc.workspaces.Shutdown()
		log.Info("Server shutdown complete")
	}
}

// services holds everything the API depends on
type services struct {
	masker     *masking.Masker
	rules      store.RuleStore
	sessions   session.Store
	workspaces *workspace.Manager
	hub        *websocket.Hub
	cache      *cache.MaskingCache
	analyzer   *analyzer.Analyzer
	provider   string
	closers    []func() error
}

func (s *services) cleanup() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

func initializeServices(ctx context.Context, cfg *config.Config, log *logger.Logger) (*services, error) {
	svc := &services{}

	masker, err := masking.New(cfg.Masking, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize masker: %w", err)
	}
	svc.masker = masker

	if cfg.Cache.Enabled && cfg.Masking.CacheResults {
		mc, err := cache.NewMaskingCache(cfg.Cache, log.Logger)
		if err != nil {
			// The cache only saves recomputation; run without it
			log.Warn("Masking cache unavailable", zap.Error(err))
		} else {
			svc.cache = mc
			svc.closers = append(svc.closers, mc.Close)
			masker.SetCache(mc)
		}
	}

	if cfg.Storage.DatabaseURL != "" {
		pg, err := store.NewPostgres(cfg.Storage, log.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		svc.closers = append(svc.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			svc.cleanup()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		svc.rules, svc.sessions = pg, pg
	} else {
		log.Info("No database configured, sessions and rules are kept in memory")
		mem := store.NewMemory()
		svc.rules, svc.sessions = mem, mem
	}

	a, err := analyzer.New(ctx, cfg.Analyzer, log)
	if err != nil {
		svc.cleanup()
		return nil, fmt.Errorf("failed to initialize analyzer: %w", err)
	}
	svc.analyzer = a
	svc.provider = a.Provider()
	svc.closers = append(svc.closers, a.Close)

	var identifier analyzer.Identifier
	if a.Enabled() {
		identifier = a
	}

	var opts []workspace.Option
	if cfg.WebSocket.Enabled {
		svc.hub = websocket.NewHub(websocket.ConfigFrom(cfg.WebSocket), log.WithComponent("websocket").Logger)
		go svc.hub.Run(ctx)
		opts = append(opts, workspace.WithPublisher(svc.hub))
	}

	svc.workspaces = workspace.NewManager(cfg.Review, masker, identifier, svc.sessions, log, opts...)
	return svc, nil
}

// performHealthCheck checks a running server and exits
func performHealthCheck(baseURL string) {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
}
