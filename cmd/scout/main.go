// Package main wires together the scout probe service.
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

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/threatlens/scout/internal/analysis"
	"github.com/threatlens/scout/internal/api"
	"github.com/threatlens/scout/internal/config"
	"github.com/threatlens/scout/internal/ingest"
	"github.com/threatlens/scout/internal/logging"
	"github.com/threatlens/scout/internal/metrics"
	"github.com/threatlens/scout/internal/probe"
	"github.com/threatlens/scout/internal/publish"
	"github.com/threatlens/scout/internal/queue"
	"github.com/threatlens/scout/internal/realtime"
	"github.com/threatlens/scout/internal/scrape"
	"github.com/threatlens/scout/internal/store"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Local development keeps secrets in .env; missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		sources     store.SourceStore
		articles    store.ArticleStore
		identities  store.IdentityStore
		permissions store.PermissionStore
	)
	if cfg.DB.DSN != "" {
		pool, err := store.NewPool(ctx, store.PostgresConfig{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetime) * time.Second,
		})
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		defer pool.Close()
		sources = store.NewPostgresSourceStore(pool)
		articles = store.NewPostgresArticleStore(pool)
		identities = store.NewPostgresIdentityStore(pool)
		permissions = store.NewPostgresPermissionStore(pool)
	} else {
		logger.Warn("no db.dsn configured, using in-memory stores")
		sources = store.NewMemorySourceStore()
		articles = store.NewMemoryArticleStore()
		identities = store.NewMemoryIdentityStore()
		permissions = store.NewMemoryPermissionStore()
	}

	var dedup ingest.DedupCache
	if cfg.Dedup.Path != "" {
		cache, err := ingest.OpenBoltDedupCache(cfg.Dedup.Path)
		if err != nil {
			logger.Fatal("dedup cache init failed", zap.Error(err))
		}
		defer func() {
			if closeErr := cache.Close(); closeErr != nil {
				logger.Warn("dedup cache close failed", zap.Error(closeErr))
			}
		}()
		dedup = cache
	}

	var analyzer analysis.Analyzer = analysis.KeywordAnalyzer{}
	if cfg.Analysis.APIKey != "" {
		ai, err := analysis.NewOpenAIAnalyzer(analysis.OpenAIConfig{
			APIKey:  cfg.Analysis.APIKey,
			BaseURL: cfg.Analysis.BaseURL,
			Model:   cfg.Analysis.Model,
		})
		if err != nil {
			logger.Fatal("analyzer init failed", zap.Error(err))
		}
		analyzer = ai
	} else {
		logger.Warn("no analysis.api_key configured, using keyword analyzer")
	}

	var publisher publish.Publisher
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		ps, err := publish.NewPubSubPublisher(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			logger.Fatal("pubsub init failed", zap.Error(err))
		}
		defer func() {
			if closeErr := ps.Close(); closeErr != nil {
				logger.Warn("pubsub close failed", zap.Error(closeErr))
			}
		}()
		publisher = ps
	}

	headless := scrape.NewHeadlessProbe(
		time.Duration(cfg.Probe.HeadlessTimeoutSecs)*time.Second,
		logger.Named("headless"),
	)
	engine := scrape.NewCollyEngine(scrape.Config{
		UserAgent: cfg.Scrape.UserAgent,
		Timeout:   cfg.ScrapeTimeout(),
		MaxLinks:  cfg.Scrape.MaxLinks,
	}, headless, logger.Named("scrape"))

	pipeline := ingest.NewPipeline(engine, analyzer, articles, dedup, ingest.Options{
		Publisher: publisher,
		Topic:     cfg.PubSub.TopicName,
	}, logger.Named("ingest"))

	ingestQueue := queue.New(ctx, pipeline, queue.Config{
		ItemTimeout: cfg.QueueItemTimeout(),
	}, logger.Named("queue"))

	runner := probe.NewRunner(sources, engine, pipeline,
		probe.Env{Name: cfg.Environment.Name, CloudHosted: cfg.Environment.CloudHosted},
		probe.Config{
			QuickSampleLimit: cfg.Probe.QuickSampleLimit,
			IPCheckURL:       cfg.Probe.IPCheckURL,
			IPCheckTimeout:   cfg.IPCheckTimeout(),
		},
		logger.Named("probe"),
	)

	verifier := realtime.NewJWKSVerifier(realtime.VerifierConfig{
		JWKSURL:  cfg.Auth.JWKSURL,
		Audience: cfg.Auth.Audience,
		Issuer:   cfg.Auth.Issuer,
		CacheTTL: cfg.JWKSCacheTTL(),
	})
	hub := realtime.NewHub(logger.Named("hub"))
	gateway := realtime.NewGateway(ctx, verifier, identities, permissions, hub, runner,
		realtime.GatewayConfig{
			Production: cfg.IsProduction(),
			TestSecret: cfg.Auth.TestSecret,
		},
		logger.Named("realtime"),
	)

	apiServer := api.NewServer(ctx, runner, ingestQueue, engine, gateway, api.Config{
		Production:  cfg.IsProduction(),
		Environment: cfg.Environment.Name,
		TestSecret:  cfg.Auth.TestSecret,
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
