// Command created runs the content creation service: rate-limited admission,
// surge pricing, async generation workers and the creation status API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shayanmanesh/create/internal/admission"
	"github.com/shayanmanesh/create/internal/api"
	"github.com/shayanmanesh/create/internal/inference"
	"github.com/shayanmanesh/create/internal/metrics"
	"github.com/shayanmanesh/create/internal/orchestrator"
	"github.com/shayanmanesh/create/internal/payments"
	"github.com/shayanmanesh/create/internal/payments/tb"
	"github.com/shayanmanesh/create/internal/pricing"
	"github.com/shayanmanesh/create/internal/storage"
	"github.com/shayanmanesh/create/internal/store"
	"github.com/shayanmanesh/create/internal/store/duck"
	storemem "github.com/shayanmanesh/create/internal/store/memory"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to created config")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	log, err := buildLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Admission.
	rules := make([]admission.PathRule, 0, len(cfg.Admission.Zones))
	for _, z := range cfg.Admission.Zones {
		rules = append(rules, admission.PathRule{
			Prefix: z.Prefix,
			Zone:   admission.Zone{Name: z.Name, Rate: z.Rate, Burst: z.Burst},
		})
	}
	matcher, err := admission.NewMatcher(rules, cfg.Admission.Exempt)
	if err != nil {
		log.Error("admission config invalid", zap.Error(err))
		return 1
	}
	var buckets admission.BucketStore
	switch cfg.Admission.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Admission.Redis.Addr,
			Password: cfg.Admission.Redis.Password,
			DB:       cfg.Admission.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Error("redis unavailable", zap.String("addr", cfg.Admission.Redis.Addr), zap.Error(err))
			return 1
		}
		buckets = admission.NewRedisBuckets(client, cfg.Admission.IdleTTL)
	default:
		mem := admission.NewMemoryBuckets(admission.WithIdleTTL(cfg.Admission.IdleTTL))
		mem.StartJanitor(ctx)
		buckets = mem
	}
	controller := admission.NewController(matcher, buckets)

	// Pricing.
	engine := pricing.NewEngine(pricing.Config{
		BasePrices:      cfg.Pricing.Tiers,
		SurgeFactor:     cfg.Pricing.SurgeFactor,
		CPUWatermark:    cfg.Pricing.CPUWatermark,
		MemoryWatermark: cfg.Pricing.MemoryWatermark,
		UserWatermark:   cfg.Pricing.UserWatermark,
		Consecutive:     cfg.Pricing.Consecutive,
		Interval:        cfg.Pricing.Interval,
	})
	probe := pricing.NewHostProbe(controller.ActiveClients)
	sampler := pricing.NewSampler(engine, probe, log.Named("pricing"))
	go sampler.Run(ctx)

	// Status store.
	var jobStore store.Store
	switch cfg.Store.Backend {
	case "duckdb":
		ds, err := duck.Open(cfg.Store.Path, cfg.Store.Retention)
		if err != nil {
			log.Error("duckdb store open failed", zap.String("path", cfg.Store.Path), zap.Error(err))
			return 1
		}
		ds.StartJanitor(ctx, 5*time.Minute, func(err error) {
			log.Warn("store eviction failed", zap.Error(err))
		})
		jobStore = ds
	default:
		ms := storemem.New(storemem.WithRetention(cfg.Store.Retention))
		ms.StartJanitor(ctx, 5*time.Minute)
		jobStore = ms
	}

	// Payments.
	var processor payments.Processor
	switch cfg.Payments.Backend {
	case "tigerbeetle":
		ledger, err := tb.NewLedger(ctx, tb.Config{
			ClusterID: cfg.Payments.TigerBeetle.ClusterID,
			Addresses: cfg.Payments.TigerBeetle.Addresses,
			Sessions:  cfg.Payments.TigerBeetle.Sessions,
		})
		if err != nil {
			log.Error("payment ledger unavailable", zap.Error(err))
			return 1
		}
		processor = ledger
	default:
		processor = payments.NewMemoryLedger()
	}

	// Inference backend.
	var backend inference.Backend
	switch cfg.Inference.Backend {
	case "http":
		backend = inference.NewHTTPBackend(cfg.Inference.BaseURL, cfg.Inference.APIKey, cfg.Inference.Timeout)
	default:
		backend = inference.NewFake()
	}

	// Artifact storage.
	var objects storage.ObjectStore
	switch cfg.Storage.Backend {
	case "fs":
		fs, err := storage.NewFSStore(cfg.Storage.Dir, cfg.Storage.BaseURL)
		if err != nil {
			log.Error("artifact store unavailable", zap.Error(err))
			return 1
		}
		objects = fs
	default:
		objects = storage.NewMemoryStore(cfg.Storage.BaseURL)
	}

	m := metrics.New()
	orch := orchestrator.New(orchestrator.Config{
		Workers:       cfg.Orchestrator.Workers,
		QueueSize:     cfg.Orchestrator.QueueSize,
		SubmitWait:    cfg.Orchestrator.SubmitWait,
		MaxProcessing: cfg.Orchestrator.MaxProcessing,
		SweepEvery:    cfg.Orchestrator.SweepEvery,
		ShareBaseURL:  cfg.Orchestrator.ShareBaseURL,
	}, controller, engine, processor, jobStore, backend, objects, log.Named("orchestrator"),
		orchestrator.WithObserver(metricsObserver{m}))

	go publishSurgeMetrics(ctx, engine, m)

	handler := api.NewHandler(api.Config{
		Orchestrator:      orch,
		Admission:         controller,
		Pricing:           engine,
		Metrics:           m,
		Log:               log.Named("http"),
		TrustForwardedFor: cfg.Server.TrustForwardedFor,
		RequireAuth:       cfg.Server.RequireAuth,
		DefaultTier:       cfg.Pricing.DefaultTier,
	})
	server := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("created listening", zap.String("addr", cfg.Server.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Warn("orchestrator did not drain in time", zap.Error(err))
	}
	_ = controller.Close()
	_ = jobStore.Close()
	_ = processor.Close()
	return 0
}

// buildLogger constructs the zap logger per config.
func buildLogger(cfg config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}
	var zcfg zap.Config
	if cfg.Logging.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// publishSurgeMetrics mirrors the pricing snapshot into gauges.
func publishSurgeMetrics(ctx context.Context, engine *pricing.Engine, m *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := engine.State()
			m.ObserveSurge(state.Active, state.Multiplier,
				state.CPUPercent, state.MemoryPercent, state.ActiveUsers)
		}
	}
}
