package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jordanhubbard/rigs/internal/api"
	"github.com/jordanhubbard/rigs/internal/assayer"
	"github.com/jordanhubbard/rigs/internal/auth"
	"github.com/jordanhubbard/rigs/internal/cache"
	"github.com/jordanhubbard/rigs/internal/convoyengine"
	"github.com/jordanhubbard/rigs/internal/depot"
	"github.com/jordanhubbard/rigs/internal/dispatch"
	"github.com/jordanhubbard/rigs/internal/eventbus"
	"github.com/jordanhubbard/rigs/internal/foreman"
	"github.com/jordanhubbard/rigs/internal/metrics"
	"github.com/jordanhubbard/rigs/internal/observability"
	"github.com/jordanhubbard/rigs/internal/polecat"
	"github.com/jordanhubbard/rigs/internal/refinery"
	"github.com/jordanhubbard/rigs/internal/secrets"
	"github.com/jordanhubbard/rigs/internal/storage"
	"github.com/jordanhubbard/rigs/internal/telemetry"
	"github.com/jordanhubbard/rigs/pkg/config"
	"github.com/jordanhubbard/rigs/pkg/models"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("rigsd v%s\n", version)
		return
	}

	watcher, err := config.NewWatcher(*configPath)
	if err != nil {
		log.Printf("config: %s not found, starting from defaults: %v", *configPath, err)
		watcher = nil
	}
	cfg := config.DefaultConfig()
	if watcher != nil {
		cfg = watcher.Current()
		defer watcher.Close()
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: invalid: %v", err)
	}

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "otel-collector:4317"
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), "rigsd", otelEndpoint)
	if err != nil {
		log.Printf("telemetry: init failed, continuing without tracing: %v", err)
	} else {
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				log.Printf("telemetry: shutdown error: %v", err)
			}
		}()
	}

	obs := observability.NewManager(nil)

	var store *storage.Store
	if cfg.Database.DSN != "" {
		store, err = storage.Open(cfg.Database.DSN)
		if err != nil {
			log.Fatalf("storage: open %s: %v", cfg.Database.DSN, err)
		}
		defer store.Close()
	}

	var box *secrets.Box
	if passphrase := os.Getenv("RIGS_SECRETS_PASSPHRASE"); passphrase != "" {
		box, err = secrets.NewBox(passphrase)
		if err != nil {
			log.Fatalf("secrets: %v", err)
		}
	}

	tankCfgs := make(map[models.Provider]refinery.TankConfig)
	registry := polecat.NewRegistry()
	fetchers := make(map[models.Provider]refinery.RefreshFunc)
	var providerOrder []models.Provider

	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		provider := models.Provider(name)
		providerOrder = append(providerOrder, provider)

		windowKind := models.WindowFixedDaily
		if pc.Limits.WindowHours > 0 {
			windowKind = models.WindowRollingN
		}
		tankCfgs[provider] = refinery.TankConfig{
			WindowKind:      windowKind,
			Capacity:        float64(pc.Limits.TokensPerWindow),
			WindowHours:     pc.Limits.WindowHours,
			YellowThreshold: pc.ThresholdYellow,
			RedThreshold:    pc.ThresholdRed,
			RPM:             pc.Limits.RequestsPerMinute,
		}

		apiKey := resolveAPIKey(pc.APIKeyRef, box)
		if pc.Endpoint != "" {
			registry.Upsert(provider, polecat.NewHTTPAdapter(pc.Endpoint, apiKey, pc.Model))

			windowLength := time.Duration(pc.Limits.WindowHours * float64(time.Hour))
			if windowLength <= 0 {
				windowLength = 24 * time.Hour
			}
			refresher := polecat.NewHTTPRefresher(pc.Endpoint+"/rate_limit_status", apiKey, windowLength)
			fetchers[provider] = refresher.AsRefreshFunc()
		} else {
			registry.Upsert(provider, polecat.NewMockAdapter())
		}
	}

	affinity := dispatch.AffinityMatrix{}
	for taskType, providers := range cfg.Routing.Affinity {
		weights := make(map[models.Provider]float64, len(providers))
		for p, w := range providers {
			weights[models.Provider(p)] = w
		}
		affinity[models.TaskType(taskType)] = weights
	}

	bus := eventbus.New(1000, nil)
	defer bus.Close()

	var repo depot.Repository = depot.NewMemoryRepository()
	if store != nil {
		repo = store
	}
	d, err := depot.Recover(context.Background(), repo, bus)
	if err != nil {
		log.Fatalf("depot: recover: %v", err)
	}
	defer d.Close()

	rf := refinery.New(tankCfgs, time.Now())

	var assayerCache *cache.Cache
	if cfg.Cache.Enabled {
		assayerCache = cache.New(cache.DefaultConfig())
	}
	pipeline := assayer.New(assayer.NullPlanner{}, assayer.NullOptimizer{}, assayer.NullEstimator{}, assayer.NullQualityGate{}, assayerCache, cfg.Assayer.PlannerModel)

	foremanCfg := foreman.Config{
		Strategy:        models.Strategy(cfg.General.Strategy),
		Affinity:        affinity,
		ProviderOrder:   providerOrder,
		RefreshInterval: time.Duration(cfg.General.RefreshIntervalSeconds) * time.Second,
		IdlePoll:        time.Duration(cfg.General.ForemanIdleMS) * time.Millisecond,
		WorkerTimeout:   time.Duration(cfg.General.WorkerTimeoutSeconds) * time.Second,
		MaxRetries:      cfg.General.MaxRetries,
		ShutdownGrace:   time.Duration(cfg.General.ShutdownGraceSeconds) * time.Second,
	}
	collectors := metrics.NewCollectors(prometheus.DefaultRegisterer)

	fm := foreman.New(foremanCfg, d, rf, registry, pipeline, fetchers, collectors, store)

	var convoyMgr *convoyengine.Manager
	if cfg.Temporal.Enabled {
		convoyMgr, err = convoyengine.NewManager(cfg.Temporal, pipeline, d, store)
		if err != nil {
			log.Printf("convoyengine: disabled, dial failed: %v", err)
		} else {
			if err := convoyMgr.Start(); err != nil {
				log.Printf("convoyengine: start failed: %v", err)
			}
			defer convoyMgr.Stop()
		}
	}

	var authMgr *auth.Manager
	if cfg.Server.JWTSecret != "" {
		authMgr = auth.NewManager(resolveAPIKey(cfg.Server.JWTSecret, box), 24*time.Hour)
	}

	server := api.NewServer(d, rf, pipeline, bus, store, authMgr, fetchers, collectors)
	handler := otelhttp.NewHandler(server.SetupRoutes(), "rigsd-http-server")

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: handler,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := fm.Run(runCtx); err != nil {
			log.Printf("foreman: loop exited: %v", err)
		}
	}()

	go func() {
		log.Printf("rigsd listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	obs.Info("rigsd", "started", map[string]interface{}{"providers": len(providerOrder)})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), foremanCfg.ShutdownGrace+5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}

// resolveAPIKey treats ref as the name of an environment variable holding
// either a plaintext value or, when box is configured, a sealed payload
// produced by internal/secrets.
func resolveAPIKey(ref string, box *secrets.Box) string {
	if ref == "" {
		return ""
	}
	raw := os.Getenv(ref)
	if raw == "" {
		return ""
	}
	if box == nil {
		return raw
	}
	opened, err := box.Open(raw)
	if err != nil {
		return raw
	}
	return opened
}
