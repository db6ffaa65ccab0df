package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/patrickwarner/attestads/internal/analytics"
	"github.com/patrickwarner/attestads/internal/api"
	"github.com/patrickwarner/attestads/internal/config"
	"github.com/patrickwarner/attestads/internal/db"
	"github.com/patrickwarner/attestads/internal/geoip"
	"github.com/patrickwarner/attestads/internal/logic/predictor"
	"github.com/patrickwarner/attestads/internal/logic/selectors"
	"github.com/patrickwarner/attestads/internal/models"
	"github.com/patrickwarner/attestads/internal/nearverify"
	"github.com/patrickwarner/attestads/internal/observability"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.TempoEndpoint, cfg.Environment, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	sqlite, err := db.InitSQLite(cfg.SQLitePath, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	if err != nil {
		return fmt.Errorf("failed to open sqlite: %w", err)
	}
	defer sqlite.Close()

	modelStore := models.NewInMemoryModelStore()
	if cfg.CatalogPath != "" {
		if err := applyCatalog(ctx, logger, &cfg, sqlite, modelStore); err != nil {
			return err
		}
	}

	store, err := db.InitRedis(cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	defer store.Close()

	metricsRegistry := observability.NewPrometheusRegistry()

	// a nil *Analytics reports ErrUnavailable, which handlers tolerate
	var analyticsSvc *analytics.Analytics
	if cfg.ClickHouseDSN != "" {
		analyticsSvc, err = analytics.InitClickHouse(ctx, cfg.ClickHouseDSN, analytics.PoolConfig{
			MaxOpenConns:    cfg.CHMaxOpenConns,
			MaxIdleConns:    cfg.CHMaxIdleConns,
			ConnMaxLifetime: cfg.CHConnMaxLifetime,
			ConnMaxIdleTime: cfg.CHConnMaxIdleTime,
		})
		if err != nil {
			return fmt.Errorf("failed to connect clickhouse: %w", err)
		}
		defer analyticsSvc.Close()
	} else {
		logger.Info("analytics disabled, CLICKHOUSE_DSN is empty")
	}

	var geoSvc *geoip.GeoIP
	if cfg.GeoIPDB != "" {
		geoSvc, err = geoip.Init(cfg.GeoIPDB)
		if err != nil {
			return fmt.Errorf("failed to load geoip db: %w", err)
		}
		defer func() { _ = geoSvc.Close() }()
	}

	adDataStore := models.NewInMemoryAdDataStore()
	nearClient := nearverify.NewClient(cfg.NEARVerificationURL, cfg.NEARRequestTimeout, logger.Named("near_client"), metricsRegistry)
	selector := selectors.NewPredictorSelector(store, adDataStore,
		predictor.WeightsFromConfig(cfg, logger), predictor.TermsFromConfig(cfg),
		metricsRegistry, logger.Named("selector"))

	srvDeps := api.NewServer(logger, store, sqlite, sqlite, analyticsSvc, geoSvc, selector,
		nearClient, modelStore, adDataStore, metricsRegistry, clockwork.NewRealClock(), cfg)
	defer srvDeps.Close()

	if _, err := srvDeps.Reload(ctx); err != nil {
		return fmt.Errorf("load creative ads: %w", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(srvDeps.Router(), "attestads"),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Ad server running", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})
	if cfg.ReloadInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.ReloadInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if _, err := srvDeps.Reload(gctx); err != nil {
						logger.Error("auto reload", zap.Error(err))
					}
				case <-gctx.Done():
					return nil
				}
			}
		})
	}
	if cfg.AdEventRetention > 0 {
		g.Go(func() error {
			db.RetainAdEvents(gctx, sqlite, cfg.AdEventRetention, time.Hour, time.Now)
			return nil
		})
	}

	return g.Wait()
}

// applyCatalog registers the catalog's chat models, overlays its predictor
// weights and seeds its creatives into SQLite.
func applyCatalog(ctx context.Context, logger *zap.Logger, cfg *config.Config, sqlite *db.SQLite, modelStore models.ModelStore) error {
	cat, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}
	if err := modelStore.SetModels(cat.Models); err != nil {
		return fmt.Errorf("register chat models: %w", err)
	}
	cat.ApplyWeights(cfg)
	if len(cat.Creatives) > 0 {
		if err := sqlite.SaveCreativeAds(ctx, cat.Creatives); err != nil {
			return fmt.Errorf("seed creatives: %w", err)
		}
	}
	logger.Info("catalog loaded",
		zap.String("path", cfg.CatalogPath),
		zap.Int("models", len(cat.Models)),
		zap.Int("creatives", len(cat.Creatives)))
	return nil
}
