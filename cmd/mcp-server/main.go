package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/attestads/internal/config"
	"github.com/patrickwarner/attestads/internal/db"
	"github.com/patrickwarner/attestads/internal/logic/predictor"
	"github.com/patrickwarner/attestads/internal/logic/selectors"
	"github.com/patrickwarner/attestads/internal/models"
	"github.com/patrickwarner/attestads/internal/observability"
)

func main() {
	// stdout carries the MCP protocol, so logs go to stderr
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.MessageKey = "msg"
	logger, err := zcfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("attestads-mcp").With(zap.String("service", "attestads-mcp"))
	defer func() { _ = logger.Sync() }()

	if err := run(logger, config.Load()); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.InitRedis(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer store.Close()

	sqlite, err := db.InitSQLite(cfg.SQLitePath, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	if err != nil {
		return err
	}
	defer sqlite.Close()

	adDataStore := models.NewInMemoryAdDataStore()
	n, err := db.ReloadCreativeAds(ctx, sqlite, adDataStore)
	if err != nil {
		return err
	}
	logger.Info("Loaded creative ads", zap.Int("count", n))

	selector := selectors.NewPredictorSelector(store, adDataStore,
		predictor.WeightsFromConfig(cfg, logger), predictor.TermsFromConfig(cfg),
		observability.NewNoOpRegistry(), logger)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "attestads",
		Version: "1.0.0",
	}, nil)
	registerTools(server, &ToolServer{
		store:     store,
		events:    sqlite,
		selector:  selector,
		retention: cfg.AdEventRetention,
		now:       time.Now,
		logger:    logger,
	})

	var logBuffer bytes.Buffer
	transport := &mcp.LoggingTransport{
		Transport: &mcp.StdioTransport{},
		Writer:    &logBuffer,
	}
	logger.Info("MCP Server running via stdio")
	if err := server.Run(ctx, transport); err != nil {
		return fmt.Errorf("mcp server: %w (transcript: %s)", err, logBuffer.String())
	}
	return nil
}
