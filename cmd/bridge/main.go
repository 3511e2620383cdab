// Package main is the entry point for the broker bridge.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	_ "github.com/mattn/go-sqlite3"

	"github.com/shockfeed/broker-bridge/internal/bridge"
	"github.com/shockfeed/broker-bridge/internal/broker"
	"github.com/shockfeed/broker-bridge/internal/buildinfo"
	"github.com/shockfeed/broker-bridge/internal/config"
	"github.com/shockfeed/broker-bridge/internal/detection"
	"github.com/shockfeed/broker-bridge/internal/execution"
	"github.com/shockfeed/broker-bridge/internal/news"
	"github.com/shockfeed/broker-bridge/internal/position"
	"github.com/shockfeed/broker-bridge/internal/store"
	"github.com/shockfeed/broker-bridge/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	useFake := flag.Bool("fake", false, "use the in-memory fake broker connection instead of a live websocket")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.String())
		return
	}

	logger := newLogger()

	cfgPath, err := config.FindConfig(*configPath)
	if err != nil {
		logger.Warn("no config file found, using defaults", "error", err)
	}

	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			logger.Error("failed to load config", "path", cfgPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *useFake); err != nil {
		logger.Error("broker-bridge exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, useFake bool) error {
	db, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	recordStore, err := store.New(db)
	if err != nil {
		return fmt.Errorf("new store: %w", err)
	}

	var conn broker.Conn
	if useFake {
		conn = broker.NewFake()
	} else {
		conn = broker.NewWSConn(logger)
	}

	b := bridge.New(cfg.Broker, conn, logger)
	if err := b.Connect(ctx, cfg.Broker.Host, cfg.Broker.Port, cfg.Broker.ClientID); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer b.Disconnect()

	extractor := newExtractor(cfg.NewsIngestion)
	pipeline := news.New(extractor, cfg.NewsIngestion.DedupWindow, cfg.Broker.SubscriptionBuffer, logger)

	for _, code := range cfg.NewsIngestion.Providers {
		sub, err := b.SubscribeNewsFeed(ctx, code)
		if err != nil {
			logger.Error("subscribe news feed failed", "provider", code, "error", err)
			continue
		}
		go pipeline.Run(ctx, code, sub)
	}

	detectionPool := detection.New(b, nil, cfg.Detection, pipeline.Events(), logger)
	go detectionPool.Run(ctx)

	executionWorker := execution.New(b, recordStore, cfg.Execution, detectionPool.Signals(), logger)
	go executionWorker.Run(ctx)

	positionManager := position.New(b, b, recordStore, cfg.PositionManager, logger)
	go positionManager.Run(ctx)

	telemetryPublisher := telemetry.New(cfg.Telemetry, &stats{bridge: b, pipeline: pipeline, pool: detectionPool}, logger)
	go func() {
		if err := telemetryPublisher.Start(ctx); err != nil {
			logger.Warn("telemetry publisher stopped", "error", err)
		}
	}()

	logger.Info("broker-bridge operational")
	<-ctx.Done()
	logger.Info("broker-bridge shutting down")
	return nil
}

func openStore(cfg config.StoreConfig) (*sql.DB, error) {
	if cfg.DriverPath == "" {
		return sql.Open("sqlite3", ":memory:")
	}
	return sql.Open("sqlite3", cfg.DriverPath)
}

func newExtractor(cfg config.NewsIngestionConfig) news.Extractor {
	if cfg.ExtractionStrategy == "classifier" {
		return news.NewClassifierExtractor(cfg.ClassifierURL, cfg.ClassifierModel, cfg.ClassifierToken, cfg.ClassifierTimeout)
	}
	return news.NewMarkupExtractor()
}

// stats adapts the bridge, news pipeline, and detection pool to
// telemetry.Stats without coupling the telemetry package to any of
// their concrete types.
type stats struct {
	bridge   *bridge.Bridge
	pipeline *news.Pipeline
	pool     *detection.Pool
}

func (s *stats) BridgeState() string    { return s.bridge.State().String() }
func (s *stats) DroppedMessages() int64 { return s.bridge.DroppedMessages() }
func (s *stats) TickersDetected() int64 { return s.pipeline.EmittedCount() }
func (s *stats) SignalsEmitted() int64  { return s.pool.EmittedCount() }
