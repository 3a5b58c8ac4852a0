// Package main wires together the file-box service binary.
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

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ginza777/file-box/internal/api"
	"github.com/ginza777/file-box/internal/clock/system"
	"github.com/ginza777/file-box/internal/config"
	"github.com/ginza777/file-box/internal/document"
	"github.com/ginza777/file-box/internal/extract"
	"github.com/ginza777/file-box/internal/httpclient"
	"github.com/ginza777/file-box/internal/logging"
	"github.com/ginza777/file-box/internal/metrics"
	"github.com/ginza777/file-box/internal/pipeline"
	queueMemory "github.com/ginza777/file-box/internal/queue/memory"
	"github.com/ginza777/file-box/internal/search"
	storeMemory "github.com/ginza777/file-box/internal/store/memory"
	storePostgres "github.com/ginza777/file-box/internal/store/postgres"
	"github.com/ginza777/file-box/internal/telegram"
	"github.com/ginza777/file-box/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
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

	var store document.Store
	switch cfg.DB.Provider {
	case "postgres":
		pgStore, err := storePostgres.NewStore(ctx, storePostgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			logger.Fatal("postgres store init failed", zap.Error(err))
		}
		defer pgStore.Close()
		store = pgStore
	default:
		store = storeMemory.NewStore()
	}

	if err := os.MkdirAll(cfg.Media.Root, 0o755); err != nil {
		logger.Fatal("media root init failed", zap.Error(err))
	}

	downloader, err := httpclient.New(httpclient.Config{
		MediaRoot:      cfg.Media.Root,
		Timeout:        cfg.HTTPTimeout(),
		MaxRetries:     cfg.HTTP.MaxRetries,
		BackoffInitial: time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
	}, logger.Named("download"))
	if err != nil {
		logger.Fatal("downloader init failed", zap.Error(err))
	}

	extractor := extract.New(logger.Named("extract"))

	var uploader document.Uploader
	if cfg.Telegram.Enabled {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Fatal("telegram bot init failed", zap.Error(err))
		}
		tgUploader, err := telegram.New(bot, telegram.Config{
			Channel:      cfg.Telegram.Channel,
			CaptionLimit: cfg.Telegram.CaptionLimit,
		}, logger.Named("telegram"))
		if err != nil {
			logger.Fatal("telegram uploader init failed", zap.Error(err))
		}
		uploader = tgUploader
	} else {
		logger.Warn("telegram disabled, uploads are a no-op")
		uploader = &telegram.NoOpUploader{}
	}

	esClient, err := search.NewClient(search.ClientConfig{Addresses: cfg.Search.Addresses})
	if err != nil {
		logger.Fatal("search client init failed", zap.Error(err))
	}
	indexer, err := search.NewIndexer(esClient, cfg.Search.Index, logger.Named("index"))
	if err != nil {
		logger.Fatal("indexer init failed", zap.Error(err))
	}
	searcher, err := search.NewService(esClient, search.ServiceConfig{
		Index:               cfg.Search.Index,
		PageSize:            cfg.Search.PageSize,
		MaxDeliverableBytes: cfg.Telegram.MaxFileBytes,
	}, logger.Named("search"))
	if err != nil {
		logger.Fatal("search service init failed", zap.Error(err))
	}

	queue := queueMemory.NewQueue(cfg.Pipeline.QueueDepth)
	clock := system.New()

	pipe, err := pipeline.New(
		pipeline.Config{
			MediaRoot:      cfg.Media.Root,
			MaxUploadBytes: cfg.Telegram.MaxFileBytes,
		},
		pipeline.Deps{
			Store:      store,
			Downloader: downloader,
			Extractor:  extractor,
			Uploader:   uploader,
			Indexer:    indexer,
			Queue:      queue,
			Clock:      clock,
			Logger:     logger.Named("pipeline"),
		},
	)
	if err != nil {
		logger.Fatal("pipeline init failed", zap.Error(err))
	}

	policy := document.NewExponentialRetryPolicy(
		cfg.Pipeline.MaxAttempts,
		cfg.StageBackoffBase(),
		cfg.StageBackoffMax(),
	)
	var workers []*worker.Worker
	for i := 0; i < cfg.Pipeline.Workers; i++ {
		workers = append(workers, worker.New(
			queue,
			store,
			pipe,
			policy,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	pool := worker.NewPool(workers)

	apiServer := api.NewServer(store, searcher, pipe, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		logger.Info("worker pool started", zap.Int("workers", cfg.Pipeline.Workers))
		pool.Run(ctx)
	}()

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
	// Workers and their pending retries must finish before the queue closes.
	<-poolDone
	queue.Close()
	logger.Info("shutdown complete")
}
