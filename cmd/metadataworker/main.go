// Package main wires together the metadata worker binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/poucher/metadata-worker/internal/api"
	"github.com/poucher/metadata-worker/internal/clock/system"
	"github.com/poucher/metadata-worker/internal/config"
	"github.com/poucher/metadata-worker/internal/dispatcher"
	"github.com/poucher/metadata-worker/internal/enrich"
	"github.com/poucher/metadata-worker/internal/fetcher/httpfetch"
	"github.com/poucher/metadata-worker/internal/hash/sha256"
	"github.com/poucher/metadata-worker/internal/id/uuid"
	"github.com/poucher/metadata-worker/internal/logging"
	"github.com/poucher/metadata-worker/internal/metrics"
	"github.com/poucher/metadata-worker/internal/policy/ratelimit"
	pubsubpublisher "github.com/poucher/metadata-worker/internal/publisher/pubsub"
	queueMemory "github.com/poucher/metadata-worker/internal/queue/memory"
	natsqueue "github.com/poucher/metadata-worker/internal/queue/nats"
	pubsubqueue "github.com/poucher/metadata-worker/internal/queue/pubsub"
	"github.com/poucher/metadata-worker/internal/storage/gcs"
	"github.com/poucher/metadata-worker/internal/storage/local"
	memoryStorage "github.com/poucher/metadata-worker/internal/storage/memory"
	"github.com/poucher/metadata-worker/internal/storage/postgres"
	"github.com/poucher/metadata-worker/internal/worker"
)

type bookmarkStore interface {
	enrich.Store
	api.Pinger
}

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env failed: %v\n", err)
	}

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

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("metadata worker exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var psClient *pubsub.Client
	if cfg.PubSub.ProjectID != "" && (cfg.Queue.Provider == config.QueuePubSub || cfg.PubSub.ResultTopic != "") {
		psClient, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client: %w", err)
		}
		defer func() {
			if closeErr := psClient.Close(); closeErr != nil {
				logger.Warn("pubsub client close failed", zap.Error(closeErr))
			}
		}()
	}

	blobStore, closeBlobs, err := buildArchive(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBlobs()

	var publisher enrich.Publisher
	if cfg.PubSub.ResultTopic != "" {
		p := pubsubpublisher.New(psClient)
		defer p.Stop()
		publisher = p
	}

	var fetcher enrich.Fetcher = httpfetch.New(cfg.FetcherConfig())
	if cfg.Fetch.HostRPS > 0 {
		fetcher = ratelimit.Wrap(fetcher, ratelimit.New(ratelimit.Config{
			RPS:     cfg.Fetch.HostRPS,
			Burst:   cfg.Fetch.HostBurst,
			MaxWait: cfg.FetchTimeout(),
		}))
	}

	w := worker.New(
		fetcher,
		store,
		blobStore,
		publisher,
		sha256.New(),
		system.New(),
		uuid.New(),
		worker.Config{
			MaxAttempts:   cfg.Worker.MaxAttempts,
			ResultTopic:   cfg.PubSub.ResultTopic,
			ArchivePrefix: cfg.Archive.Prefix,
		},
		logger.Named("worker"),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		enqueuer api.Enqueuer
		consume  func(context.Context) error
	)
	switch cfg.Queue.Provider {
	case config.QueueMemory:
		queue := queueMemory.NewQueue(cfg.Worker.QueueDepth, queueMemory.WithRetryBackoff(cfg.RetryDelay()))
		defer queue.Close()
		dispatch := dispatcher.New(queue, w, cfg.Worker.Concurrency)
		enqueuer = dispatch
		consume = func(ctx context.Context) error {
			dispatch.Run(ctx)
			return nil
		}
	case config.QueuePubSub:
		consumer := pubsubqueue.New(psClient.Subscriber(cfg.PubSub.Subscription), w, logger.Named("pubsub"))
		consume = consumer.Run
	case config.QueueNATS:
		nc, err := natsqueue.Connect(cfg.NATS.URL)
		if err != nil {
			return err
		}
		defer nc.Close()
		js, err := nc.JetStream()
		if err != nil {
			return fmt.Errorf("jetstream: %w", err)
		}
		consumer := natsqueue.New(js, w, natsqueue.Config{
			Subject:    cfg.NATS.Subject,
			QueueGroup: cfg.NATS.QueueGroup,
			MaxDeliver: cfg.Worker.MaxAttempts,
			RetryDelay: cfg.RetryDelay(),
		}, logger.Named("nats"))
		consume = consumer.Run
	}

	apiServer := api.NewServer(store, enqueuer, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("consumer started", zap.String("queue", cfg.Queue.Provider))
		if err := consume(ctx); err != nil {
			logger.Error("consumer stopped", zap.Error(err))
			cancel()
		}
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()
	logger.Info("shutdown complete")
	return nil
}

func buildStore(ctx context.Context, cfg config.Config) (bookmarkStore, func(), error) {
	if cfg.DB.DSN == "" {
		return memoryStorage.NewBookmarkStore(), func() {}, nil
	}
	store, err := postgres.NewBookmarkStore(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		Table:    cfg.DB.Table,
		MaxConns: cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func buildArchive(ctx context.Context, cfg config.Config) (enrich.BlobStore, func(), error) {
	switch cfg.Archive.Provider {
	case config.ArchiveMemory:
		return memoryStorage.NewBlobStore(), func() {}, nil
	case config.ArchiveLocal:
		blobs, err := local.New(local.Config{BaseDir: cfg.Archive.LocalDir})
		if err != nil {
			return nil, nil, err
		}
		return blobs, func() {}, nil
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client: %w", err)
		}
		blobs, err := gcs.New(client, gcs.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return blobs, func() { _ = client.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}
