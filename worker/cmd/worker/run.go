package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"presentationGenerator/blob"
	"presentationGenerator/checkpoint"
	"presentationGenerator/database"
	"presentationGenerator/repository"
	"presentationGenerator/worker/cache"
	"presentationGenerator/worker/config"
	"presentationGenerator/worker/converter"
	"presentationGenerator/worker/generator"
	"presentationGenerator/worker/kafka"
	"presentationGenerator/worker/service"
	"presentationGenerator/worker/stages"
	"presentationGenerator/worker/workflow"
)

func newRunCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Consume generation tasks until interrupted",
		RunE: func(c *cobra.Command, _ []string) error {
			return runWorker(c.Context(), cfg)
		},
	}
	cmd.Flags().IntVar(&cfg.WorkerCount, "workers", cfg.WorkerCount, "concurrent tasks")
	cmd.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "metrics listen address")
	return cmd
}

func runWorker(parent context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Worker Service starting",
		zap.String("topic", cfg.KafkaTopic),
		zap.Int("workers", cfg.WorkerCount))

	pool, err := database.ConnectPostgres(ctx, cfg.DatabaseURL, int32(cfg.WorkerCount*2))
	if err != nil {
		return err
	}
	defer pool.Close()

	store := repository.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	records := checkpoint.NewPostgresRecords(pool)
	if err := records.Migrate(ctx); err != nil {
		return err
	}

	rdb, err := database.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer rdb.Close()

	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return err
	}

	models := map[generator.Capability]string{}
	if cfg.OllamaNotesModel != "" {
		models[generator.CapabilityNotes] = cfg.OllamaNotesModel
	}
	ollama, err := generator.NewOllamaBackend(generator.OllamaConfig{
		Host:         cfg.OllamaHost,
		DefaultModel: cfg.OllamaModel,
		Models:       models,
	}, &http.Client{}, logger)
	if err != nil {
		return err
	}
	backend := generator.WithTimeout(ollama, cfg.CallTimeout)

	tasks := repository.NewTaskRepository(store)
	checkpoints := checkpoint.NewStore(records, blobs, logger).WithRetention(cfg.CheckpointRetention)
	mirror := cache.NewStatusCache(rdb)
	conv := converter.NewConverter(logger)

	engine := workflow.NewEngine(tasks, checkpoints, workflow.Executors{
		Outline: stages.NewOutlineExecutor(backend, logger),
		Content: stages.NewContentExecutor(backend, cfg.Retry, cfg.Parallelism, logger),
		Image:   stages.NewImageExecutor(backend, blobs, conv, cfg.Retry, cfg.Parallelism, logger),
		Notes:   stages.NewNotesExecutor(backend, cfg.Retry, logger),
		Compile: stages.NewCompileExecutor(blobs, cfg.DownloadTTL, logger),
	}, mirror, workflow.Config{
		StageTimeout: cfg.StageTimeout,
		CallTimeout:  cfg.CallTimeout,
		Retry:        cfg.Retry,
	}, logger)

	processor := service.NewProcessor(tasks, engine, cfg.WorkerCount, mirror, logger)

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:         cfg.Brokers(),
		Topic:           cfg.KafkaTopic,
		GroupID:         cfg.KafkaGroupID,
		BatchSize:       cfg.BatchSize,
		BatchWait:       cfg.BatchWait,
		MaxReceiveCount: cfg.MaxReceiveCount,
	}, logger)
	if err != nil {
		return err
	}
	defer consumer.Close()

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           opsRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Metrics server started", zap.String("address", cfg.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer processor.Wait()
		return consumer.Consume(gctx, processor.HandleBatch)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("Worker Service stopped")
	return err
}

func opsRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
