package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"presentationGenerator/api/cache"
	"presentationGenerator/api/config"
	"presentationGenerator/api/handlers"
	"presentationGenerator/api/kafka"
	"presentationGenerator/api/service"
	"presentationGenerator/blob"
	"presentationGenerator/database"
	"presentationGenerator/logger"
	"presentationGenerator/repository"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		os.Stderr.WriteString("build logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("API Service failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("API Service starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))

	pool, err := database.ConnectPostgres(ctx, cfg.DatabaseURL, 0)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := repository.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
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

	producer, err := kafka.NewProducer(cfg.Brokers())
	if err != nil {
		return err
	}
	defer producer.Close()

	tasks := repository.NewTaskRepository(store)
	views := cache.NewStatusCache(rdb)

	handler := handlers.NewTaskHandler(
		service.NewTaskService(tasks, views, producer, cfg.KafkaTopic, log),
		service.NewProjector(tasks, views, blobs, cfg.DownloadTTL, log),
		service.NewContentService(tasks, views, cache.NewSlideMirror(rdb), log),
		log,
	)

	router := chi.NewRouter()
	router.Mount("/", handlers.NewRouter(handler, log))
	if cfg.Blob.Backend == blob.BackendFS {
		files := afero.NewHttpFs(afero.NewBasePathFs(afero.NewOsFs(), cfg.Blob.Dir))
		router.Handle("/files/*", http.StripPrefix("/files", http.FileServer(files.Dir("/"))))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server started", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("API Service shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
