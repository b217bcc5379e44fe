package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/devistree/internal/api"
	"github.com/dgallion1/devistree/internal/blob"
	"github.com/dgallion1/devistree/internal/config"
	"github.com/dgallion1/devistree/internal/extract"
	"github.com/dgallion1/devistree/internal/pipeline"
	"github.com/dgallion1/devistree/internal/store"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to minio", "error", err)
		os.Exit(1)
	}

	llm := extract.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.AnthropicURL, extract.NewLLMStats(time.Hour))

	orch := pipeline.NewOrchestrator(cfg, llm, st, blobs, log)
	orch.Start(context.Background())

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewServer(orch, st, blobs, llm, log, cfg),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting devistree",
			"port", cfg.Port,
			"model", cfg.AnthropicModel,
			"redis", cfg.RedisURL != "",
			"source_storage", blobs != nil,
		)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	orch.Stop()
	llm.Close()
	if err := st.Close(); err != nil {
		log.Warn("store close failed", "error", err)
	}
}

// openStore picks Redis when REDIS_URL is set and process memory otherwise.
func openStore(cfg config.Config, log *slog.Logger) (store.Store, error) {
	if cfg.RedisURL == "" {
		log.Warn("REDIS_URL not set, documents are kept in memory")
		return store.NewMemoryStore(), nil
	}
	return store.NewRedisStore(cfg.RedisURL, cfg.DocumentTTL)
}

// openBlobs returns nil when source file storage is not configured.
func openBlobs(ctx context.Context, cfg config.Config) (blob.Store, error) {
	if cfg.MinioEndpoint == "" {
		return nil, nil
	}
	ms, err := blob.NewMinioStore(ctx, blob.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, err
	}
	return ms, nil
}
