package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/yegors/oasis-scribe/internal/ai"
	"github.com/yegors/oasis-scribe/internal/api"
	"github.com/yegors/oasis-scribe/internal/audio"
	"github.com/yegors/oasis-scribe/internal/metrics"
	"github.com/yegors/oasis-scribe/internal/notes"
	"github.com/yegors/oasis-scribe/internal/tracing"
	"github.com/yegors/oasis-scribe/pkg/logger"
)

func serveCmd(configPath *string) *cobra.Command {
	var seed bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API. The schema is created or updated on startup.

Examples:
  scribe serve                 # Serve with config from the environment
  scribe serve --seed          # Also insert the demo patients into an empty database`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(*configPath)
			if err != nil {
				return err
			}
			defer env.logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return env.serve(ctx, seed)
		},
	}

	cmd.Flags().BoolVar(&seed, "seed", false, "insert demo patients if none exist")
	return cmd
}

func (e *environment) serve(ctx context.Context, seed bool) error {
	cfg := e.config
	log := e.logger.Named("server")

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn("Failed to flush traces", logger.Error(err))
		}
	}()

	repo, closeRepo, err := e.openRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	if err := repo.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	if seed {
		if _, err := notes.Seed(ctx, repo); err != nil {
			return err
		}
	}

	uploads, err := audio.NewUploadDir(cfg.Server.UploadDir)
	if err != nil {
		return err
	}
	storageBackend := cfg.ResolveStorage()
	store, err := audio.NewStore(storageBackend, uploads, e.logger)
	if err != nil {
		return fmt.Errorf("failed to create audio store: %w", err)
	}

	collector := metrics.NewCollector(cfg.Metrics.Namespace)

	var provider ai.Provider
	if cfg.OpenAI.Enabled() {
		openAI, err := ai.NewOpenAIProvider(ai.Config{
			APIKey:             cfg.OpenAI.APIKey,
			BaseURL:            cfg.OpenAI.BaseURL,
			Model:              cfg.OpenAI.Model,
			TranscriptionModel: cfg.OpenAI.TranscriptionModel,
			TimeoutSeconds:     cfg.OpenAI.TimeoutSeconds,
		}, e.logger)
		if err != nil {
			return fmt.Errorf("failed to create AI provider: %w", err)
		}
		provider = openAI
	} else {
		log.Warn("OPENAI_API_KEY not set, using offline fallbacks for every AI step")
	}

	pipeline := ai.NewPipeline(provider, collector, e.logger)
	service := notes.NewService(repo, pipeline, store, collector, e.logger)
	router := api.NewRouter(service, uploads, collector, cfg, e.logger)

	server := &http.Server{
		Handler:      router.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
		IdleTimeout:  cfg.Server.IdleTimeout(),
	}

	listener, err := net.Listen("tcp", cfg.Server.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Address(), err)
	}
	if cfg.Server.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.Server.MaxConnections)
	}

	log.Info("Starting server",
		logger.String("address", cfg.Server.Address()),
		logger.String("public_url", cfg.Server.BaseURL()),
		logger.String("storage", string(storageBackend.Kind)),
		logger.String("database", string(cfg.ResolveDatabase().Kind)),
		logger.Bool("auth", cfg.Auth.Enabled()),
		logger.Int("max_connections", cfg.Server.MaxConnections))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	log.Info("Server stopped")
	return nil
}
