package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/yegors/oasis-scribe/internal/config"
	"github.com/yegors/oasis-scribe/internal/notes"
	"github.com/yegors/oasis-scribe/internal/storage/postgres"
	"github.com/yegors/oasis-scribe/internal/storage/sqlite"
	"github.com/yegors/oasis-scribe/pkg/logger"
)

// repository is a notes repository that can also manage its own schema
type repository interface {
	notes.Repository
	Migrate(ctx context.Context) error
}

// environment is what every subcommand starts from
type environment struct {
	config *config.Config
	logger *logger.Logger
}

func loadEnvironment(configPath string) (*environment, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return &environment{config: cfg, logger: log}, nil
}

// openRepository connects to the configured database, retrying with
// exponential backoff until the connect timeout elapses.
func (e *environment) openRepository(ctx context.Context) (repository, func() error, error) {
	backend := e.config.ResolveDatabase()
	log := e.logger.Named("database").With(logger.String("backend", string(backend.Kind)))

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = time.Duration(e.config.Database.ConnectTimeoutSecs) * time.Second

	var (
		repo    repository
		closeFn func() error
	)

	op := func() error {
		switch backend.Kind {
		case config.DatabasePostgres:
			db, err := postgres.Connect(ctx, backend.DSN, postgres.PoolConfig{
				MaxOpenConns:    e.config.Database.MaxOpenConns,
				MaxIdleConns:    e.config.Database.MaxOpenConns,
				ConnMaxLifetime: 30 * time.Minute,
				ConnMaxIdleTime: 5 * time.Minute,
			})
			if err != nil {
				log.Warn("Database not ready, retrying", logger.Error(err))
				return err
			}
			pg := postgres.NewRepository(db, e.logger)
			repo, closeFn = pg, pg.Close
			return nil

		case config.DatabaseSQLite:
			db, err := sqlite.Open(backend.DSN)
			if err != nil {
				return backoff.Permanent(err)
			}
			if err := db.PingContext(ctx); err != nil {
				db.Close()
				log.Warn("Database not ready, retrying", logger.Error(err))
				return err
			}
			repo, closeFn = sqlite.NewStore(db, e.logger), db.Close
			return nil

		default:
			return backoff.Permanent(fmt.Errorf("unsupported database backend %q", backend.Kind))
		}
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	log.Info("Database connected")
	return repo, closeFn, nil
}
