package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/ordinaut/ordinaut/config"
	"github.com/ordinaut/ordinaut/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(exitCodeFor(err)) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

// storeUnavailableError marks startup failures caused by an unreachable
// backing store, so process managers can distinguish them from
// configuration errors.
type storeUnavailableError struct {
	err error
}

func (e *storeUnavailableError) Error() string { return e.err.Error() }
func (e *storeUnavailableError) Unwrap() error { return e.err }

// exitCodeFor maps fatal startup errors to exit codes: 1 for configuration
// problems, 2 when a backing store could not be reached.
func exitCodeFor(err error) int {
	var storeErr *storeUnavailableError
	if errors.As(err, &storeErr) {
		return 2
	}
	return 1
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	if err = cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logStartupInfo(ctx, logger, &cfg)

	cfgPtr := &cfg
	if err = bootstrap.ValidateServiceConfig(cfgPtr); err != nil {
		return err
	}

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cfg.Postgres,
		Logger:   logger,
	})
	if err != nil {
		return &storeUnavailableError{err: fmt.Errorf("connect db: %w", err)}
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close database failed", "error", cerr)
		}
	}()

	// The event bridge is the only Redis consumer; skip the connection when
	// it is not enabled in this deployment.
	var redisClient redis.UniversalClient
	if cfg.IsEventBridgeEnabled() {
		redisClient, err = bootstrap.ConnectRedis(bootstrap.DatabaseConfig{
			RedisConfig: cfg.Redis,
			Logger:      logger,
		})
		if err != nil {
			return &storeUnavailableError{err: fmt.Errorf("connect redis: %w", err)}
		}
		defer func() {
			if cerr := redisClient.Close(); cerr != nil {
				logger.ErrorContext(ctx, "close redis failed", "error", cerr)
			}
		}()
	}

	if cfg.Postgres.RunMigrationsOnStart {
		if err = bootstrap.RunMigrations(ctx, db, logger); err != nil {
			return err
		}
	} else {
		logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
	}

	var auth bootstrap.AuthComponents
	if cfg.IsHTTPServerEnabled() {
		auth, err = bootstrap.BuildAuth(ctx, cfg.Auth, logger)
		if err != nil {
			return err
		}
	}

	services := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      cfgPtr,
		DB:          db,
		RedisClient: redisClient,
		Logger:      logger,
	})

	return bootstrap.RunServicesWithShutdown(&bootstrap.ServiceOrchestrationConfig{
		Config:      cfgPtr,
		Services:    services,
		Auth:        auth,
		DB:          db,
		RedisClient: redisClient,
		Logger:      logger,
	})
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	enabledServices := bootstrap.GetEnabledServices(cfg)
	logger.InfoContext(ctx, "starting ordinaut",
		"db_host", cfg.Postgres.Host,
		"db_port", cfg.Postgres.Port,
		"db_name", cfg.Postgres.Name,
		"auth_mode", cfg.Auth.Mode,
		"enabled_services", enabledServices)
}
