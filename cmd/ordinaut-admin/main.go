package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ordinaut/ordinaut/internal/adapters/hmacauth"
	"github.com/ordinaut/ordinaut/internal/bootstrap"
	"github.com/ordinaut/ordinaut/internal/data"
	"github.com/ordinaut/ordinaut/internal/devseed"
	"github.com/ordinaut/ordinaut/internal/ports"
	"github.com/ordinaut/ordinaut/internal/service"

	"github.com/ordinaut/ordinaut/config"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

const defaultMigrationTimeout = 5 * time.Minute

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrations,
		},
		"db-reset": {
			name:        "db-reset",
			description: "Drop the database schema, run migrations, and optionally seed data",
			run:         runDBReset,
		},
		"db-seed": {
			name:        "db-seed",
			description: "Run database migrations and seed development data",
			run:         runDBSeed,
		},
		"mint-token": {
			name:        "mint-token",
			description: "Issue a signed agent token using the configured JWT secret",
			run:         runMintToken,
		},
		"queue-stats": {
			name:        "queue-stats",
			description: "Show due-work queue depth, run counters, and task counts",
			run:         runQueueStats,
		},
		"reap": {
			name:        "reap",
			description: "Run one lease-recovery cycle and report what it touched",
			run:         runReap,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stdout, "Usage: ordinaut-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Available commands:\n"); err != nil {
		return err
	}
	for _, c := range commands() {
		if err := writef(os.Stdout, "  %-14s %s\n", c.name, c.description); err != nil {
			return err
		}
	}
	return nil
}

type migrateOptions struct {
	Timeout time.Duration
}

type dbResetOptions struct {
	Timeout     time.Duration
	Yes         bool
	Seed        bool
	AllowRemote bool
}

type dbSeedOptions struct {
	Timeout     time.Duration
	AllowRemote bool
}

type mintTokenOptions struct {
	AgentID string
	Name    string
	Scopes  []string
	TTL     time.Duration
}

type queueStatsOptions struct {
	Timeout time.Duration
}

type reapOptions struct {
	Timeout time.Duration
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("running database migrations")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}
		cmdCtx.Logger.Info("migrations completed successfully")
		return nil
	})
}

func runDBReset(cmdCtx *commandContext, args []string) error {
	opts, err := parseDBResetFlags(args)
	if err != nil {
		return err
	}

	target := fmt.Sprintf(
		"database %q on %s:%d",
		cmdCtx.Config.Postgres.Name,
		cmdCtx.Config.Postgres.Host,
		cmdCtx.Config.Postgres.Port,
	)

	remote, err := guardRemoteHost(cmdCtx, opts.AllowRemote, "drop and recreate the public schema")
	if err != nil {
		return err
	}

	confirmOpts := dbResetConfirmOptions{
		yes:    opts.Yes,
		target: target,
	}
	if remote {
		confirmOpts.remoteHost = cmdCtx.Config.Postgres.Host
	}
	if confirmErr := confirmAction(confirmOpts, "reset database schema"); confirmErr != nil {
		return confirmErr
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("dropping public schema", "database", cmdCtx.Config.Postgres.Name)
		if resetErr := cmdCtx.resetDatabase(ctx, db); resetErr != nil {
			return resetErr
		}

		cmdCtx.Logger.Info("re-running database migrations")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}

		if opts.Seed {
			cmdCtx.Logger.Info("seeding development data after reset")
			if seedErr := devseed.Run(ctx, devseed.NewServices(db), cmdCtx.Logger); seedErr != nil {
				return fmt.Errorf("seed data: %w", seedErr)
			}
		}

		cmdCtx.Logger.Info("database reset completed successfully")
		return nil
	})
}

func runDBSeed(cmdCtx *commandContext, args []string) error {
	opts, err := parseDBSeedFlags(args)
	if err != nil {
		return err
	}

	if _, guardErr := guardRemoteHost(cmdCtx, opts.AllowRemote, "seed development data on the configured database"); guardErr != nil {
		return guardErr
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("ensuring database migrations are current")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}

		cmdCtx.Logger.Info("seeding development data")
		if seedErr := devseed.Run(ctx, devseed.NewServices(db), cmdCtx.Logger); seedErr != nil {
			return fmt.Errorf("seed data: %w", seedErr)
		}

		cmdCtx.Logger.Info("database seeding completed successfully")
		return nil
	})
}

// runMintToken issues a token signed with the local JWT secret. It never
// touches the database: agent registration is a separate concern, and
// operators frequently need a token before any agent row exists.
func runMintToken(cmdCtx *commandContext, args []string) error {
	opts, err := parseMintTokenFlags(args)
	if err != nil {
		return err
	}

	if cmdCtx.Config.Auth.Mode != config.AuthModeJWT {
		return fmt.Errorf(
			"mint-token requires AUTH_MODE=jwt (current mode %q); oidc tokens come from the external provider",
			cmdCtx.Config.Auth.Mode,
		)
	}

	provider, err := hmacauth.NewProvider(hmacauth.ProviderOptions{
		Secret: cmdCtx.Config.Auth.JWTSecretKey,
	})
	if err != nil {
		return fmt.Errorf("build token provider: %w", err)
	}

	token, err := provider.Mint(ports.MintInput{
		AgentID: opts.AgentID,
		Name:    opts.Name,
		Scopes:  opts.Scopes,
		TTL:     opts.TTL,
	})
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}

	cmdCtx.Logger.Info("token minted",
		"agent_id", opts.AgentID,
		"scopes", opts.Scopes,
		"ttl", opts.TTL.String(),
	)
	return writeln(os.Stdout, token)
}

func runQueueStats(cmdCtx *commandContext, args []string) error {
	opts, err := parseQueueStatsFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		queueStats, err := data.NewDueWorkRepo(db, data.RepoConfig{}).QueueStats(ctx)
		if err != nil {
			return fmt.Errorf("query queue stats: %w", err)
		}
		runStats, err := data.NewRunRepo(db, data.RepoConfig{}).Stats(ctx)
		if err != nil {
			return fmt.Errorf("query run stats: %w", err)
		}
		taskStats, err := data.NewTaskRepo(db, data.RepoConfig{}).Stats(ctx)
		if err != nil {
			return fmt.Errorf("query task stats: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		if err := writeln(w, "Metric\tValue"); err != nil {
			return fmt.Errorf("write stats header: %w", err)
		}
		rows := []struct {
			label string
			value string
		}{
			{"Queue Ready", fmt.Sprintf("%d", queueStats.Ready)},
			{"Queue Locked", fmt.Sprintf("%d", queueStats.Locked)},
			{"Queue Total", fmt.Sprintf("%d", queueStats.Total)},
			{"Queue Lag", queueStats.Lag(time.Now()).String()},
			{"Runs In Flight", fmt.Sprintf("%d", runStats.InFlight)},
			{"Runs Succeeded", fmt.Sprintf("%d", runStats.Succeeded)},
			{"Runs Failed", fmt.Sprintf("%d", runStats.Failed)},
			{"Tasks Active", fmt.Sprintf("%d", taskStats.Active)},
			{"Tasks Paused", fmt.Sprintf("%d", taskStats.Paused)},
			{"Tasks Canceled", fmt.Sprintf("%d", taskStats.Canceled)},
		}
		for _, row := range rows {
			if err := writef(w, "%s\t%s\n", row.label, row.value); err != nil {
				return fmt.Errorf("write stats row %q: %w", row.label, err)
			}
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush stats: %w", err)
		}
		return nil
	})
}

// runReap executes a single reaper cycle in the foreground. Useful after an
// incident when operators want recovery now instead of on the next interval.
func runReap(cmdCtx *commandContext, args []string) error {
	opts, err := parseReapFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		reaper, err := service.NewReaperService(service.ReaperServiceOptions{
			Runs:       data.NewRunRepo(db, data.RepoConfig{}),
			Work:       data.NewDueWorkRepo(db, data.RepoConfig{}),
			Audit:      data.NewAuditRepo(db, data.RepoConfig{}),
			Heartbeats: data.NewHeartbeatRepo(db, data.RepoConfig{}),
			Config:     cmdCtx.Config.Reaper,
			Logger:     cmdCtx.Logger,
		})
		if err != nil {
			return fmt.Errorf("build reaper: %w", err)
		}

		stats, err := reaper.RunCleanup(ctx)
		if err != nil {
			return fmt.Errorf("run cleanup: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		if err := writeln(w, "Operation\tRows"); err != nil {
			return fmt.Errorf("write reap header: %w", err)
		}
		rows := []struct {
			label string
			count int
		}{
			{"Runs Expired", stats.RunsExpired},
			{"Work Requeued", stats.WorkRequeued},
			{"Work Dropped", stats.WorkDropped},
			{"Locks Cleared", stats.LocksCleared},
			{"Heartbeats Pruned", stats.HeartbeatsPruned},
			{"Total", stats.Total()},
		}
		for _, row := range rows {
			if err := writef(w, "%s\t%d\n", row.label, row.count); err != nil {
				return fmt.Errorf("write reap row %q: %w", row.label, err)
			}
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush reap stats: %w", err)
		}
		return nil
	})
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{
		Timeout: defaultMigrationTimeout,
	}

	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for migrations to complete",
	)

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}

	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

func parseDBResetFlags(args []string) (dbResetOptions, error) {
	fs := flag.NewFlagSet("db-reset", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := dbResetOptions{
		Timeout: defaultMigrationTimeout,
	}

	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for reset operations to complete",
	)
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")
	fs.BoolVar(&opts.Seed, "seed", false, "Run database seeding after reset completes")
	fs.BoolVar(
		&opts.AllowRemote,
		"allow-remote",
		false,
		"Permit running against database hosts that do not look local",
	)

	if err := fs.Parse(args); err != nil {
		return dbResetOptions{}, err
	}

	if opts.Timeout <= 0 {
		return dbResetOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

func parseDBSeedFlags(args []string) (dbSeedOptions, error) {
	fs := flag.NewFlagSet("db-seed", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := dbSeedOptions{
		Timeout: defaultMigrationTimeout,
	}

	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for seeding to complete",
	)
	fs.BoolVar(
		&opts.AllowRemote,
		"allow-remote",
		false,
		"Permit running against database hosts that do not look local",
	)

	if err := fs.Parse(args); err != nil {
		return dbSeedOptions{}, err
	}

	if opts.Timeout <= 0 {
		return dbSeedOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

func parseMintTokenFlags(args []string) (mintTokenOptions, error) {
	fs := flag.NewFlagSet("mint-token", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts mintTokenOptions
	var scopes string
	fs.StringVar(&opts.AgentID, "agent-id", "", "Agent ID to embed in the token (required)")
	fs.StringVar(&opts.Name, "name", "", "Human-readable agent name")
	fs.StringVar(&scopes, "scopes", "tasks:read", "Comma-separated scopes to grant")
	fs.DurationVar(&opts.TTL, "ttl", time.Hour, "Token lifetime")

	if err := fs.Parse(args); err != nil {
		return mintTokenOptions{}, err
	}

	opts.AgentID = strings.TrimSpace(opts.AgentID)
	if opts.AgentID == "" {
		return mintTokenOptions{}, errors.New("--agent-id is required")
	}
	if opts.TTL <= 0 {
		return mintTokenOptions{}, errors.New("--ttl must be greater than zero")
	}

	for _, s := range strings.Split(scopes, ",") {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			opts.Scopes = append(opts.Scopes, trimmed)
		}
	}
	if len(opts.Scopes) == 0 {
		return mintTokenOptions{}, errors.New("--scopes must list at least one scope")
	}

	return opts, nil
}

func parseQueueStatsFlags(args []string) (queueStatsOptions, error) {
	fs := flag.NewFlagSet("queue-stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := queueStatsOptions{
		Timeout: time.Minute,
	}

	fs.DurationVar(&opts.Timeout, "timeout", time.Minute, "Maximum duration to wait for stats queries")

	if err := fs.Parse(args); err != nil {
		return queueStatsOptions{}, err
	}

	if opts.Timeout <= 0 {
		return queueStatsOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

func parseReapFlags(args []string) (reapOptions, error) {
	fs := flag.NewFlagSet("reap", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := reapOptions{
		Timeout: 2 * time.Minute,
	}

	fs.DurationVar(&opts.Timeout, "timeout", 2*time.Minute, "Maximum duration to wait for the cleanup cycle")

	if err := fs.Parse(args); err != nil {
		return reapOptions{}, err
	}

	if opts.Timeout <= 0 {
		return reapOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}
