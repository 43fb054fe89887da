package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ordinaut/ordinaut/config"
	"github.com/ordinaut/ordinaut/internal/data"
	"github.com/ordinaut/ordinaut/internal/observability/notify/pagerduty"
	"github.com/ordinaut/ordinaut/internal/observability/notify/slack"
	"github.com/ordinaut/ordinaut/internal/observability/prom"
	"github.com/ordinaut/ordinaut/internal/observability/statsd"
	"github.com/ordinaut/ordinaut/internal/service"
	"github.com/ordinaut/ordinaut/internal/service/webhooknotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Tasks         *service.TaskService
	Runs          *service.RunService
	Agents        *service.AgentService
	Events        *service.EventService
	Audit         *service.AuditService
	Health        *service.HealthService
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
	// Notifier fans run outcomes out to Slack/PagerDuty sinks and agent
	// webhooks. Always non-nil; zero sinks means webhook-only delivery.
	Notifier       *webhooknotifier.Service
	NotifierConfig config.ObservabilityNotificationsConfig
	// Prom owns the /metrics registry; its poller runs in the API process.
	Prom *prom.Metrics
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config *config.AppConfig
	DB     *sql.DB
	// RedisClient is set when the event bridge runs in this deployment; the
	// health service probes it as a component.
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	DB         *sql.DB
	Tasks      *data.TaskRepo
	Work       *data.DueWorkRepo
	Runs       *data.RunRepo
	Agents     *data.AgentRepo
	Audit      *data.AuditRepo
	Heartbeats *data.HeartbeatRepo
}

func buildRepositories(db *sql.DB) *serviceRepositories {
	return &serviceRepositories{
		DB:         db,
		Tasks:      data.NewTaskRepo(db, data.RepoConfig{}),
		Work:       data.NewDueWorkRepo(db, data.RepoConfig{}),
		Runs:       data.NewRunRepo(db, data.RepoConfig{}),
		Agents:     data.NewAgentRepo(db, data.RepoConfig{}),
		Audit:      data.NewAuditRepo(db, data.RepoConfig{}),
		Heartbeats: data.NewHeartbeatRepo(db, data.RepoConfig{}),
	}
}

// buildObservability configures metrics and notification adapters.
func buildObservability(
	logger *slog.Logger,
	cfg config.ObservabilityConfig,
	repos *serviceRepositories,
) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "ordinaut",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	var stores prom.Stores
	if repos != nil {
		stores = prom.Stores{Tasks: repos.Tasks, Runs: repos.Runs, Work: repos.Work}
	}

	return ObservabilityContainer{
		MetricsSink:    metricsSink,
		MetricsConfig:  cfg.Metrics,
		Notifier:       buildRunNotifier(obsLogger, cfg.Notifications),
		NotifierConfig: cfg.Notifications,
		Prom:           prom.New(prom.Options{Stores: stores, Logger: obsLogger}),
	}
}

func buildRunNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *webhooknotifier.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	var sinks []webhooknotifier.SinkRegistration

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:    cfg.Slack.WebhookURL,
			Channel:       cfg.Slack.Channel,
			Username:      cfg.Slack.Username,
			Timeout:       cfg.Timeout,
			RetryLimit:    cfg.RetryLimit,
			TaskURLPrefix: cfg.Slack.TaskURLPrefix,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, webhooknotifier.SinkRegistration{Name: "slack", Sink: client})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, webhooknotifier.SinkRegistration{Name: "pagerduty", Sink: client})
		}
	}

	return webhooknotifier.NewService(webhooknotifier.Options{
		Logger: baseLogger.With("component", "run_notifier"),
		Sinks:  sinks,
	})
}

// NewServices wires repositories, observability adapters, and domain services.
func NewServices(deps *ServiceDeps) ServiceContainer {
	if deps == nil {
		return ServiceContainer{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var obsCfg config.ObservabilityConfig
	if deps.Config != nil {
		obsCfg = deps.Config.Observability
	}
	repos := buildRepositories(deps.DB)
	observability := buildObservability(logger, obsCfg, repos)

	tasks := service.MustNewTaskService(service.TaskServiceOptions{
		Repo:   repos.Tasks,
		Work:   repos.Work,
		Audit:  repos.Audit,
		Logger: logger,
	})
	runs := service.MustNewRunService(service.RunServiceOptions{Runs: repos.Runs})
	agents := service.MustNewAgentService(service.AgentServiceOptions{
		Repo:   repos.Agents,
		Audit:  repos.Audit,
		Logger: logger,
	})
	events := service.MustNewEventService(service.EventServiceOptions{
		Tasks:  repos.Tasks,
		Work:   repos.Work,
		Audit:  repos.Audit,
		Logger: logger,
	})
	audit := service.MustNewAuditService(service.AuditServiceOptions{Repo: repos.Audit})
	var heartbeatInterval time.Duration
	if deps.Config != nil {
		heartbeatInterval = deps.Config.Worker.HeartbeatInterval
	}
	health := service.MustNewHealthService(service.HealthServiceOptions{
		DB:                repos.DB,
		Redis:             deps.RedisClient,
		Tasks:             repos.Tasks,
		Runs:              repos.Runs,
		Work:              repos.Work,
		Heartbeats:        repos.Heartbeats,
		HeartbeatInterval: heartbeatInterval,
		Logger:            logger,
	})

	return ServiceContainer{
		Tasks:         tasks,
		Runs:          runs,
		Agents:        agents,
		Events:        events,
		Audit:         audit,
		Health:        health,
		Observability: observability,
	}
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	Auth        AuthComponents
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
const shutdownWaitTimeout = 15 * time.Second

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		Auth:     deps.cfg.Auth,
		Logger:   deps.logger,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name, "error", errMsg)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}
		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil || deps.cfg == nil || deps.cfg.Config == nil {
		return nil
	}
	cfg := deps.cfg.Config
	obs := deps.cfg.Services.Observability

	return []backgroundService{
		{
			mode: config.ServiceModeScheduler,
			name: "scheduler",
			start: func(ctx context.Context) error {
				return RunScheduler(ctx, SchedulerRunConfig{
					DB:      deps.cfg.DB,
					Config:  cfg.Scheduler,
					Logger:  deps.logger,
					Metrics: obs.MetricsSink,
				})
			},
		},
		{
			mode: config.ServiceModeWorker,
			name: "worker",
			start: func(ctx context.Context) error {
				return RunWorker(ctx, WorkerRunConfig{
					DB:       deps.cfg.DB,
					Config:   cfg.Worker,
					Logger:   deps.logger,
					Metrics:  obs.MetricsSink,
					Notifier: obs.Notifier,
					Prom:     obs.Prom,
				})
			},
		},
		{
			mode: config.ServiceModeReaper,
			name: "reaper",
			start: func(ctx context.Context) error {
				return RunReaper(ctx, ReaperRunConfig{
					DB:      deps.cfg.DB,
					Config:  cfg.Reaper,
					Logger:  deps.logger,
					Metrics: obs.MetricsSink,
				})
			},
		},
		{
			// The gauge poller feeds /metrics, so it lives and dies with the
			// HTTP server.
			mode: config.ServiceModeHTTP,
			name: "metrics poller",
			start: func(ctx context.Context) error {
				if obs.Prom == nil {
					return nil
				}
				return obs.Prom.RunPoller(ctx)
			},
		},
		{
			mode: config.ServiceModeEvents,
			name: "event bridge",
			start: func(ctx context.Context) error {
				return RunEventBridge(ctx, EventBridgeRunConfig{
					RedisClient: deps.cfg.RedisClient,
					Publisher:   deps.cfg.Services.Events,
					Config:      cfg.Events,
					Logger:      deps.logger,
					Metrics:     obs.MetricsSink,
				})
			},
		},
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	if enabledServices[config.ServiceModeEvents] && cfg.RedisClient == nil {
		return errors.New("event bridge enabled but redis client not configured")
	}
	errCh := make(chan error, len(enabledServices)+1)

	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  result.HTTPServer,
		logger:      logger,
		backgrounds: result.Background,
	})
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop attempts to gracefully stop all services.
func gracefulStop(cfg shutdownConfig) error {
	if cfg.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
		defer cancel()

		if err := ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  cfg.httpServer,
			Logger:  cfg.logger,
		}); err != nil {
			return err
		}
	}

	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	return nil
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
