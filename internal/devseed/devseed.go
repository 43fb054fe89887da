// Package devseed populates a development database with a demo agent and a
// handful of tasks so every service has something to chew on immediately.
package devseed

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ordinaut/ordinaut/internal/data"
	"github.com/ordinaut/ordinaut/internal/domain/model"
	apperrors "github.com/ordinaut/ordinaut/internal/errors"
	"github.com/ordinaut/ordinaut/internal/service"
)

const seedActor = "devseed"

// Services bundles the dependencies needed for development seeding.
type Services struct {
	DB     *sql.DB
	agents *service.AgentService
	tasks  *service.TaskService
}

// NewServices constructs all required services for seeding using the provided DB.
func NewServices(db *sql.DB) Services {
	auditRepo := data.NewAuditRepo(db, data.RepoConfig{})

	agents := service.MustNewAgentService(service.AgentServiceOptions{
		Repo:  data.NewAgentRepo(db, data.RepoConfig{}),
		Audit: auditRepo,
	})
	tasks := service.MustNewTaskService(service.TaskServiceOptions{
		Repo:  data.NewTaskRepo(db, data.RepoConfig{}),
		Work:  data.NewDueWorkRepo(db, data.RepoConfig{}),
		Audit: auditRepo,
	})

	return Services{DB: db, agents: agents, tasks: tasks}
}

// Run seeds development data. Safe to run repeatedly: rows that already exist
// are skipped.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "devseed")

	if err := seedAgents(ctx, svcs, logger); err != nil {
		return err
	}
	return seedTasks(ctx, svcs, logger)
}

func seedAgents(ctx context.Context, svcs Services, logger *slog.Logger) error {
	requests := []model.CreateAgentRequest{
		{
			Name:   "dev-agent",
			Scopes: []string{"admin"},
		},
		{
			Name:   "calendar-agent",
			Scopes: []string{"tasks:read", "tasks:write", "runs:read", "events:publish"},
		},
	}

	for i := range requests {
		req := requests[i]
		agent, err := svcs.agents.Create(ctx, seedActor, &req)
		if apperrors.IsConflict(err) {
			logger.InfoContext(ctx, "agent already seeded", "name", req.Name)
			continue
		}
		if err != nil {
			return fmt.Errorf("seed agent %q: %w", req.Name, err)
		}
		logger.InfoContext(ctx, "agent seeded", "name", agent.Name, "agent_id", agent.ID)
	}
	return nil
}

func seedTasks(ctx context.Context, svcs Services, logger *slog.Logger) error {
	echoPipeline := json.RawMessage(`{
		"pipeline": [
			{"id": "greet", "uses": "builtin:echo", "with": {"message": "good morning"}}
		]
	}`)
	sleepPipeline := json.RawMessage(`{
		"pipeline": [
			{"id": "pause", "uses": "builtin:sleep", "with": {"seconds": 1}},
			{"id": "report", "uses": "builtin:echo", "with": {"paused": true}}
		]
	}`)

	dedupe := "morning-briefing"
	requests := []model.CreateTaskRequest{
		{
			Title:               "Morning briefing",
			Description:         "Daily 08:30 demo pipeline",
			ScheduleKind:        model.ScheduleKindCron,
			ScheduleExpr:        "30 8 * * *",
			Timezone:            "UTC",
			Payload:             echoPipeline,
			Priority:            5,
			DedupeKey:           &dedupe,
			DedupeWindowSeconds: 300,
			MaxRetries:          3,
			BackoffStrategy:     model.BackoffExponentialJitter,
		},
		{
			Title:        "Calendar fanout",
			Description:  "Fires when an external calendar event arrives",
			ScheduleKind: model.ScheduleKindEvent,
			ScheduleExpr: "calendar.updated",
			Timezone:     "UTC",
			Payload:      sleepPipeline,
			Priority:     7,
			MaxRetries:   2,
			BackoffStrategy: model.BackoffFixed,
		},
	}

	existing, err := svcs.tasks.List(ctx, model.TaskListOptions{Limit: 1000})
	if err != nil {
		return fmt.Errorf("list existing tasks: %w", err)
	}
	seeded := make(map[string]bool, len(existing))
	for _, t := range existing {
		seeded[t.Title] = true
	}

	for i := range requests {
		req := requests[i]
		if seeded[req.Title] {
			logger.InfoContext(ctx, "task already seeded", "title", req.Title)
			continue
		}
		task, err := svcs.tasks.Create(ctx, seedActor, &req)
		if err != nil {
			return fmt.Errorf("seed task %q: %w", req.Title, err)
		}
		logger.InfoContext(ctx, "task seeded",
			"title", task.Title, "task_id", task.ID, "schedule_kind", task.ScheduleKind)
	}
	return nil
}
