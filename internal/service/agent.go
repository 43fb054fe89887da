package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	apperrors "github.com/ordinaut/ordinaut/internal/errors"

	"github.com/ordinaut/ordinaut/internal/core"
	"github.com/ordinaut/ordinaut/internal/domain/model"
)

// AgentServiceOptions groups dependencies for AgentService.
type AgentServiceOptions struct {
	Repo   core.AgentRepository
	Audit  core.AuditRepository
	Logger *slog.Logger
}

// AgentService manages agent registration and lookup.
type AgentService struct {
	repo   core.AgentRepository
	audit  core.AuditRepository
	logger *slog.Logger
}

// NewAgentService constructs a new AgentService.
func NewAgentService(opts AgentServiceOptions) (*AgentService, error) {
	if opts.Repo == nil {
		return nil, errors.New("AgentRepository is required")
	}
	if opts.Audit == nil {
		return nil, errors.New("AuditRepository is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &AgentService{
		repo:   opts.Repo,
		audit:  opts.Audit,
		logger: opts.Logger.With("component", "agent_service"),
	}, nil
}

// MustNewAgentService constructs a new AgentService and panics on error.
func MustNewAgentService(opts AgentServiceOptions) *AgentService {
	svc, err := NewAgentService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create AgentService: %v", err))
	}
	return svc
}

// Create registers a new agent.
func (s *AgentService) Create(ctx context.Context, actor string, req *model.CreateAgentRequest) (*model.Agent, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	agent := &model.Agent{
		ID:         uuid.NewString(),
		Name:       req.Name,
		Scopes:     req.Scopes,
		WebhookURL: req.WebhookURL,
	}
	if err := s.repo.Create(ctx, agent); err != nil {
		return nil, err
	}

	details, _ := json.Marshal(map[string]any{
		"name":   agent.Name,
		"scopes": agent.Scopes,
	})
	if err := s.audit.Insert(ctx, &model.AuditEntry{
		Actor:     actor,
		Action:    model.AuditAgentCreated,
		SubjectID: &agent.ID,
		Details:   details,
	}); err != nil {
		s.logger.ErrorContext(ctx, "audit write failed",
			"action", model.AuditAgentCreated, "subject_id", agent.ID, "error", err)
	}

	s.logger.InfoContext(ctx, "agent created",
		"agent_id", agent.ID, "name", agent.Name, "created_by", actor)
	return agent, nil
}

// Get retrieves an agent by id.
func (s *AgentService) Get(ctx context.Context, id string) (*model.Agent, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByName retrieves an agent by its unique name.
func (s *AgentService) GetByName(ctx context.Context, name string) (*model.Agent, error) {
	return s.repo.GetByName(ctx, name)
}

// List returns registered agents ordered by name.
func (s *AgentService) List(ctx context.Context, limit, offset int) ([]model.Agent, error) {
	return s.repo.List(ctx, limit, offset)
}
