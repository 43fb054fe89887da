package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ordinaut/ordinaut/internal/core"
	"github.com/ordinaut/ordinaut/internal/domain/model"
)

// RunServiceOptions groups dependencies for RunService.
type RunServiceOptions struct {
	Runs core.RunRepository
}

// RunService exposes read access to execution history.
type RunService struct {
	runs core.RunRepository
}

// NewRunService constructs a new RunService.
func NewRunService(opts RunServiceOptions) (*RunService, error) {
	if opts.Runs == nil {
		return nil, errors.New("RunRepository is required")
	}
	return &RunService{runs: opts.Runs}, nil
}

// MustNewRunService constructs a new RunService and panics on error.
func MustNewRunService(opts RunServiceOptions) *RunService {
	svc, err := NewRunService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create RunService: %v", err))
	}
	return svc
}

// Get retrieves a run by id.
func (s *RunService) Get(ctx context.Context, id string) (*model.TaskRun, error) {
	return s.runs.GetByID(ctx, id)
}

// List returns runs matching the filter options, newest first.
func (s *RunService) List(ctx context.Context, opts model.RunListOptions) ([]model.TaskRun, error) {
	return s.runs.List(ctx, opts)
}

// Stats returns run counts per outcome.
func (s *RunService) Stats(ctx context.Context) (model.RunStats, error) {
	return s.runs.Stats(ctx)
}
