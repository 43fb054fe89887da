package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ordinaut/ordinaut/internal/core"
	"github.com/ordinaut/ordinaut/internal/domain/model"
)

// AuditServiceOptions groups dependencies for AuditService.
type AuditServiceOptions struct {
	Repo core.AuditRepository
}

// AuditService exposes read access to the append-only audit log.
type AuditService struct {
	repo core.AuditRepository
}

// NewAuditService constructs a new AuditService.
func NewAuditService(opts AuditServiceOptions) (*AuditService, error) {
	if opts.Repo == nil {
		return nil, errors.New("AuditRepository is required")
	}
	return &AuditService{repo: opts.Repo}, nil
}

// MustNewAuditService constructs a new AuditService and panics on error.
func MustNewAuditService(opts AuditServiceOptions) *AuditService {
	svc, err := NewAuditService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create AuditService: %v", err))
	}
	return svc
}

// List returns audit entries, newest first.
func (s *AuditService) List(ctx context.Context, opts model.AuditListOptions) ([]model.AuditEntry, error) {
	return s.repo.List(ctx, opts)
}
