package data

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/ordinaut/ordinaut/internal/errors"

	"github.com/ordinaut/ordinaut/internal/data/pgxutil"
	"github.com/ordinaut/ordinaut/internal/domain/model"
)

const agentColumns = `
  id,
  name,
  scopes,
  webhook_url,
  created_at
`

// AgentRepo provides database operations for agents.
type AgentRepo struct {
	DB           *sql.DB
	cfg          RepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewAgentRepo creates a new AgentRepo instance.
func NewAgentRepo(db *sql.DB, cfg RepoConfig) *AgentRepo {
	return &AgentRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: cfg.timeProvider(),
		logger:       cfg.Logger,
	}
}

// Create inserts a new agent. A duplicate name surfaces as a conflict error.
func (r *AgentRepo) Create(ctx context.Context, a *model.Agent) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.timeProvider.Now().UTC()
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO agent (id, name, scopes, webhook_url, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, a.ID, a.Name, a.Scopes, a.WebhookURL, a.CreatedAt)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// GetByID retrieves an agent by its id.
func (r *AgentRepo) GetByID(ctx context.Context, id string) (*model.Agent, error) {
	return r.getOne(ctx, `SELECT `+agentColumns+` FROM agent WHERE id = $1`, id)
}

// GetByName retrieves an agent by its unique name.
func (r *AgentRepo) GetByName(ctx context.Context, name string) (*model.Agent, error) {
	return r.getOne(ctx, `SELECT `+agentColumns+` FROM agent WHERE name = $1`, name)
}

func (r *AgentRepo) getOne(ctx context.Context, query string, arg any) (*model.Agent, error) {
	var agent model.Agent
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, query, arg)
		if qerr != nil {
			return qerr
		}
		agent, qerr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Agent])
		return qerr
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return &agent, nil
}

// List returns registered agents ordered by name.
func (r *AgentRepo) List(ctx context.Context, limit, offset int) ([]model.Agent, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var agents []model.Agent
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			SELECT `+agentColumns+`
			FROM agent
			ORDER BY name ASC
			LIMIT $1 OFFSET $2
		`, limit, offset)
		if qerr != nil {
			return qerr
		}
		agents, qerr = pgx.CollectRows(rows, pgx.RowToStructByName[model.Agent])
		return qerr
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return agents, nil
}
