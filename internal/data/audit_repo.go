package data

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/ordinaut/ordinaut/internal/errors"

	"github.com/ordinaut/ordinaut/internal/data/pgxutil"
	"github.com/ordinaut/ordinaut/internal/domain/model"
)

// AuditRepo appends to and reads the append-only audit log. The table carries
// rules that silently ignore UPDATE and DELETE.
type AuditRepo struct {
	DB           *sql.DB
	cfg          RepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewAuditRepo creates a new AuditRepo instance.
func NewAuditRepo(db *sql.DB, cfg RepoConfig) *AuditRepo {
	return &AuditRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: cfg.timeProvider(),
		logger:       cfg.Logger,
	}
}

// Insert appends one audit record.
func (r *AuditRepo) Insert(ctx context.Context, entry *model.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.timeProvider.Now().UTC()
	}
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO audit_log (actor, action, subject_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, entry.Actor, entry.Action, entry.SubjectID, []byte(entry.Details), entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// List reads audit records newest first, with optional action and subject
// filters.
func (r *AuditRepo) List(ctx context.Context, opts model.AuditListOptions) ([]model.AuditEntry, error) {
	var (
		conds []string
		args  []any
	)
	if opts.Action != nil {
		args = append(args, *opts.Action)
		conds = append(conds, fmt.Sprintf("action = $%d", len(args)))
	}
	if opts.SubjectID != nil {
		args = append(args, *opts.SubjectID)
		conds = append(conds, fmt.Sprintf("subject_id = $%d", len(args)))
	}

	query := `SELECT id, actor, action, subject_id, details, created_at FROM audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var entries []model.AuditEntry
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, query, args...)
		if qerr != nil {
			return qerr
		}
		entries, qerr = pgx.CollectRows(rows, pgx.RowToStructByName[model.AuditEntry])
		return qerr
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return entries, nil
}
