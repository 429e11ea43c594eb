package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/m-mizutani/goerr/v2"

	"github.com/spec-kit/case-engine/internal/domain"
	apperrors "github.com/spec-kit/case-engine/pkg/util/errorutil"
)

const caseColumns = `id, number, tenant_id, subject, description, priority, status, origin,
               contact_ref, account_ref, parent_id, assignee_id, policy_id, sla_breached, version,
               created_at, updated_at, last_activity_at, first_response_at, resolved_at, closed_at`

type caseRepository struct {
	db DBTX
}

// NewCaseRepository instantiates the pgx case repository.
func NewCaseRepository(db DBTX) CaseRepository {
	return &caseRepository{db: db}
}

func (r *caseRepository) NextNumber(ctx context.Context, tenantID string) (int64, error) {
	const query = `
        INSERT INTO case_counters (tenant_id, last_number) VALUES ($1, 1)
        ON CONFLICT (tenant_id) DO UPDATE SET last_number = case_counters.last_number + 1
        RETURNING last_number`
	var number int64
	if err := r.db.QueryRow(ctx, query, tenantID).Scan(&number); err != nil {
		return 0, goerr.Wrap(err, "failed to allocate case number", goerr.V("tenant_id", tenantID))
	}
	return number, nil
}

func (r *caseRepository) Create(ctx context.Context, c *domain.Case) error {
	const query = `
        INSERT INTO cases (id, number, tenant_id, subject, description, priority, status, origin,
            contact_ref, account_ref, parent_id, assignee_id, policy_id, sla_breached, version,
            created_at, updated_at, last_activity_at, first_response_at, resolved_at, closed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,1,$15,$16,$17,$18,$19,$20)`
	_, err := r.db.Exec(ctx, query,
		c.ID,
		c.Number,
		c.TenantID,
		c.Subject,
		c.Description,
		c.Priority,
		c.Status,
		c.Origin,
		c.ContactRef,
		c.AccountRef,
		c.ParentID,
		c.AssigneeID,
		c.PolicyID,
		c.SLABreached,
		c.CreatedAt,
		c.UpdatedAt,
		c.LastActivityAt,
		c.FirstResponseAt,
		c.ResolvedAt,
		c.ClosedAt,
	)
	if err != nil {
		return goerr.Wrap(err, "failed to insert case", goerr.V("case_id", c.ID), goerr.V("tenant_id", c.TenantID))
	}
	c.Version = 1
	return nil
}

func (r *caseRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE tenant_id=$1 AND id=$2`
	c, err := scanCase(r.db.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("case", map[string]any{"case_id": id})
		}
		return nil, goerr.Wrap(err, "failed to get case", goerr.V("case_id", id))
	}
	return c, nil
}

func (r *caseRepository) UpdateIfVersion(ctx context.Context, c *domain.Case, expected int64) error {
	const query = `
        UPDATE cases SET status=$3, assignee_id=$4, sla_breached=$5, first_response_at=$6,
            resolved_at=$7, closed_at=$8, last_activity_at=$9, updated_at=$10, version=version+1
        WHERE tenant_id=$1 AND id=$2 AND version=$11`
	cmd, err := r.db.Exec(ctx, query,
		c.TenantID,
		c.ID,
		c.Status,
		c.AssigneeID,
		c.SLABreached,
		c.FirstResponseAt,
		c.ResolvedAt,
		c.ClosedAt,
		c.LastActivityAt,
		c.UpdatedAt,
		expected,
	)
	if err != nil {
		return goerr.Wrap(err, "failed to update case", goerr.V("case_id", c.ID))
	}
	if cmd.RowsAffected() == 0 {
		return apperrors.NewConflict("case was modified concurrently", map[string]any{
			"case_id":          c.ID,
			"expected_version": expected,
		})
	}
	c.Version = expected + 1
	return nil
}

func (r *caseRepository) UpdateBreachFlag(ctx context.Context, tenantID, id string, breached bool) error {
	const query = `UPDATE cases SET sla_breached=$3 WHERE tenant_id=$1 AND id=$2`
	cmd, err := r.db.Exec(ctx, query, tenantID, id, breached)
	if err != nil {
		return goerr.Wrap(err, "failed to update breach flag", goerr.V("case_id", id))
	}
	if cmd.RowsAffected() == 0 {
		return apperrors.NewNotFound("case", map[string]any{"case_id": id})
	}
	return nil
}

func (r *caseRepository) List(ctx context.Context, filter CaseFilter) ([]domain.Case, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.TenantID != nil {
		args = append(args, *filter.TenantID)
		clauses = append(clauses, fmt.Sprintf("tenant_id=$%d", len(args)))
	}
	if filter.ParentID != nil {
		args = append(args, *filter.ParentID)
		clauses = append(clauses, fmt.Sprintf("parent_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Unassigned {
		clauses = append(clauses, "assignee_id IS NULL")
	}
	if filter.LastActivityBefore != nil {
		args = append(args, *filter.LastActivityBefore)
		clauses = append(clauses, fmt.Sprintf("last_activity_at < $%d", len(args)))
	}

	query := `SELECT ` + caseColumns + ` FROM cases WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY created_at ASC, number ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list cases")
	}
	defer rows.Close()

	var result []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan case")
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func scanCase(row rowScanner) (*domain.Case, error) {
	var c domain.Case
	if err := row.Scan(
		&c.ID,
		&c.Number,
		&c.TenantID,
		&c.Subject,
		&c.Description,
		&c.Priority,
		&c.Status,
		&c.Origin,
		&c.ContactRef,
		&c.AccountRef,
		&c.ParentID,
		&c.AssigneeID,
		&c.PolicyID,
		&c.SLABreached,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.LastActivityAt,
		&c.FirstResponseAt,
		&c.ResolvedAt,
		&c.ClosedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}
