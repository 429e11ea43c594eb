package repository

import (
	"context"

	"github.com/m-mizutani/goerr/v2"

	"github.com/spec-kit/case-engine/internal/domain"
)

type transitionRepository struct {
	db DBTX
}

// NewTransitionRepository builds the audit log repository.
func NewTransitionRepository(db DBTX) TransitionRepository {
	return &transitionRepository{db: db}
}

func (r *transitionRepository) Create(ctx context.Context, t *domain.StatusTransition) error {
	const query = `
        INSERT INTO status_transitions (id, tenant_id, case_id, from_status, to_status, actor_id, reason, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	if _, err := r.db.Exec(ctx, query,
		t.ID,
		t.TenantID,
		t.CaseID,
		t.From,
		t.To,
		t.ActorID,
		t.Reason,
		t.CreatedAt,
	); err != nil {
		return goerr.Wrap(err, "failed to insert status transition", goerr.V("case_id", t.CaseID))
	}
	return nil
}

func (r *transitionRepository) ListByCase(ctx context.Context, tenantID, caseID string) ([]domain.StatusTransition, error) {
	const query = `
        SELECT id, tenant_id, case_id, from_status, to_status, actor_id, reason, created_at
        FROM status_transitions WHERE tenant_id=$1 AND case_id=$2 ORDER BY created_at ASC, id ASC`
	rows, err := r.db.Query(ctx, query, tenantID, caseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list status transitions", goerr.V("case_id", caseID))
	}
	defer rows.Close()

	var result []domain.StatusTransition
	for rows.Next() {
		var t domain.StatusTransition
		if err := rows.Scan(
			&t.ID,
			&t.TenantID,
			&t.CaseID,
			&t.From,
			&t.To,
			&t.ActorID,
			&t.Reason,
			&t.CreatedAt,
		); err != nil {
			return nil, goerr.Wrap(err, "failed to scan status transition", goerr.V("case_id", caseID))
		}
		result = append(result, t)
	}
	return result, rows.Err()
}
