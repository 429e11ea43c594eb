package repository

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/spec-kit/case-engine/internal/domain"
)

type milestoneRepository struct {
	db DBTX
}

// NewMilestoneRepository instantiates the pgx milestone repository.
func NewMilestoneRepository(db DBTX) MilestoneRepository {
	return &milestoneRepository{db: db}
}

func (r *milestoneRepository) CreateBatch(ctx context.Context, milestones []domain.MilestoneInstance) error {
	const query = `
        INSERT INTO milestone_instances (id, tenant_id, case_id, policy_id, kind, target_date, achieved_at, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	for _, m := range milestones {
		if _, err := r.db.Exec(ctx, query,
			m.ID,
			m.TenantID,
			m.CaseID,
			m.PolicyID,
			m.Kind,
			m.TargetDate,
			m.AchievedAt,
			m.CreatedAt,
		); err != nil {
			return goerr.Wrap(err, "failed to insert milestone", goerr.V("case_id", m.CaseID), goerr.V("kind", m.Kind))
		}
	}
	return nil
}

func (r *milestoneRepository) ListByCase(ctx context.Context, tenantID, caseID string) ([]domain.MilestoneInstance, error) {
	const query = `
        SELECT id, tenant_id, case_id, policy_id, kind, target_date, achieved_at, created_at
        FROM milestone_instances WHERE tenant_id=$1 AND case_id=$2 ORDER BY target_date ASC, kind ASC`
	rows, err := r.db.Query(ctx, query, tenantID, caseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list milestones", goerr.V("case_id", caseID))
	}
	defer rows.Close()

	var result []domain.MilestoneInstance
	for rows.Next() {
		var m domain.MilestoneInstance
		if err := rows.Scan(
			&m.ID,
			&m.TenantID,
			&m.CaseID,
			&m.PolicyID,
			&m.Kind,
			&m.TargetDate,
			&m.AchievedAt,
			&m.CreatedAt,
		); err != nil {
			return nil, goerr.Wrap(err, "failed to scan milestone", goerr.V("case_id", caseID))
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (r *milestoneRepository) MarkAchieved(ctx context.Context, tenantID, caseID string, kind domain.MilestoneKind, at time.Time) (bool, error) {
	const query = `
        UPDATE milestone_instances SET achieved_at=$4
        WHERE tenant_id=$1 AND case_id=$2 AND kind=$3 AND achieved_at IS NULL`
	cmd, err := r.db.Exec(ctx, query, tenantID, caseID, kind, at)
	if err != nil {
		return false, goerr.Wrap(err, "failed to mark milestone achieved", goerr.V("case_id", caseID), goerr.V("kind", kind))
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *milestoneRepository) ClearAchieved(ctx context.Context, tenantID, caseID string, kind domain.MilestoneKind) error {
	const query = `UPDATE milestone_instances SET achieved_at=NULL WHERE tenant_id=$1 AND case_id=$2 AND kind=$3`
	if _, err := r.db.Exec(ctx, query, tenantID, caseID, kind); err != nil {
		return goerr.Wrap(err, "failed to clear milestone", goerr.V("case_id", caseID), goerr.V("kind", kind))
	}
	return nil
}
