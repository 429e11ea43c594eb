package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/m-mizutani/goerr/v2"

	"github.com/spec-kit/case-engine/internal/domain"
	apperrors "github.com/spec-kit/case-engine/pkg/util/errorutil"
)

const policyColumns = `id, tenant_id, name, is_default, is_active, targets, calendar_id,
               require_child_closure, escalation_triggers, escalation_tier, created_at, updated_at`

// targetsRecord is the jsonb shape of SLAPolicy.Targets: kind -> priority -> Go duration string.
type targetsRecord map[string]map[string]string

type policyRepository struct {
	db DBTX
}

// NewPolicyRepository instantiates the pgx policy store.
func NewPolicyRepository(db DBTX) PolicyRepository {
	return &policyRepository{db: db}
}

// GetForPriority prefers the tenant default and falls back to any active policy covering
// priority, ordered by name.
func (r *policyRepository) GetForPriority(ctx context.Context, tenantID string, priority domain.CasePriority) (*domain.SLAPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM sla_policies
        WHERE tenant_id=$1 AND is_active ORDER BY is_default DESC, name ASC`
	policies, err := r.query(ctx, query, tenantID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load policies", goerr.V("tenant_id", tenantID), goerr.V("priority", priority))
	}
	for i := range policies {
		if policies[i].Covers(priority) {
			return &policies[i], nil
		}
	}
	return nil, apperrors.NewNotFound("sla policy", map[string]any{"tenant_id": tenantID, "priority": priority})
}

func (r *policyRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.SLAPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM sla_policies WHERE tenant_id=$1 AND id=$2`
	p, err := scanPolicy(r.db.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("sla policy", map[string]any{"policy_id": id})
		}
		return nil, goerr.Wrap(err, "failed to get policy", goerr.V("policy_id", id))
	}
	return p, nil
}

func (r *policyRepository) Upsert(ctx context.Context, p *domain.SLAPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	if p.IsDefault {
		const clear = `UPDATE sla_policies SET is_default=false WHERE tenant_id=$1 AND id<>$2 AND is_default`
		if _, err := r.db.Exec(ctx, clear, p.TenantID, p.ID); err != nil {
			return goerr.Wrap(err, "failed to clear previous default policy", goerr.V("tenant_id", p.TenantID))
		}
	}

	const query = `
        INSERT INTO sla_policies (id, tenant_id, name, is_default, is_active, targets, calendar_id,
            require_child_closure, escalation_triggers, escalation_tier, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, is_default=EXCLUDED.is_default,
            is_active=EXCLUDED.is_active, targets=EXCLUDED.targets, calendar_id=EXCLUDED.calendar_id,
            require_child_closure=EXCLUDED.require_child_closure,
            escalation_triggers=EXCLUDED.escalation_triggers, escalation_tier=EXCLUDED.escalation_tier,
            updated_at=EXCLUDED.updated_at`
	if _, err := r.db.Exec(ctx, query,
		p.ID,
		p.TenantID,
		p.Name,
		p.IsDefault,
		p.IsActive,
		encodeTargets(p.Targets),
		p.CalendarID,
		p.RequireChildClosure,
		kindStrings(p.EscalationTriggers),
		p.EscalationTier,
		p.CreatedAt,
		p.UpdatedAt,
	); err != nil {
		return goerr.Wrap(err, "failed to upsert policy", goerr.V("policy_id", p.ID))
	}
	return nil
}

func (r *policyRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.SLAPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM sla_policies WHERE tenant_id=$1 ORDER BY name ASC`
	policies, err := r.query(ctx, query, tenantID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list policies", goerr.V("tenant_id", tenantID))
	}
	return policies, nil
}

func (r *policyRepository) query(ctx context.Context, query string, args ...any) ([]domain.SLAPolicy, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.SLAPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func scanPolicy(row rowScanner) (*domain.SLAPolicy, error) {
	var (
		p        domain.SLAPolicy
		targets  targetsRecord
		triggers []string
	)
	if err := row.Scan(
		&p.ID,
		&p.TenantID,
		&p.Name,
		&p.IsDefault,
		&p.IsActive,
		&targets,
		&p.CalendarID,
		&p.RequireChildClosure,
		&triggers,
		&p.EscalationTier,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	decoded, err := decodeTargets(targets)
	if err != nil {
		return nil, goerr.Wrap(err, "stored policy targets are malformed", goerr.V("policy_id", p.ID))
	}
	p.Targets = decoded
	for _, k := range triggers {
		p.EscalationTriggers = append(p.EscalationTriggers, domain.MilestoneKind(k))
	}
	return &p, nil
}

func encodeTargets(targets map[domain.MilestoneKind]map[domain.CasePriority]time.Duration) targetsRecord {
	out := make(targetsRecord, len(targets))
	for kind, byPriority := range targets {
		inner := make(map[string]string, len(byPriority))
		for priority, d := range byPriority {
			inner[string(priority)] = d.String()
		}
		out[string(kind)] = inner
	}
	return out
}

func decodeTargets(rec targetsRecord) (map[domain.MilestoneKind]map[domain.CasePriority]time.Duration, error) {
	out := make(map[domain.MilestoneKind]map[domain.CasePriority]time.Duration, len(rec))
	for kind, byPriority := range rec {
		inner := make(map[domain.CasePriority]time.Duration, len(byPriority))
		for priority, raw := range byPriority {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, goerr.Wrap(err, "invalid duration", goerr.V("kind", kind), goerr.V("priority", priority))
			}
			inner[domain.CasePriority(priority)] = d
		}
		out[domain.MilestoneKind(kind)] = inner
	}
	return out, nil
}

func kindStrings(kinds []domain.MilestoneKind) []string {
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, string(k))
	}
	return out
}
