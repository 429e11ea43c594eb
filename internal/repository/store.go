package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/case-engine/internal/domain"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx so adapters run unchanged inside
// and outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CaseFilter narrows case listings. Nil fields are ignored.
type CaseFilter struct {
	TenantID           *string
	ParentID           *string
	Statuses           []domain.CaseStatus
	Unassigned         bool
	LastActivityBefore *time.Time
	Limit              int
}

// CaseRepository persists cases. Writes are conditional on the version read by the caller.
type CaseRepository interface {
	NextNumber(ctx context.Context, tenantID string) (int64, error)
	Create(ctx context.Context, c *domain.Case) error
	GetByID(ctx context.Context, tenantID, id string) (*domain.Case, error)
	UpdateIfVersion(ctx context.Context, c *domain.Case, expected int64) error
	UpdateBreachFlag(ctx context.Context, tenantID, id string, breached bool) error
	List(ctx context.Context, filter CaseFilter) ([]domain.Case, error)
}

// MilestoneRepository persists milestone instances.
type MilestoneRepository interface {
	CreateBatch(ctx context.Context, milestones []domain.MilestoneInstance) error
	ListByCase(ctx context.Context, tenantID, caseID string) ([]domain.MilestoneInstance, error)
	// MarkAchieved sets achieved_at only when it is still null and reports whether it wrote.
	MarkAchieved(ctx context.Context, tenantID, caseID string, kind domain.MilestoneKind, at time.Time) (bool, error)
	ClearAchieved(ctx context.Context, tenantID, caseID string, kind domain.MilestoneKind) error
}

// PresenceRepository persists agent presence.
type PresenceRepository interface {
	// Get looks an agent up by its globally unique id; callers check the tenant.
	Get(ctx context.Context, agentID string) (*domain.AgentPresence, error)
	// SaveIfVersion inserts when expected is zero, otherwise updates the row still at expected.
	SaveIfVersion(ctx context.Context, p *domain.AgentPresence, expected int64) error
	ListByTenant(ctx context.Context, tenantID string) ([]domain.AgentPresence, error)
}

// TransitionRepository is the append-only status audit log.
type TransitionRepository interface {
	Create(ctx context.Context, t *domain.StatusTransition) error
	ListByCase(ctx context.Context, tenantID, caseID string) ([]domain.StatusTransition, error)
}

// CommentRepository stores comment trigger records.
type CommentRepository interface {
	Create(ctx context.Context, c *domain.CaseComment) error
	ListByCase(ctx context.Context, tenantID, caseID string) ([]domain.CaseComment, error)
}

// PolicyRepository is the SLA policy store.
type PolicyRepository interface {
	GetForPriority(ctx context.Context, tenantID string, priority domain.CasePriority) (*domain.SLAPolicy, error)
	GetByID(ctx context.Context, tenantID, id string) (*domain.SLAPolicy, error)
	Upsert(ctx context.Context, p *domain.SLAPolicy) error
	ListByTenant(ctx context.Context, tenantID string) ([]domain.SLAPolicy, error)
}

// Store groups the repositories that must commit together.
type Store interface {
	Cases() CaseRepository
	Milestones() MilestoneRepository
	Presence() PresenceRepository
	Transitions() TransitionRepository
	Comments() CommentRepository
	Policies() PolicyRepository
	// WithinTx runs fn against a transactional view. Calling it on a view that is
	// already transactional reuses the outer transaction.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
}
