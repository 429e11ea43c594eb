package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/case-engine/internal/clock"
	"github.com/spec-kit/case-engine/internal/config"
	"github.com/spec-kit/case-engine/internal/domain"
	"github.com/spec-kit/case-engine/internal/events"
	"github.com/spec-kit/case-engine/internal/observability"
	"github.com/spec-kit/case-engine/internal/repository"
	"github.com/spec-kit/case-engine/internal/sla"
	apperrors "github.com/spec-kit/case-engine/pkg/util/errorutil"
)

var errAlreadyAssigned = errors.New("case is not waiting for an agent")

// AssignmentService routes queued cases to available agents.
type AssignmentService struct {
	store      repository.Store
	dispatcher events.Dispatcher
	clock      clock.Clock
	cfg        config.EngineConfig
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// AssignmentDependencies bundles collaborators for the router.
type AssignmentDependencies struct {
	Store      repository.Store
	Dispatcher events.Dispatcher
	Clock      clock.Clock
	Config     config.EngineConfig
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// NewAssignmentService creates the router.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	return &AssignmentService{
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		clock:      orRealClock(deps.Clock),
		cfg:        deps.Config,
		logger:     orNopLogger(deps.Logger),
		metrics:    deps.Metrics,
	}
}

// Requirement is what a case needs from an agent.
type Requirement struct {
	Channel domain.Channel
	MinTier int
	Exclude []string
}

func (r Requirement) excludes(agentID string) bool {
	for _, id := range r.Exclude {
		if id == agentID {
			return true
		}
	}
	return false
}

// Eligible reports whether p could take a case with requirement r at now.
func Eligible(p *domain.AgentPresence, r Requirement, now time.Time, staleness time.Duration) bool {
	return p.EffectiveStatus(now, staleness) == domain.PresenceOnline &&
		p.Accepts(r.Channel) &&
		p.HasFreeSlot() &&
		p.Tier >= r.MinTier &&
		!r.excludes(p.AgentID)
}

// SelectCandidates filters agents to the eligible ones and orders them by load factor,
// then by how long they have been available, then by id.
func SelectCandidates(agents []domain.AgentPresence, r Requirement, now time.Time, staleness time.Duration) []domain.AgentPresence {
	out := make([]domain.AgentPresence, 0, len(agents))
	for i := range agents {
		if Eligible(&agents[i], r, now, staleness) {
			out = append(out, agents[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		li, lj := out[i].LoadFactor(), out[j].LoadFactor()
		if li != lj {
			return li < lj
		}
		if !out[i].AvailableSince.Equal(out[j].AvailableSince) {
			return out[i].AvailableSince.Before(out[j].AvailableSince)
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// Assignment is the outcome of one routing attempt.
type Assignment struct {
	Case    *domain.Case
	AgentID string
	Routed  bool
}

// Assign claims a slot on the best candidate and assigns the case to it in one
// transaction. A case that is no longer queued is returned unchanged. When nobody can
// take the case the error is CAPACITY_EXCEEDED and the case stays queued.
func (s *AssignmentService) Assign(ctx context.Context, tc domain.TenantContext, caseID string) (*Assignment, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}

	var (
		transition *domain.StatusTransition
		previous   *domain.Case
		now        time.Time
	)
	assigned, err := repository.CompareAndSwap(ctx, repository.CASOp[*domain.Case]{
		Load: func(ctx context.Context) (*domain.Case, error) {
			return loadCase(ctx, s.store, tc.TenantID, caseID)
		},
		Mutate: func(current *domain.Case) (*domain.Case, error) {
			if !current.IsQueued() {
				return nil, errAlreadyAssigned
			}
			previous = current
			return current.Clone(), nil
		},
		Store: func(ctx context.Context, next *domain.Case, expected int64) error {
			transition = nil
			now = s.clock.Now()
			return s.store.WithinTx(ctx, func(tx repository.Store) error {
				req, err := s.requirementFor(ctx, tx, next)
				if err != nil {
					return err
				}
				agentID, err := s.claimBest(ctx, tx.Presence(), next.TenantID, req, now)
				if err != nil {
					return err
				}
				next.AssigneeID = &agentID
				next.UpdatedAt = now
				if next.Status == domain.CaseStatusNew {
					transition = newTransition(next, domain.CaseStatusOpen, domain.SystemActorID, domain.ReasonRouted, now)
					next.Status = domain.CaseStatusOpen
				}
				sla.Refresh(next, now)
				if err := tx.Cases().UpdateIfVersion(ctx, next, expected); err != nil {
					return err
				}
				if transition != nil {
					return tx.Transitions().Create(ctx, transition)
				}
				return nil
			})
		},
	}, s.cfg.TransitionRetries)

	switch {
	case errors.Is(err, errAlreadyAssigned):
		current, err := loadCase(ctx, s.store, tc.TenantID, caseID)
		if err != nil {
			return nil, err
		}
		return &Assignment{Case: current}, nil
	case apperrors.IsCapacityExceeded(err):
		s.metrics.RecordRouting(observability.RoutingQueued)
		return nil, err
	case err != nil:
		s.metrics.RecordRouting(observability.RoutingFailed)
		if apperrors.IsCode(err, apperrors.CodeInvariantViolation) {
			s.logger.Error("invariant violation while routing", zap.String("case_id", caseID), zap.Error(err))
		}
		return nil, err
	}

	s.metrics.RecordRouting(observability.RoutingAssigned)
	sys := domain.NewSystemContext(tc.TenantID)
	evs := []events.Event{
		newEvent(sys, events.EventCaseAssigned, assigned.ID, events.CaseAssignedPayload{AssigneeID: *assigned.AssigneeID}, now),
	}
	if transition != nil {
		s.metrics.RecordTransition(string(transition.From), string(transition.To))
		evs = append(evs, newEvent(sys, events.EventCaseStatusChanged, assigned.ID, events.CaseStatusChangedPayload{
			TransitionID: transition.ID,
			From:         transition.From,
			To:           transition.To,
			Reason:       transition.Reason,
		}, now))
	}
	if assigned.SLABreached && previous != nil && !previous.SLABreached {
		evs = append(evs, newEvent(sys, events.EventSLABreached, assigned.ID, events.SLABreachedPayload{
			Kinds: sla.BreachedKinds(assigned, now),
		}, now))
	}
	publishEvents(ctx, s.dispatcher, s.logger, evs...)
	s.logger.Info("case routed",
		zap.String("tenant_id", assigned.TenantID),
		zap.String("case_id", assigned.ID),
		zap.String("agent_id", *assigned.AssigneeID))
	return &Assignment{Case: assigned, AgentID: *assigned.AssigneeID, Routed: true}, nil
}

// DrainQueue routes waiting cases of a tenant, most urgent first and oldest first within
// a priority. It stops early only when the presence store is unreachable.
func (s *AssignmentService) DrainQueue(ctx context.Context, tenantID string) (int, error) {
	tenant := tenantID
	queued, err := s.store.Cases().List(ctx, repository.CaseFilter{
		TenantID:   &tenant,
		Statuses:   domain.ActiveCaseStatuses,
		Unassigned: true,
		Limit:      s.cfg.QueueDrainBatch,
	})
	if err != nil {
		return 0, apperrors.NewStaleDependency("case store", err)
	}
	sort.SliceStable(queued, func(i, j int) bool {
		ri, rj := queued[i].Priority.Rank(), queued[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return queued[i].CreatedAt.Before(queued[j].CreatedAt)
	})

	tc := domain.NewSystemContext(tenantID)
	routed := 0
	for i := range queued {
		if err := ctx.Err(); err != nil {
			return routed, err
		}
		res, err := s.Assign(ctx, tc, queued[i].ID)
		switch {
		case err == nil:
			if res.Routed {
				routed++
			}
		case apperrors.IsCapacityExceeded(err):
			continue
		case apperrors.IsCode(err, apperrors.CodeStaleDependency):
			return routed, err
		default:
			s.logger.Warn("queued case could not be routed",
				zap.String("tenant_id", tenantID),
				zap.String("case_id", queued[i].ID),
				zap.Error(err))
		}
	}
	return routed, nil
}

// requirementFor derives the agent requirement of c. Escalated cases need the policy's
// escalation tier.
func (s *AssignmentService) requirementFor(ctx context.Context, tx repository.Store, c *domain.Case) (Requirement, error) {
	req := Requirement{Channel: c.Origin.RequiredChannel()}
	if c.Status != domain.CaseStatusEscalated {
		return req, nil
	}
	policy, err := tx.Policies().GetByID(ctx, c.TenantID, c.PolicyID)
	if err != nil {
		return req, apperrors.NewStaleDependency("policy store", err)
	}
	req.MinTier = policy.EscalationTier
	return req, nil
}

// claimBest claims one slot on the first candidate that still has room. Candidates that
// filled up or changed concurrently are skipped.
func (s *AssignmentService) claimBest(ctx context.Context, presence repository.PresenceRepository, tenantID string, req Requirement, now time.Time) (string, error) {
	agents, err := presence.ListByTenant(ctx, tenantID)
	if err != nil {
		return "", apperrors.NewStaleDependency("presence store", err)
	}
	for _, candidate := range SelectCandidates(agents, req, now, s.cfg.StalenessThreshold) {
		_, err := claimSlot(ctx, presence, candidate.AgentID, 1)
		if err == nil {
			return candidate.AgentID, nil
		}
		if apperrors.IsConflict(err) || apperrors.IsCapacityExceeded(err) {
			continue
		}
		return "", err
	}
	return "", apperrors.NewCapacityExceeded("no eligible agent available", map[string]any{
		"tenant_id": tenantID,
		"channel":   req.Channel,
		"min_tier":  req.MinTier,
	})
}
