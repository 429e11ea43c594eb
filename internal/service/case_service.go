package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
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

// errSkipped marks an internally triggered transition whose precondition no longer holds
// on the re-read case.
var errSkipped = errors.New("transition precondition no longer holds")

var allowedTransitions = map[domain.CaseStatus][]domain.CaseStatus{
	domain.CaseStatusNew:        {domain.CaseStatusOpen, domain.CaseStatusEscalated},
	domain.CaseStatusOpen:       {domain.CaseStatusInProgress, domain.CaseStatusEscalated},
	domain.CaseStatusInProgress: {domain.CaseStatusEscalated, domain.CaseStatusResolved},
	domain.CaseStatusEscalated:  {domain.CaseStatusResolved},
	domain.CaseStatusResolved:   {domain.CaseStatusClosed, domain.CaseStatusOpen},
	domain.CaseStatusClosed:     {domain.CaseStatusOpen},
}

// CanTransition reports whether the state machine has an edge from -> to.
func CanTransition(from, to domain.CaseStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// CaseService is the lifecycle controller.
type CaseService struct {
	store       repository.Store
	router      *AssignmentService
	evaluator   *sla.Evaluator
	idempotency repository.IdempotencyStore
	dispatcher  events.Dispatcher
	clock       clock.Clock
	cfg         config.EngineConfig
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// CaseDependencies bundles collaborators for the lifecycle controller.
type CaseDependencies struct {
	Store       repository.Store
	Router      *AssignmentService
	Evaluator   *sla.Evaluator
	Idempotency repository.IdempotencyStore
	Dispatcher  events.Dispatcher
	Clock       clock.Clock
	Config      config.EngineConfig
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// NewCaseService constructs the controller.
func NewCaseService(deps CaseDependencies) *CaseService {
	evaluator := deps.Evaluator
	if evaluator == nil {
		evaluator = sla.NewEvaluator(nil)
	}
	return &CaseService{
		store:       deps.Store,
		router:      deps.Router,
		evaluator:   evaluator,
		idempotency: deps.Idempotency,
		dispatcher:  deps.Dispatcher,
		clock:       orRealClock(deps.Clock),
		cfg:         deps.Config,
		logger:      orNopLogger(deps.Logger),
		metrics:     deps.Metrics,
	}
}

// CreateCaseInput describes a new case.
type CreateCaseInput struct {
	Subject     string
	Description string
	Priority    domain.CasePriority
	Origin      domain.CaseOrigin
	ContactRef  *string
	AccountRef  *string
	ParentID    *string
	// PolicyID selects a policy explicitly; otherwise the tenant default for the
	// priority applies.
	PolicyID *string
}

// CommentInput describes an agent comment.
type CommentInput struct {
	Body           string
	IsPublic       bool
	IdempotencyKey string
}

// TransitionInput is a caller requested status change.
type TransitionInput struct {
	To              domain.CaseStatus
	ExpectedVersion *int64
}

// CreateCase validates input, resolves the SLA policy, stores the case with its
// milestones and then tries to route it. A case nobody can take yet is returned queued.
func (s *CaseService) CreateCase(ctx context.Context, tc domain.TenantContext, input CreateCaseInput) (*domain.Case, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	c, err := domain.NewCase(domain.NewCaseParams{
		TenantID:    tc.TenantID,
		Subject:     input.Subject,
		Description: input.Description,
		Priority:    input.Priority,
		Origin:      input.Origin,
		ContactRef:  input.ContactRef,
		AccountRef:  input.AccountRef,
		ParentID:    input.ParentID,
		CreatedAt:   now,
	})
	if err != nil {
		return nil, err
	}
	c.ID = uuid.NewString()

	if c.ParentID != nil {
		parent, err := s.store.Cases().GetByID(ctx, tc.TenantID, *c.ParentID)
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewValidationError("parent case not found", map[string]any{"parent_id": *c.ParentID})
		}
		if err != nil {
			return nil, err
		}
		if err := c.ValidateParent(parent); err != nil {
			return nil, err
		}
	}

	policy, err := s.resolvePolicy(ctx, tc.TenantID, c.Priority, input.PolicyID)
	if err != nil {
		return nil, err
	}
	c.PolicyID = policy.ID

	milestones, err := s.evaluator.ComputeTargets(c, policy)
	if err != nil {
		return nil, err
	}
	for i := range milestones {
		milestones[i].ID = uuid.NewString()
	}

	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		number, err := tx.Cases().NextNumber(ctx, tc.TenantID)
		if err != nil {
			return err
		}
		c.Number = number
		if err := tx.Cases().Create(ctx, c); err != nil {
			return err
		}
		return tx.Milestones().CreateBatch(ctx, milestones)
	})
	if err != nil {
		return nil, err
	}
	c.Milestones = milestones

	publishEvents(ctx, s.dispatcher, s.logger, newEvent(tc, events.EventCaseCreated, c.ID, events.CaseCreatedPayload{
		Number:   c.Number,
		Priority: c.Priority,
		Origin:   c.Origin,
		PolicyID: c.PolicyID,
		ParentID: c.ParentID,
	}, now))
	s.logger.Info("case created",
		zap.String("tenant_id", c.TenantID),
		zap.String("case_id", c.ID),
		zap.Int64("number", c.Number),
		zap.String("policy_id", c.PolicyID))

	if s.router == nil {
		return c, nil
	}
	assignment, err := s.router.Assign(ctx, tc, c.ID)
	switch {
	case err == nil:
		return assignment.Case, nil
	case apperrors.IsCapacityExceeded(err):
		s.publishQueued(ctx, tc, c, "no eligible agent available", now)
		return c, nil
	case apperrors.IsCode(err, apperrors.CodeStaleDependency):
		s.logger.Warn("routing skipped, presence unavailable", zap.String("case_id", c.ID), zap.Error(err))
		s.publishQueued(ctx, tc, c, "presence unavailable", now)
		return c, nil
	default:
		return nil, err
	}
}

// GetCase returns the case with a breach flag evaluated at the current time.
func (s *CaseService) GetCase(ctx context.Context, tc domain.TenantContext, caseID string) (*domain.Case, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	c, err := loadCase(ctx, s.store, tc.TenantID, caseID)
	if err != nil {
		return nil, err
	}
	s.refreshBreach(ctx, tc, c, s.clock.Now())
	return c, nil
}

// refreshBreach recomputes the cached breach flag of c and persists it when it moved.
// The flag write is best effort; readers always get the freshly computed value.
func (s *CaseService) refreshBreach(ctx context.Context, tc domain.TenantContext, c *domain.Case, now time.Time) bool {
	if !sla.Refresh(c, now) {
		return false
	}
	if err := s.store.Cases().UpdateBreachFlag(ctx, c.TenantID, c.ID, c.SLABreached); err != nil {
		s.logger.Warn("failed to persist breach flag", zap.String("case_id", c.ID), zap.Error(err))
		return true
	}
	if c.SLABreached {
		publishEvents(ctx, s.dispatcher, s.logger, newEvent(tc, events.EventSLABreached, c.ID, events.SLABreachedPayload{
			Kinds: sla.BreachedKinds(c, now),
		}, now))
	}
	return true
}

// RecordAgentComment applies the lifecycle effects of a comment. A replay carrying an
// idempotency key already seen returns the current case untouched.
func (s *CaseService) RecordAgentComment(ctx context.Context, tc domain.TenantContext, caseID string, input CommentInput) (*domain.Case, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, apperrors.NewValidationError("invalid comment", map[string]any{"body": "required"})
	}

	if key := strings.TrimSpace(input.IdempotencyKey); key != "" && s.idempotency != nil {
		scoped := tc.TenantID + ":" + caseID + ":" + key
		reserved, err := s.idempotency.Reserve(ctx, scoped, s.cfg.IdempotencyTTL)
		if err != nil {
			return nil, apperrors.NewStaleDependency("idempotency store", err)
		}
		if !reserved {
			s.logger.Info("comment replay ignored", zap.String("case_id", caseID), zap.String("idempotency_key", key))
			return s.GetCase(ctx, tc, caseID)
		}
		c, err := s.recordComment(ctx, tc, caseID, body, input.IsPublic)
		if err != nil {
			if releaseErr := s.idempotency.Release(ctx, scoped); releaseErr != nil {
				s.logger.Warn("failed to release idempotency key", zap.String("key", scoped), zap.Error(releaseErr))
			}
			return nil, err
		}
		return c, nil
	}
	return s.recordComment(ctx, tc, caseID, body, input.IsPublic)
}

func (s *CaseService) recordComment(ctx context.Context, tc domain.TenantContext, caseID, body string, public bool) (*domain.Case, error) {
	commentID := uuid.NewString()
	plan, err := s.apply(ctx, tc, caseID, s.cfg.TransitionRetries, func(p *casePlan) error {
		p.comment = &domain.CaseComment{
			ID:        commentID,
			TenantID:  tc.TenantID,
			CaseID:    caseID,
			AuthorID:  tc.Actor(),
			Body:      body,
			IsPublic:  public,
			CreatedAt: p.now,
		}
		if !public || !p.current.Status.IsActive() {
			return nil
		}
		p.reason = domain.ReasonAgentComment
		if p.next.FirstResponseAt == nil {
			at := p.now
			p.next.FirstResponseAt = &at
			p.achieve(domain.MilestoneFirstResponse)
			if p.current.Status == domain.CaseStatusNew {
				p.next.Status = domain.CaseStatusOpen
			}
			return nil
		}
		if p.current.Status == domain.CaseStatusOpen {
			p.next.Status = domain.CaseStatusInProgress
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan.next, nil
}

// Transition applies a caller requested status change. With ExpectedVersion the change
// is attempted once and a stale version is a CONFLICT.
func (s *CaseService) Transition(ctx context.Context, tc domain.TenantContext, caseID string, input TransitionInput) (*domain.Case, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	if !input.To.Valid() {
		return nil, apperrors.NewValidationError("unknown status", map[string]any{"to": input.To})
	}
	attempts := s.cfg.TransitionRetries
	if input.ExpectedVersion != nil {
		attempts = 1
	}
	return s.transition(ctx, tc, caseID, transitionRequest{
		To:              input.To,
		Reason:          domain.ReasonManual,
		ExpectedVersion: input.ExpectedVersion,
		Attempts:        attempts,
	})
}

// ListTransitions returns the audit trail of a case, oldest first.
func (s *CaseService) ListTransitions(ctx context.Context, tc domain.TenantContext, caseID string) ([]domain.StatusTransition, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.Cases().GetByID(ctx, tc.TenantID, caseID); err != nil {
		return nil, err
	}
	return s.store.Transitions().ListByCase(ctx, tc.TenantID, caseID)
}

type transitionRequest struct {
	To              domain.CaseStatus
	Reason          domain.TransitionReason
	ExpectedVersion *int64
	// ExpectedStatus and Precondition are re-checked on every read; a miss yields errSkipped.
	ExpectedStatus *domain.CaseStatus
	Precondition   func(current *domain.Case, now time.Time) bool
	Attempts       int
}

func (s *CaseService) transition(ctx context.Context, tc domain.TenantContext, caseID string, req transitionRequest) (*domain.Case, error) {
	plan, err := s.apply(ctx, tc, caseID, req.Attempts, func(p *casePlan) error {
		current, next := p.current, p.next
		if req.ExpectedVersion != nil && current.Version != *req.ExpectedVersion {
			return apperrors.NewConflict("case version is stale", map[string]any{
				"case_id":          current.ID,
				"expected_version": *req.ExpectedVersion,
				"current_version":  current.Version,
			})
		}
		if req.ExpectedStatus != nil && current.Status != *req.ExpectedStatus {
			return errSkipped
		}
		if req.Precondition != nil && !req.Precondition(current, p.now) {
			return errSkipped
		}
		if !CanTransition(current.Status, req.To) {
			return apperrors.NewValidationError("transition not allowed", map[string]any{
				"from": current.Status,
				"to":   req.To,
			})
		}

		next.Status = req.To
		p.reason = req.Reason
		switch req.To {
		case domain.CaseStatusOpen:
			if current.Status == domain.CaseStatusResolved || current.Status == domain.CaseStatusClosed {
				return s.planReopen(p)
			}
		case domain.CaseStatusEscalated:
			p.hooks = append(p.hooks, s.escalationRoute)
		case domain.CaseStatusResolved:
			at := p.now
			next.ResolvedAt = &at
			p.achieve(domain.MilestoneResolution)
			if current.HoldsAgentSlot() {
				p.release = current.AssigneeID
			}
			p.hooks = append(p.hooks, s.childClosureGuard)
		case domain.CaseStatusClosed:
			at := p.now
			next.ClosedAt = &at
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan.next, nil
}

func (s *CaseService) planReopen(p *casePlan) error {
	current := p.current
	if current.ResolvedAt == nil || p.now.Sub(*current.ResolvedAt) > s.cfg.ReopenWindow {
		return apperrors.NewValidationError("reopen window has elapsed", map[string]any{
			"case_id":       current.ID,
			"reopen_window": s.cfg.ReopenWindow.String(),
		})
	}
	p.reason = domain.ReasonReopened
	p.next.ResolvedAt = nil
	p.next.ClosedAt = nil
	p.clear(domain.MilestoneResolution)
	p.hooks = append(p.hooks, s.reopenRoute)
	return nil
}

// childClosureGuard blocks resolving a parent while children are still open, when the
// policy asks for it.
func (s *CaseService) childClosureGuard(ctx context.Context, tx repository.Store, p *casePlan) error {
	policy, err := tx.Policies().GetByID(ctx, p.current.TenantID, p.current.PolicyID)
	if err != nil {
		return apperrors.NewStaleDependency("policy store", err)
	}
	if !policy.RequireChildClosure {
		return nil
	}
	tenant, parent := p.current.TenantID, p.current.ID
	children, err := tx.Cases().List(ctx, repository.CaseFilter{
		TenantID: &tenant,
		ParentID: &parent,
		Statuses: domain.ActiveCaseStatuses,
	})
	if err != nil {
		return err
	}
	if len(children) == 0 {
		return nil
	}
	open := make([]string, 0, len(children))
	for _, child := range children {
		open = append(open, child.ID)
	}
	return apperrors.NewValidationError("case has open child cases", map[string]any{
		"case_id":       parent,
		"open_children": open,
	})
}

// escalationRoute moves an escalated case to an agent of the policy's escalation tier.
// The current agent keeps the case when its tier suffices or nobody else is available.
func (s *CaseService) escalationRoute(ctx context.Context, tx repository.Store, p *casePlan) error {
	if s.router == nil {
		return nil
	}
	policy, err := tx.Policies().GetByID(ctx, p.current.TenantID, p.current.PolicyID)
	if err != nil {
		return apperrors.NewStaleDependency("policy store", err)
	}
	if policy.EscalationTier <= 0 {
		return nil
	}
	req := Requirement{Channel: p.next.Origin.RequiredChannel(), MinTier: policy.EscalationTier}
	previous := p.next.AssigneeID
	if previous != nil {
		agent, err := tx.Presence().Get(ctx, *previous)
		if err == nil && agent.Tier >= policy.EscalationTier {
			return nil
		}
		if err != nil && !apperrors.IsNotFound(err) {
			return apperrors.NewStaleDependency("presence store", err)
		}
		req.Exclude = []string{*previous}
	}
	agentID, err := s.router.claimBest(ctx, tx.Presence(), p.current.TenantID, req, p.now)
	if apperrors.IsCapacityExceeded(err) {
		s.logger.Info("no escalation tier agent available, keeping assignment",
			zap.String("case_id", p.current.ID),
			zap.Int("escalation_tier", policy.EscalationTier))
		return nil
	}
	if err != nil {
		return err
	}
	if previous != nil {
		if _, err := releaseSlot(ctx, tx.Presence(), *previous, 1); err != nil {
			return err
		}
	}
	p.next.AssigneeID = &agentID
	p.assigned = &agentID
	return nil
}

// reopenRoute gives a reopened case back to its original agent when that agent can take
// it, otherwise to the best other candidate, otherwise leaves it queued.
func (s *CaseService) reopenRoute(ctx context.Context, tx repository.Store, p *casePlan) error {
	req := Requirement{Channel: p.next.Origin.RequiredChannel()}
	original := p.current.AssigneeID
	if original != nil {
		agent, err := tx.Presence().Get(ctx, *original)
		switch {
		case err == nil && Eligible(agent, req, p.now, s.cfg.StalenessThreshold):
			_, err := claimSlot(ctx, tx.Presence(), *original, 1)
			if err == nil {
				p.assigned = original
				return nil
			}
			if !apperrors.IsConflict(err) && !apperrors.IsCapacityExceeded(err) {
				return err
			}
		case err != nil && !apperrors.IsNotFound(err):
			return apperrors.NewStaleDependency("presence store", err)
		}
		req.Exclude = []string{*original}
	}

	p.next.AssigneeID = nil
	if s.router == nil {
		return nil
	}
	agentID, err := s.router.claimBest(ctx, tx.Presence(), p.current.TenantID, req, p.now)
	if apperrors.IsCapacityExceeded(err) {
		return nil
	}
	if err != nil {
		return err
	}
	p.next.AssigneeID = &agentID
	p.assigned = &agentID
	return nil
}

func (s *CaseService) resolvePolicy(ctx context.Context, tenantID string, priority domain.CasePriority, policyID *string) (*domain.SLAPolicy, error) {
	if policyID != nil && strings.TrimSpace(*policyID) != "" {
		policy, err := s.store.Policies().GetByID(ctx, tenantID, *policyID)
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewValidationError("unknown sla policy", map[string]any{"policy_id": *policyID})
		}
		if err != nil {
			return nil, apperrors.NewStaleDependency("policy store", err)
		}
		if !policy.IsActive || !policy.Covers(priority) {
			return nil, apperrors.NewValidationError("sla policy does not apply", map[string]any{
				"policy_id": policy.ID,
				"priority":  priority,
			})
		}
		return policy, nil
	}
	policy, err := s.store.Policies().GetForPriority(ctx, tenantID, priority)
	if apperrors.IsNotFound(err) {
		return nil, apperrors.NewValidationError("no sla policy covers priority", map[string]any{"priority": priority})
	}
	if err != nil {
		return nil, apperrors.NewStaleDependency("policy store", err)
	}
	return policy, nil
}

func (s *CaseService) publishQueued(ctx context.Context, tc domain.TenantContext, c *domain.Case, reason string, now time.Time) {
	publishEvents(ctx, s.dispatcher, s.logger, newEvent(tc, events.EventCaseQueued, c.ID, events.CaseQueuedPayload{Reason: reason}, now))
}

// casePlan carries one read-modify-write cycle of a case through compare-and-swap.
type casePlan struct {
	current *domain.Case
	next    *domain.Case
	now     time.Time
	reason  domain.TransitionReason

	achieved []domain.MilestoneKind
	cleared  []domain.MilestoneKind
	release  *string
	comment  *domain.CaseComment
	// hooks run inside the store transaction before the case row is written.
	hooks []func(ctx context.Context, tx repository.Store, p *casePlan) error

	assigned   *string
	transition *domain.StatusTransition
}

func (p *casePlan) GetVersion() int64 { return p.current.Version }

func (p *casePlan) achieve(kind domain.MilestoneKind) {
	m := p.next.Milestone(kind)
	if m == nil || m.AchievedAt != nil {
		return
	}
	at := p.now
	m.AchievedAt = &at
	p.achieved = append(p.achieved, kind)
}

func (p *casePlan) clear(kind domain.MilestoneKind) {
	if m := p.next.Milestone(kind); m != nil {
		m.AchievedAt = nil
	}
	p.cleared = append(p.cleared, kind)
}

// apply runs mutate against a fresh read until the conditional write lands. Everything
// the plan touches commits in one store transaction.
func (s *CaseService) apply(ctx context.Context, tc domain.TenantContext, caseID string, attempts int, mutate func(p *casePlan) error) (*casePlan, error) {
	plan, err := repository.CompareAndSwap(ctx, repository.CASOp[*casePlan]{
		Load: func(ctx context.Context) (*casePlan, error) {
			c, err := loadCase(ctx, s.store, tc.TenantID, caseID)
			if err != nil {
				return nil, err
			}
			return &casePlan{current: c, next: c.Clone(), now: s.clock.Now()}, nil
		},
		Mutate: func(p *casePlan) (*casePlan, error) {
			if err := mutate(p); err != nil {
				return nil, err
			}
			if tc.Role != domain.RoleSystem {
				p.next.LastActivityAt = p.now
			}
			p.next.UpdatedAt = p.now
			sla.Refresh(p.next, p.now)
			if err := p.next.Validate(); err != nil {
				return nil, err
			}
			if err := sla.CheckMilestones(p.next); err != nil {
				return nil, err
			}
			return p, nil
		},
		Store: func(ctx context.Context, p *casePlan, expected int64) error {
			return s.store.WithinTx(ctx, func(tx repository.Store) error {
				return s.persist(ctx, tx, tc, p, expected)
			})
		},
	}, attempts)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeInvariantViolation) {
			s.logger.Error("invariant violation, case change aborted",
				zap.String("tenant_id", tc.TenantID),
				zap.String("case_id", caseID),
				zap.Error(err))
		}
		return nil, err
	}
	s.afterCommit(ctx, tc, plan)
	return plan, nil
}

func (s *CaseService) persist(ctx context.Context, tx repository.Store, tc domain.TenantContext, p *casePlan, expected int64) error {
	p.assigned, p.transition = nil, nil
	for _, hook := range p.hooks {
		if err := hook(ctx, tx, p); err != nil {
			return err
		}
	}
	if p.release != nil {
		if _, err := releaseSlot(ctx, tx.Presence(), *p.release, 1); err != nil {
			return err
		}
	}
	if err := tx.Cases().UpdateIfVersion(ctx, p.next, expected); err != nil {
		return err
	}
	for _, kind := range p.achieved {
		if _, err := tx.Milestones().MarkAchieved(ctx, p.next.TenantID, p.next.ID, kind, p.now); err != nil {
			return err
		}
	}
	for _, kind := range p.cleared {
		if err := tx.Milestones().ClearAchieved(ctx, p.next.TenantID, p.next.ID, kind); err != nil {
			return err
		}
	}
	if p.comment != nil {
		if err := tx.Comments().Create(ctx, p.comment); err != nil {
			return err
		}
	}
	if p.next.Status != p.current.Status {
		p.transition = newTransition(p.current, p.next.Status, tc.Actor(), p.reason, p.now)
		if err := tx.Transitions().Create(ctx, p.transition); err != nil {
			return err
		}
	}
	return nil
}

func (s *CaseService) afterCommit(ctx context.Context, tc domain.TenantContext, p *casePlan) {
	var evs []events.Event
	if p.comment != nil {
		evs = append(evs, newEvent(tc, events.EventCommentRecorded, p.next.ID, events.CommentRecordedPayload{
			CommentID: p.comment.ID,
			AuthorID:  p.comment.AuthorID,
			IsPublic:  p.comment.IsPublic,
		}, p.now))
	}
	if t := p.transition; t != nil {
		s.metrics.RecordTransition(string(t.From), string(t.To))
		evs = append(evs, newEvent(tc, events.EventCaseStatusChanged, p.next.ID, events.CaseStatusChangedPayload{
			TransitionID: t.ID,
			From:         t.From,
			To:           t.To,
			Reason:       t.Reason,
		}, p.now))
		s.logger.Info("case transitioned",
			zap.String("tenant_id", p.next.TenantID),
			zap.String("case_id", p.next.ID),
			zap.String("from", string(t.From)),
			zap.String("to", string(t.To)),
			zap.String("reason", string(t.Reason)))
	}
	if p.assigned != nil {
		s.metrics.RecordRouting(observability.RoutingAssigned)
		evs = append(evs, newEvent(tc, events.EventCaseAssigned, p.next.ID, events.CaseAssignedPayload{
			AssigneeID:         *p.assigned,
			PreviousAssigneeID: p.current.AssigneeID,
		}, p.now))
	}
	if p.next.SLABreached && !p.current.SLABreached {
		evs = append(evs, newEvent(tc, events.EventSLABreached, p.next.ID, events.SLABreachedPayload{
			Kinds: sla.BreachedKinds(p.next, p.now),
		}, p.now))
	}
	publishEvents(ctx, s.dispatcher, s.logger, evs...)
}

// loadCase reads a case together with its milestones.
func loadCase(ctx context.Context, store repository.Store, tenantID, caseID string) (*domain.Case, error) {
	c, err := store.Cases().GetByID(ctx, tenantID, caseID)
	if err != nil {
		return nil, err
	}
	milestones, err := store.Milestones().ListByCase(ctx, tenantID, caseID)
	if err != nil {
		return nil, err
	}
	c.Milestones = milestones
	return c, nil
}

func newTransition(c *domain.Case, to domain.CaseStatus, actorID string, reason domain.TransitionReason, at time.Time) *domain.StatusTransition {
	return &domain.StatusTransition{
		ID:        uuid.NewString(),
		TenantID:  c.TenantID,
		CaseID:    c.ID,
		From:      c.Status,
		To:        to,
		ActorID:   actorID,
		Reason:    reason,
		CreatedAt: at,
	}
}
