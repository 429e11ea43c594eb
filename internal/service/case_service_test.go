package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/spec-kit/case-engine/internal/domain"
	"github.com/spec-kit/case-engine/internal/events"
	"github.com/spec-kit/case-engine/internal/repository"
	"github.com/spec-kit/case-engine/internal/repository/memory"
	"github.com/spec-kit/case-engine/internal/service"
	apperrors "github.com/spec-kit/case-engine/pkg/util/errorutil"
)

func TestCreateCaseComputesMilestones(t *testing.T) {
	h := newHarness(t)
	policy := h.seedPolicy(t, nil)

	c := h.createCase(t, domain.CasePriorityCritical)
	gt.Value(t, c.Number).Equal(int64(1))
	gt.Value(t, c.PolicyID).Equal(policy.ID)
	gt.Value(t, c.Status).Equal(domain.CaseStatusNew)
	gt.Array(t, c.Milestones).Length(2)
	gt.Value(t, c.Milestone(domain.MilestoneFirstResponse).TargetDate).Equal(t0.Add(time.Hour))
	gt.Value(t, c.Milestone(domain.MilestoneResolution).TargetDate).Equal(t0.Add(8 * time.Hour))

	second := h.createCase(t, domain.CasePriorityLow)
	gt.Value(t, second.Number).Equal(int64(2))
	gt.Array(t, h.eventsOf(events.EventCaseCreated)).Length(2)
}

func TestPolicyEditsDoNotMoveExistingDeadlines(t *testing.T) {
	h := newHarness(t)
	policy := h.seedPolicy(t, nil)
	c := h.createCase(t, domain.CasePriorityHigh)

	policy.Targets = targets(10*time.Minute, time.Hour)
	gt.NoError(t, h.store.Policies().Upsert(context.Background(), policy)).Required()

	got, err := h.cases.GetCase(context.Background(), supervisor(), c.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Milestone(domain.MilestoneFirstResponse).TargetDate).Equal(t0.Add(time.Hour))
}

func TestCreateCaseValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("no policy for the tenant", func(t *testing.T) {
		_, err := h.cases.CreateCase(ctx, supervisor(), service.CreateCaseInput{
			Subject: "x", Priority: domain.CasePriorityLow, Origin: domain.CaseOriginWeb,
		})
		gt.Bool(t, apperrors.IsCode(err, apperrors.CodeValidation)).True()
	})

	h.seedPolicy(t, nil)

	t.Run("unknown priority", func(t *testing.T) {
		_, err := h.cases.CreateCase(ctx, supervisor(), service.CreateCaseInput{
			Subject: "x", Priority: "URGENT", Origin: domain.CaseOriginWeb,
		})
		gt.Bool(t, apperrors.IsCode(err, apperrors.CodeValidation)).True()
	})

	t.Run("inactive explicit policy", func(t *testing.T) {
		h.seedPolicy(t, func(p *domain.SLAPolicy) {
			p.ID = "retired"
			p.Name = "retired"
			p.IsDefault = false
			p.IsActive = false
		})
		policyID := "retired"
		_, err := h.cases.CreateCase(ctx, supervisor(), service.CreateCaseInput{
			Subject: "x", Priority: domain.CasePriorityLow, Origin: domain.CaseOriginWeb, PolicyID: &policyID,
		})
		gt.Bool(t, apperrors.IsCode(err, apperrors.CodeValidation)).True()
	})

	t.Run("missing parent", func(t *testing.T) {
		parentID := "does-not-exist"
		_, err := h.cases.CreateCase(ctx, supervisor(), service.CreateCaseInput{
			Subject: "x", Priority: domain.CasePriorityLow, Origin: domain.CaseOriginWeb, ParentID: &parentID,
		})
		gt.Bool(t, apperrors.IsCode(err, apperrors.CodeValidation)).True()
	})

	t.Run("hierarchy is one level deep", func(t *testing.T) {
		parent := h.createCase(t, domain.CasePriorityLow)
		child, err := h.cases.CreateCase(ctx, supervisor(), service.CreateCaseInput{
			Subject: "child", Priority: domain.CasePriorityLow, Origin: domain.CaseOriginWeb, ParentID: &parent.ID,
		})
		gt.NoError(t, err).Required()
		_, err = h.cases.CreateCase(ctx, supervisor(), service.CreateCaseInput{
			Subject: "grandchild", Priority: domain.CasePriorityLow, Origin: domain.CaseOriginWeb, ParentID: &child.ID,
		})
		gt.Bool(t, apperrors.IsCode(err, apperrors.CodeValidation)).True()
	})

	t.Run("missing tenant", func(t *testing.T) {
		_, err := h.cases.CreateCase(ctx, domain.TenantContext{}, service.CreateCaseInput{
			Subject: "x", Priority: domain.CasePriorityLow, Origin: domain.CaseOriginWeb,
		})
		gt.Bool(t, apperrors.IsCode(err, apperrors.CodeValidation)).True()
	})
}

type unreachablePolicies struct {
	repository.PolicyRepository
}

func (unreachablePolicies) GetForPriority(context.Context, string, domain.CasePriority) (*domain.SLAPolicy, error) {
	return nil, errors.New("dial tcp: connection refused")
}

type policyOutageStore struct {
	*memory.Store
}

func (s policyOutageStore) Policies() repository.PolicyRepository {
	return unreachablePolicies{s.Store.Policies()}
}

func TestCreateCaseFailsWhenPolicyStoreIsDown(t *testing.T) {
	h := newHarness(t)
	h.seedPolicy(t, nil)
	cases := service.NewCaseService(service.CaseDependencies{
		Store:  policyOutageStore{h.store},
		Clock:  h.clock,
		Config: h.cfg,
	})

	_, err := cases.CreateCase(context.Background(), supervisor(), service.CreateCaseInput{
		Subject: "x", Priority: domain.CasePriorityLow, Origin: domain.CaseOriginWeb,
	})
	gt.Bool(t, apperrors.IsCode(err, apperrors.CodeStaleDependency)).True()

	list, err := h.store.Cases().List(context.Background(), repository.CaseFilter{})
	gt.NoError(t, err).Required()
	gt.Array(t, list).Length(0)
}

func TestFirstResponseIsSetOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedPolicy(t, nil)
	c := h.createCase(t, domain.CasePriorityMedium)

	h.clock.Advance(10 * time.Minute)
	firstAt := h.clock.Now()
	got, err := h.cases.RecordAgentComment(ctx, agentCtx("a1"), c.ID, service.CommentInput{Body: "Looking into it", IsPublic: true})
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(domain.CaseStatusOpen)
	gt.Value(t, *got.FirstResponseAt).Equal(firstAt)
	gt.Value(t, *got.Milestone(domain.MilestoneFirstResponse).AchievedAt).Equal(firstAt)

	h.clock.Advance(10 * time.Minute)
	got, err = h.cases.RecordAgentComment(ctx, agentCtx("a1"), c.ID, service.CommentInput{Body: "Still on it", IsPublic: true})
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(domain.CaseStatusInProgress)
	gt.Value(t, *got.FirstResponseAt).Equal(firstAt)
	gt.Value(t, *got.Milestone(domain.MilestoneFirstResponse).AchievedAt).Equal(firstAt)

	transitions, err := h.cases.ListTransitions(ctx, supervisor(), c.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, transitions).Length(2)
	gt.Value(t, transitions[0].Reason).Equal(domain.ReasonAgentComment)
}

func TestPrivateCommentHasNoLifecycleEffect(t *testing.T) {
	h := newHarness(t)
	h.seedPolicy(t, nil)
	c := h.createCase(t, domain.CasePriorityMedium)

	h.clock.Advance(time.Minute)
	got, err := h.cases.RecordAgentComment(context.Background(), agentCtx("a1"), c.ID, service.CommentInput{Body: "internal note"})
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(domain.CaseStatusNew)
	gt.Value(t, got.FirstResponseAt).Nil()
	gt.Value(t, got.LastActivityAt).Equal(t0.Add(time.Minute))
}

func TestCommentReplayIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedPolicy(t, nil)
	c := h.createCase(t, domain.CasePriorityMedium)

	input := service.CommentInput{Body: "hello", IsPublic: true, IdempotencyKey: "msg-1"}
	first, err := h.cases.RecordAgentComment(ctx, agentCtx("a1"), c.ID, input)
	gt.NoError(t, err).Required()

	h.clock.Advance(time.Minute)
	replay, err := h.cases.RecordAgentComment(ctx, agentCtx("a1"), c.ID, input)
	gt.NoError(t, err).Required()
	gt.Value(t, replay.Version).Equal(first.Version)
	gt.Value(t, replay.Status).Equal(domain.CaseStatusOpen)

	comments, err := h.store.Comments().ListByCase(ctx, tenant, c.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, comments).Length(1)
	gt.Array(t, h.eventsOf(events.EventCommentRecorded)).Length(1)
}

func TestEmptyCommentIsRejected(t *testing.T) {
	h := newHarness(t)
	h.seedPolicy(t, nil)
	c := h.createCase(t, domain.CasePriorityMedium)
	_, err := h.cases.RecordAgentComment(context.Background(), agentCtx("a1"), c.ID, service.CommentInput{Body: "  ", IsPublic: true})
	gt.Bool(t, apperrors.IsCode(err, apperrors.CodeValidation)).True()
}

func TestConcurrentTransitionsOneWins(t *testing.T) {
	h := newHarness(t)
	h.seedPolicy(t, nil)
	h.online(t, "a1", 5)
	c := h.createCase(t, domain.CasePriorityMedium)
	gt.Value(t, c.Status).Equal(domain.CaseStatusOpen)
	observed := c.Version

	targets := []domain.CaseStatus{domain.CaseStatusInProgress, domain.CaseStatusEscalated}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, to := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.cases.Transition(context.Background(), supervisor(), c.ID, service.TransitionInput{
				To:              to,
				ExpectedVersion: &observed,
			})
		}()
	}
	wg.Wait()

	winner := -1
	conflicts := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winner = i
		case apperrors.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	gt.Value(t, conflicts).Equal(1)
	gt.Bool(t, winner >= 0).True()

	got, err := h.cases.GetCase(context.Background(), supervisor(), c.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(targets[winner])
	gt.Value(t, got.Version).Equal(observed + 1)
}

func TestDisallowedTransition(t *testing.T) {
	h := newHarness(t)
	h.seedPolicy(t, nil)
	c := h.createCase(t, domain.CasePriorityMedium)

	_, err := h.cases.Transition(context.Background(), supervisor(), c.ID, service.TransitionInput{To: domain.CaseStatusResolved})
	gt.Bool(t, apperrors.IsCode(err, apperrors.CodeValidation)).True()

	_, err = h.cases.Transition(context.Background(), supervisor(), c.ID, service.TransitionInput{To: "DONE"})
	gt.Bool(t, apperrors.IsCode(err, apperrors.CodeValidation)).True()

	gt.Bool(t, service.CanTransition(domain.CaseStatusClosed, domain.CaseStatusResolved)).False()
	gt.Bool(t, service.CanTransition(domain.CaseStatusResolved, domain.CaseStatusOpen)).True()
}

func resolveCase(t *testing.T, h *harness, caseID string) *domain.Case {
	t.Helper()
	h.transition(t, caseID, domain.CaseStatusInProgress)
	return h.transition(t, caseID, domain.CaseStatusResolved)
}

func TestResolveReleasesAgentLoad(t *testing.T) {
	h := newHarness(t)
	h.seedPolicy(t, nil)
	h.online(t, "a1", 2)
	c := h.createCase(t, domain.CasePriorityMedium)
	gt.Value(t, h.load(t, "a1")).Equal(1)

	h.clock.Advance(time.Hour)
	resolved := resolveCase(t, h, c.ID)
	gt.Value(t, resolved.Status).Equal(domain.CaseStatusResolved)
	gt.Value(t, *resolved.ResolvedAt).Equal(t0.Add(time.Hour))
	gt.Value(t, *resolved.Milestone(domain.MilestoneResolution).AchievedAt).Equal(t0.Add(time.Hour))
	gt.Value(t, *resolved.AssigneeID).Equal("a1")
	gt.Value(t, h.load(t, "a1")).Equal(0)

	closed := h.transition(t, c.ID, domain.CaseStatusClosed)
	gt.Value(t, closed.ClosedAt).NotNil()
	gt.Value(t, h.load(t, "a1")).Equal(0)
}

func TestResolveWaitsForChildren(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedPolicy(t, func(p *domain.SLAPolicy) { p.RequireChildClosure = true })
	parent := h.createCase(t, domain.CasePriorityMedium)
	child, err := h.cases.CreateCase(ctx, supervisor(), service.CreateCaseInput{
		Subject: "sub task", Priority: domain.CasePriorityMedium, Origin: domain.CaseOriginEmail, ParentID: &parent.ID,
	})
	gt.NoError(t, err).Required()

	h.transition(t, parent.ID, domain.CaseStatusOpen)
	h.transition(t, parent.ID, domain.CaseStatusInProgress)
	_, err = h.cases.Transition(ctx, supervisor(), parent.ID, service.TransitionInput{To: domain.CaseStatusResolved})
	gt.Bool(t, apperrors.IsCode(err, apperrors.CodeValidation)).True()
	gt.Map(t, apperrors.ToDomainError(err).Details).HasKey("open_children")

	h.transition(t, child.ID, domain.CaseStatusOpen)
	resolveCase(t, h, child.ID)

	resolved := h.transition(t, parent.ID, domain.CaseStatusResolved)
	gt.Value(t, resolved.Status).Equal(domain.CaseStatusResolved)
}

func TestReopenReclaimsOriginalAgent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedPolicy(t, nil)
	h.online(t, "a1", 2)
	c := h.createCase(t, domain.CasePriorityMedium)
	resolveCase(t, h, c.ID)
	gt.Value(t, h.load(t, "a1")).Equal(0)

	h.clock.Advance(time.Hour)
	h.online(t, "a1", 2)
	reopened := h.transition(t, c.ID, domain.CaseStatusOpen)
	gt.Value(t, reopened.Status).Equal(domain.CaseStatusOpen)
	gt.Value(t, reopened.ResolvedAt).Nil()
	gt.Value(t, reopened.ClosedAt).Nil()
	gt.Value(t, reopened.Milestone(domain.MilestoneResolution).AchievedAt).Nil()
	gt.Value(t, *reopened.AssigneeID).Equal("a1")
	gt.Value(t, h.load(t, "a1")).Equal(1)

	transitions, err := h.cases.ListTransitions(ctx, supervisor(), c.ID)
	gt.NoError(t, err).Required()
	last := transitions[len(transitions)-1]
	gt.Value(t, last.Reason).Equal(domain.ReasonReopened)
	gt.Value(t, last.From).Equal(domain.CaseStatusResolved)
	gt.Value(t, last.To).Equal(domain.CaseStatusOpen)
}

func TestReopenRoutesWhenOriginalAgentIsGone(t *testing.T) {
	h := newHarness(t)
	h.seedPolicy(t, nil)
	h.online(t, "a1", 2)
	c := h.createCase(t, domain.CasePriorityMedium)
	resolveCase(t, h, c.ID)
	h.transition(t, c.ID, domain.CaseStatusClosed)

	h.clock.Advance(10 * time.Minute)
	h.online(t, "b1", 2)

	reopened := h.transition(t, c.ID, domain.CaseStatusOpen)
	gt.Value(t, reopened.ClosedAt).Nil()
	gt.Value(t, *reopened.AssigneeID).Equal("b1")
	gt.Value(t, h.load(t, "b1")).Equal(1)
	gt.Value(t, h.load(t, "a1")).Equal(0)
}

func TestReopenWithNobodyAvailableQueues(t *testing.T) {
	h := newHarness(t)
	h.seedPolicy(t, nil)
	h.online(t, "a1", 1)
	c := h.createCase(t, domain.CasePriorityMedium)
	resolveCase(t, h, c.ID)

	h.clock.Advance(time.Hour)
	reopened := h.transition(t, c.ID, domain.CaseStatusOpen)
	gt.Value(t, reopened.AssigneeID).Nil()
	gt.Bool(t, reopened.IsQueued()).True()
}

func TestReopenWindowElapsed(t *testing.T) {
	h := newHarness(t)
	h.seedPolicy(t, nil)
	c := h.createCase(t, domain.CasePriorityMedium)
	h.transition(t, c.ID, domain.CaseStatusOpen)
	resolveCase(t, h, c.ID)

	h.clock.Advance(h.cfg.ReopenWindow + time.Minute)
	_, err := h.cases.Transition(context.Background(), supervisor(), c.ID, service.TransitionInput{To: domain.CaseStatusOpen})
	gt.Bool(t, apperrors.IsCode(err, apperrors.CodeValidation)).True()
}

func TestManualEscalationMovesToEscalationTier(t *testing.T) {
	h := newHarness(t)
	h.seedPolicy(t, func(p *domain.SLAPolicy) { p.EscalationTier = 2 })
	h.online(t, "junior", 3)
	c := h.createCase(t, domain.CasePriorityMedium)
	gt.Value(t, *c.AssigneeID).Equal("junior")

	h.heartbeat(t, "senior", domain.PresenceOnline, 3, 2)
	escalated := h.transition(t, c.ID, domain.CaseStatusEscalated)
	gt.Value(t, *escalated.AssigneeID).Equal("senior")
	gt.Value(t, h.load(t, "junior")).Equal(0)
	gt.Value(t, h.load(t, "senior")).Equal(1)

	assigned := h.eventsOf(events.EventCaseAssigned)
	payload := assigned[len(assigned)-1].Payload.(events.CaseAssignedPayload)
	gt.Value(t, payload.AssigneeID).Equal("senior")
	gt.Value(t, *payload.PreviousAssigneeID).Equal("junior")
}

func TestGetCaseRefreshesBreach(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedPolicy(t, nil)
	c := h.createCase(t, domain.CasePriorityMedium)
	gt.Bool(t, c.SLABreached).False()

	h.clock.Advance(61 * time.Minute)
	got, err := h.cases.GetCase(ctx, supervisor(), c.ID)
	gt.NoError(t, err).Required()
	gt.Bool(t, got.SLABreached).True()

	_, err = h.cases.GetCase(ctx, supervisor(), c.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, h.eventsOf(events.EventSLABreached)).Length(1)

	stored, err := h.store.Cases().GetByID(ctx, tenant, c.ID)
	gt.NoError(t, err).Required()
	gt.Bool(t, stored.SLABreached).True()
}

func TestGetCaseIsTenantScoped(t *testing.T) {
	h := newHarness(t)
	h.seedPolicy(t, nil)
	c := h.createCase(t, domain.CasePriorityMedium)

	other := domain.TenantContext{TenantID: "t2", ActorID: "sup-2", Role: domain.RoleSupervisor}
	_, err := h.cases.GetCase(context.Background(), other, c.ID)
	gt.Bool(t, apperrors.IsNotFound(err)).True()
}
