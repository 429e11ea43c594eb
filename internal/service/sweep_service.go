package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/case-engine/internal/clock"
	"github.com/spec-kit/case-engine/internal/config"
	"github.com/spec-kit/case-engine/internal/domain"
	"github.com/spec-kit/case-engine/internal/observability"
	"github.com/spec-kit/case-engine/internal/repository"
	"github.com/spec-kit/case-engine/internal/sla"
	apperrors "github.com/spec-kit/case-engine/pkg/util/errorutil"
)

// SweepResult summarizes one sweep run.
type SweepResult struct {
	ReEvaluated    int `json:"re_evaluated"`
	NewlyEscalated int `json:"newly_escalated"`
	AutoClosed     int `json:"auto_closed"`
	Routed         int `json:"routed"`
	Skipped        int `json:"skipped"`
}

// SweepService re-evaluates open cases against the clock.
type SweepService struct {
	store   repository.Store
	cases   *CaseService
	router  *AssignmentService
	clock   clock.Clock
	cfg     config.EngineConfig
	logger  *zap.Logger
	metrics *observability.Metrics
}

// SweepDependencies bundles collaborators for the sweep.
type SweepDependencies struct {
	Store   repository.Store
	Cases   *CaseService
	Router  *AssignmentService
	Clock   clock.Clock
	Config  config.EngineConfig
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// NewSweepService constructs the sweep.
func NewSweepService(deps SweepDependencies) *SweepService {
	return &SweepService{
		store:   deps.Store,
		cases:   deps.Cases,
		router:  deps.Router,
		clock:   orRealClock(deps.Clock),
		cfg:     deps.Config,
		logger:  orNopLogger(deps.Logger),
		metrics: deps.Metrics,
	}
}

type sweepCounters struct {
	reEvaluated atomic.Int64
	escalated   atomic.Int64
	autoClosed  atomic.Int64
	skipped     atomic.Int64
}

// RunSLASweep refreshes breach flags, escalates breached cases, auto-closes idle resolved
// cases and drains routing queues. A nil tenantID sweeps every tenant. Each case is
// handled independently, so a cancelled sweep leaves a consistent partial result.
func (s *SweepService) RunSLASweep(ctx context.Context, tenantID *string) (*SweepResult, error) {
	now := s.clock.Now()
	var counters sweepCounters
	policies := newPolicyCache(s.store)

	active, err := s.store.Cases().List(ctx, repository.CaseFilter{
		TenantID: tenantID,
		Statuses: domain.ActiveCaseStatuses,
	})
	if err != nil {
		return nil, apperrors.NewStaleDependency("case store", err)
	}
	sweepErr := s.fanOut(ctx, len(active), func(ctx context.Context, i int) {
		s.evaluateCase(ctx, &active[i], now, policies, &counters)
	})

	if sweepErr == nil {
		sweepErr = s.autoClose(ctx, tenantID, now, &counters)
	}

	routed := 0
	if sweepErr == nil && s.router != nil {
		for _, tenant := range sweepTenants(tenantID, active) {
			if err := ctx.Err(); err != nil {
				sweepErr = err
				break
			}
			n, err := s.router.DrainQueue(ctx, tenant)
			routed += n
			if err != nil {
				s.logger.Warn("queue drain failed during sweep", zap.String("tenant_id", tenant), zap.Error(err))
			}
		}
	}

	result := &SweepResult{
		ReEvaluated:    int(counters.reEvaluated.Load()),
		NewlyEscalated: int(counters.escalated.Load()),
		AutoClosed:     int(counters.autoClosed.Load()),
		Routed:         routed,
		Skipped:        int(counters.skipped.Load()),
	}
	s.metrics.RecordSweep(result.ReEvaluated, result.NewlyEscalated, result.AutoClosed, result.Routed, result.Skipped, now)
	s.logger.Info("sla sweep finished",
		zap.Int("re_evaluated", result.ReEvaluated),
		zap.Int("newly_escalated", result.NewlyEscalated),
		zap.Int("auto_closed", result.AutoClosed),
		zap.Int("routed", result.Routed),
		zap.Int("skipped", result.Skipped),
		zap.Bool("interrupted", sweepErr != nil))
	return result, sweepErr
}

func (s *SweepService) evaluateCase(ctx context.Context, c *domain.Case, now time.Time, policies *policyCache, counters *sweepCounters) {
	milestones, err := s.store.Milestones().ListByCase(ctx, c.TenantID, c.ID)
	if err != nil {
		s.logger.Warn("sweep could not read milestones", zap.String("case_id", c.ID), zap.Error(err))
		return
	}
	c.Milestones = milestones
	counters.reEvaluated.Add(1)

	tc := domain.NewSystemContext(c.TenantID)
	s.cases.refreshBreach(ctx, tc, c, now)
	if !c.SLABreached || c.Status == domain.CaseStatusEscalated {
		return
	}

	policy, err := policies.get(ctx, c.TenantID, c.PolicyID)
	if err != nil {
		s.logger.Warn("sweep could not read policy", zap.String("case_id", c.ID), zap.String("policy_id", c.PolicyID), zap.Error(err))
		return
	}
	if !sla.ShouldEscalate(c, policy, now) {
		return
	}

	status := c.Status
	_, err = s.cases.transition(ctx, tc, c.ID, transitionRequest{
		To:             domain.CaseStatusEscalated,
		Reason:         domain.ReasonSLABreach,
		ExpectedStatus: &status,
		Precondition: func(current *domain.Case, at time.Time) bool {
			return sla.ShouldEscalate(current, policy, at)
		},
		Attempts: 1,
	})
	switch {
	case err == nil:
		counters.escalated.Add(1)
	case errors.Is(err, errSkipped) || apperrors.IsConflict(err):
		counters.skipped.Add(1)
	default:
		s.logger.Warn("sweep escalation failed", zap.String("case_id", c.ID), zap.Error(err))
	}
}

func (s *SweepService) autoClose(ctx context.Context, tenantID *string, now time.Time, counters *sweepCounters) error {
	if s.cfg.AutoCloseGrace <= 0 {
		return nil
	}
	cutoff := now.Add(-s.cfg.AutoCloseGrace)
	resolved, err := s.store.Cases().List(ctx, repository.CaseFilter{
		TenantID:           tenantID,
		Statuses:           []domain.CaseStatus{domain.CaseStatusResolved},
		LastActivityBefore: &cutoff,
	})
	if err != nil {
		s.logger.Warn("sweep could not list resolved cases", zap.Error(err))
		return nil
	}
	expected := domain.CaseStatusResolved
	return s.fanOut(ctx, len(resolved), func(ctx context.Context, i int) {
		c := &resolved[i]
		_, err := s.cases.transition(ctx, domain.NewSystemContext(c.TenantID), c.ID, transitionRequest{
			To:             domain.CaseStatusClosed,
			Reason:         domain.ReasonAutoClose,
			ExpectedStatus: &expected,
			Precondition: func(current *domain.Case, at time.Time) bool {
				return !current.LastActivityAt.Add(s.cfg.AutoCloseGrace).After(at)
			},
			Attempts: 1,
		})
		switch {
		case err == nil:
			counters.autoClosed.Add(1)
		case errors.Is(err, errSkipped) || apperrors.IsConflict(err):
			counters.skipped.Add(1)
		default:
			s.logger.Warn("auto close failed", zap.String("case_id", c.ID), zap.Error(err))
		}
	})
}

// fanOut runs fn for each index with bounded concurrency and stops scheduling new work
// once ctx is done.
func (s *SweepService) fanOut(ctx context.Context, n int, fn func(ctx context.Context, i int)) error {
	g, gctx := errgroup.WithContext(ctx)
	limit := s.cfg.SweepConcurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(gctx, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func sweepTenants(tenantID *string, active []domain.Case) []string {
	if tenantID != nil {
		return []string{*tenantID}
	}
	seen := map[string]struct{}{}
	var out []string
	for _, c := range active {
		if _, ok := seen[c.TenantID]; ok {
			continue
		}
		seen[c.TenantID] = struct{}{}
		out = append(out, c.TenantID)
	}
	sort.Strings(out)
	return out
}

// policyCache memoizes policy reads for the duration of one sweep.
type policyCache struct {
	store repository.Store
	mu    sync.Mutex
	byKey map[string]*domain.SLAPolicy
}

func newPolicyCache(store repository.Store) *policyCache {
	return &policyCache{store: store, byKey: map[string]*domain.SLAPolicy{}}
}

func (c *policyCache) get(ctx context.Context, tenantID, policyID string) (*domain.SLAPolicy, error) {
	key := tenantID + "/" + policyID
	c.mu.Lock()
	policy, ok := c.byKey[key]
	c.mu.Unlock()
	if ok {
		return policy, nil
	}
	policy, err := c.store.Policies().GetByID(ctx, tenantID, policyID)
	if err != nil {
		return nil, apperrors.NewStaleDependency("policy store", err)
	}
	c.mu.Lock()
	c.byKey[key] = policy
	c.mu.Unlock()
	return policy, nil
}
