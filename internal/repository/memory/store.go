// Package memory is an in-process implementation of repository.Store used when no
// database is configured and by tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/case-engine/internal/domain"
	"github.com/spec-kit/case-engine/internal/repository"
	apperrors "github.com/spec-kit/case-engine/pkg/util/errorutil"
)

type state struct {
	counters    map[string]int64
	cases       map[string]*domain.Case
	milestones  map[string][]domain.MilestoneInstance
	presence    map[string]*domain.AgentPresence
	transitions []domain.StatusTransition
	comments    []domain.CaseComment
	policies    map[string]*domain.SLAPolicy
}

func newState() *state {
	return &state{
		counters:   map[string]int64{},
		cases:      map[string]*domain.Case{},
		milestones: map[string][]domain.MilestoneInstance{},
		presence:   map[string]*domain.AgentPresence{},
		policies:   map[string]*domain.SLAPolicy{},
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.counters {
		out.counters[k] = v
	}
	for k, v := range s.cases {
		out.cases[k] = v.Clone()
	}
	for k, v := range s.milestones {
		ms := make([]domain.MilestoneInstance, len(v))
		for i, m := range v {
			ms[i] = m.Clone()
		}
		out.milestones[k] = ms
	}
	for k, v := range s.presence {
		out.presence[k] = v.Clone()
	}
	out.transitions = append([]domain.StatusTransition(nil), s.transitions...)
	out.comments = append([]domain.CaseComment(nil), s.comments...)
	for k, v := range s.policies {
		out.policies[k] = clonePolicy(v)
	}
	return out
}

// Store is a mutex-guarded Store. Transactions run serially on a copy of the state that
// replaces the live state only when fn succeeds.
type Store struct {
	mu    sync.Mutex
	state *state
}

// New creates an empty store.
func New() *Store {
	return &Store{state: newState()}
}

// view binds repositories to either the live state or a transaction's copy.
type view struct {
	root *Store
	st   *state
	inTx bool
}

func (s *Store) live() *view { return &view{root: s} }

func (s *Store) Cases() repository.CaseRepository             { return &caseRepo{s.live()} }
func (s *Store) Milestones() repository.MilestoneRepository   { return &milestoneRepo{s.live()} }
func (s *Store) Presence() repository.PresenceRepository      { return &presenceRepo{s.live()} }
func (s *Store) Transitions() repository.TransitionRepository { return &transitionRepo{s.live()} }
func (s *Store) Comments() repository.CommentRepository       { return &commentRepo{s.live()} }
func (s *Store) Policies() repository.PolicyRepository        { return &policyRepo{s.live()} }

// WithinTx runs fn against a private copy and publishes it on success.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	working := s.state.clone()
	if err := fn(&txStore{view: &view{root: s, st: working, inTx: true}}); err != nil {
		return err
	}
	s.state = working
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

type txStore struct {
	view *view
}

func (t *txStore) Cases() repository.CaseRepository             { return &caseRepo{t.view} }
func (t *txStore) Milestones() repository.MilestoneRepository   { return &milestoneRepo{t.view} }
func (t *txStore) Presence() repository.PresenceRepository      { return &presenceRepo{t.view} }
func (t *txStore) Transitions() repository.TransitionRepository { return &transitionRepo{t.view} }
func (t *txStore) Comments() repository.CommentRepository       { return &commentRepo{t.view} }
func (t *txStore) Policies() repository.PolicyRepository        { return &policyRepo{t.view} }

func (t *txStore) WithinTx(_ context.Context, fn func(tx repository.Store) error) error {
	return fn(t)
}

func (t *txStore) Ping(context.Context) error { return nil }

// with runs fn on the bound state, taking the store lock outside transactions.
func (v *view) with(fn func(st *state) error) error {
	if v.inTx {
		return fn(v.st)
	}
	v.root.mu.Lock()
	defer v.root.mu.Unlock()
	return fn(v.root.state)
}

type caseRepo struct{ v *view }

func (r *caseRepo) NextNumber(_ context.Context, tenantID string) (int64, error) {
	var n int64
	err := r.v.with(func(st *state) error {
		st.counters[tenantID]++
		n = st.counters[tenantID]
		return nil
	})
	return n, err
}

func (r *caseRepo) Create(_ context.Context, c *domain.Case) error {
	return r.v.with(func(st *state) error {
		if _, exists := st.cases[c.ID]; exists {
			return apperrors.NewConflict("case already exists", map[string]any{"case_id": c.ID})
		}
		c.Version = 1
		stored := c.Clone()
		stored.Milestones = nil
		st.cases[c.ID] = stored
		return nil
	})
}

func (r *caseRepo) GetByID(_ context.Context, tenantID, id string) (*domain.Case, error) {
	var out *domain.Case
	err := r.v.with(func(st *state) error {
		c, ok := st.cases[id]
		if !ok || c.TenantID != tenantID {
			return apperrors.NewNotFound("case", map[string]any{"case_id": id})
		}
		out = c.Clone()
		return nil
	})
	return out, err
}

func (r *caseRepo) UpdateIfVersion(_ context.Context, c *domain.Case, expected int64) error {
	return r.v.with(func(st *state) error {
		current, ok := st.cases[c.ID]
		if !ok || current.TenantID != c.TenantID || current.Version != expected {
			return apperrors.NewConflict("case was modified concurrently", map[string]any{
				"case_id":          c.ID,
				"expected_version": expected,
			})
		}
		next := current.Clone()
		next.Status = c.Status
		next.AssigneeID = clone(c.AssigneeID)
		next.SLABreached = c.SLABreached
		next.FirstResponseAt = clone(c.FirstResponseAt)
		next.ResolvedAt = clone(c.ResolvedAt)
		next.ClosedAt = clone(c.ClosedAt)
		next.LastActivityAt = c.LastActivityAt
		next.UpdatedAt = c.UpdatedAt
		next.Version = expected + 1
		st.cases[c.ID] = next
		c.Version = next.Version
		return nil
	})
}

func (r *caseRepo) UpdateBreachFlag(_ context.Context, tenantID, id string, breached bool) error {
	return r.v.with(func(st *state) error {
		c, ok := st.cases[id]
		if !ok || c.TenantID != tenantID {
			return apperrors.NewNotFound("case", map[string]any{"case_id": id})
		}
		c.SLABreached = breached
		return nil
	})
}

func (r *caseRepo) List(_ context.Context, filter repository.CaseFilter) ([]domain.Case, error) {
	var out []domain.Case
	err := r.v.with(func(st *state) error {
		for _, c := range st.cases {
			if matches(c, filter) {
				out = append(out, *c.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Number < out[j].Number
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, err
}

func matches(c *domain.Case, f repository.CaseFilter) bool {
	if f.TenantID != nil && c.TenantID != *f.TenantID {
		return false
	}
	if f.ParentID != nil && (c.ParentID == nil || *c.ParentID != *f.ParentID) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if c.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Unassigned && c.AssigneeID != nil {
		return false
	}
	if f.LastActivityBefore != nil && !c.LastActivityAt.Before(*f.LastActivityBefore) {
		return false
	}
	return true
}

type milestoneRepo struct{ v *view }

func (r *milestoneRepo) CreateBatch(_ context.Context, milestones []domain.MilestoneInstance) error {
	return r.v.with(func(st *state) error {
		for _, m := range milestones {
			for _, existing := range st.milestones[m.CaseID] {
				if existing.Kind == m.Kind {
					return apperrors.NewConflict("milestone already exists", map[string]any{"case_id": m.CaseID, "kind": m.Kind})
				}
			}
			st.milestones[m.CaseID] = append(st.milestones[m.CaseID], m.Clone())
		}
		return nil
	})
}

func (r *milestoneRepo) ListByCase(_ context.Context, tenantID, caseID string) ([]domain.MilestoneInstance, error) {
	var out []domain.MilestoneInstance
	err := r.v.with(func(st *state) error {
		for _, m := range st.milestones[caseID] {
			if m.TenantID == tenantID {
				out = append(out, m.Clone())
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].TargetDate.Before(out[j].TargetDate) })
	return out, err
}

func (r *milestoneRepo) MarkAchieved(_ context.Context, tenantID, caseID string, kind domain.MilestoneKind, at time.Time) (bool, error) {
	wrote := false
	err := r.v.with(func(st *state) error {
		ms := st.milestones[caseID]
		for i := range ms {
			if ms[i].TenantID == tenantID && ms[i].Kind == kind && ms[i].AchievedAt == nil {
				achieved := at
				ms[i].AchievedAt = &achieved
				wrote = true
			}
		}
		return nil
	})
	return wrote, err
}

func (r *milestoneRepo) ClearAchieved(_ context.Context, tenantID, caseID string, kind domain.MilestoneKind) error {
	return r.v.with(func(st *state) error {
		ms := st.milestones[caseID]
		for i := range ms {
			if ms[i].TenantID == tenantID && ms[i].Kind == kind {
				ms[i].AchievedAt = nil
			}
		}
		return nil
	})
}

type presenceRepo struct{ v *view }

func (r *presenceRepo) Get(_ context.Context, agentID string) (*domain.AgentPresence, error) {
	var out *domain.AgentPresence
	err := r.v.with(func(st *state) error {
		p, ok := st.presence[agentID]
		if !ok {
			return apperrors.NewNotFound("agent presence", map[string]any{"agent_id": agentID})
		}
		out = p.Clone()
		return nil
	})
	return out, err
}

func (r *presenceRepo) SaveIfVersion(_ context.Context, p *domain.AgentPresence, expected int64) error {
	return r.v.with(func(st *state) error {
		current, exists := st.presence[p.AgentID]
		switch {
		case expected == 0 && exists:
			fallthrough
		case expected != 0 && (!exists || current.Version != expected):
			return apperrors.NewConflict("agent presence was modified concurrently", map[string]any{
				"agent_id":         p.AgentID,
				"expected_version": expected,
			})
		}
		if err := p.CheckInvariant(); err != nil {
			return err
		}
		p.Version = expected + 1
		st.presence[p.AgentID] = p.Clone()
		return nil
	})
}

func (r *presenceRepo) ListByTenant(_ context.Context, tenantID string) ([]domain.AgentPresence, error) {
	var out []domain.AgentPresence
	err := r.v.with(func(st *state) error {
		for _, p := range st.presence {
			if p.TenantID == tenantID {
				out = append(out, *p.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, err
}

type transitionRepo struct{ v *view }

func (r *transitionRepo) Create(_ context.Context, t *domain.StatusTransition) error {
	return r.v.with(func(st *state) error {
		st.transitions = append(st.transitions, *t)
		return nil
	})
}

func (r *transitionRepo) ListByCase(_ context.Context, tenantID, caseID string) ([]domain.StatusTransition, error) {
	var out []domain.StatusTransition
	err := r.v.with(func(st *state) error {
		for _, t := range st.transitions {
			if t.TenantID == tenantID && t.CaseID == caseID {
				out = append(out, t)
			}
		}
		return nil
	})
	return out, err
}

type commentRepo struct{ v *view }

func (r *commentRepo) Create(_ context.Context, c *domain.CaseComment) error {
	return r.v.with(func(st *state) error {
		st.comments = append(st.comments, *c)
		return nil
	})
}

func (r *commentRepo) ListByCase(_ context.Context, tenantID, caseID string) ([]domain.CaseComment, error) {
	var out []domain.CaseComment
	err := r.v.with(func(st *state) error {
		for _, c := range st.comments {
			if c.TenantID == tenantID && c.CaseID == caseID {
				out = append(out, c)
			}
		}
		return nil
	})
	return out, err
}

type policyRepo struct{ v *view }

func (r *policyRepo) GetForPriority(_ context.Context, tenantID string, priority domain.CasePriority) (*domain.SLAPolicy, error) {
	var out *domain.SLAPolicy
	err := r.v.with(func(st *state) error {
		var candidates []*domain.SLAPolicy
		for _, p := range st.policies {
			if p.TenantID == tenantID && p.IsActive && p.Covers(priority) {
				candidates = append(candidates, p)
			}
		}
		if len(candidates) == 0 {
			return apperrors.NewNotFound("sla policy", map[string]any{"tenant_id": tenantID, "priority": priority})
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].IsDefault != candidates[j].IsDefault {
				return candidates[i].IsDefault
			}
			return candidates[i].Name < candidates[j].Name
		})
		out = clonePolicy(candidates[0])
		return nil
	})
	return out, err
}

func (r *policyRepo) GetByID(_ context.Context, tenantID, id string) (*domain.SLAPolicy, error) {
	var out *domain.SLAPolicy
	err := r.v.with(func(st *state) error {
		p, ok := st.policies[id]
		if !ok || p.TenantID != tenantID {
			return apperrors.NewNotFound("sla policy", map[string]any{"policy_id": id})
		}
		out = clonePolicy(p)
		return nil
	})
	return out, err
}

func (r *policyRepo) Upsert(_ context.Context, p *domain.SLAPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return r.v.with(func(st *state) error {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		now := time.Now().UTC()
		if existing, ok := st.policies[p.ID]; ok {
			p.CreatedAt = existing.CreatedAt
		} else if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		if p.IsDefault {
			for _, other := range st.policies {
				if other.TenantID == p.TenantID && other.ID != p.ID {
					other.IsDefault = false
				}
			}
		}
		st.policies[p.ID] = clonePolicy(p)
		return nil
	})
}

func (r *policyRepo) ListByTenant(_ context.Context, tenantID string) ([]domain.SLAPolicy, error) {
	var out []domain.SLAPolicy
	err := r.v.with(func(st *state) error {
		for _, p := range st.policies {
			if p.TenantID == tenantID {
				out = append(out, *clonePolicy(p))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

func clonePolicy(p *domain.SLAPolicy) *domain.SLAPolicy {
	out := *p
	out.Targets = make(map[domain.MilestoneKind]map[domain.CasePriority]time.Duration, len(p.Targets))
	for kind, byPriority := range p.Targets {
		inner := make(map[domain.CasePriority]time.Duration, len(byPriority))
		for priority, d := range byPriority {
			inner[priority] = d
		}
		out.Targets[kind] = inner
	}
	out.CalendarID = clone(p.CalendarID)
	out.EscalationTriggers = append([]domain.MilestoneKind(nil), p.EscalationTriggers...)
	return &out
}

func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
