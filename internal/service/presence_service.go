package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/case-engine/internal/clock"
	"github.com/spec-kit/case-engine/internal/config"
	"github.com/spec-kit/case-engine/internal/domain"
	"github.com/spec-kit/case-engine/internal/repository"
	apperrors "github.com/spec-kit/case-engine/pkg/util/errorutil"
)

// QueueDrainer routes waiting cases once capacity frees up.
type QueueDrainer interface {
	DrainQueue(ctx context.Context, tenantID string) (int, error)
}

// PresenceService maintains agent availability and load.
type PresenceService struct {
	store   repository.Store
	drainer QueueDrainer
	clock   clock.Clock
	cfg     config.EngineConfig
	logger  *zap.Logger
}

// PresenceDependencies bundles collaborators for the presence service.
type PresenceDependencies struct {
	Store   repository.Store
	Drainer QueueDrainer
	Clock   clock.Clock
	Config  config.EngineConfig
	Logger  *zap.Logger
}

// NewPresenceService constructs the service.
func NewPresenceService(deps PresenceDependencies) *PresenceService {
	return &PresenceService{
		store:   deps.Store,
		drainer: deps.Drainer,
		clock:   orRealClock(deps.Clock),
		cfg:     deps.Config,
		logger:  orNopLogger(deps.Logger),
	}
}

// Heartbeat upserts the agent's presence. Replays are harmless: the stored record only
// moves LastHeartbeat forward.
func (s *PresenceService) Heartbeat(ctx context.Context, tc domain.TenantContext, hb domain.Heartbeat) (*domain.PresenceSnapshot, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	if hb.TenantID == "" {
		hb.TenantID = tc.TenantID
	}
	if hb.TenantID != tc.TenantID {
		return nil, apperrors.NewForbidden("heartbeat for another tenant")
	}
	if tc.Role == domain.RoleAgent && tc.ActorID != hb.AgentID {
		return nil, apperrors.NewForbidden("agents may only report their own presence")
	}
	if err := hb.Validate(); err != nil {
		return nil, err
	}

	repo := s.store.Presence()
	now := s.clock.Now()
	staleness := s.cfg.StalenessThreshold

	saved, err := repository.CompareAndSwap(ctx, repository.CASOp[*domain.AgentPresence]{
		Load: func(ctx context.Context) (*domain.AgentPresence, error) {
			p, err := repo.Get(ctx, hb.AgentID)
			if apperrors.IsNotFound(err) {
				return &domain.AgentPresence{AgentID: hb.AgentID, TenantID: hb.TenantID}, nil
			}
			if err != nil {
				return nil, err
			}
			if p.TenantID != hb.TenantID {
				return nil, apperrors.NewForbidden("agent belongs to another tenant")
			}
			return p, nil
		},
		Mutate: func(current *domain.AgentPresence) (*domain.AgentPresence, error) {
			wasOnline := current.Version > 0 && current.EffectiveStatus(now, staleness) == domain.PresenceOnline
			next := current.Clone()
			next.Status = hb.Status
			next.Channels = append([]domain.Channel(nil), hb.Channels...)
			next.Tier = hb.Tier
			if next.Tier == 0 {
				next.Tier = 1
			}
			next.MaxCapacity = hb.MaxCapacity
			if next.MaxCapacity < next.CurrentLoad {
				s.logger.Warn("heartbeat capacity below current load, keeping load as capacity",
					zap.String("agent_id", hb.AgentID),
					zap.Int("requested_capacity", hb.MaxCapacity),
					zap.Int("current_load", next.CurrentLoad))
				next.MaxCapacity = next.CurrentLoad
			}
			if hb.Status == domain.PresenceOnline && !wasOnline {
				next.AvailableSince = now
			}
			next.LastHeartbeat = now
			return next, nil
		},
		Store: func(ctx context.Context, next *domain.AgentPresence, expected int64) error {
			return repo.SaveIfVersion(ctx, next, expected)
		},
	}, 0)
	if err != nil {
		return nil, err
	}

	snapshot := saved.Snapshot(now, staleness)
	if snapshot.EffectiveStatus == domain.PresenceOnline && saved.HasFreeSlot() && s.drainer != nil {
		routed, err := s.drainer.DrainQueue(ctx, saved.TenantID)
		if err != nil {
			s.logger.Warn("queue drain after heartbeat failed",
				zap.String("tenant_id", saved.TenantID),
				zap.String("agent_id", saved.AgentID),
				zap.Error(err))
		} else if routed > 0 {
			s.logger.Info("queue drained after heartbeat",
				zap.String("tenant_id", saved.TenantID),
				zap.Int("routed", routed))
		}
	}
	return &snapshot, nil
}

// List returns every agent of the tenant evaluated at the current time.
func (s *PresenceService) List(ctx context.Context, tc domain.TenantContext) ([]domain.PresenceSnapshot, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	agents, err := s.store.Presence().ListByTenant(ctx, tc.TenantID)
	if err != nil {
		return nil, apperrors.NewStaleDependency("presence store", err)
	}
	now := s.clock.Now()
	out := make([]domain.PresenceSnapshot, 0, len(agents))
	for i := range agents {
		out = append(out, agents[i].Snapshot(now, s.cfg.StalenessThreshold))
	}
	return out, nil
}

// Claim takes one slot of agentID's capacity outside any case transaction.
func (s *PresenceService) Claim(ctx context.Context, agentID string) (*domain.AgentPresence, error) {
	return claimSlot(ctx, s.store.Presence(), agentID, 0)
}

// Release returns one slot to agentID.
func (s *PresenceService) Release(ctx context.Context, agentID string) (*domain.AgentPresence, error) {
	return releaseSlot(ctx, s.store.Presence(), agentID, 0)
}

// claimSlot increments the agent's load if a slot is free. A full agent yields
// CAPACITY_EXCEEDED and nothing is written.
func claimSlot(ctx context.Context, repo repository.PresenceRepository, agentID string, attempts int) (*domain.AgentPresence, error) {
	return repository.CompareAndSwap(ctx, repository.CASOp[*domain.AgentPresence]{
		Load: func(ctx context.Context) (*domain.AgentPresence, error) {
			return repo.Get(ctx, agentID)
		},
		Mutate: func(current *domain.AgentPresence) (*domain.AgentPresence, error) {
			if err := current.CheckInvariant(); err != nil {
				return nil, err
			}
			if !current.HasFreeSlot() {
				return nil, apperrors.NewCapacityExceeded("agent at capacity", map[string]any{
					"agent_id":     current.AgentID,
					"current_load": current.CurrentLoad,
					"max_capacity": current.MaxCapacity,
				})
			}
			next := current.Clone()
			next.CurrentLoad++
			return next, nil
		},
		Store: func(ctx context.Context, next *domain.AgentPresence, expected int64) error {
			return repo.SaveIfVersion(ctx, next, expected)
		},
	}, attempts)
}

// releaseSlot decrements the agent's load. Releasing an idle agent is an invariant
// violation: some case released twice.
func releaseSlot(ctx context.Context, repo repository.PresenceRepository, agentID string, attempts int) (*domain.AgentPresence, error) {
	return repository.CompareAndSwap(ctx, repository.CASOp[*domain.AgentPresence]{
		Load: func(ctx context.Context) (*domain.AgentPresence, error) {
			return repo.Get(ctx, agentID)
		},
		Mutate: func(current *domain.AgentPresence) (*domain.AgentPresence, error) {
			if current.CurrentLoad <= 0 {
				return nil, apperrors.NewInvariantViolation("release on agent without load", map[string]any{
					"agent_id": current.AgentID,
				})
			}
			next := current.Clone()
			next.CurrentLoad--
			return next, next.CheckInvariant()
		},
		Store: func(ctx context.Context, next *domain.AgentPresence, expected int64) error {
			return repo.SaveIfVersion(ctx, next, expected)
		},
	}, attempts)
}

func orRealClock(c clock.Clock) clock.Clock {
	if c == nil {
		return clock.Real()
	}
	return c
}

func orNopLogger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
