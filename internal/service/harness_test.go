package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/spec-kit/case-engine/internal/clock"
	"github.com/spec-kit/case-engine/internal/config"
	"github.com/spec-kit/case-engine/internal/domain"
	"github.com/spec-kit/case-engine/internal/events"
	"github.com/spec-kit/case-engine/internal/observability"
	"github.com/spec-kit/case-engine/internal/repository/memory"
	"github.com/spec-kit/case-engine/internal/service"
	"github.com/spec-kit/case-engine/internal/sla"
)

const tenant = "t1"

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	store    *memory.Store
	clock    *clock.FakeClock
	cfg      config.EngineConfig
	metrics  *observability.Metrics
	router   *service.AssignmentService
	presence *service.PresenceService
	cases    *service.CaseService
	sweep    *service.SweepService

	mu       sync.Mutex
	recorded []events.Event
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		StalenessThreshold: 5 * time.Minute,
		ReopenWindow:       7 * 24 * time.Hour,
		AutoCloseGrace:     72 * time.Hour,
		SweepInterval:      time.Minute,
		SweepConcurrency:   4,
		TransitionRetries:  3,
		QueueDrainBatch:    50,
		IdempotencyTTL:     time.Hour,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   memory.New(),
		clock:   clock.Fake(t0),
		cfg:     testEngineConfig(),
		metrics: observability.NewMetrics(),
	}
	dispatcher := events.NewInMemoryDispatcher()
	events.SubscribeAll(dispatcher, func(_ context.Context, ev events.Event) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.recorded = append(h.recorded, ev)
		return nil
	})

	h.router = service.NewAssignmentService(service.AssignmentDependencies{
		Store:      h.store,
		Dispatcher: dispatcher,
		Clock:      h.clock,
		Config:     h.cfg,
		Metrics:    h.metrics,
	})
	h.presence = service.NewPresenceService(service.PresenceDependencies{
		Store:   h.store,
		Drainer: h.router,
		Clock:   h.clock,
		Config:  h.cfg,
	})
	h.cases = service.NewCaseService(service.CaseDependencies{
		Store:       h.store,
		Router:      h.router,
		Evaluator:   sla.NewEvaluator(nil),
		Idempotency: memory.NewIdempotencyStore(h.clock),
		Dispatcher:  dispatcher,
		Clock:       h.clock,
		Config:      h.cfg,
		Metrics:     h.metrics,
	})
	h.sweep = service.NewSweepService(service.SweepDependencies{
		Store:   h.store,
		Cases:   h.cases,
		Router:  h.router,
		Clock:   h.clock,
		Config:  h.cfg,
		Metrics: h.metrics,
	})
	return h
}

func supervisor() domain.TenantContext {
	return domain.TenantContext{TenantID: tenant, ActorID: "sup-1", Role: domain.RoleSupervisor}
}

func agentCtx(agentID string) domain.TenantContext {
	return domain.TenantContext{TenantID: tenant, ActorID: agentID, Role: domain.RoleAgent}
}

func targets(firstResponse, resolution time.Duration) map[domain.MilestoneKind]map[domain.CasePriority]time.Duration {
	out := map[domain.MilestoneKind]map[domain.CasePriority]time.Duration{
		domain.MilestoneFirstResponse: {},
		domain.MilestoneResolution:    {},
	}
	for _, p := range []domain.CasePriority{domain.CasePriorityLow, domain.CasePriorityMedium, domain.CasePriorityHigh, domain.CasePriorityCritical} {
		out[domain.MilestoneFirstResponse][p] = firstResponse
		out[domain.MilestoneResolution][p] = resolution
	}
	return out
}

func (h *harness) seedPolicy(t *testing.T, mutate func(p *domain.SLAPolicy)) *domain.SLAPolicy {
	t.Helper()
	p := &domain.SLAPolicy{
		ID:        "policy-default",
		TenantID:  tenant,
		Name:      "default",
		IsDefault: true,
		IsActive:  true,
		Targets:   targets(time.Hour, 8*time.Hour),
	}
	if mutate != nil {
		mutate(p)
	}
	gt.NoError(t, h.store.Policies().Upsert(context.Background(), p)).Required()
	return p
}

func (h *harness) online(t *testing.T, agentID string, capacity int, channels ...domain.Channel) *domain.PresenceSnapshot {
	t.Helper()
	return h.heartbeat(t, agentID, domain.PresenceOnline, capacity, 1, channels...)
}

func (h *harness) heartbeat(t *testing.T, agentID string, status domain.PresenceStatus, capacity, tier int, channels ...domain.Channel) *domain.PresenceSnapshot {
	t.Helper()
	if len(channels) == 0 {
		channels = []domain.Channel{domain.ChannelEmail, domain.ChannelWeb, domain.ChannelPhone}
	}
	snap, err := h.presence.Heartbeat(context.Background(), agentCtx(agentID), domain.Heartbeat{
		AgentID:     agentID,
		Status:      status,
		MaxCapacity: capacity,
		Channels:    channels,
		Tier:        tier,
	})
	gt.NoError(t, err).Required()
	return snap
}

func (h *harness) createCase(t *testing.T, priority domain.CasePriority) *domain.Case {
	t.Helper()
	c, err := h.cases.CreateCase(context.Background(), supervisor(), service.CreateCaseInput{
		Subject:  "Cannot log in",
		Priority: priority,
		Origin:   domain.CaseOriginEmail,
	})
	gt.NoError(t, err).Required()
	return c
}

func (h *harness) load(t *testing.T, agentID string) int {
	t.Helper()
	p, err := h.store.Presence().Get(context.Background(), agentID)
	gt.NoError(t, err).Required()
	return p.CurrentLoad
}

func (h *harness) transition(t *testing.T, caseID string, to domain.CaseStatus) *domain.Case {
	t.Helper()
	c, err := h.cases.Transition(context.Background(), supervisor(), caseID, service.TransitionInput{To: to})
	gt.NoError(t, err).Required()
	return c
}

func (h *harness) eventsOf(eventType events.EventType) []events.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []events.Event
	for _, ev := range h.recorded {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
