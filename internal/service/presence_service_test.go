package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/spec-kit/case-engine/internal/domain"
	"github.com/spec-kit/case-engine/internal/events"
	apperrors "github.com/spec-kit/case-engine/pkg/util/errorutil"
)

func TestHeartbeatUpsert(t *testing.T) {
	h := newHarness(t)

	first := h.online(t, "a1", 3)
	gt.Value(t, first.Version).Equal(int64(1))
	gt.Value(t, first.Tier).Equal(1)
	gt.Value(t, first.AvailableSince).Equal(t0)
	gt.Value(t, first.EffectiveStatus).Equal(domain.PresenceOnline)

	t.Run("replayed heartbeat keeps availability anchor", func(t *testing.T) {
		h.clock.Advance(time.Minute)
		again := h.online(t, "a1", 3)
		gt.Value(t, again.AvailableSince).Equal(t0)
		gt.Value(t, again.LastHeartbeat).Equal(t0.Add(time.Minute))
	})

	t.Run("offline keeps the load", func(t *testing.T) {
		_, err := h.presence.Claim(context.Background(), "a1")
		gt.NoError(t, err).Required()
		off := h.heartbeat(t, "a1", domain.PresenceOffline, 3, 1)
		gt.Value(t, off.CurrentLoad).Equal(1)
		gt.Value(t, off.EffectiveStatus).Equal(domain.PresenceOffline)
	})

	t.Run("coming back online moves the anchor", func(t *testing.T) {
		h.clock.Advance(2 * time.Minute)
		back := h.online(t, "a1", 3)
		gt.Value(t, back.AvailableSince).Equal(h.clock.Now())
	})
}

func TestHeartbeatAfterStalenessResetsAvailability(t *testing.T) {
	h := newHarness(t)
	h.online(t, "a1", 2)
	h.clock.Advance(10 * time.Minute)
	snap := h.online(t, "a1", 2)
	gt.Value(t, snap.AvailableSince).Equal(t0.Add(10 * time.Minute))
}

func TestHeartbeatCapacityBelowLoadIsClamped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.online(t, "a1", 2)
	for i := 0; i < 2; i++ {
		_, err := h.presence.Claim(ctx, "a1")
		gt.NoError(t, err).Required()
	}

	snap := h.online(t, "a1", 1)
	gt.Value(t, snap.MaxCapacity).Equal(2)
	gt.Value(t, snap.CurrentLoad).Equal(2)

	_, err := h.presence.Release(ctx, "a1")
	gt.NoError(t, err).Required()
	snap = h.online(t, "a1", 1)
	gt.Value(t, snap.MaxCapacity).Equal(1)
}

func TestHeartbeatRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("agent cannot report for someone else", func(t *testing.T) {
		_, err := h.presence.Heartbeat(ctx, agentCtx("a2"), domain.Heartbeat{AgentID: "a1", Status: domain.PresenceOnline, MaxCapacity: 1})
		gt.Bool(t, apperrors.IsCode(err, apperrors.CodeForbidden)).True()
	})

	t.Run("tenant must match the caller", func(t *testing.T) {
		_, err := h.presence.Heartbeat(ctx, agentCtx("a1"), domain.Heartbeat{AgentID: "a1", TenantID: "t2", Status: domain.PresenceOnline, MaxCapacity: 1})
		gt.Bool(t, apperrors.IsCode(err, apperrors.CodeForbidden)).True()
	})

	t.Run("capacity must be positive", func(t *testing.T) {
		_, err := h.presence.Heartbeat(ctx, agentCtx("a1"), domain.Heartbeat{AgentID: "a1", Status: domain.PresenceOnline})
		gt.Bool(t, apperrors.IsCode(err, apperrors.CodeValidation)).True()
	})

	t.Run("agent ids are not shared across tenants", func(t *testing.T) {
		h.online(t, "a1", 1)
		other := domain.TenantContext{TenantID: "t2", ActorID: "a1", Role: domain.RoleAgent}
		_, err := h.presence.Heartbeat(ctx, other, domain.Heartbeat{AgentID: "a1", Status: domain.PresenceOnline, MaxCapacity: 1})
		gt.Bool(t, apperrors.IsCode(err, apperrors.CodeForbidden)).True()
	})
}

func TestStaleAgentIsNotRouted(t *testing.T) {
	h := newHarness(t)
	h.seedPolicy(t, nil)
	h.online(t, "a1", 3)

	h.clock.Advance(6 * time.Minute)

	agents, err := h.presence.List(context.Background(), supervisor())
	gt.NoError(t, err).Required()
	gt.Array(t, agents).Length(1)
	gt.Value(t, agents[0].Status).Equal(domain.PresenceOnline)
	gt.Value(t, agents[0].EffectiveStatus).Equal(domain.PresenceOffline)
	gt.Bool(t, agents[0].Stale).True()

	c := h.createCase(t, domain.CasePriorityMedium)
	gt.Value(t, c.AssigneeID).Nil()
	gt.Value(t, c.Status).Equal(domain.CaseStatusNew)
	gt.Array(t, h.eventsOf(events.EventCaseQueued)).Length(1)
	gt.Value(t, h.load(t, "a1")).Equal(0)
}

func TestConcurrentClaimsFillExactlyTheFreeSlots(t *testing.T) {
	h := newHarness(t)
	h.online(t, "a1", 3)

	const workers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, full int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.presence.Claim(context.Background(), "a1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case apperrors.IsCapacityExceeded(err):
				full++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	gt.Value(t, ok).Equal(3)
	gt.Value(t, full).Equal(workers - 3)
	gt.Value(t, h.load(t, "a1")).Equal(3)
}

func TestReleaseWithoutLoadIsAnInvariantViolation(t *testing.T) {
	h := newHarness(t)
	h.online(t, "a1", 1)
	_, err := h.presence.Release(context.Background(), "a1")
	gt.Bool(t, apperrors.IsCode(err, apperrors.CodeInvariantViolation)).True()
	gt.Value(t, h.load(t, "a1")).Equal(0)
}

func TestHeartbeatDrainsQueue(t *testing.T) {
	h := newHarness(t)
	h.seedPolicy(t, nil)
	c := h.createCase(t, domain.CasePriorityHigh)
	gt.Value(t, c.AssigneeID).Nil()

	h.clock.Advance(time.Minute)
	h.online(t, "a1", 2)

	got, err := h.cases.GetCase(context.Background(), supervisor(), c.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.AssigneeID).NotNil()
	gt.Value(t, *got.AssigneeID).Equal("a1")
	gt.Value(t, got.Status).Equal(domain.CaseStatusOpen)
	gt.Value(t, h.load(t, "a1")).Equal(1)

	transitions, err := h.cases.ListTransitions(context.Background(), supervisor(), c.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, transitions).Length(1)
	gt.Value(t, transitions[0].Reason).Equal(domain.ReasonRouted)
}
