package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/spec-kit/case-engine/internal/domain"
	"github.com/spec-kit/case-engine/internal/repository"
	"github.com/spec-kit/case-engine/internal/repository/memory"
	apperrors "github.com/spec-kit/case-engine/pkg/util/errorutil"
)

func newCase(id, tenant string, created time.Time) *domain.Case {
	return &domain.Case{
		ID:             id,
		TenantID:       tenant,
		Subject:        "subject " + id,
		Priority:       domain.CasePriorityMedium,
		Status:         domain.CaseStatusNew,
		Origin:         domain.CaseOriginWeb,
		CreatedAt:      created,
		UpdatedAt:      created,
		LastActivityAt: created,
	}
}

func TestCaseVersioning(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	c := newCase("c1", "t1", time.Now())
	gt.NoError(t, store.Cases().Create(ctx, c)).Required()
	gt.Value(t, c.Version).Equal(int64(1))

	loaded, err := store.Cases().GetByID(ctx, "t1", "c1")
	gt.NoError(t, err).Required()
	loaded.Status = domain.CaseStatusOpen
	gt.NoError(t, store.Cases().UpdateIfVersion(ctx, loaded, 1)).Required()
	gt.Value(t, loaded.Version).Equal(int64(2))

	stale := c.Clone()
	stale.Status = domain.CaseStatusEscalated
	err = store.Cases().UpdateIfVersion(ctx, stale, 1)
	gt.Bool(t, apperrors.IsConflict(err)).True()

	_, err = store.Cases().GetByID(ctx, "t2", "c1")
	gt.Bool(t, apperrors.IsNotFound(err)).True()
}

func TestNextNumberIsPerTenant(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	for i := int64(1); i <= 3; i++ {
		n, err := store.Cases().NextNumber(ctx, "t1")
		gt.NoError(t, err).Required()
		gt.Value(t, n).Equal(i)
	}
	n, err := store.Cases().NextNumber(ctx, "t2")
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(int64(1))
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(tx repository.Store) error {
		gt.NoError(t, tx.Cases().Create(ctx, newCase("c1", "t1", time.Now())))
		return boom
	})
	gt.Error(t, err).Is(boom)

	_, err = store.Cases().GetByID(ctx, "t1", "c1")
	gt.Bool(t, apperrors.IsNotFound(err)).True()

	err = store.WithinTx(ctx, func(tx repository.Store) error {
		return tx.Cases().Create(ctx, newCase("c2", "t1", time.Now()))
	})
	gt.NoError(t, err).Required()
	_, err = store.Cases().GetByID(ctx, "t1", "c2")
	gt.NoError(t, err)
}

func TestMarkAchievedWritesOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	t0 := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	gt.NoError(t, store.Milestones().CreateBatch(ctx, []domain.MilestoneInstance{
		{ID: "m1", TenantID: "t1", CaseID: "c1", Kind: domain.MilestoneFirstResponse, TargetDate: t0.Add(time.Hour)},
	})).Required()

	wrote, err := store.Milestones().MarkAchieved(ctx, "t1", "c1", domain.MilestoneFirstResponse, t0.Add(time.Minute))
	gt.NoError(t, err).Required()
	gt.Bool(t, wrote).True()

	wrote, err = store.Milestones().MarkAchieved(ctx, "t1", "c1", domain.MilestoneFirstResponse, t0.Add(2*time.Minute))
	gt.NoError(t, err).Required()
	gt.Bool(t, wrote).False()

	ms, err := store.Milestones().ListByCase(ctx, "t1", "c1")
	gt.NoError(t, err).Required()
	gt.Value(t, *ms[0].AchievedAt).Equal(t0.Add(time.Minute))
}

func TestPresenceSaveIfVersion(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	p := &domain.AgentPresence{AgentID: "a1", TenantID: "t1", Status: domain.PresenceOnline, MaxCapacity: 2}
	gt.NoError(t, store.Presence().SaveIfVersion(ctx, p, 0)).Required()
	gt.Bool(t, apperrors.IsConflict(store.Presence().SaveIfVersion(ctx, p.Clone(), 0))).True()

	over := p.Clone()
	over.CurrentLoad = 3
	err := store.Presence().SaveIfVersion(ctx, over, 1)
	gt.Bool(t, apperrors.IsCode(err, apperrors.CodeInvariantViolation)).True()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cur, err := store.Presence().Get(ctx, "a1")
			if err != nil {
				return
			}
			cur.CurrentLoad++
			if cur.CheckInvariant() != nil {
				return
			}
			if store.Presence().SaveIfVersion(ctx, cur, cur.Version) == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	final, err := store.Presence().Get(ctx, "a1")
	gt.NoError(t, err).Required()
	gt.Value(t, final.CurrentLoad).Equal(successes)
	gt.Bool(t, final.CurrentLoad <= final.MaxCapacity).True()
}

func TestPolicyLookupPrefersDefault(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	targets := map[domain.MilestoneKind]map[domain.CasePriority]time.Duration{
		domain.MilestoneFirstResponse: {domain.CasePriorityHigh: time.Hour},
		domain.MilestoneResolution:    {domain.CasePriorityHigh: 8 * time.Hour},
	}
	gt.NoError(t, store.Policies().Upsert(ctx, &domain.SLAPolicy{ID: "p-a", TenantID: "t1", Name: "a", IsActive: true, Targets: targets})).Required()
	gt.NoError(t, store.Policies().Upsert(ctx, &domain.SLAPolicy{ID: "p-z", TenantID: "t1", Name: "z", IsActive: true, IsDefault: true, Targets: targets})).Required()

	p, err := store.Policies().GetForPriority(ctx, "t1", domain.CasePriorityHigh)
	gt.NoError(t, err).Required()
	gt.Value(t, p.ID).Equal("p-z")

	_, err = store.Policies().GetForPriority(ctx, "t1", domain.CasePriorityLow)
	gt.Bool(t, apperrors.IsNotFound(err)).True()
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	t0 := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	agent := "a1"

	c1 := newCase("c1", "t1", t0)
	c2 := newCase("c2", "t1", t0.Add(time.Minute))
	c2.AssigneeID = &agent
	c3 := newCase("c3", "t2", t0.Add(2*time.Minute))
	for _, c := range []*domain.Case{c3, c2, c1} {
		gt.NoError(t, store.Cases().Create(ctx, c)).Required()
	}

	tenant := "t1"
	out, err := store.Cases().List(ctx, repository.CaseFilter{TenantID: &tenant})
	gt.NoError(t, err).Required()
	gt.Array(t, out).Length(2)
	gt.Value(t, out[0].ID).Equal("c1")

	out, err = store.Cases().List(ctx, repository.CaseFilter{Unassigned: true})
	gt.NoError(t, err).Required()
	gt.Array(t, out).Length(2)
}
