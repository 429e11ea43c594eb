// Package sla computes milestone deadlines and breach state. Nothing here writes to a
// store; the lifecycle controller decides what to persist.
package sla

import (
	"time"

	"github.com/spec-kit/case-engine/internal/domain"
	apperrors "github.com/spec-kit/case-engine/pkg/util/errorutil"
)

// Evaluator derives milestone deadlines from a policy.
type Evaluator struct {
	calendars CalendarProvider
}

// NewEvaluator builds an evaluator. A nil provider means wall-clock deadlines only.
func NewEvaluator(calendars CalendarProvider) *Evaluator {
	if calendars == nil {
		calendars = NewCalendars()
	}
	return &Evaluator{calendars: calendars}
}

// ComputeTargets returns one milestone instance per kind, anchored at the case's
// creation time. IDs are left for the caller to assign.
func (e *Evaluator) ComputeTargets(c *domain.Case, policy *domain.SLAPolicy) ([]domain.MilestoneInstance, error) {
	if policy == nil {
		return nil, apperrors.NewValidationError("sla policy required", map[string]any{"case_id": c.ID})
	}
	out := make([]domain.MilestoneInstance, 0, len(domain.MilestoneKinds))
	for _, kind := range domain.MilestoneKinds {
		d, ok := policy.Duration(kind, c.Priority)
		if !ok {
			return nil, apperrors.NewValidationError("policy has no target for priority", map[string]any{
				"policy_id": policy.ID,
				"kind":      kind,
				"priority":  c.Priority,
			})
		}
		target, err := e.calendars.AddDuration(c.CreatedAt, d, policy.CalendarID)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.MilestoneInstance{
			TenantID:   c.TenantID,
			CaseID:     c.ID,
			PolicyID:   policy.ID,
			Kind:       kind,
			TargetDate: target,
			CreatedAt:  c.CreatedAt,
		})
	}
	return out, nil
}

// IsBreached reports whether m missed its deadline as of now.
func IsBreached(m domain.MilestoneInstance, now time.Time) bool {
	return m.Breached(now)
}

// Breached computes the breach flag of c at now from its milestones.
func Breached(c *domain.Case, now time.Time) bool {
	for _, m := range c.Milestones {
		if IsBreached(m, now) {
			return true
		}
	}
	return false
}

// Refresh recomputes c.SLABreached and reports whether it changed.
func Refresh(c *domain.Case, now time.Time) bool {
	breached := Breached(c, now)
	changed := breached != c.SLABreached
	c.SLABreached = breached
	return changed
}

// BreachedKinds lists the kinds of milestones breached at now, in milestone order.
func BreachedKinds(c *domain.Case, now time.Time) []domain.MilestoneKind {
	var out []domain.MilestoneKind
	for _, m := range c.Milestones {
		if IsBreached(m, now) {
			out = append(out, m.Kind)
		}
	}
	return out
}

// ShouldEscalate reports whether a breached trigger milestone requires escalating c.
func ShouldEscalate(c *domain.Case, policy *domain.SLAPolicy, now time.Time) bool {
	if !c.Status.IsActive() || c.Status == domain.CaseStatusEscalated {
		return false
	}
	for _, kind := range BreachedKinds(c, now) {
		if policy.EscalatesOn(kind) {
			return true
		}
	}
	return false
}

// CheckMilestones returns an InvariantViolation when a milestone was achieved before its
// case existed.
func CheckMilestones(c *domain.Case) error {
	for _, m := range c.Milestones {
		if m.AchievedAt != nil && m.AchievedAt.Before(c.CreatedAt) {
			return apperrors.NewInvariantViolation("milestone achieved before case creation", map[string]any{
				"case_id":     c.ID,
				"kind":        m.Kind,
				"achieved_at": m.AchievedAt.Format(time.RFC3339Nano),
				"created_at":  c.CreatedAt.Format(time.RFC3339Nano),
			})
		}
	}
	return nil
}
