package domain

import (
	"strings"
	"time"

	apperrors "github.com/spec-kit/case-engine/pkg/util/errorutil"
)

// SLAPolicy is tenant-scoped configuration of response and resolution targets.
type SLAPolicy struct {
	ID                  string
	TenantID            string
	Name                string
	IsDefault           bool
	IsActive            bool
	Targets             map[MilestoneKind]map[CasePriority]time.Duration
	CalendarID          *string
	RequireChildClosure bool
	// EscalationTriggers lists the milestone kinds whose breach escalates a case.
	// Empty means RESOLUTION only.
	EscalationTriggers []MilestoneKind
	// EscalationTier is the minimum agent tier escalated cases are re-routed to; zero
	// disables re-routing.
	EscalationTier int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Duration returns the target for kind at priority.
func (p *SLAPolicy) Duration(kind MilestoneKind, priority CasePriority) (time.Duration, bool) {
	if p == nil {
		return 0, false
	}
	byPriority, ok := p.Targets[kind]
	if !ok {
		return 0, false
	}
	d, ok := byPriority[priority]
	if !ok || d <= 0 {
		return 0, false
	}
	return d, true
}

// Covers reports whether the policy defines every milestone for priority.
func (p *SLAPolicy) Covers(priority CasePriority) bool {
	for _, kind := range MilestoneKinds {
		if _, ok := p.Duration(kind, priority); !ok {
			return false
		}
	}
	return true
}

// EscalatesOn reports whether a breach of kind should escalate the case.
func (p *SLAPolicy) EscalatesOn(kind MilestoneKind) bool {
	if p == nil || len(p.EscalationTriggers) == 0 {
		return kind == MilestoneResolution
	}
	for _, k := range p.EscalationTriggers {
		if k == kind {
			return true
		}
	}
	return false
}

// Validate rejects malformed policies before they are stored.
func (p *SLAPolicy) Validate() error {
	details := map[string]any{}
	if strings.TrimSpace(p.TenantID) == "" {
		details["tenant_id"] = "required"
	}
	if strings.TrimSpace(p.Name) == "" {
		details["name"] = "required"
	}
	for kind, byPriority := range p.Targets {
		if !kind.Valid() {
			details["targets"] = "unknown milestone kind " + string(kind)
			continue
		}
		for priority, d := range byPriority {
			if !priority.Valid() {
				details["targets"] = "unknown priority " + string(priority)
			}
			if d <= 0 {
				details["targets"] = "non-positive target for " + string(kind) + "/" + string(priority)
			}
		}
	}
	for _, kind := range p.EscalationTriggers {
		if !kind.Valid() {
			details["escalation_triggers"] = "unknown milestone kind " + string(kind)
		}
	}
	if p.EscalationTier < 0 {
		details["escalation_tier"] = "must be >= 0"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid sla policy", details)
	}
	return nil
}
