package domain

import "time"

// MilestoneKind names a deadline tracked for a case.
type MilestoneKind string

const (
	MilestoneFirstResponse MilestoneKind = "FIRST_RESPONSE"
	MilestoneResolution    MilestoneKind = "RESOLUTION"
)

// MilestoneKinds lists every kind in creation order.
var MilestoneKinds = []MilestoneKind{MilestoneFirstResponse, MilestoneResolution}

// Valid reports whether k is a known kind.
func (k MilestoneKind) Valid() bool {
	return k == MilestoneFirstResponse || k == MilestoneResolution
}

// MilestoneInstance is the concrete deadline created for one case under one policy.
// TargetDate is fixed at creation; later policy edits never move it.
type MilestoneInstance struct {
	ID         string
	TenantID   string
	CaseID     string
	PolicyID   string
	Kind       MilestoneKind
	TargetDate time.Time
	AchievedAt *time.Time
	CreatedAt  time.Time
}

// Breached reports whether the deadline was missed as of now.
func (m MilestoneInstance) Breached(now time.Time) bool {
	if m.AchievedAt == nil {
		return now.After(m.TargetDate)
	}
	return m.AchievedAt.After(m.TargetDate)
}

// Achieved reports whether the milestone has been met (in time or not).
func (m MilestoneInstance) Achieved() bool {
	return m.AchievedAt != nil
}

// Clone returns a copy that shares no pointers with m.
func (m MilestoneInstance) Clone() MilestoneInstance {
	m.AchievedAt = clonePtr(m.AchievedAt)
	return m
}
