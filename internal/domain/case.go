package domain

import (
	"strings"
	"time"

	apperrors "github.com/spec-kit/case-engine/pkg/util/errorutil"
)

// CaseStatus enumerates lifecycle states for cases.
type CaseStatus string

const (
	CaseStatusNew        CaseStatus = "NEW"
	CaseStatusOpen       CaseStatus = "OPEN"
	CaseStatusInProgress CaseStatus = "IN_PROGRESS"
	CaseStatusEscalated  CaseStatus = "ESCALATED"
	CaseStatusResolved   CaseStatus = "RESOLVED"
	CaseStatusClosed     CaseStatus = "CLOSED"
)

// Valid reports whether s is a known status.
func (s CaseStatus) Valid() bool {
	switch s {
	case CaseStatusNew, CaseStatusOpen, CaseStatusInProgress, CaseStatusEscalated, CaseStatusResolved, CaseStatusClosed:
		return true
	}
	return false
}

// IsActive is true for statuses the SLA sweep still watches.
func (s CaseStatus) IsActive() bool {
	return s.Valid() && s != CaseStatusResolved && s != CaseStatusClosed
}

// IsTerminal reports whether no further transition is possible. RESOLVED is not terminal
// because it can be reopened.
func (s CaseStatus) IsTerminal() bool {
	return s == CaseStatusClosed
}

// ActiveCaseStatuses lists the statuses of open work.
var ActiveCaseStatuses = []CaseStatus{CaseStatusNew, CaseStatusOpen, CaseStatusInProgress, CaseStatusEscalated}

// CasePriority enumerates SLA urgency.
type CasePriority string

const (
	CasePriorityLow      CasePriority = "LOW"
	CasePriorityMedium   CasePriority = "MEDIUM"
	CasePriorityHigh     CasePriority = "HIGH"
	CasePriorityCritical CasePriority = "CRITICAL"
)

// Valid reports whether p is a known priority.
func (p CasePriority) Valid() bool {
	switch p {
	case CasePriorityLow, CasePriorityMedium, CasePriorityHigh, CasePriorityCritical:
		return true
	}
	return false
}

// Rank orders priorities for queue draining; higher is more urgent.
func (p CasePriority) Rank() int {
	switch p {
	case CasePriorityCritical:
		return 4
	case CasePriorityHigh:
		return 3
	case CasePriorityMedium:
		return 2
	case CasePriorityLow:
		return 1
	}
	return 0
}

// CaseOrigin records how a case entered the system.
type CaseOrigin string

const (
	CaseOriginEmail  CaseOrigin = "EMAIL"
	CaseOriginWeb    CaseOrigin = "WEB"
	CaseOriginPhone  CaseOrigin = "PHONE"
	CaseOriginManual CaseOrigin = "MANUAL"
)

// Valid reports whether o is a known origin.
func (o CaseOrigin) Valid() bool {
	switch o {
	case CaseOriginEmail, CaseOriginWeb, CaseOriginPhone, CaseOriginManual:
		return true
	}
	return false
}

// RequiredChannel maps the origin to the channel an agent must accept. Manual cases
// accept any channel and return the empty Channel.
func (o CaseOrigin) RequiredChannel() Channel {
	switch o {
	case CaseOriginEmail:
		return ChannelEmail
	case CaseOriginWeb:
		return ChannelWeb
	case CaseOriginPhone:
		return ChannelPhone
	}
	return ""
}

// Case is the aggregate for a unit of customer work.
type Case struct {
	ID              string
	Number          int64
	TenantID        string
	Subject         string
	Description     string
	Priority        CasePriority
	Status          CaseStatus
	Origin          CaseOrigin
	ContactRef      *string
	AccountRef      *string
	ParentID        *string
	AssigneeID      *string
	PolicyID        string
	SLABreached     bool
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastActivityAt  time.Time
	FirstResponseAt *time.Time
	ResolvedAt      *time.Time
	ClosedAt        *time.Time
	Milestones      []MilestoneInstance
}

// NewCaseParams carries the caller supplied attributes of a new case.
type NewCaseParams struct {
	TenantID    string
	Subject     string
	Description string
	Priority    CasePriority
	Origin      CaseOrigin
	ContactRef  *string
	AccountRef  *string
	ParentID    *string
	CreatedAt   time.Time
}

// NewCase validates params and returns a NEW case. Identity, number and policy are
// filled in by the controller.
func NewCase(params NewCaseParams) (*Case, error) {
	subject := strings.TrimSpace(params.Subject)
	details := map[string]any{}
	if strings.TrimSpace(params.TenantID) == "" {
		details["tenant_id"] = "required"
	}
	if subject == "" {
		details["subject"] = "required"
	}
	if !params.Priority.Valid() {
		details["priority"] = "unknown priority " + string(params.Priority)
	}
	if !params.Origin.Valid() {
		details["origin"] = "unknown origin " + string(params.Origin)
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid case", details)
	}
	return &Case{
		TenantID:       params.TenantID,
		Subject:        subject,
		Description:    strings.TrimSpace(params.Description),
		Priority:       params.Priority,
		Status:         CaseStatusNew,
		Origin:         params.Origin,
		ContactRef:     trimmedOrNil(params.ContactRef),
		AccountRef:     trimmedOrNil(params.AccountRef),
		ParentID:       trimmedOrNil(params.ParentID),
		CreatedAt:      params.CreatedAt,
		UpdatedAt:      params.CreatedAt,
		LastActivityAt: params.CreatedAt,
	}, nil
}

// Validate checks the structural invariants of a case.
func (c *Case) Validate() error {
	if c == nil {
		return apperrors.NewValidationError("case required", nil)
	}
	if !c.Status.Valid() {
		return apperrors.NewValidationError("unknown status", map[string]any{"status": c.Status})
	}
	if c.ResolvedAt != nil && c.Status != CaseStatusResolved && c.Status != CaseStatusClosed {
		return apperrors.NewInvariantViolation("resolved_at set on unresolved case", map[string]any{
			"case_id": c.ID, "status": c.Status,
		})
	}
	if c.ClosedAt != nil && c.Status != CaseStatusClosed {
		return apperrors.NewInvariantViolation("closed_at set on open case", map[string]any{
			"case_id": c.ID, "status": c.Status,
		})
	}
	if c.ParentID != nil && c.ID != "" && *c.ParentID == c.ID {
		return apperrors.NewValidationError("case cannot be its own parent", map[string]any{"case_id": c.ID})
	}
	return nil
}

// ValidateParent enforces the single-level hierarchy: the parent must belong to the same
// tenant and must not itself be a child.
func (c *Case) ValidateParent(parent *Case) error {
	if parent == nil {
		return nil
	}
	if parent.TenantID != c.TenantID {
		return apperrors.NewValidationError("parent case belongs to another tenant", map[string]any{"parent_id": parent.ID})
	}
	if c.ID != "" && parent.ID == c.ID {
		return apperrors.NewValidationError("case cannot be its own parent", map[string]any{"case_id": c.ID})
	}
	if parent.ParentID != nil {
		return apperrors.NewValidationError("case hierarchy deeper than one level", map[string]any{
			"parent_id":       parent.ID,
			"grandparent_id":  *parent.ParentID,
			"max_depth_level": 1,
		})
	}
	return nil
}

// HoldsAgentSlot reports whether the case currently counts against its assignee's load.
func (c *Case) HoldsAgentSlot() bool {
	return c.AssigneeID != nil && c.Status.IsActive()
}

// IsQueued is true for open work still waiting on the router.
func (c *Case) IsQueued() bool {
	return c.AssigneeID == nil && c.Status.IsActive()
}

// Milestone returns the instance of the given kind, if any.
func (c *Case) Milestone(kind MilestoneKind) *MilestoneInstance {
	for i := range c.Milestones {
		if c.Milestones[i].Kind == kind {
			return &c.Milestones[i]
		}
	}
	return nil
}

// Clone returns a deep copy so a transition can be computed without touching the read.
func (c *Case) Clone() *Case {
	if c == nil {
		return nil
	}
	out := *c
	out.ContactRef = clonePtr(c.ContactRef)
	out.AccountRef = clonePtr(c.AccountRef)
	out.ParentID = clonePtr(c.ParentID)
	out.AssigneeID = clonePtr(c.AssigneeID)
	out.FirstResponseAt = clonePtr(c.FirstResponseAt)
	out.ResolvedAt = clonePtr(c.ResolvedAt)
	out.ClosedAt = clonePtr(c.ClosedAt)
	if c.Milestones != nil {
		out.Milestones = make([]MilestoneInstance, len(c.Milestones))
		for i, m := range c.Milestones {
			out.Milestones[i] = m.Clone()
		}
	}
	return &out
}

// GetVersion exposes the optimistic-concurrency token.
func (c *Case) GetVersion() int64 {
	return c.Version
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
