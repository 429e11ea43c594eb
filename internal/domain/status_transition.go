package domain

import "time"

// TransitionReason explains why a status change happened.
type TransitionReason string

const (
	ReasonManual       TransitionReason = "manual"
	ReasonAgentComment TransitionReason = "agent_comment"
	ReasonRouted       TransitionReason = "routed"
	ReasonSLABreach    TransitionReason = "sla_breach"
	ReasonAutoClose    TransitionReason = "auto_close"
	ReasonReopened     TransitionReason = "REOPENED"
)

// StatusTransition is an immutable audit trail entry.
type StatusTransition struct {
	ID        string
	TenantID  string
	CaseID    string
	From      CaseStatus
	To        CaseStatus
	ActorID   string
	Reason    TransitionReason
	CreatedAt time.Time
}
