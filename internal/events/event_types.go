package events

import (
	"time"

	"github.com/spec-kit/case-engine/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventCaseCreated       EventType = "case_created"
	EventCaseStatusChanged EventType = "case_status_changed"
	EventCaseAssigned      EventType = "case_assigned"
	EventCaseQueued        EventType = "case_queued"
	EventCommentRecorded   EventType = "case_comment_recorded"
	EventSLABreached       EventType = "sla_breached"
)

// AllEventTypes lists every type the engine publishes.
var AllEventTypes = []EventType{
	EventCaseCreated,
	EventCaseStatusChanged,
	EventCaseAssigned,
	EventCaseQueued,
	EventCommentRecorded,
	EventSLABreached,
}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	ID   string      `json:"id"`
	Role domain.Role `json:"role,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TenantID  string    `json:"tenant_id"`
	CaseID    string    `json:"case_id"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// CaseCreatedPayload payload.
type CaseCreatedPayload struct {
	Number   int64               `json:"number"`
	Priority domain.CasePriority `json:"priority"`
	Origin   domain.CaseOrigin   `json:"origin"`
	PolicyID string              `json:"policy_id"`
	ParentID *string             `json:"parent_id,omitempty"`
}

// CaseStatusChangedPayload mirrors the persisted StatusTransition record.
type CaseStatusChangedPayload struct {
	TransitionID string                  `json:"transition_id"`
	From         domain.CaseStatus       `json:"from"`
	To           domain.CaseStatus       `json:"to"`
	Reason       domain.TransitionReason `json:"reason"`
}

// CaseAssignedPayload payload.
type CaseAssignedPayload struct {
	AssigneeID         string  `json:"assignee_id"`
	PreviousAssigneeID *string `json:"previous_assignee_id,omitempty"`
}

// CaseQueuedPayload explains why a case is waiting for capacity.
type CaseQueuedPayload struct {
	Reason string `json:"reason"`
}

// CommentRecordedPayload payload.
type CommentRecordedPayload struct {
	CommentID string `json:"comment_id"`
	AuthorID  string `json:"author_id"`
	IsPublic  bool   `json:"is_public"`
}

// SLABreachedPayload lists the milestones found breached.
type SLABreachedPayload struct {
	Kinds []domain.MilestoneKind `json:"kinds"`
}
