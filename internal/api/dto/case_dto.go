package dto

import (
	"time"

	"github.com/spec-kit/case-engine/internal/domain"
	"github.com/spec-kit/case-engine/internal/service"
)

// CreateCaseRequest payload.
type CreateCaseRequest struct {
	Subject     string              `json:"subject"`
	Description string              `json:"description"`
	Priority    domain.CasePriority `json:"priority"`
	Origin      domain.CaseOrigin   `json:"origin"`
	ContactRef  *string             `json:"contact_ref"`
	AccountRef  *string             `json:"account_ref"`
	ParentID    *string             `json:"parent_id"`
	PolicyID    *string             `json:"policy_id"`
}

// Input converts the payload for the case service.
func (r CreateCaseRequest) Input() service.CreateCaseInput {
	return service.CreateCaseInput{
		Subject:     r.Subject,
		Description: r.Description,
		Priority:    r.Priority,
		Origin:      r.Origin,
		ContactRef:  r.ContactRef,
		AccountRef:  r.AccountRef,
		ParentID:    r.ParentID,
		PolicyID:    r.PolicyID,
	}
}

// CommentRequest payload. The idempotency key travels in the Idempotency-Key header.
type CommentRequest struct {
	Body     string `json:"body"`
	IsPublic bool   `json:"is_public"`
}

// TransitionRequest payload.
type TransitionRequest struct {
	To              domain.CaseStatus `json:"to"`
	ExpectedVersion *int64            `json:"expected_version"`
}

// MilestoneResponse describes one SLA deadline.
type MilestoneResponse struct {
	Kind       domain.MilestoneKind `json:"kind"`
	TargetDate time.Time            `json:"target_date"`
	AchievedAt *time.Time           `json:"achieved_at,omitempty"`
	Breached   bool                 `json:"breached"`
}

// CaseResponse is the case read model.
type CaseResponse struct {
	ID              string              `json:"id"`
	Number          int64               `json:"number"`
	Subject         string              `json:"subject"`
	Description     string              `json:"description"`
	Priority        domain.CasePriority `json:"priority"`
	Status          domain.CaseStatus   `json:"status"`
	Origin          domain.CaseOrigin   `json:"origin"`
	ContactRef      *string             `json:"contact_ref,omitempty"`
	AccountRef      *string             `json:"account_ref,omitempty"`
	ParentID        *string             `json:"parent_id,omitempty"`
	AssigneeID      *string             `json:"assignee_id"`
	PolicyID        string              `json:"policy_id"`
	SLABreached     bool                `json:"sla_breached"`
	Version         int64               `json:"version"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	LastActivityAt  time.Time           `json:"last_activity_at"`
	FirstResponseAt *time.Time          `json:"first_response_at,omitempty"`
	ResolvedAt      *time.Time          `json:"resolved_at,omitempty"`
	ClosedAt        *time.Time          `json:"closed_at,omitempty"`
	Milestones      []MilestoneResponse `json:"milestones"`
}

// NewCaseResponse maps the aggregate. Milestone breach is evaluated at now.
func NewCaseResponse(c *domain.Case, now time.Time) CaseResponse {
	milestones := make([]MilestoneResponse, 0, len(c.Milestones))
	for _, m := range c.Milestones {
		milestones = append(milestones, MilestoneResponse{
			Kind:       m.Kind,
			TargetDate: m.TargetDate,
			AchievedAt: m.AchievedAt,
			Breached:   m.Breached(now),
		})
	}
	return CaseResponse{
		ID:              c.ID,
		Number:          c.Number,
		Subject:         c.Subject,
		Description:     c.Description,
		Priority:        c.Priority,
		Status:          c.Status,
		Origin:          c.Origin,
		ContactRef:      c.ContactRef,
		AccountRef:      c.AccountRef,
		ParentID:        c.ParentID,
		AssigneeID:      c.AssigneeID,
		PolicyID:        c.PolicyID,
		SLABreached:     c.SLABreached,
		Version:         c.Version,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
		LastActivityAt:  c.LastActivityAt,
		FirstResponseAt: c.FirstResponseAt,
		ResolvedAt:      c.ResolvedAt,
		ClosedAt:        c.ClosedAt,
		Milestones:      milestones,
	}
}

// TransitionResponse is one audit entry.
type TransitionResponse struct {
	ID        string                  `json:"id"`
	From      domain.CaseStatus       `json:"from"`
	To        domain.CaseStatus       `json:"to"`
	ActorID   string                  `json:"actor_id"`
	Reason    domain.TransitionReason `json:"reason"`
	CreatedAt time.Time               `json:"created_at"`
}

// NewTransitionResponses maps the audit log.
func NewTransitionResponses(items []domain.StatusTransition) []TransitionResponse {
	out := make([]TransitionResponse, 0, len(items))
	for _, t := range items {
		out = append(out, TransitionResponse{
			ID:        t.ID,
			From:      t.From,
			To:        t.To,
			ActorID:   t.ActorID,
			Reason:    t.Reason,
			CreatedAt: t.CreatedAt,
		})
	}
	return out
}
