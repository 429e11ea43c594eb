package dto

import (
	"time"

	"github.com/spec-kit/case-engine/internal/domain"
)

// HeartbeatRequest payload. AgentID defaults to the caller.
type HeartbeatRequest struct {
	AgentID     string                `json:"agent_id"`
	Status      domain.PresenceStatus `json:"status"`
	MaxCapacity int                   `json:"max_capacity"`
	Channels    []domain.Channel      `json:"channels"`
	Tier        int                   `json:"tier"`
}

// Heartbeat builds the domain heartbeat for the caller's tenant.
func (r HeartbeatRequest) Heartbeat(tc domain.TenantContext) domain.Heartbeat {
	agentID := r.AgentID
	if agentID == "" {
		agentID = tc.ActorID
	}
	return domain.Heartbeat{
		AgentID:     agentID,
		TenantID:    tc.TenantID,
		Status:      r.Status,
		MaxCapacity: r.MaxCapacity,
		Channels:    r.Channels,
		Tier:        r.Tier,
	}
}

// PresenceResponse is the presence read model.
type PresenceResponse struct {
	AgentID         string                `json:"agent_id"`
	Status          domain.PresenceStatus `json:"status"`
	EffectiveStatus domain.PresenceStatus `json:"effective_status"`
	Stale           bool                  `json:"stale"`
	MaxCapacity     int                   `json:"max_capacity"`
	CurrentLoad     int                   `json:"current_load"`
	LoadFactor      float64               `json:"load_factor"`
	Channels        []domain.Channel      `json:"channels"`
	Tier            int                   `json:"tier"`
	LastHeartbeat   time.Time             `json:"last_heartbeat"`
	AvailableSince  time.Time             `json:"available_since"`
}

// NewPresenceResponse maps a snapshot.
func NewPresenceResponse(s domain.PresenceSnapshot) PresenceResponse {
	return PresenceResponse{
		AgentID:         s.AgentID,
		Status:          s.Status,
		EffectiveStatus: s.EffectiveStatus,
		Stale:           s.Stale,
		MaxCapacity:     s.MaxCapacity,
		CurrentLoad:     s.CurrentLoad,
		LoadFactor:      s.LoadFactor,
		Channels:        s.Channels,
		Tier:            s.Tier,
		LastHeartbeat:   s.LastHeartbeat,
		AvailableSince:  s.AvailableSince,
	}
}
