package domain

import (
	"strings"
	"time"

	apperrors "github.com/spec-kit/case-engine/pkg/util/errorutil"
)

// PresenceStatus is the availability an agent reports through heartbeats.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "ONLINE"
	PresenceBusy    PresenceStatus = "BUSY"
	PresenceAway    PresenceStatus = "AWAY"
	PresenceOffline PresenceStatus = "OFFLINE"
)

// Valid reports whether s is a known presence status.
func (s PresenceStatus) Valid() bool {
	switch s {
	case PresenceOnline, PresenceBusy, PresenceAway, PresenceOffline:
		return true
	}
	return false
}

// Channel is a contact channel an agent can accept work from.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelWeb   Channel = "WEB"
	ChannelPhone Channel = "PHONE"
)

// Valid reports whether ch is a known channel.
func (ch Channel) Valid() bool {
	return ch == ChannelEmail || ch == ChannelWeb || ch == ChannelPhone
}

// AgentPresence is the live availability and load of one agent.
type AgentPresence struct {
	AgentID        string
	TenantID       string
	Status         PresenceStatus
	MaxCapacity    int
	CurrentLoad    int
	Channels       []Channel
	Tier           int
	LastHeartbeat  time.Time
	AvailableSince time.Time
	Version        int64
}

// EffectiveStatus returns OFFLINE when the last heartbeat is older than staleness,
// regardless of the stored status.
func (p *AgentPresence) EffectiveStatus(now time.Time, staleness time.Duration) PresenceStatus {
	if staleness > 0 && now.Sub(p.LastHeartbeat) > staleness {
		return PresenceOffline
	}
	return p.Status
}

// IsStale reports whether the heartbeat has aged out.
func (p *AgentPresence) IsStale(now time.Time, staleness time.Duration) bool {
	return staleness > 0 && now.Sub(p.LastHeartbeat) > staleness
}

// LoadFactor is current load divided by capacity.
func (p *AgentPresence) LoadFactor() float64 {
	if p.MaxCapacity <= 0 {
		return 1
	}
	return float64(p.CurrentLoad) / float64(p.MaxCapacity)
}

// HasFreeSlot reports whether a claim could succeed on capacity alone.
func (p *AgentPresence) HasFreeSlot() bool {
	return p.CurrentLoad < p.MaxCapacity
}

// Accepts reports whether the agent takes work from ch. The empty channel matches any agent.
func (p *AgentPresence) Accepts(ch Channel) bool {
	if ch == "" {
		return true
	}
	for _, enabled := range p.Channels {
		if enabled == ch {
			return true
		}
	}
	return false
}

// CheckInvariant returns an InvariantViolation when the load counter is out of bounds.
func (p *AgentPresence) CheckInvariant() error {
	if p.CurrentLoad < 0 || p.CurrentLoad > p.MaxCapacity {
		return apperrors.NewInvariantViolation("agent load outside capacity bounds", map[string]any{
			"agent_id":     p.AgentID,
			"current_load": p.CurrentLoad,
			"max_capacity": p.MaxCapacity,
		})
	}
	return nil
}

// GetVersion exposes the optimistic-concurrency token.
func (p *AgentPresence) GetVersion() int64 {
	return p.Version
}

// Clone returns a copy that shares no slices with p.
func (p *AgentPresence) Clone() *AgentPresence {
	if p == nil {
		return nil
	}
	out := *p
	out.Channels = append([]Channel(nil), p.Channels...)
	return &out
}

// Heartbeat is the payload an agent process reports periodically.
type Heartbeat struct {
	AgentID     string
	TenantID    string
	Status      PresenceStatus
	MaxCapacity int
	Channels    []Channel
	Tier        int
}

// Validate rejects malformed heartbeats.
func (h *Heartbeat) Validate() error {
	details := map[string]any{}
	if strings.TrimSpace(h.AgentID) == "" {
		details["agent_id"] = "required"
	}
	if strings.TrimSpace(h.TenantID) == "" {
		details["tenant_id"] = "required"
	}
	if !h.Status.Valid() {
		details["status"] = "unknown status " + string(h.Status)
	}
	if h.MaxCapacity < 1 {
		details["max_capacity"] = "must be >= 1"
	}
	for _, ch := range h.Channels {
		if !ch.Valid() {
			details["channels"] = "unknown channel " + string(ch)
		}
	}
	if h.Tier < 0 {
		details["tier"] = "must be >= 0"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid heartbeat", details)
	}
	return nil
}

// PresenceSnapshot is the read model returned to supervisors and agents.
type PresenceSnapshot struct {
	AgentPresence
	EffectiveStatus PresenceStatus
	Stale           bool
	LoadFactor      float64
}

// Snapshot evaluates p at now.
func (p *AgentPresence) Snapshot(now time.Time, staleness time.Duration) PresenceSnapshot {
	return PresenceSnapshot{
		AgentPresence:   *p.Clone(),
		EffectiveStatus: p.EffectiveStatus(now, staleness),
		Stale:           p.IsStale(now, staleness),
		LoadFactor:      p.LoadFactor(),
	}
}
