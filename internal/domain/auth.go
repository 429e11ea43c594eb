package domain

import (
	"strings"

	apperrors "github.com/spec-kit/case-engine/pkg/util/errorutil"
)

// Role differentiates the callers allowed to drive the engine.
type Role string

const (
	RoleAgent      Role = "AGENT"
	RoleSupervisor Role = "SUPERVISOR"
	RoleSystem     Role = "SYSTEM"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAgent || r == RoleSupervisor || r == RoleSystem
}

// TenantContext identifies the tenant and actor of one engine call. It is passed
// explicitly into every entry point and never read from ambient state.
type TenantContext struct {
	TenantID  string
	ActorID   string
	Role      Role
	RequestID string
}

// SystemActorID is recorded on transitions the engine performs on its own.
const SystemActorID = "system"

// NewSystemContext builds the context used by the scheduler.
func NewSystemContext(tenantID string) TenantContext {
	return TenantContext{TenantID: tenantID, ActorID: SystemActorID, Role: RoleSystem}
}

// Validate rejects contexts without a tenant.
func (tc TenantContext) Validate() error {
	if strings.TrimSpace(tc.TenantID) == "" {
		return apperrors.NewValidationError("tenant context required", map[string]any{"tenant_id": "required"})
	}
	return nil
}

// Actor returns the actor id, defaulting to the system actor.
func (tc TenantContext) Actor() string {
	if strings.TrimSpace(tc.ActorID) == "" {
		return SystemActorID
	}
	return tc.ActorID
}
