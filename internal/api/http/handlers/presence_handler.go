package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/case-engine/internal/api/dto"
	"github.com/spec-kit/case-engine/internal/service"
	apperrors "github.com/spec-kit/case-engine/pkg/util/errorutil"
)

// PresenceHandler exposes agent heartbeats and the presence listing.
type PresenceHandler struct {
	presence *service.PresenceService
}

// NewPresenceHandler constructs handler.
func NewPresenceHandler(presence *service.PresenceService) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// Heartbeat POST /v1/presence/heartbeat.
func (h *PresenceHandler) Heartbeat(c *fiber.Ctx) error {
	tc, err := tenantContext(c)
	if err != nil {
		return err
	}
	var req dto.HeartbeatRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	snapshot, err := h.presence.Heartbeat(c.UserContext(), tc, req.Heartbeat(tc))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewPresenceResponse(*snapshot)})
}

// List GET /v1/presence.
func (h *PresenceHandler) List(c *fiber.Ctx) error {
	tc, err := tenantContext(c)
	if err != nil {
		return err
	}
	snapshots, err := h.presence.List(c.UserContext(), tc)
	if err != nil {
		return err
	}
	items := make([]dto.PresenceResponse, 0, len(snapshots))
	for _, s := range snapshots {
		items = append(items, dto.NewPresenceResponse(s))
	}
	return c.JSON(fiber.Map{"data": items})
}
