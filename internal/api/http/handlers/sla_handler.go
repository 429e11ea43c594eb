package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/case-engine/internal/service"
)

// SLAHandler triggers an on-demand sweep for the caller's tenant.
type SLAHandler struct {
	sweeper *service.SweepService
}

// NewSLAHandler constructs handler.
func NewSLAHandler(sweeper *service.SweepService) *SLAHandler {
	return &SLAHandler{sweeper: sweeper}
}

// Sweep POST /v1/sla/sweep.
func (h *SLAHandler) Sweep(c *fiber.Ctx) error {
	tc, err := tenantContext(c)
	if err != nil {
		return err
	}
	result, err := h.sweeper.RunSLASweep(c.UserContext(), &tc.TenantID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": result})
}
