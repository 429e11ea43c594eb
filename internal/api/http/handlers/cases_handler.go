package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/case-engine/internal/api/dto"
	"github.com/spec-kit/case-engine/internal/auth"
	"github.com/spec-kit/case-engine/internal/clock"
	"github.com/spec-kit/case-engine/internal/domain"
	"github.com/spec-kit/case-engine/internal/service"
	apperrors "github.com/spec-kit/case-engine/pkg/util/errorutil"
)

// IdempotencyKeyHeader makes comment submissions safe to retry.
const IdempotencyKeyHeader = "Idempotency-Key"

// CasesHandler exposes the case lifecycle endpoints.
type CasesHandler struct {
	cases *service.CaseService
	clock clock.Clock
}

// NewCasesHandler constructs handler.
func NewCasesHandler(cases *service.CaseService, clk clock.Clock) *CasesHandler {
	if clk == nil {
		clk = clock.Real()
	}
	return &CasesHandler{cases: cases, clock: clk}
}

// CreateCase POST /v1/cases.
func (h *CasesHandler) CreateCase(c *fiber.Ctx) error {
	tc, err := tenantContext(c)
	if err != nil {
		return err
	}
	var req dto.CreateCaseRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	created, err := h.cases.CreateCase(c.UserContext(), tc, req.Input())
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewCaseResponse(created, h.clock.Now())})
}

// GetCase GET /v1/cases/:id.
func (h *CasesHandler) GetCase(c *fiber.Ctx) error {
	tc, err := tenantContext(c)
	if err != nil {
		return err
	}
	found, err := h.cases.GetCase(c.UserContext(), tc, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewCaseResponse(found, h.clock.Now())})
}

// RecordComment POST /v1/cases/:id/comments.
func (h *CasesHandler) RecordComment(c *fiber.Ctx) error {
	tc, err := tenantContext(c)
	if err != nil {
		return err
	}
	var req dto.CommentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	updated, err := h.cases.RecordAgentComment(c.UserContext(), tc, c.Params("id"), service.CommentInput{
		Body:           req.Body,
		IsPublic:       req.IsPublic,
		IdempotencyKey: strings.TrimSpace(c.Get(IdempotencyKeyHeader)),
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewCaseResponse(updated, h.clock.Now())})
}

// Transition POST /v1/cases/:id/transitions.
func (h *CasesHandler) Transition(c *fiber.Ctx) error {
	tc, err := tenantContext(c)
	if err != nil {
		return err
	}
	var req dto.TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.To == "" {
		return apperrors.NewValidationError("to required", map[string]any{"to": "required"})
	}
	updated, err := h.cases.Transition(c.UserContext(), tc, c.Params("id"), service.TransitionInput{
		To:              domain.CaseStatus(strings.ToUpper(string(req.To))),
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewCaseResponse(updated, h.clock.Now())})
}

// ListTransitions GET /v1/cases/:id/transitions.
func (h *CasesHandler) ListTransitions(c *fiber.Ctx) error {
	tc, err := tenantContext(c)
	if err != nil {
		return err
	}
	items, err := h.cases.ListTransitions(c.UserContext(), tc, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTransitionResponses(items)})
}

func tenantContext(c *fiber.Ctx) (domain.TenantContext, error) {
	tc, ok := auth.TenantContextFrom(c)
	if !ok {
		return domain.TenantContext{}, apperrors.NewUnauthorized("authentication required")
	}
	return tc, nil
}
