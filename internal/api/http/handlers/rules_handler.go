package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticketflow/internal/api/dto"
	"github.com/spec-kit/ticketflow/internal/domain"
	"github.com/spec-kit/ticketflow/internal/service"
	apperrors "github.com/spec-kit/ticketflow/pkg/util/errorutil"
)

// RulesHandler exports the transition tables so clients can render choices.
type RulesHandler struct {
	tickets *service.TicketService
}

// NewRulesHandler constructs handler.
func NewRulesHandler(tickets *service.TicketService) *RulesHandler {
	return &RulesHandler{tickets: tickets}
}

// ListKinds GET /v1/kinds.
func (h *RulesHandler) ListKinds(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.tickets.Kinds()})
}

// GetRules GET /v1/kinds/:kind/rules.
func (h *RulesHandler) GetRules(c *fiber.Ctx) error {
	kind := domain.TicketKind(strings.ToUpper(c.Params("kind")))
	rules := h.tickets.TransitionRules(kind)
	if len(rules) == 0 {
		return apperrors.NewNotFound("ticket kind", map[string]any{"kind": string(kind)})
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"kind":  kind,
		"rules": dto.ToRuleResponses(rules),
	}})
}
