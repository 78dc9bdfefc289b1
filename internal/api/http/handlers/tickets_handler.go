package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticketflow/internal/api/dto"
	"github.com/spec-kit/ticketflow/internal/auth"
	"github.com/spec-kit/ticketflow/internal/domain"
	"github.com/spec-kit/ticketflow/internal/service"
	apperrors "github.com/spec-kit/ticketflow/pkg/util/errorutil"
)

// TicketsHandler manages ticket and detail endpoints.
type TicketsHandler struct {
	tickets    *service.TicketService
	lifecycle  *service.LifecycleService
	allocation *service.AllocationService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets *service.TicketService, lifecycle *service.LifecycleService, allocation *service.AllocationService) *TicketsHandler {
	return &TicketsHandler{tickets: tickets, lifecycle: lifecycle, allocation: allocation}
}

// CreateTicket POST /v1/tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	actor, err := requestActor(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	input := service.TicketCreateInput{Kind: req.Kind}
	for _, d := range req.Details {
		input.Details = append(input.Details, service.DetailCreateInput{
			VariantID:    strings.TrimSpace(d.VariantID),
			Quantity:     d.Quantity,
			ExpectedDate: d.ExpectedDate,
		})
	}
	ticket, err := h.tickets.CreateTicket(c.UserContext(), input, actor)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.ToTicketResponse(ticket, h.tickets.AllowedNextStatuses)})
}

// ListTickets GET /v1/tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	query := parseTicketListQuery(c)
	tickets, err := h.tickets.ListTickets(c.UserContext(), service.TicketListFilter{
		Kind:     query.Kind,
		Statuses: query.Statuses,
		Limit:    query.PageSize,
		Offset:   (query.Page - 1) * query.PageSize,
	})
	if err != nil {
		return err
	}
	summaries := make([]dto.TicketSummary, 0, len(tickets))
	for _, t := range tickets {
		summaries = append(summaries, dto.ToTicketSummary(t))
	}
	return c.JSON(fiber.Map{
		"data": summaries,
		"meta": fiber.Map{"page": query.Page, "page_size": query.PageSize},
	})
}

// GetTicket GET /v1/tickets/:ticketId.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.tickets.GetTicket(c.UserContext(), c.Params("ticketId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ToTicketResponse(ticket, h.tickets.AllowedNextStatuses)})
}

// CancelTicket POST /v1/tickets/:ticketId/cancel.
func (h *TicketsHandler) CancelTicket(c *fiber.Ctx) error {
	actor, err := requestActor(c)
	if err != nil {
		return err
	}
	var req dto.CancelRequest
	if err := parseOptionalBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.lifecycle.CancelTicket(c.UserContext(), c.Params("ticketId"), req.Reason, actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ToTicketResponse(ticket, h.tickets.AllowedNextStatuses)})
}

// GetDetail GET /v1/tickets/:ticketId/details/:detailId.
func (h *TicketsHandler) GetDetail(c *fiber.Ctx) error {
	detail, err := h.tickets.GetDetail(c.UserContext(), c.Params("ticketId"), c.Params("detailId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ToDetailResponse(detail, h.tickets.AllowedNextStatuses)})
}

// TransitionDetail POST /v1/tickets/:ticketId/details/:detailId/transitions.
func (h *TicketsHandler) TransitionDetail(c *fiber.Ctx) error {
	actor, err := requestActor(c)
	if err != nil {
		return err
	}
	var req dto.TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Status == "" {
		return apperrors.NewValidationError("status required", nil)
	}
	detail, err := h.lifecycle.RequestTransition(c.UserContext(), c.Params("ticketId"), c.Params("detailId"), service.TransitionInput{
		Status: req.Status,
		Note:   req.Note,
		Expect: service.Expectation{Status: req.ExpectedStatus, Version: req.ExpectedVersion},
	}, actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ToDetailResponse(detail, h.tickets.AllowedNextStatuses)})
}

// CancelDetail POST /v1/tickets/:ticketId/details/:detailId/cancel.
func (h *TicketsHandler) CancelDetail(c *fiber.Ctx) error {
	actor, err := requestActor(c)
	if err != nil {
		return err
	}
	var req dto.CancelRequest
	if err := parseOptionalBody(c, &req); err != nil {
		return err
	}
	detail, err := h.lifecycle.CancelDetail(c.UserContext(), c.Params("ticketId"), c.Params("detailId"), service.CancelInput{
		Reason: req.Reason,
		Expect: service.Expectation{Status: req.ExpectedStatus, Version: req.ExpectedVersion},
	}, actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ToDetailResponse(detail, h.tickets.AllowedNextStatuses)})
}

// AllocateDetail POST /v1/tickets/:ticketId/details/:detailId/allocate.
func (h *TicketsHandler) AllocateDetail(c *fiber.Ctx) error {
	actor, err := requestActor(c)
	if err != nil {
		return err
	}
	var req dto.AllocateRequest
	if err := parseOptionalBody(c, &req); err != nil {
		return err
	}
	detail, err := h.allocation.Allocate(c.UserContext(), c.Params("ticketId"), c.Params("detailId"), service.Expectation{
		Status:  req.ExpectedStatus,
		Version: req.ExpectedVersion,
	}, actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ToDetailResponse(detail, h.tickets.AllowedNextStatuses)})
}

// parseOptionalBody leaves out at its zero value when the request has no body, so a
// missing reason reaches the service instead of failing as a bad payload.
func parseOptionalBody(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	return nil
}

func requestActor(c *fiber.Ctx) (domain.Actor, error) {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		return domain.Actor{}, apperrors.NewUnauthorized("authentication required")
	}
	return actor, nil
}

func parseTicketListQuery(c *fiber.Ctx) dto.TicketListQuery {
	query := dto.TicketListQuery{
		Page:     parseInt(c.Query("page"), 1),
		PageSize: parseInt(c.Query("page_size"), 20),
	}
	if kind := strings.TrimSpace(c.Query("kind")); kind != "" {
		k := domain.TicketKind(strings.ToUpper(kind))
		query.Kind = &k
	}
	if statusStr := c.Query("status"); statusStr != "" {
		for _, part := range strings.Split(statusStr, ",") {
			if part = strings.TrimSpace(part); part != "" {
				query.Statuses = append(query.Statuses, domain.Status(strings.ToUpper(part)))
			}
		}
	}
	return query
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
