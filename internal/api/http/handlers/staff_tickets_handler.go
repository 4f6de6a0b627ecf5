package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-sla/internal/api/dto"
	"github.com/spec-kit/helpdesk-sla/internal/service"
	apperrors "github.com/spec-kit/helpdesk-sla/pkg/util"
)

// StaffTicketsHandler handles multi-ticket staff operations.
type StaffTicketsHandler struct {
	bulk  *service.BulkService
	merge *service.MergeService
}

// NewStaffTicketsHandler constructs handler.
func NewStaffTicketsHandler(bulkService *service.BulkService, mergeService *service.MergeService) *StaffTicketsHandler {
	return &StaffTicketsHandler{bulk: bulkService, merge: mergeService}
}

// BulkUpdate POST /tickets/bulk.
func (h *StaffTicketsHandler) BulkUpdate(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.BulkUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	result, err := h.bulk.BulkUpdate(c.UserContext(), req.TicketIDs, updateInput(req.UpdateTicketRequest), principal.User.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.BulkUpdateResponse{
		UpdatedCount: result.UpdatedCount,
		FailedIDs:    result.FailedIDs,
	}})
}

// Merge POST /tickets/:id/merge.
func (h *StaffTicketsHandler) Merge(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.MergeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.merge.Merge(c.UserContext(), c.Params("id"), req.SecondaryIDs, principal.User.ID, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}
