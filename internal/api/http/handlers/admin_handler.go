package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-sla/internal/api/dto"
	"github.com/spec-kit/helpdesk-sla/internal/domain"
	"github.com/spec-kit/helpdesk-sla/internal/scanner"
	"github.com/spec-kit/helpdesk-sla/internal/service"
	apperrors "github.com/spec-kit/helpdesk-sla/pkg/util"
)

// ScanTrigger runs one breach scan on demand.
type ScanTrigger interface {
	RunOnce(ctx context.Context) (scanner.Report, bool, error)
}

// AdminHandler exposes administrative SLA endpoints.
type AdminHandler struct {
	policies *service.PolicyService
	scans    ScanTrigger
}

// NewAdminHandler constructs handler.
func NewAdminHandler(policies *service.PolicyService, scans ScanTrigger) *AdminHandler {
	return &AdminHandler{policies: policies, scans: scans}
}

// ListPolicies GET /admin/sla-policies.
func (h *AdminHandler) ListPolicies(c *fiber.Ctx) error {
	table, err := h.policies.Table(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": table.List()})
}

// UpdatePolicy PUT /admin/sla-policies/:priority.
func (h *AdminHandler) UpdatePolicy(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.UpdatePolicyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	policy, err := h.policies.UpdatePolicy(c.UserContext(), principal.User.ID, domain.SLAPolicy{
		Priority:                domain.TicketPriority(strings.ToUpper(c.Params("priority"))),
		ResolutionBudgetMinutes: req.ResolutionBudgetMinutes,
		ResponseBudgetMinutes:   req.ResponseBudgetMinutes,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": policy})
}

// TriggerScan POST /admin/sla-scan.
func (h *AdminHandler) TriggerScan(c *fiber.Ctx) error {
	started := time.Now().UTC()
	report, ran, err := h.scans.RunOnce(c.UserContext())
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	return c.JSON(fiber.Map{"data": dto.ScanResponse{
		Ran:                   ran,
		RanAt:                 started,
		ResolutionBreached:    nonNil(report.ResolutionBreached),
		FirstResponseBreached: nonNil(report.FirstResponseBreached),
		Failed:                report.Failed,
	}})
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
