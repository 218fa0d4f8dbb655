package web

import (
	"strconv"

	"github.com/dukex/director/pkg/models"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) ResolveRoute(c fiber.Ctx) error {
	var req ResolveRouteRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	ref, err := models.ParseNodeRef(req.RouteRef)
	if err != nil {
		return badRequest(c, err.Error())
	}

	report, err := h.resolver.ResolveRoute(c.Context(), c.Params("id"), ref)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(report)
}

func (h *APIHandlers) ResolveIterate(c fiber.Ctx) error {
	var req ResolveIterateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	ref, err := models.ParseNodeRef(req.IterateRef)
	if err != nil {
		return badRequest(c, err.Error())
	}

	report, err := h.resolver.ResolveIterate(c.Context(), c.Params("id"), ref)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(report)
}

// ResolveAll resolves every route and iterate node of the workflow.
func (h *APIHandlers) ResolveAll(c fiber.Ctx) error {
	report, err := h.resolver.ResolveAll(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(report)
}

// RenumberPreorder renumbers the workflow, or only previews the changes
// with ?dry_run=true.
func (h *APIHandlers) RenumberPreorder(c fiber.Ctx) error {
	dryRun := false

	if raw := c.Query("dry_run"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest(c, "Invalid dry_run: "+err.Error())
		}

		dryRun = parsed
	}

	var (
		changes []models.PositionChange
		err     error
	)

	if dryRun {
		changes, err = h.renumber.Preview(c.Context(), c.Params("id"))
	} else {
		changes, err = h.renumber.RenumberPreorder(c.Context(), c.Params("id"))
	}

	if err != nil {
		return handleServiceError(c, err)
	}

	if changes == nil {
		changes = []models.PositionChange{}
	}

	return c.JSON(fiber.Map{"changes": changes, "dry_run": dryRun})
}
