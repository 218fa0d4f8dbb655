package web

import (
	"github.com/dukex/director/pkg/models"
	"github.com/gofiber/fiber/v3"
)

// ListNodes returns the workflow's nodes together with the control-flow
// forest rebuilt from them.
func (h *APIHandlers) ListNodes(c fiber.Ctx) error {
	nodes, err := h.nodeService.List(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	forest, err := h.builder.Build(nodes)
	if err != nil {
		return handleServiceError(c, err)
	}

	dangling := forest.Dangling
	if dangling == nil {
		dangling = []*models.DanglingReferenceError{}
	}

	return c.JSON(NodesResponse{Nodes: nodes, Tree: forest, Dangling: dangling})
}

func (h *APIHandlers) GetNode(c fiber.Ctx) error {
	ref, err := models.ParseNodeRef(c.Params("ref"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	node, err := h.nodeService.Get(c.Context(), c.Params("id"), ref)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(node)
}

func (h *APIHandlers) CreateNode(c fiber.Ctx) error {
	var req CreateNodeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	node, err := h.nodeService.Create(c.Context(), c.Params("id"), req.toService())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(node)
}

func (h *APIHandlers) UpdateNode(c fiber.Ctx) error {
	ref, err := models.ParseNodeRef(c.Params("ref"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req UpdateNodeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	node, err := h.nodeService.Update(c.Context(), c.Params("id"), ref, req.toPatch())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(node)
}

func (h *APIHandlers) DeleteNode(c fiber.Ctx) error {
	ref, err := models.ParseNodeRef(c.Params("ref"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.nodeService.Delete(c.Context(), c.Params("id"), ref); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
