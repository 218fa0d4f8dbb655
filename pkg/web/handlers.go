// Package web provides HTTP handlers and REST API endpoints for workflow
// graph management.
package web

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/director/pkg/graph"
	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/protocol"
	"github.com/dukex/director/pkg/registry"
	"github.com/dukex/director/pkg/renumber"
	"github.com/dukex/director/pkg/resolver"
	"github.com/dukex/director/pkg/services"
	"github.com/dukex/director/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// Dependencies are the services the API is served from.
type Dependencies struct {
	Workflows *services.Workflow
	Nodes     *services.Node
	Variables *services.Variables
	Resolver  *resolver.Resolver
	Renumber  *renumber.Service
	Executor  *workflow.Executor
	Records   protocol.RecordSource
	Registry  *registry.Registry
	Validator *validator.Validate
	Logger    *slog.Logger
}

type APIHandlers struct {
	workflowService *services.Workflow
	nodeService     *services.Node
	variables       *services.Variables
	resolver        *resolver.Resolver
	renumber        *renumber.Service
	executor        *workflow.Executor
	records         protocol.RecordSource
	registry        *registry.Registry
	validator       *validator.Validate
	builder         *graph.Builder
	logger          *slog.Logger
}

func NewAPIHandlers(deps Dependencies) *APIHandlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	v := deps.Validator
	if v == nil {
		v = validator.New(validator.WithRequiredStructEnabled())
	}

	return &APIHandlers{
		workflowService: deps.Workflows,
		nodeService:     deps.Nodes,
		variables:       deps.Variables,
		resolver:        deps.Resolver,
		renumber:        deps.Renumber,
		executor:        deps.Executor,
		records:         deps.Records,
		registry:        deps.Registry,
		validator:       v,
		builder:         graph.NewBuilder(logger),
		logger:          logger.With("module", "web"),
	}
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req, err := h.parseListWorkflowsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.workflowService.ListWorkflows(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":     result.Workflows,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
		"sorting": fiber.Map{
			"sort_by":    req.SortBy,
			"sort_order": req.SortOrder,
		},
	})
}

// parseListWorkflowsRequest parses query parameters for listing workflows.
func (h *APIHandlers) parseListWorkflowsRequest(c fiber.Ctx) (*services.ListWorkflowsRequest, error) {
	req := &services.ListWorkflowsRequest{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		req.Offset = offset
	}

	req.OwnerID = c.Query("owner_id")
	req.SortBy = c.Query("sort_by")
	req.SortOrder = c.Query("sort_order")

	return req, nil
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	nodes := req.Nodes
	if nodes == nil {
		nodes = []*models.Node{}
	}

	created, err := h.workflowService.Create(c.Context(), &models.Workflow{
		Name:        req.Name,
		Description: req.Description,
		Variables:   req.Variables,
		Metadata:    req.Metadata,
		Owner:       req.Owner,
		Nodes:       nodes,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.workflowService.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	actions := []string{}
	if h.registry != nil {
		actions = h.registry.ActionTypes()
	}

	status := "unhealthy"
	message := "Director API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk && len(actions) > 0 {
		status = "healthy"
		message = "Director API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   actions,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
