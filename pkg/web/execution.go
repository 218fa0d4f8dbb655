package web

import (
	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/state"
	"github.com/dukex/director/pkg/workflow"
	"github.com/gofiber/fiber/v3"
)

// RunRoute runs the requested branches of a route on the workflow
// variables. A single branch runs on the workflow scope and its writes are
// persisted; several branches run concurrently on private forks.
func (h *APIHandlers) RunRoute(c fiber.Ctx) error {
	var req RunRouteRequest
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

	workflowID := c.Params("id")

	store, err := h.variables.Load(c.Context(), workflowID)
	if err != nil {
		return handleServiceError(c, err)
	}

	executionID := workflow.NewExecutionID()

	scope := state.NewScope(store)

	var (
		results []*models.BranchResult
		runErr  error
	)

	if len(req.Branches) == 1 {
		var result *models.BranchResult

		result, runErr = h.executor.RunRoute(c.Context(), executionID, workflowID, ref, req.Branches[0], scope)
		if result != nil {
			results = []*models.BranchResult{result}
		}
	} else {
		results, runErr = h.executor.RunBranches(c.Context(), executionID, workflowID, ref, req.Branches, scope)
	}

	if results == nil {
		return handleServiceError(c, runErr)
	}

	if err := h.variables.Persist(c.Context(), workflowID, store); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"execution_id": executionID,
		"branches":     results,
		"error":        errorString(runErr),
	})
}

// RunIterate runs an iterate node over its list variable or records.
func (h *APIHandlers) RunIterate(c fiber.Ctx) error {
	var req RunIterateRequest
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

	workflowID := c.Params("id")

	store, err := h.variables.Load(c.Context(), workflowID)
	if err != nil {
		return handleServiceError(c, err)
	}

	executionID := workflow.NewExecutionID()

	result, runErr := h.executor.RunIterate(c.Context(), executionID, workflowID, ref, state.NewScope(store))
	if runErr != nil && (models.IsNotFound(runErr) || models.IsValidation(runErr)) && len(result.Iterations) == 0 {
		return handleServiceError(c, runErr)
	}

	if err := h.variables.Persist(c.Context(), workflowID, store); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"execution_id": executionID,
		"loop":         result,
		"error":        errorString(runErr),
	})
}

// GetVariables returns the value at ?path=, or the whole tree without it.
func (h *APIHandlers) GetVariables(c fiber.Ctx) error {
	workflowID := c.Params("id")
	path := c.Query("path")

	if path == "" {
		all, err := h.variables.All(c.Context(), workflowID)
		if err != nil {
			return handleServiceError(c, err)
		}

		return c.JSON(VariableResponse{Value: all})
	}

	value, ok, err := h.variables.Get(c.Context(), workflowID, path)
	if err != nil {
		return handleServiceError(c, err)
	}

	if !ok {
		return notFound(c, "variable "+path+" is not set")
	}

	return c.JSON(VariableResponse{Path: path, Value: value})
}

func (h *APIHandlers) SetVariable(c fiber.Ctx) error {
	var req SetVariableRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.variables.Set(c.Context(), c.Params("id"), req.Path, req.Value); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(VariableResponse(req))
}

// GetRecords lists the workflow records matching ?pattern=.
func (h *APIHandlers) GetRecords(c fiber.Ctx) error {
	records, err := h.records.QueryRecords(c.Context(), c.Params("id"), c.Query("pattern"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if records == nil {
		records = []*models.WorkflowRecord{}
	}

	return c.JSON(fiber.Map{"records": records})
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
