package web

import (
	"errors"

	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// retryableProblem is returned when a renumbering stopped halfway: the
// client must re-read the workflow and may run it again.
type retryableProblem struct {
	*problems.Problem
	Retryable bool `json:"retryable"`
	Applied   int  `json:"applied"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError maps domain and service errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	var partial *models.PartialRenumberError

	switch {
	case errors.As(err, &partial):
		problem := &retryableProblem{
			Problem: problems.NewStatusProblem(500).
				WithInstance(c.Path()).
				WithType("partial_renumber").
				WithDetail(err.Error()),
			Retryable: true,
			Applied:   partial.Applied,
		}

		return c.Status(fiber.StatusInternalServerError).JSON(problem)

	case services.IsNotFoundError(err):
		return notFound(c, err.Error())

	case services.IsConflictError(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	default:
		return internalError(c, err)
	}
}
