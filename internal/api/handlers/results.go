package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func (h *HandlerSet) getResult(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}

	result, err := h.container.Repositories().Results.Get(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(result)
}

func (h *HandlerSet) listPatientResults(ctx *fiber.Ctx) error {
	patientID := ctx.Params("id")
	if patientID == "" {
		return fiber.NewError(http.StatusBadRequest, "patient id required")
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "50"))
	results, err := h.container.Repositories().Results.ListByPatient(ctx.Context(), patientID, limit)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"results": results,
		"count":   len(results),
	})
}
