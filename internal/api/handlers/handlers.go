package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/followup-call-service/internal/app"
	callsvc "github.com/acme/followup-call-service/internal/service/call"
)

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	container *app.Container
	calls     *callsvc.Service
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(container *app.Container) *HandlerSet {
	return &HandlerSet{
		container: container,
		calls:     container.CallService(),
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	calls := v1.Group("/calls")
	calls.Post("/medical", h.startCall)
	calls.Get("/status", h.serviceStatus)
	calls.Get("/active", h.activeCalls)
	calls.Get("/:id", h.getCall)
	calls.Post("/:id/hangup", h.hangupCall)
	calls.Post("/:id/retry", h.retryCall)

	results := v1.Group("/results")
	results.Get("/:id", h.getResult)

	patients := v1.Group("/patients")
	patients.Get("/:id/results", h.listPatientResults)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.container.Logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)

	if err := h.container.Postgres.Ping(healthCtx); err != nil {
		errs["postgres"] = err.Error()
	}

	if err := h.container.Redis.Ping(healthCtx); err != nil {
		errs["redis"] = err.Error()
	}

	if err := h.container.Scylla.Ping(healthCtx); err != nil {
		errs["scylla"] = err.Error()
	}

	if !h.container.Manager.Connected() {
		errs["manager"] = "disconnected"
	}

	status := fiber.StatusOK
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
	}

	return ctx.Status(status).JSON(fiber.Map{"status": "ok", "errors": errs})
}
