package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/followup-call-service/internal/domain"
	callsvc "github.com/acme/followup-call-service/internal/service/call"
)

type startCallRequest struct {
	HospitalID       string `json:"hospital_id"`
	PatientNumber    string `json:"patient_number"`
	PatientID        string `json:"patient_id"`
	PatientName      string `json:"patient_name"`
	PatientFirstName string `json:"patient_first_name"`
}

type callResponse struct {
	CallID          string            `json:"call_id"`
	ChannelHandle   string            `json:"channel_handle,omitempty"`
	Status          domain.CallStatus `json:"status"`
	HospitalID      string            `json:"hospital_id"`
	PatientID       string            `json:"patient_id"`
	PhoneNumber     string            `json:"phone_number"`
	CurrentQuestion string            `json:"current_question,omitempty"`
	Score           *int              `json:"score,omitempty"`
	Attempts        int               `json:"attempts"`
	MaxAttempts     int               `json:"max_attempts"`
	StartTime       time.Time         `json:"start_time"`
	EndTime         *time.Time        `json:"end_time,omitempty"`
	LastError       *string           `json:"last_error,omitempty"`
}

func (h *HandlerSet) startCall(ctx *fiber.Ctx) error {
	var req startCallRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	record, err := h.calls.StartCall(ctx.Context(), callsvc.StartCallInput{
		HospitalID:       req.HospitalID,
		PatientNumber:    req.PatientNumber,
		PatientID:        req.PatientID,
		PatientName:      req.PatientName,
		PatientFirstName: req.PatientFirstName,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusAccepted).JSON(toCallResponse(record))
}

func (h *HandlerSet) serviceStatus(ctx *fiber.Ctx) error {
	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"connected":    h.calls.Connected(),
		"active_calls": len(h.calls.ActiveCalls(ctx.Context())),
		"timestamp":    time.Now().UTC(),
	})
}

func (h *HandlerSet) activeCalls(ctx *fiber.Ctx) error {
	active := h.calls.ActiveCalls(ctx.Context())
	calls := make([]callResponse, 0, len(active))
	for _, record := range active {
		calls = append(calls, toCallResponse(record))
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"calls": calls,
		"count": len(calls),
	})
}

func (h *HandlerSet) getCall(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}

	record, err := h.calls.GetCall(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCallResponse(record))
}

func (h *HandlerSet) hangupCall(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}

	if err := h.calls.Hangup(ctx.Context(), id); err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"cancelled": true})
}

func (h *HandlerSet) retryCall(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}

	record, err := h.calls.Retry(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusAccepted).JSON(toCallResponse(record))
}

func toCallResponse(call *domain.Call) callResponse {
	return callResponse{
		CallID:          call.ID.String(),
		ChannelHandle:   call.ChannelHandle,
		Status:          call.Status,
		HospitalID:      call.Patient.HospitalID,
		PatientID:       call.Patient.PatientID,
		PhoneNumber:     call.Patient.PhoneNumber,
		CurrentQuestion: call.CurrentQuestion,
		Score:           call.Score,
		Attempts:        call.Attempts,
		MaxAttempts:     call.MaxAttempts,
		StartTime:       call.StartTime,
		EndTime:         call.EndTime,
		LastError:       call.LastError,
	}
}
