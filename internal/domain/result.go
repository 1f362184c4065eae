package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallResult is the finalized record handed to the persistence collaborator.
type CallResult struct {
	CallID      uuid.UUID         `json:"call_id"`
	PatientID   string            `json:"patient_id"`
	HospitalID  string            `json:"hospital_id"`
	PhoneNumber string            `json:"phone_number"`
	Responses   map[string]Answer `json:"responses"`
	Score       *int              `json:"score,omitempty"`
	Rationale   string            `json:"rationale,omitempty"`
	FinalStatus CallStatus        `json:"final_status"`
	Attempts    int               `json:"attempts"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     time.Time         `json:"end_time"`
	FailReason  string            `json:"fail_reason,omitempty"`
}

// ResultFromCall builds the emission payload from a terminal call record.
func ResultFromCall(call *Call) CallResult {
	end := time.Now().UTC()
	if call.EndTime != nil {
		end = *call.EndTime
	}
	result := CallResult{
		CallID:      call.ID,
		PatientID:   call.Patient.PatientID,
		HospitalID:  call.Patient.HospitalID,
		PhoneNumber: call.Patient.PhoneNumber,
		Responses:   call.Responses,
		Score:       call.Score,
		FinalStatus: call.Status,
		Attempts:    call.Attempts,
		StartTime:   call.StartTime,
		EndTime:     end,
	}
	if call.LastError != nil {
		result.FailReason = *call.LastError
	}
	return result
}
