package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus enumerates lifecycle stages for an outbound follow-up call.
type CallStatus string

const (
	CallStatusPending   CallStatus = "pending"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusConnected CallStatus = "connected"
	CallStatusInDialog  CallStatus = "in_dialog"
	CallStatusCompleted CallStatus = "completed"
	CallStatusFailed    CallStatus = "failed"
	CallStatusEmergency CallStatus = "emergency"
)

// Terminal reports whether the status admits no further transitions.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusEmergency:
		return true
	}
	return false
}

// transitions is the allowed status state machine. Any status may move to
// failed; terminal statuses have no successors.
var transitions = map[CallStatus][]CallStatus{
	CallStatusPending:   {CallStatusRinging, CallStatusFailed},
	CallStatusRinging:   {CallStatusConnected, CallStatusFailed},
	CallStatusConnected: {CallStatusInDialog, CallStatusFailed},
	CallStatusInDialog:  {CallStatusInDialog, CallStatusCompleted, CallStatusEmergency, CallStatusFailed},
}

// CanTransition reports whether from -> to is a legal status move.
func CanTransition(from, to CallStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PatientContext is the immutable context attached to a call at origination.
type PatientContext struct {
	HospitalID       string `json:"hospital_id"`
	PatientID        string `json:"patient_id"`
	PatientName      string `json:"patient_name"`
	PatientFirstName string `json:"patient_first_name"`
	PhoneNumber      string `json:"phone_number"`
}

// Call represents one outbound medical follow-up call.
type Call struct {
	ID              uuid.UUID
	Patient         PatientContext
	ChannelHandle   string
	Status          CallStatus
	Responses       map[string]Answer
	CurrentQuestion string
	Score           *int
	Attempts        int
	MaxAttempts     int
	StartTime       time.Time
	EndTime         *time.Time
	LastError       *string
}

// NewCall allocates a pending call for the given patient context.
func NewCall(patient PatientContext, maxAttempts int) *Call {
	return &Call{
		ID:          uuid.New(),
		Patient:     patient,
		Status:      CallStatusPending,
		Responses:   make(map[string]Answer),
		Attempts:    1,
		MaxAttempts: maxAttempts,
		StartTime:   time.Now().UTC(),
	}
}

// Clone returns a deep copy safe to hand outside the registry lock.
func (c *Call) Clone() *Call {
	dup := *c
	dup.Responses = make(map[string]Answer, len(c.Responses))
	for k, v := range c.Responses {
		dup.Responses[k] = v
	}
	if c.Score != nil {
		score := *c.Score
		dup.Score = &score
	}
	if c.EndTime != nil {
		end := *c.EndTime
		dup.EndTime = &end
	}
	if c.LastError != nil {
		msg := *c.LastError
		dup.LastError = &msg
	}
	return &dup
}
