package domain

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to CallStatus }{
		{CallStatusPending, CallStatusRinging},
		{CallStatusPending, CallStatusFailed},
		{CallStatusRinging, CallStatusConnected},
		{CallStatusRinging, CallStatusFailed},
		{CallStatusConnected, CallStatusInDialog},
		{CallStatusInDialog, CallStatusInDialog},
		{CallStatusInDialog, CallStatusCompleted},
		{CallStatusInDialog, CallStatusEmergency},
		{CallStatusInDialog, CallStatusFailed},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s must be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to CallStatus }{
		{CallStatusPending, CallStatusConnected},
		{CallStatusRinging, CallStatusCompleted},
		{CallStatusConnected, CallStatusCompleted},
		{CallStatusCompleted, CallStatusInDialog},
		{CallStatusFailed, CallStatusRinging},
		{CallStatusEmergency, CallStatusFailed},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s must be rejected", tc.from, tc.to)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []CallStatus{CallStatusCompleted, CallStatusFailed, CallStatusEmergency} {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
	for _, s := range []CallStatus{CallStatusPending, CallStatusRinging, CallStatusConnected, CallStatusInDialog} {
		if s.Terminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}

func TestMedicalQuestionnaireIsLinear(t *testing.T) {
	graph := MedicalQuestionnaire()
	if graph.Len() != 8 {
		t.Fatalf("questions = %d, want 8", graph.Len())
	}

	seen := make(map[string]bool)
	id := graph.Entry()
	for id != TerminalQuestion {
		if seen[id] {
			t.Fatalf("cycle at %s", id)
		}
		seen[id] = true
		q, ok := graph.Lookup(id)
		if !ok {
			t.Fatalf("dangling question id %s", id)
		}
		if q.PromptRef == "" {
			t.Fatalf("question %s has no prompt", id)
		}
		id = q.NextID
	}
	if len(seen) != 8 {
		t.Fatalf("walked %d questions, want 8", len(seen))
	}

	last, _ := graph.Lookup("other_complaints")
	if last.Expect != ResponseFreeform {
		t.Fatalf("final question kind = %s, want freeform", last.Expect)
	}
}

func TestResultFromCall(t *testing.T) {
	call := NewCall(PatientContext{HospitalID: "H1", PatientID: "P1", PhoneNumber: "+33612345678"}, 3)
	call.Status = CallStatusFailed
	reason := "response timeout"
	call.LastError = &reason
	call.Responses["pain_level"] = Answer{Kind: ResponseNumeric, Number: 4}

	result := ResultFromCall(call)
	if result.CallID != call.ID || result.PatientID != "P1" || result.HospitalID != "H1" {
		t.Fatalf("identity fields lost: %+v", result)
	}
	if result.FinalStatus != CallStatusFailed || result.FailReason != "response timeout" {
		t.Fatalf("failure fields lost: %+v", result)
	}
	if result.Score != nil {
		t.Fatal("unscored call must carry no score")
	}
	if result.EndTime.IsZero() {
		t.Fatal("end time must be populated even without an explicit one")
	}
}
