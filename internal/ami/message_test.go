package ami

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestWriteFrameDeterministic(t *testing.T) {
	var buf bytes.Buffer
	action := Playback("SIP/+33612345678-0001", "followup/pain_question")
	if err := writeFrame(bufio.NewWriter(&buf), action, "id-1"); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	want := "Action: Playback\r\n" +
		"ActionID: id-1\r\n" +
		"Channel: SIP/+33612345678-0001\r\n" +
		"Filename: followup/pain_question\r\n" +
		"\r\n"
	if buf.String() != want {
		t.Fatalf("frame mismatch:\n got %q\nwant %q", buf.String(), want)
	}
}

func TestReadFrame(t *testing.T) {
	raw := "Event: DTMFReceived\r\n" +
		"Channel: SIP/+33612345678-0001\r\n" +
		"Variable_CALL_ID: 4fa2\r\n" +
		"Digit: 7\r\n" +
		"\r\n"
	fields, err := readFrame(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if fields["Event"] != "DTMFReceived" || fields["Digit"] != "7" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if fields["Variable_CALL_ID"] != "4fa2" {
		t.Fatalf("correlation variable lost: %v", fields)
	}
}

func TestReadFrameSkipsMalformedLines(t *testing.T) {
	raw := "Event: Hangup\r\nnoise without separator\r\nCause: 16\r\n\r\n"
	fields, err := readFrame(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if fields["Cause"] != "16" {
		t.Fatalf("field after malformed line lost: %v", fields)
	}
	if len(fields) != 2 {
		t.Fatalf("fields = %v", fields)
	}
}

func TestOriginateCarriesCorrelationVariables(t *testing.T) {
	action := Originate("SIP/+33612345678", "followup-medical", "Hopital H1", map[string]string{
		"CALL_ID":     "4fa2",
		"PATIENT_ID":  "P1",
		"HOSPITAL_ID": "H1",
	}, 30000)

	if action.Name != "Originate" {
		t.Fatalf("name = %s", action.Name)
	}
	if action.Fields["Variable"] != "CALL_ID=4fa2,HOSPITAL_ID=H1,PATIENT_ID=P1" {
		t.Fatalf("variables = %q", action.Fields["Variable"])
	}
	if action.Fields["Timeout"] != "30000" {
		t.Fatalf("timeout = %q", action.Fields["Timeout"])
	}
	if action.Fields["Async"] != "true" {
		t.Fatal("originate must be asynchronous")
	}
}

func TestEventAccessors(t *testing.T) {
	ev := Event{Name: EventHangup, Fields: map[string]string{
		"Channel":          "SIP/+33612345678-0001",
		"Variable_CALL_ID": "4fa2",
		"Cause":            "17",
	}}
	if ev.Channel() != "SIP/+33612345678-0001" {
		t.Fatalf("channel = %q", ev.Channel())
	}
	if ev.CallID() != "4fa2" {
		t.Fatalf("call id = %q", ev.CallID())
	}
	if ev.Cause() != 17 {
		t.Fatalf("cause = %d", ev.Cause())
	}
	if CauseName(ev.Cause()) != "user_busy" {
		t.Fatalf("cause name = %q", CauseName(ev.Cause()))
	}
}
