package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/followup-call-service/internal/ami"
	"github.com/acme/followup-call-service/internal/dialog"
	"github.com/acme/followup-call-service/pkg/logger"
)

type delivered struct {
	callID uuid.UUID
	note   dialog.Note
}

// fakeDialog records notifications and reports known as the delivery result.
type fakeDialog struct {
	mu        sync.Mutex
	notes     []delivered
	known     map[uuid.UUID]bool
	failedAll bool
}

func newFakeDialog(known ...uuid.UUID) *fakeDialog {
	f := &fakeDialog{known: make(map[uuid.UUID]bool)}
	for _, id := range known {
		f.known[id] = true
	}
	return f
}

func (f *fakeDialog) Notify(callID uuid.UUID, note dialog.Note) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, delivered{callID, note})
	return f.known[callID]
}

func (f *fakeDialog) FailAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedAll = true
}

func (f *fakeDialog) recorded() []delivered {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivered(nil), f.notes...)
}

func (f *fakeDialog) didFailAll() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failedAll
}

func runDispatcher(t *testing.T, events chan ami.Event, dlg DialogNotifier) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(events, dlg, logger.Nop()).Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Fatalf("dispatcher: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("dispatcher never returned")
		}
	}
}

func event(name string, callID uuid.UUID, extra map[string]string) ami.Event {
	fields := map[string]string{
		"Channel":          "SIP/+33612345678-0001",
		"Variable_CALL_ID": callID.String(),
	}
	for k, v := range extra {
		fields[k] = v
	}
	return ami.Event{Name: name, Fields: fields}
}

func waitNotes(t *testing.T, dlg *fakeDialog, n int) []delivered {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		got := dlg.recorded()
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d notes delivered", len(got), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventsMapToTypedNotes(t *testing.T) {
	id := uuid.New()
	dlg := newFakeDialog(id)
	events := make(chan ami.Event, 8)
	stop := runDispatcher(t, events, dlg)
	defer stop()

	events <- event(ami.EventChannelCreated, id, nil)
	events <- event(ami.EventChannelAnswered, id, nil)
	events <- event(ami.EventDTMFReceived, id, map[string]string{"Digit": "7"})
	events <- event(ami.EventPlaybackFinished, id, nil)
	events <- event(ami.EventHangup, id, map[string]string{"Cause": "17"})

	got := waitNotes(t, dlg, 5)
	wantKinds := []dialog.NoteKind{
		dialog.NoteChannelCreated,
		dialog.NoteAnswered,
		dialog.NoteDigit,
		dialog.NotePlaybackFinished,
		dialog.NoteHangup,
	}
	for i, want := range wantKinds {
		if got[i].callID != id {
			t.Fatalf("note %d routed to %s", i, got[i].callID)
		}
		if got[i].note.Kind != want {
			t.Fatalf("note %d kind = %d, want %d", i, got[i].note.Kind, want)
		}
	}
	if got[2].note.Digit != "7" {
		t.Fatalf("digit = %q", got[2].note.Digit)
	}
	if got[4].note.Cause != "user_busy" {
		t.Fatalf("hangup cause = %q", got[4].note.Cause)
	}
}

func TestOrphanEventsDropped(t *testing.T) {
	sentinel := uuid.New()
	dlg := newFakeDialog(sentinel)
	events := make(chan ami.Event, 8)
	stop := runDispatcher(t, events, dlg)
	defer stop()

	// No correlation variable at all.
	events <- ami.Event{Name: ami.EventHangup, Fields: map[string]string{"Channel": "SIP/manual-0001"}}
	// Malformed correlation variable.
	events <- ami.Event{Name: ami.EventHangup, Fields: map[string]string{
		"Channel":          "SIP/manual-0002",
		"Variable_CALL_ID": "not-a-uuid",
	}}
	// Unhandled event name for a well-formed id.
	events <- event("FullyBooted", uuid.New(), nil)
	// Ordered stream: once the sentinel lands, the orphans went through.
	events <- event(ami.EventChannelAnswered, sentinel, nil)

	got := waitNotes(t, dlg, 1)
	if len(got) != 1 || got[0].callID != sentinel {
		t.Fatalf("orphan events reached the dialog layer: %v", got)
	}
}

func TestUndeliveredNoteIsNoOp(t *testing.T) {
	// The id is well formed but no session exists: a duplicate hangup for
	// an already terminal call. The dispatcher must move on.
	id := uuid.New()
	dlg := newFakeDialog() // knows nothing
	events := make(chan ami.Event, 8)
	stop := runDispatcher(t, events, dlg)
	defer stop()

	events <- event(ami.EventHangup, id, map[string]string{"Cause": "16"})
	events <- event(ami.EventHangup, id, map[string]string{"Cause": "16"})

	got := waitNotes(t, dlg, 2)
	if len(got) != 2 {
		t.Fatalf("notes = %d", len(got))
	}
}

func TestStreamClosureFailsActiveCalls(t *testing.T) {
	dlg := newFakeDialog()
	events := make(chan ami.Event)
	done := make(chan error, 1)
	go func() { done <- New(events, dlg, logger.Nop()).Run(context.Background()) }()

	close(events)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not return on stream closure")
	}
	if !dlg.didFailAll() {
		t.Fatal("active calls were not failed on disconnect")
	}
}
