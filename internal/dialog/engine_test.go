package dialog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/followup-call-service/internal/ami"
	"github.com/acme/followup-call-service/internal/config"
	"github.com/acme/followup-call-service/internal/domain"
	"github.com/acme/followup-call-service/internal/registry"
	"github.com/acme/followup-call-service/internal/scoring"
	"github.com/acme/followup-call-service/pkg/logger"
)

// fakeSender accepts every action and records it for later inspection. A
// non-nil gate stalls every Send until the gate is closed; set it before any
// session starts.
type fakeSender struct {
	gate chan struct{}

	mu      sync.Mutex
	actions []ami.Action
}

func (f *fakeSender) Send(ctx context.Context, action ami.Action) (ami.Response, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return ami.Response{Success: true, Fields: map[string]string{}}, nil
}

func (f *fakeSender) sent(name string) []ami.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ami.Action
	for _, a := range f.actions {
		if a.Name == name {
			out = append(out, a)
		}
	}
	return out
}

// fakeSink collects emitted results on a channel.
type fakeSink struct {
	results chan domain.CallResult
}

func newFakeSink() *fakeSink {
	return &fakeSink{results: make(chan domain.CallResult, 8)}
}

func (f *fakeSink) EmitResult(ctx context.Context, result domain.CallResult) error {
	f.results <- result
	return nil
}

func (f *fakeSink) wait(t *testing.T) domain.CallResult {
	t.Helper()
	select {
	case r := <-f.results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no result emitted")
		return domain.CallResult{}
	}
}

type harness struct {
	mgr    *Manager
	reg    *registry.Registry
	sender *fakeSender
	sink   *fakeSink
}

func newHarness(t *testing.T, responseTimeout time.Duration) *harness {
	t.Helper()
	sender := &fakeSender{}
	sink := newFakeSink()
	reg := registry.New(16)
	mgr := NewManager(
		config.DialogConfig{ResponseTimeout: responseTimeout, AudioPrefix: "followup"},
		config.ManagerConfig{EmergencyContext: "emergency"},
		sender, reg, scoring.NewEngine(), nil, nil, sink, logger.Nop(),
	)
	return &harness{mgr: mgr, reg: reg, sender: sender, sink: sink}
}

func (h *harness) startRinging(t *testing.T, patientID string) uuid.UUID {
	t.Helper()
	call, err := h.reg.Create(domain.PatientContext{
		HospitalID:  "H1",
		PatientID:   patientID,
		PhoneNumber: "+33612345678",
	}, 3)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.reg.Update(call.ID, func(c *domain.Call) error {
		c.Status = domain.CallStatusRinging
		return nil
	}); err != nil {
		t.Fatalf("to ringing: %v", err)
	}
	return call.ID
}

func (h *harness) connect(t *testing.T, id uuid.UUID) {
	t.Helper()
	h.mgr.Register(id, nil)
	if !h.mgr.Notify(id, Note{Kind: NoteChannelCreated, Channel: "SIP/+33612345678-0001"}) {
		t.Fatal("no session for channel note")
	}
	if !h.mgr.Notify(id, Note{Kind: NoteAnswered}) {
		t.Fatal("no session for answered note")
	}
}

// answerAll feeds one captured response per question, in script order.
func (h *harness) answerAll(t *testing.T, id uuid.UUID, raws []string) {
	t.Helper()
	for _, raw := range raws {
		if !h.mgr.Notify(id, Note{Kind: NoteDigit, Digit: raw}) {
			t.Fatalf("no session to deliver %q", raw)
		}
	}
}

func TestFullQuestionnaireCompletes(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	id := h.startRinging(t, "P1")
	h.connect(t, id)

	// Benign answers end to end: identity confirmed, low pain, medication
	// taken, normal transit, good mood, no fever, nothing to report.
	h.answerAll(t, id, []string{"1", "15061960", "2", "1", "1", "8", "0", ""})

	result := h.sink.wait(t)
	if result.FinalStatus != domain.CallStatusCompleted {
		t.Fatalf("final status = %s, want completed", result.FinalStatus)
	}
	if result.Score == nil || *result.Score != 100 {
		t.Fatalf("score = %v, want 100", result.Score)
	}
	if len(result.Responses) != 8 {
		t.Fatalf("responses = %d, want 8", len(result.Responses))
	}
	if result.Responses["birth_date"].Date == nil {
		t.Fatal("birth date was not parsed")
	}

	record, err := h.reg.Get(id)
	if err != nil {
		t.Fatalf("record must survive as history: %v", err)
	}
	if record.Status != domain.CallStatusCompleted || record.EndTime == nil {
		t.Fatalf("record not finalized: %+v", record)
	}

	if got := h.sender.sent("Hangup"); len(got) != 1 {
		t.Fatalf("hangup actions = %d, want 1", len(got))
	}
	playbacks := h.sender.sent("Playback")
	if len(playbacks) == 0 {
		t.Fatal("no playback actions recorded")
	}
	if playbacks[0].Fields["Filename"] != "followup/welcome" {
		t.Fatalf("first playback = %q, want welcome prompt", playbacks[0].Fields["Filename"])
	}
	last := playbacks[len(playbacks)-1]
	if last.Fields["Filename"] != "followup/call_ending" {
		t.Fatalf("last playback = %q, want closing prompt", last.Fields["Filename"])
	}
}

func TestConcerningAnswersLowerScore(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	id := h.startRinging(t, "P1")
	h.connect(t, id)

	// Pain 8, medication not taken, low mood and fever stack penalties.
	h.answerAll(t, id, []string{"1", "15061960", "8", "0", "1", "3", "1", ""})

	result := h.sink.wait(t)
	if result.Score == nil || *result.Score != 30 {
		t.Fatalf("score = %v, want 30", result.Score)
	}
}

func TestResponseTimeoutFailsCall(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond)
	id := h.startRinging(t, "P1")
	h.connect(t, id)

	// No answer ever arrives; the per-question window expires.
	result := h.sink.wait(t)
	if result.FinalStatus != domain.CallStatusFailed {
		t.Fatalf("final status = %s, want failed", result.FinalStatus)
	}
	if result.FailReason != "response timeout" {
		t.Fatalf("fail reason = %q", result.FailReason)
	}
	if result.Score != nil {
		t.Fatal("failed calls must not be scored")
	}
	if got := h.sender.sent("Hangup"); len(got) != 1 {
		t.Fatalf("hangup actions = %d, want 1", len(got))
	}
}

func TestTimeoutPreservesPartialResponses(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	id := h.startRinging(t, "P1")
	h.connect(t, id)

	h.answerAll(t, id, []string{"1", "15061960", "8"})

	result := h.sink.wait(t)
	if result.FinalStatus != domain.CallStatusFailed {
		t.Fatalf("final status = %s, want failed", result.FinalStatus)
	}
	if len(result.Responses) != 3 {
		t.Fatalf("partial responses = %d, want 3", len(result.Responses))
	}
	if result.Responses["pain_level"].Number != 8 {
		t.Fatalf("pain answer lost: %+v", result.Responses["pain_level"])
	}
}

func TestEmergencyKeywordDivertsCall(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	id := h.startRinging(t, "P1")
	h.connect(t, id)

	h.answerAll(t, id, []string{"1", "15061960", "2", "1", "1", "8", "0", "I need an ambulance"})

	result := h.sink.wait(t)
	if result.FinalStatus != domain.CallStatusEmergency {
		t.Fatalf("final status = %s, want emergency", result.FinalStatus)
	}
	if result.Score != nil {
		t.Fatal("emergency calls bypass scoring")
	}

	redirects := h.sender.sent("Redirect")
	if len(redirects) != 1 {
		t.Fatalf("redirect actions = %d, want 1", len(redirects))
	}
	if redirects[0].Fields["Context"] != "emergency" {
		t.Fatalf("redirect context = %q", redirects[0].Fields["Context"])
	}
	// The channel is handed to the urgent context, not hung up.
	if got := h.sender.sent("Hangup"); len(got) != 0 {
		t.Fatalf("hangup actions = %d, want none", len(got))
	}
}

func TestDuplicateAnsweredNoteIsIgnored(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	id := h.startRinging(t, "P1")
	h.connect(t, id)

	h.answerAll(t, id, []string{"1", "15061960"})
	// Managers redeliver state events; a second answered mid-dialog must
	// not disturb the running call.
	if !h.mgr.Notify(id, Note{Kind: NoteAnswered}) {
		t.Fatal("no session for duplicate answered note")
	}
	h.answerAll(t, id, []string{"2", "1", "1", "8", "0", ""})

	result := h.sink.wait(t)
	if result.FinalStatus != domain.CallStatusCompleted {
		t.Fatalf("final status = %s, want completed", result.FinalStatus)
	}
	if result.Score == nil || *result.Score != 100 {
		t.Fatalf("score = %v, want 100", result.Score)
	}
	if len(result.Responses) != 8 {
		t.Fatalf("responses = %d, want 8", len(result.Responses))
	}
	// The dialog was not restarted: the welcome prompt played once.
	welcomes := 0
	for _, a := range h.sender.sent("Playback") {
		if a.Fields["Filename"] == "followup/welcome" {
			welcomes++
		}
	}
	if welcomes != 1 {
		t.Fatalf("welcome prompts = %d, want 1", welcomes)
	}
}

func TestHangupMidDialogFails(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	id := h.startRinging(t, "P1")
	h.connect(t, id)

	h.answerAll(t, id, []string{"1", "15061960"})
	h.mgr.Notify(id, Note{Kind: NoteHangup, Cause: "user_busy"})

	result := h.sink.wait(t)
	if result.FinalStatus != domain.CallStatusFailed {
		t.Fatalf("final status = %s, want failed", result.FinalStatus)
	}
	if result.FailReason != "hangup: user_busy" {
		t.Fatalf("fail reason = %q", result.FailReason)
	}
}

func TestCancelHangsUpAndFails(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	id := h.startRinging(t, "P1")
	h.connect(t, id)

	if !h.mgr.Cancel(id) {
		t.Fatal("cancel found no session")
	}

	result := h.sink.wait(t)
	if result.FinalStatus != domain.CallStatusFailed {
		t.Fatalf("final status = %s, want failed", result.FinalStatus)
	}
	if result.FailReason != "cancelled by operator" {
		t.Fatalf("fail reason = %q", result.FailReason)
	}
	if got := h.sender.sent("Hangup"); len(got) != 1 {
		t.Fatalf("hangup actions = %d, want 1", len(got))
	}
}

func TestFailAllFailsLiveSessionsOnly(t *testing.T) {
	h := newHarness(t, 5*time.Second)

	done := h.startRinging(t, "P-done")
	h.connect(t, done)
	h.answerAll(t, done, []string{"1", "15061960", "2", "1", "1", "8", "0", ""})
	completed := h.sink.wait(t)
	if completed.FinalStatus != domain.CallStatusCompleted {
		t.Fatalf("setup call did not complete: %s", completed.FinalStatus)
	}

	first := h.startRinging(t, "P1")
	h.connect(t, first)
	second := h.startRinging(t, "P2")
	h.connect(t, second)

	h.mgr.FailAll()

	for i := 0; i < 2; i++ {
		result := h.sink.wait(t)
		if result.FinalStatus != domain.CallStatusFailed {
			t.Fatalf("final status = %s, want failed", result.FinalStatus)
		}
		if result.FailReason != "manager connection lost" {
			t.Fatalf("fail reason = %q", result.FailReason)
		}
	}

	record, err := h.reg.Get(done)
	if err != nil {
		t.Fatalf("completed record: %v", err)
	}
	if record.Status != domain.CallStatusCompleted {
		t.Fatalf("completed call was disturbed: %s", record.Status)
	}
}

func TestFailAllReachesBackloggedSession(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	h.sender.gate = make(chan struct{})

	id := h.startRinging(t, "P1")
	h.connect(t, id)

	// The session is stalled inside the welcome prompt; saturate its note
	// queue so an ordinary send would be dropped.
	for i := 0; i < 64; i++ {
		h.mgr.Notify(id, Note{Kind: NotePlaybackFinished})
	}

	h.mgr.FailAll()
	close(h.sender.gate)

	result := h.sink.wait(t)
	if result.FinalStatus != domain.CallStatusFailed {
		t.Fatalf("final status = %s, want failed", result.FinalStatus)
	}
	if result.FailReason != "manager connection lost" {
		t.Fatalf("fail reason = %q", result.FailReason)
	}
}

func TestAbortFailsBeforeChannelExists(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	id := h.startRinging(t, "P1")
	h.mgr.Register(id, nil)

	if !h.mgr.Abort(id, "originate rejected") {
		t.Fatal("abort found no session")
	}

	result := h.sink.wait(t)
	if result.FinalStatus != domain.CallStatusFailed {
		t.Fatalf("final status = %s, want failed", result.FinalStatus)
	}
	if result.FailReason != "originate rejected" {
		t.Fatalf("fail reason = %q", result.FailReason)
	}
	// No channel was ever created, so nothing to hang up.
	if got := h.sender.sent("Hangup"); len(got) != 0 {
		t.Fatalf("hangup actions = %d, want none", len(got))
	}
}

func TestNotifyAfterTerminalReturnsFalse(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	id := h.startRinging(t, "P1")
	h.connect(t, id)
	h.answerAll(t, id, []string{"1", "15061960", "2", "1", "1", "8", "0", ""})
	h.sink.wait(t)

	// Session goroutines detach asynchronously after emitting.
	deadline := time.Now().Add(time.Second)
	for h.mgr.ActiveSessions() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session never detached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if h.mgr.Notify(id, Note{Kind: NoteHangup, Cause: "normal_clearing"}) {
		t.Fatal("terminal call must not accept notifications")
	}
}

func TestOnFinalRunsOnce(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	id := h.startRinging(t, "P1")

	calls := make(chan struct{}, 4)
	h.mgr.Register(id, func() { calls <- struct{}{} })
	h.mgr.Notify(id, Note{Kind: NoteChannelCreated, Channel: "SIP/+33612345678-0001"})
	h.mgr.Notify(id, Note{Kind: NoteAnswered})
	h.answerAll(t, id, []string{"1", "15061960", "2", "1", "1", "8", "0", ""})

	h.sink.wait(t)
	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("onFinal never ran")
	}
	select {
	case <-calls:
		t.Fatal("onFinal ran twice")
	case <-time.After(50 * time.Millisecond):
	}
}
