package dialog

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/followup-call-service/internal/ami"
	"github.com/acme/followup-call-service/internal/config"
	"github.com/acme/followup-call-service/internal/domain"
	"github.com/acme/followup-call-service/internal/enrich"
	"github.com/acme/followup-call-service/internal/registry"
	"github.com/acme/followup-call-service/internal/scoring"
	"github.com/acme/followup-call-service/pkg/logger"
)

// ActionSender issues requests against the telephony manager. Implemented
// by the protocol client; tests swap in a scripted fake.
type ActionSender interface {
	Send(ctx context.Context, action ami.Action) (ami.Response, error)
}

// ResultSink receives the finalized record of every terminal call.
type ResultSink interface {
	EmitResult(ctx context.Context, result domain.CallResult) error
}

// Manager owns one dialog session per active call. Sessions run as
// independent goroutines; advancing one call never blocks another.
type Manager struct {
	cfg         config.DialogConfig
	manager     config.ManagerConfig
	sender      ActionSender
	reg         *registry.Registry
	scorer      *scoring.Engine
	enricher    *enrich.Scorer
	transcriber *enrich.Transcriber
	sink        ResultSink
	graph       domain.QuestionGraph
	log         *logger.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
}

// NewManager wires the dialog engine. enricher and transcriber may be nil.
func NewManager(
	cfg config.DialogConfig,
	managerCfg config.ManagerConfig,
	sender ActionSender,
	reg *registry.Registry,
	scorer *scoring.Engine,
	enricher *enrich.Scorer,
	transcriber *enrich.Transcriber,
	sink ResultSink,
	log *logger.Logger,
) *Manager {
	return &Manager{
		cfg:         cfg,
		manager:     managerCfg,
		sender:      sender,
		reg:         reg,
		scorer:      scorer,
		enricher:    enricher,
		transcriber: transcriber,
		sink:        sink,
		graph:       domain.MedicalQuestionnaire(),
		log:         log,
		sessions:    make(map[uuid.UUID]*session),
	}
}

// Register starts a dialog session for a freshly originated call. onFinal
// runs exactly once when the session reaches a terminal status, after the
// result has been emitted.
func (m *Manager) Register(callID uuid.UUID, onFinal func()) {
	s := &session{
		m:       m,
		callID:  callID,
		notes:   make(chan Note, 32),
		urgent:  make(chan Note, 1),
		onFinal: onFinal,
		log:     m.log.WithCall(callID.String()),
	}

	m.mu.Lock()
	m.sessions[callID] = s
	m.mu.Unlock()

	go s.run()
}

// Notify forwards a typed notification to the call's session. It reports
// false when no session exists (terminal or unknown call); a full session
// queue drops the note rather than stalling the event loop.
func (m *Manager) Notify(callID uuid.UUID, note Note) bool {
	m.mu.Lock()
	s, ok := m.sessions[callID]
	m.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case s.notes <- note:
	default:
		m.log.Warn("dialog note dropped, session queue full",
			zap.String("call_id", callID.String()), zap.Int("kind", int(note.Kind)))
	}
	return true
}

// Cancel aborts a call on operator request: the session hangs the channel
// up and forces the record to failed.
func (m *Manager) Cancel(callID uuid.UUID) bool {
	return m.Notify(callID, Note{Kind: NoteCancel})
}

// Abort fails a call before its channel exists, e.g. when the originate
// action was rejected by the manager.
func (m *Manager) Abort(callID uuid.UUID, reason string) bool {
	return m.Notify(callID, Note{Kind: NoteAbort, Cause: reason})
}

// FailAll is invoked on manager connection loss: every live session is told
// the transport is gone and fails its call. Terminal calls are unaffected.
// Delivery goes through the per-session urgent slot, which a backlogged note
// queue cannot displace; a full slot means the session is already failing.
func (m *Manager) FailAll() {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		select {
		case s.urgent <- Note{Kind: NoteConnectionLost}:
		default:
		}
	}
}

// ActiveSessions reports how many dialog sessions are live.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) detach(callID uuid.UUID) {
	m.mu.Lock()
	delete(m.sessions, callID)
	m.mu.Unlock()
}
