package dispatch

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/followup-call-service/internal/ami"
	"github.com/acme/followup-call-service/internal/dialog"
	"github.com/acme/followup-call-service/pkg/logger"
)

// DialogNotifier is the slice of the dialog manager the dispatcher drives.
type DialogNotifier interface {
	Notify(callID uuid.UUID, note dialog.Note) bool
	FailAll()
}

// Dispatcher drains the protocol client's event stream single-threaded, in
// arrival order, and forwards typed notifications to the owning call's
// dialog session. Orphan events are logged and dropped; duplicate terminal
// events resolve against retired records and become no-ops.
type Dispatcher struct {
	events <-chan ami.Event
	dialog DialogNotifier
	log    *logger.Logger
}

// New builds a dispatcher over the given event stream.
func New(events <-chan ami.Event, dialogMgr DialogNotifier, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		events: events,
		dialog: dialogMgr,
		log:    log,
	}
}

// Run consumes events until the stream closes or the context is cancelled.
// Stream closure means the manager connection is gone: every call with an
// active channel is failed explicitly rather than left stuck.
func (d *Dispatcher) Run(ctx context.Context) error {
	tracer := otel.Tracer("followup.dispatcher")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-d.events:
			if !ok {
				d.log.Warn("event stream closed, failing active calls")
				d.dialog.FailAll()
				return nil
			}

			_, span := tracer.Start(ctx, "event.dispatch", trace.WithAttributes(
				attribute.String("event.name", ev.Name),
				attribute.String("event.channel", ev.Channel()),
			))
			d.handle(ev)
			span.End()
		}
	}
}

func (d *Dispatcher) handle(ev ami.Event) {
	rawID := ev.CallID()
	if rawID == "" {
		// Channels this service did not originate (manual test calls,
		// internal legs) carry no correlation variable.
		d.log.Debug("orphan event dropped", zap.String("event", ev.Name), zap.String("channel", ev.Channel()))
		return
	}

	callID, err := uuid.Parse(rawID)
	if err != nil {
		d.log.Debug("event with malformed call id dropped",
			zap.String("event", ev.Name), zap.String("call_id", rawID))
		return
	}

	note, ok := toNote(ev)
	if !ok {
		d.log.Debug("unhandled event", zap.String("event", ev.Name))
		return
	}

	if delivered := d.dialog.Notify(callID, note); !delivered {
		// No live session: the call is already terminal. A second hangup
		// for the same channel lands here and is a no-op.
		d.log.Debug("event for inactive call dropped",
			zap.String("event", ev.Name), zap.String("call_id", rawID))
	}
}

func toNote(ev ami.Event) (dialog.Note, bool) {
	switch ev.Name {
	case ami.EventChannelCreated:
		return dialog.Note{Kind: dialog.NoteChannelCreated, Channel: ev.Channel()}, true
	case ami.EventChannelAnswered:
		return dialog.Note{Kind: dialog.NoteAnswered, Channel: ev.Channel()}, true
	case ami.EventDTMFReceived:
		return dialog.Note{Kind: dialog.NoteDigit, Channel: ev.Channel(), Digit: ev.Digit()}, true
	case ami.EventPlaybackFinished:
		return dialog.Note{Kind: dialog.NotePlaybackFinished, Channel: ev.Channel()}, true
	case ami.EventHangup:
		return dialog.Note{Kind: dialog.NoteHangup, Channel: ev.Channel(), Cause: ami.CauseName(ev.Cause())}, true
	default:
		return dialog.Note{}, false
	}
}
