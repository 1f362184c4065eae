package dialog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/followup-call-service/internal/ami"
	"github.com/acme/followup-call-service/internal/domain"
	"github.com/acme/followup-call-service/internal/scoring"
	apperrors "github.com/acme/followup-call-service/pkg/errors"
	"github.com/acme/followup-call-service/pkg/logger"
)

// session is the per-call finite-state sequencer. It consumes typed
// notifications, drives prompts over the manager connection and writes
// every state change through the registry. One goroutine per call; a
// response wait is a suspension point on the note channel, never a
// blocking wait on the shared connection.
type session struct {
	m       *Manager
	callID  uuid.UUID
	notes   chan Note
	urgent  chan Note
	onFinal func()
	log     *logger.Logger

	channel  string
	question string
	waiting  *time.Timer
}

func (s *session) run() {
	defer s.m.detach(s.callID)

	ctx := context.Background()
	for {
		var timeout <-chan time.Time
		if s.waiting != nil {
			timeout = s.waiting.C
		}

		select {
		case note := <-s.urgent:
			if done := s.handle(ctx, note); done {
				return
			}
		case note, ok := <-s.notes:
			if !ok {
				return
			}
			if done := s.handle(ctx, note); done {
				return
			}
		case <-timeout:
			s.waiting = nil
			s.log.Info("response timeout", zap.String("question", s.question))
			s.fail(ctx, apperrors.ErrResponseTimeout.Error(), true)
			return
		}
	}
}

func (s *session) handle(ctx context.Context, note Note) bool {
	switch note.Kind {
	case NoteChannelCreated:
		return s.onChannelCreated(note)
	case NoteAnswered:
		return s.onAnswered(ctx, note)
	case NotePlaybackFinished:
		s.restartWait()
		return false
	case NoteDigit:
		return s.onResponse(ctx, note.Digit)
	case NoteHangup:
		s.log.Info("unexpected hangup", zap.String("cause", note.Cause))
		return s.fail(ctx, "hangup: "+note.Cause, false)
	case NoteCancel:
		return s.fail(ctx, "cancelled by operator", true)
	case NoteConnectionLost:
		return s.fail(ctx, "manager connection lost", false)
	case NoteAbort:
		return s.fail(ctx, note.Cause, false)
	default:
		return false
	}
}

func (s *session) onChannelCreated(note Note) bool {
	s.channel = note.Channel
	_, err := s.m.reg.Update(s.callID, func(c *domain.Call) error {
		c.ChannelHandle = note.Channel
		return nil
	})
	if err != nil {
		s.log.Error("record channel handle", zap.Error(err))
	}
	return false
}

// onAnswered moves the call through connected into in_dialog and issues the
// first prompt.
func (s *session) onAnswered(ctx context.Context, note Note) bool {
	if note.Channel != "" {
		s.channel = note.Channel
	}

	record, err := s.m.reg.Get(s.callID)
	if err != nil {
		s.log.Error("load record", zap.Error(err))
		return s.fail(ctx, err.Error(), false)
	}
	switch record.Status {
	case domain.CallStatusConnected, domain.CallStatusInDialog:
		// Managers redeliver state events; the dialog is already running.
		return false
	}

	if _, err := s.m.reg.Update(s.callID, func(c *domain.Call) error {
		c.Status = domain.CallStatusConnected
		return nil
	}); err != nil {
		s.log.Error("transition to connected", zap.Error(err))
		return s.fail(ctx, err.Error(), false)
	}

	entry := s.m.graph.Entry()
	if _, err := s.m.reg.Update(s.callID, func(c *domain.Call) error {
		c.Status = domain.CallStatusInDialog
		c.CurrentQuestion = entry
		return nil
	}); err != nil {
		s.log.Error("transition to in_dialog", zap.Error(err))
		return s.fail(ctx, err.Error(), false)
	}
	s.question = entry

	if err := s.play(ctx, "welcome"); err != nil {
		return s.fail(ctx, err.Error(), true)
	}
	return s.askCurrent(ctx)
}

func (s *session) askCurrent(ctx context.Context) bool {
	q, ok := s.m.graph.Lookup(s.question)
	if !ok {
		s.log.Error("unknown question", zap.String("question", s.question))
		return s.fail(ctx, "unknown question "+s.question, true)
	}
	if err := s.play(ctx, q.PromptRef); err != nil {
		return s.fail(ctx, err.Error(), true)
	}
	s.restartWait()
	return false
}

// onResponse records the captured answer for the current question and
// advances the graph. An emergency keyword in a freeform answer diverts the
// channel before any remaining question is visited.
func (s *session) onResponse(ctx context.Context, raw string) bool {
	if s.question == "" {
		// Digit outside a question window; ignore.
		return false
	}
	q, ok := s.m.graph.Lookup(s.question)
	if !ok {
		return s.fail(ctx, "unknown question "+s.question, true)
	}

	s.stopWait()
	answer := Coerce(q.Expect, raw)

	next := q.NextID
	if _, err := s.m.reg.Update(s.callID, func(c *domain.Call) error {
		if _, dup := c.Responses[q.ID]; !dup {
			// each response key is written at most once
			c.Responses[q.ID] = answer
		}
		if next == domain.TerminalQuestion {
			c.CurrentQuestion = ""
		} else {
			c.CurrentQuestion = next
		}
		return nil
	}); err != nil {
		s.log.Error("record answer", zap.Error(err))
		return s.fail(ctx, err.Error(), true)
	}

	if q.Expect == domain.ResponseFreeform && scoring.ContainsEmergencyKeyword(answer.Text) {
		return s.emergency(ctx)
	}

	if next == domain.TerminalQuestion {
		return s.complete(ctx)
	}

	s.question = next
	return s.askCurrent(ctx)
}

// emergency transfers the channel to the urgent-care context and finalizes
// without visiting remaining questions.
func (s *session) emergency(ctx context.Context) bool {
	s.log.Warn("emergency keyword detected, transferring channel")

	if err := s.play(ctx, "emergency_detected"); err != nil {
		s.log.Warn("emergency prompt failed", zap.Error(err))
	}
	if _, err := s.m.sender.Send(ctx, ami.Redirect(s.channel, s.m.manager.EmergencyContext)); err != nil {
		s.log.Error("emergency redirect failed", zap.Error(err))
	}

	final, err := s.m.reg.Update(s.callID, func(c *domain.Call) error {
		c.Status = domain.CallStatusEmergency
		now := time.Now().UTC()
		c.EndTime = &now
		return nil
	})
	if err != nil {
		s.log.Error("transition to emergency", zap.Error(err))
		return true
	}
	s.emit(ctx, final, domain.ResultFromCall(final))
	return true
}

// complete scores the finalized response set, plays the closing prompt and
// hangs the channel up.
func (s *session) complete(ctx context.Context) bool {
	tracer := otel.Tracer("followup.dialog")
	sctx, span := tracer.Start(ctx, "dialog.complete", trace.WithAttributes(
		attribute.String("call.id", s.callID.String()),
	))
	defer span.End()

	snapshot, err := s.m.reg.Get(s.callID)
	if err != nil {
		s.log.Error("load record for scoring", zap.Error(err))
		return true
	}

	transcript := s.enrichFreeform(sctx, snapshot)
	score, rationale := s.score(sctx, snapshot)

	final, err := s.m.reg.Update(s.callID, func(c *domain.Call) error {
		c.Status = domain.CallStatusCompleted
		c.Score = &score
		now := time.Now().UTC()
		c.EndTime = &now
		if transcript != "" {
			a := c.Responses["other_complaints"]
			a.Text = transcript
			c.Responses["other_complaints"] = a
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.log.Error("transition to completed", zap.Error(err))
		return true
	}
	span.SetAttributes(attribute.Int("call.score", score))

	if err := s.play(sctx, "call_ending"); err != nil {
		s.log.Warn("closing prompt failed", zap.Error(err))
	}
	if _, err := s.m.sender.Send(sctx, ami.Hangup(s.channel)); err != nil {
		s.log.Warn("hangup action failed", zap.Error(err))
	}

	result := domain.ResultFromCall(final)
	result.Rationale = rationale
	s.emit(sctx, final, result)
	return true
}

// enrichFreeform swaps the DTMF-collected freeform answer for a recording
// transcript when the transcriber is available. Failure is silent.
func (s *session) enrichFreeform(ctx context.Context, snapshot *domain.Call) string {
	if s.m.transcriber == nil {
		return ""
	}
	ref := fmt.Sprintf("recordings/%s.wav", s.callID)
	text, err := s.m.transcriber.Transcribe(ctx, ref)
	if err != nil {
		s.log.Debug("transcription unavailable", zap.Error(err))
		return ""
	}
	a := snapshot.Responses["other_complaints"]
	a.Text = text
	snapshot.Responses["other_complaints"] = a
	return text
}

// score consults the optional enrichment first; any failure or out-of-range
// reply silently falls back to the deterministic evaluator.
func (s *session) score(ctx context.Context, snapshot *domain.Call) (int, string) {
	deterministic := s.m.scorer.Score(snapshot.Responses)
	if s.m.enricher == nil {
		return deterministic, ""
	}

	enriched, rationale, err := s.m.enricher.Score(ctx, snapshot.Responses, snapshot.Patient)
	if err != nil {
		s.log.Debug("score enrichment unavailable", zap.Error(err))
		return deterministic, ""
	}
	return scoring.Clamp(enriched), rationale
}

// fail forces the call to failed, retaining partial responses for
// diagnostics. The call is not scored.
func (s *session) fail(ctx context.Context, reason string, sendHangup bool) bool {
	s.stopWait()

	if sendHangup && s.channel != "" {
		if _, err := s.m.sender.Send(ctx, ami.Hangup(s.channel)); err != nil {
			s.log.Debug("hangup on failure", zap.Error(err))
		}
	}

	final, err := s.m.reg.Update(s.callID, func(c *domain.Call) error {
		c.Status = domain.CallStatusFailed
		c.LastError = &reason
		now := time.Now().UTC()
		c.EndTime = &now
		return nil
	})
	if err != nil {
		// Terminal already, or the record is gone; nothing left to do.
		s.log.Debug("fail transition skipped", zap.Error(err))
		return true
	}

	s.emit(ctx, final, domain.ResultFromCall(final))
	return true
}

func (s *session) emit(ctx context.Context, final *domain.Call, result domain.CallResult) {
	if err := s.m.reg.Remove(final.ID); err != nil {
		s.log.Error("retire record", zap.Error(err))
	}
	if err := s.m.sink.EmitResult(ctx, result); err != nil {
		s.log.Error("emit result", zap.Error(err))
	}
	if s.onFinal != nil {
		s.onFinal()
	}
}

func (s *session) play(ctx context.Context, promptRef string) error {
	file := fmt.Sprintf("%s/%s", s.m.cfg.AudioPrefix, promptRef)
	if _, err := s.m.sender.Send(ctx, ami.Playback(s.channel, file)); err != nil {
		return fmt.Errorf("play %s: %w", promptRef, err)
	}
	return nil
}

// restartWait (re)arms the per-question response timer. It is armed when a
// prompt is issued and re-armed when the manager reports the playback done,
// so the patient always gets the full window after hearing the question.
func (s *session) restartWait() {
	s.stopWait()
	s.waiting = time.NewTimer(s.m.cfg.ResponseTimeout)
}

func (s *session) stopWait() {
	if s.waiting != nil {
		s.waiting.Stop()
		s.waiting = nil
	}
}
