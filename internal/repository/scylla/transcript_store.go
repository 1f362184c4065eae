package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/followup-call-service/internal/domain"
	"github.com/acme/followup-call-service/internal/repository"
)

// TranscriptStore keeps per-question answer rows in Scylla for diagnostics
// and later review by clinical staff.
type TranscriptStore struct {
	session *gocql.Session
}

// NewTranscriptStore creates the store.
func NewTranscriptStore(session *gocql.Session) *TranscriptStore {
	return &TranscriptStore{session: session}
}

// AppendAnswers writes one row per captured answer of a finalized call.
func (s *TranscriptStore) AppendAnswers(ctx context.Context, result domain.CallResult) error {
	for questionID, answer := range result.Responses {
		if err := s.session.Query(`INSERT INTO transcripts_by_call (call_id, question_id, kind, raw, value, patient_id, hospital_id, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			result.CallID.String(), questionID, string(answer.Kind), answer.Raw, renderAnswer(answer),
			result.PatientID, result.HospitalID, time.Now().UTC(),
		).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("transcript store: insert %s/%s: %w", result.CallID, questionID, err)
		}
	}
	return nil
}

// ListByCall returns all captured answers for one call.
func (s *TranscriptStore) ListByCall(ctx context.Context, callID uuid.UUID) ([]repository.TranscriptRow, error) {
	iter := s.session.Query(`SELECT question_id, kind, raw, value FROM transcripts_by_call WHERE call_id = ?`,
		callID.String()).WithContext(ctx).Iter()

	var (
		rows             []repository.TranscriptRow
		questionID, kind string
		raw, value       string
	)
	for iter.Scan(&questionID, &kind, &raw, &value) {
		rows = append(rows, repository.TranscriptRow{
			CallID:     callID,
			QuestionID: questionID,
			Kind:       kind,
			Raw:        raw,
			Value:      value,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("transcript store: list: %w", err)
	}
	return rows, nil
}

func renderAnswer(answer domain.Answer) string {
	switch answer.Kind {
	case domain.ResponseBoolean:
		return fmt.Sprintf("%t", answer.Bool)
	case domain.ResponseNumeric:
		return fmt.Sprintf("%d", answer.Number)
	case domain.ResponseDate:
		if answer.Date != nil {
			return answer.Date.Format("2006-01-02")
		}
		return ""
	default:
		return answer.Text
	}
}
