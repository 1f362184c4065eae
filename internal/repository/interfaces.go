package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/acme/followup-call-service/internal/domain"
	apperrors "github.com/acme/followup-call-service/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// ResultRepository persists finalized call results.
type ResultRepository interface {
	Insert(ctx context.Context, result domain.CallResult) error
	Get(ctx context.Context, callID uuid.UUID) (*domain.CallResult, error)
	ListByPatient(ctx context.Context, patientID string, limit int) ([]domain.CallResult, error)
}

// TranscriptStore keeps the per-question answer history for diagnostics.
type TranscriptStore interface {
	AppendAnswers(ctx context.Context, result domain.CallResult) error
	ListByCall(ctx context.Context, callID uuid.UUID) ([]TranscriptRow, error)
}

// TranscriptRow is one captured answer of one call.
type TranscriptRow struct {
	CallID     uuid.UUID
	QuestionID string
	Kind       string
	Raw        string
	Value      string
}
