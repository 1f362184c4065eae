package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/followup-call-service/internal/domain"
	"github.com/acme/followup-call-service/internal/repository"
)

// ResultRepository stores finalized call results in Postgres.
type ResultRepository struct {
	db *sqlx.DB
}

// NewResultRepository constructs the repository.
func NewResultRepository(db *sqlx.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

type resultRow struct {
	CallID      uuid.UUID      `db:"call_id"`
	PatientID   string         `db:"patient_id"`
	HospitalID  string         `db:"hospital_id"`
	PhoneNumber string         `db:"phone_number"`
	Responses   []byte         `db:"responses"`
	Score       sql.NullInt64  `db:"score"`
	Rationale   sql.NullString `db:"rationale"`
	FinalStatus string         `db:"final_status"`
	Attempts    int            `db:"attempts"`
	StartTime   time.Time      `db:"start_time"`
	EndTime     time.Time      `db:"end_time"`
	FailReason  sql.NullString `db:"fail_reason"`
}

// Insert writes one result; a replayed message for the same call id is a
// no-op so the consumer stays idempotent.
func (r *ResultRepository) Insert(ctx context.Context, result domain.CallResult) error {
	responses, err := json.Marshal(result.Responses)
	if err != nil {
		return fmt.Errorf("result repository: marshal responses: %w", err)
	}

	var score sql.NullInt64
	if result.Score != nil {
		score = sql.NullInt64{Int64: int64(*result.Score), Valid: true}
	}

	const query = `
		INSERT INTO call_results (
			call_id, patient_id, hospital_id, phone_number, responses,
			score, rationale, final_status, attempts, start_time, end_time, fail_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (call_id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query,
		result.CallID, result.PatientID, result.HospitalID, result.PhoneNumber, responses,
		score, nullable(result.Rationale), string(result.FinalStatus), result.Attempts,
		result.StartTime, result.EndTime, nullable(result.FailReason),
	); err != nil {
		return fmt.Errorf("result repository: insert: %w", err)
	}
	return nil
}

// Get fetches one result by call id.
func (r *ResultRepository) Get(ctx context.Context, callID uuid.UUID) (*domain.CallResult, error) {
	const query = `
		SELECT call_id, patient_id, hospital_id, phone_number, responses,
			score, rationale, final_status, attempts, start_time, end_time, fail_reason
		FROM call_results WHERE call_id = $1`

	var row resultRow
	if err := r.db.GetContext(ctx, &row, query, callID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: result %s", repository.ErrNotFound, callID)
		}
		return nil, fmt.Errorf("result repository: get: %w", err)
	}

	result, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ListByPatient returns the most recent results for a patient.
func (r *ResultRepository) ListByPatient(ctx context.Context, patientID string, limit int) ([]domain.CallResult, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT call_id, patient_id, hospital_id, phone_number, responses,
			score, rationale, final_status, attempts, start_time, end_time, fail_reason
		FROM call_results WHERE patient_id = $1
		ORDER BY end_time DESC LIMIT $2`

	var rows []resultRow
	if err := r.db.SelectContext(ctx, &rows, query, patientID, limit); err != nil {
		return nil, fmt.Errorf("result repository: list: %w", err)
	}

	results := make([]domain.CallResult, 0, len(rows))
	for _, row := range rows {
		result, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (row resultRow) toDomain() (domain.CallResult, error) {
	result := domain.CallResult{
		CallID:      row.CallID,
		PatientID:   row.PatientID,
		HospitalID:  row.HospitalID,
		PhoneNumber: row.PhoneNumber,
		FinalStatus: domain.CallStatus(row.FinalStatus),
		Attempts:    row.Attempts,
		StartTime:   row.StartTime,
		EndTime:     row.EndTime,
	}
	if row.Score.Valid {
		score := int(row.Score.Int64)
		result.Score = &score
	}
	if row.Rationale.Valid {
		result.Rationale = row.Rationale.String
	}
	if row.FailReason.Valid {
		result.FailReason = row.FailReason.String
	}
	if len(row.Responses) > 0 {
		if err := json.Unmarshal(row.Responses, &result.Responses); err != nil {
			return domain.CallResult{}, fmt.Errorf("result repository: unmarshal responses: %w", err)
		}
	}
	return result, nil
}

func nullable(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
