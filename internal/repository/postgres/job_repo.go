package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"prospector/internal/domain"
	"prospector/internal/port"
)

type jobRepo struct {
	db *sqlx.DB
}

// NewJobRepo creates a new PostgreSQL-backed JobRepository.
func NewJobRepo(db *sqlx.DB) port.JobRepository {
	return &jobRepo{db: db}
}

const insertEventQuery = `INSERT INTO extraction_events (
	id, document_id, epoch, attempt, old_state, new_state, payload, occurred_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func insertEvent(ctx context.Context, tx *sqlx.Tx, evt *domain.TransitionEvent) error {
	payload := evt.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := tx.ExecContext(ctx, insertEventQuery,
		evt.ID, evt.DocumentID, evt.Epoch, evt.Attempt,
		evt.OldState, evt.NewState, []byte(payload), evt.OccurredAt)
	return err
}

func (r *jobRepo) Create(ctx context.Context, job *domain.ExtractionJob, event *domain.TransitionEvent) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("jobRepo.Create begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	job.Version = 1
	_, err = tx.ExecContext(ctx, `INSERT INTO extraction_jobs (
		document_id, file_reference, state, epoch, attempt_count,
		raw_text, recognition_confidence, schema_version, structured_fields,
		document_type, overall_confidence, model_used, error,
		reviewed_by, review_reason, reviewed_at, version, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9,
		$10, $11, $12, $13,
		$14, $15, $16, $17, $18, $19
	)`,
		job.DocumentID, job.FileReference, job.State, job.Epoch, job.AttemptCount,
		job.RawText, job.RecognitionConfidence, job.SchemaVersion, job.StructuredFields,
		job.DocumentType, job.OverallConfidence, job.ModelUsed, job.Error,
		job.ReviewedBy, job.ReviewReason, job.ReviewedAt, job.Version, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		job.Version = 0
		if strings.Contains(err.Error(), "duplicate key") {
			return domain.ErrJobAlreadyExists
		}
		return fmt.Errorf("jobRepo.Create: %w", err)
	}
	if event != nil {
		if err := insertEvent(ctx, tx, event); err != nil {
			job.Version = 0
			return fmt.Errorf("jobRepo.Create event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		job.Version = 0
		return fmt.Errorf("jobRepo.Create commit: %w", err)
	}
	return nil
}

func (r *jobRepo) GetByID(ctx context.Context, documentID string) (*domain.ExtractionJob, error) {
	var job domain.ExtractionJob
	err := r.db.GetContext(ctx, &job,
		"SELECT * FROM extraction_jobs WHERE document_id = $1", documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("jobRepo.GetByID: %w", err)
	}
	return &job, nil
}

func (r *jobRepo) List(ctx context.Context, filter domain.JobFilter, offset, limit int) ([]domain.ExtractionJob, int, error) {
	where := ""
	args := []interface{}{}
	if filter.State != "" {
		where = " WHERE state = $1"
		args = append(args, filter.State)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM extraction_jobs"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("jobRepo.List count: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf("SELECT * FROM extraction_jobs%s ORDER BY created_at DESC, document_id LIMIT $%d OFFSET $%d", where, n+1, n+2)
	var jobs []domain.ExtractionJob
	if err := r.db.SelectContext(ctx, &jobs, query, append(args, limit, offset)...); err != nil {
		return nil, 0, fmt.Errorf("jobRepo.List: %w", err)
	}
	return jobs, total, nil
}

// Update writes every mutable column guarded by the expected version and
// appends event in the same transaction.
func (r *jobRepo) Update(ctx context.Context, job *domain.ExtractionJob, event *domain.TransitionEvent) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("jobRepo.Update begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	result, err := tx.ExecContext(ctx, `UPDATE extraction_jobs SET
			state = $1, epoch = $2, attempt_count = $3,
			raw_text = $4, recognition_confidence = $5, schema_version = $6,
			structured_fields = $7, document_type = $8, overall_confidence = $9,
			model_used = $10, error = $11, reviewed_by = $12, review_reason = $13,
			reviewed_at = $14, updated_at = $15, version = version + 1
		 WHERE document_id = $16 AND version = $17`,
		job.State, job.Epoch, job.AttemptCount,
		job.RawText, job.RecognitionConfidence, job.SchemaVersion,
		job.StructuredFields, job.DocumentType, job.OverallConfidence,
		job.ModelUsed, job.Error, job.ReviewedBy, job.ReviewReason,
		job.ReviewedAt, job.UpdatedAt,
		job.DocumentID, job.Version)
	if err != nil {
		return fmt.Errorf("jobRepo.Update: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("jobRepo.Update rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists,
			"SELECT EXISTS(SELECT 1 FROM extraction_jobs WHERE document_id = $1)", job.DocumentID); err != nil {
			return fmt.Errorf("jobRepo.Update exists: %w", err)
		}
		if !exists {
			return domain.ErrJobNotFound
		}
		return domain.ErrStaleJob
	}

	if event != nil {
		if err := insertEvent(ctx, tx, event); err != nil {
			return fmt.Errorf("jobRepo.Update event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("jobRepo.Update commit: %w", err)
	}
	job.Version++
	return nil
}

// eventRow scans payload as plain bytes since the driver may hand JSONB back as a string.
type eventRow struct {
	ID         uuid.UUID              `db:"id"`
	DocumentID string                 `db:"document_id"`
	Epoch      int                    `db:"epoch"`
	Attempt    int                    `db:"attempt"`
	OldState   domain.ExtractionState `db:"old_state"`
	NewState   domain.ExtractionState `db:"new_state"`
	Payload    []byte                 `db:"payload"`
	OccurredAt time.Time              `db:"occurred_at"`
}

func (r *jobRepo) ListEvents(ctx context.Context, documentID string) ([]domain.TransitionEvent, error) {
	var rows []eventRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, document_id, epoch, attempt, old_state, new_state, payload, occurred_at
		 FROM extraction_events WHERE document_id = $1 ORDER BY seq`, documentID)
	if err != nil {
		return nil, fmt.Errorf("jobRepo.ListEvents: %w", err)
	}
	events := make([]domain.TransitionEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, domain.TransitionEvent{
			ID:         row.ID,
			DocumentID: row.DocumentID,
			Epoch:      row.Epoch,
			Attempt:    row.Attempt,
			OldState:   row.OldState,
			NewState:   row.NewState,
			Payload:    json.RawMessage(row.Payload),
			OccurredAt: row.OccurredAt,
		})
	}
	return events, nil
}
