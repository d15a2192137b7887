package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-substitution-api/internal/models"
)

const absenceColumns = "id, teacher_id, start_date, end_date, whole_day, hours, justified, reason, document_ref, document_type, created_by, created_at, updated_at"

// AbsenceRepository persists the absence ledger.
type AbsenceRepository struct {
	db *sqlx.DB
}

// NewAbsenceRepository constructs an AbsenceRepository.
func NewAbsenceRepository(db *sqlx.DB) *AbsenceRepository {
	return &AbsenceRepository{db: db}
}

// ListForDate returns every absence whose range contains date.
func (r *AbsenceRepository) ListForDate(ctx context.Context, date time.Time) ([]models.Absence, error) {
	query := fmt.Sprintf("SELECT %s FROM absences WHERE start_date <= $1 AND end_date >= $1 ORDER BY teacher_id, start_date", absenceColumns)
	var absences []models.Absence
	if err := r.db.SelectContext(ctx, &absences, query, models.DateOnly(date)); err != nil {
		return nil, fmt.Errorf("list absences for date: %w", err)
	}
	return absences, nil
}

// ListForTeacherBetween returns a teacher's absences overlapping [from, to].
func (r *AbsenceRepository) ListForTeacherBetween(ctx context.Context, teacherID string, from, to time.Time) ([]models.Absence, error) {
	query := fmt.Sprintf("SELECT %s FROM absences WHERE teacher_id = $1 AND start_date <= $3 AND end_date >= $2 ORDER BY start_date", absenceColumns)
	var absences []models.Absence
	if err := r.db.SelectContext(ctx, &absences, query, teacherID, models.DateOnly(from), models.DateOnly(to)); err != nil {
		return nil, fmt.Errorf("list teacher absences: %w", err)
	}
	return absences, nil
}

// FindByID fetches an absence by ID.
func (r *AbsenceRepository) FindByID(ctx context.Context, id string) (*models.Absence, error) {
	query := fmt.Sprintf("SELECT %s FROM absences WHERE id = $1", absenceColumns)
	var absence models.Absence
	if err := r.db.GetContext(ctx, &absence, query, id); err != nil {
		return nil, err
	}
	return &absence, nil
}

// Create inserts a new absence.
func (r *AbsenceRepository) Create(ctx context.Context, absence *models.Absence) error {
	if absence.ID == "" {
		absence.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if absence.CreatedAt.IsZero() {
		absence.CreatedAt = now
	}
	absence.UpdatedAt = now

	const query = `INSERT INTO absences (id, teacher_id, start_date, end_date, whole_day, hours, justified, reason, document_ref, document_type, created_by, created_at, updated_at)
		VALUES (:id, :teacher_id, :start_date, :end_date, :whole_day, :hours, :justified, :reason, :document_ref, :document_type, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, absence); err != nil {
		return fmt.Errorf("create absence: %w", err)
	}
	return nil
}

// Update replaces the mutable fields of an absence.
func (r *AbsenceRepository) Update(ctx context.Context, absence *models.Absence) error {
	absence.UpdatedAt = time.Now().UTC()
	const query = `UPDATE absences SET teacher_id = :teacher_id, start_date = :start_date, end_date = :end_date, whole_day = :whole_day, hours = :hours, justified = :justified, reason = :reason, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, absence); err != nil {
		return fmt.Errorf("update absence: %w", err)
	}
	return nil
}

// SetDocument records the stored document for an absence.
func (r *AbsenceRepository) SetDocument(ctx context.Context, id, ref, contentType string) error {
	const query = `UPDATE absences SET document_ref = $1, document_type = $2, updated_at = $3 WHERE id = $4`
	if _, err := r.db.ExecContext(ctx, query, ref, contentType, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("set absence document: %w", err)
	}
	return nil
}

// Delete removes an absence.
func (r *AbsenceRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM absences WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete absence: %w", err)
	}
	return nil
}
