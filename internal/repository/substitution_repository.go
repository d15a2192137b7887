package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-substitution-api/internal/models"
	"github.com/noah-isme/sma-substitution-api/pkg/database"
)

const substitutionColumns = "id, date, period, absent_teacher_id, substitute_teacher_id, class_id, subject_id, room, credited_hours, created_by, created_at, updated_at"

// SubstitutionRepository persists substitution assignments and keeps the
// substitute's hours owed in step with them.
type SubstitutionRepository struct {
	db *sqlx.DB
}

// NewSubstitutionRepository constructs a SubstitutionRepository.
func NewSubstitutionRepository(db *sqlx.DB) *SubstitutionRepository {
	return &SubstitutionRepository{db: db}
}

// ErrSlotNotCovered is returned by Upsert when no absence of the absent teacher
// covers the slot at commit time.
var ErrSlotNotCovered = errors.New("absent teacher is not absent at this slot")

const coveringAbsenceQuery = `SELECT id FROM absences
	WHERE teacher_id = $1 AND start_date <= $2 AND end_date >= $2 AND (whole_day OR $3::integer = ANY(hours))
	ORDER BY id LIMIT 1 FOR SHARE`

// SubstitutionUpsertResult describes the slot transition applied by Upsert.
type SubstitutionUpsertResult struct {
	Previous *models.Substitution
	Current  models.Substitution
}

// ListForDate returns the assignments of a day joined with teacher names.
func (r *SubstitutionRepository) ListForDate(ctx context.Context, date time.Time) ([]models.SubstitutionDetail, error) {
	const query = `SELECT s.id, s.date, s.period, s.absent_teacher_id, s.substitute_teacher_id, s.class_id, s.subject_id, s.room, s.credited_hours, s.created_by, s.created_at, s.updated_at,
		a.name AS absent_teacher_name, a.surname AS absent_teacher_surname,
		t.name AS substitute_teacher_name, t.surname AS substitute_teacher_surname
		FROM substitutions s
		JOIN teachers a ON a.id = s.absent_teacher_id
		JOIN teachers t ON t.id = s.substitute_teacher_id
		WHERE s.date = $1
		ORDER BY s.period, a.surname, a.name`
	var items []models.SubstitutionDetail
	if err := r.db.SelectContext(ctx, &items, query, models.DateOnly(date)); err != nil {
		return nil, fmt.Errorf("list substitutions for date: %w", err)
	}
	return items, nil
}

// ListForAbsentTeacherBetween returns assignments covering a teacher within [from, to].
func (r *SubstitutionRepository) ListForAbsentTeacherBetween(ctx context.Context, teacherID string, from, to time.Time) ([]models.Substitution, error) {
	query := fmt.Sprintf("SELECT %s FROM substitutions WHERE absent_teacher_id = $1 AND date BETWEEN $2 AND $3 ORDER BY date, period", substitutionColumns)
	var items []models.Substitution
	if err := r.db.SelectContext(ctx, &items, query, teacherID, models.DateOnly(from), models.DateOnly(to)); err != nil {
		return nil, fmt.Errorf("list teacher substitutions: %w", err)
	}
	return items, nil
}

// Upsert writes the assignment for sub's slot. A covering absence is share
// locked so it cannot be deleted or edited until commit, the slot row is
// locked, the previous substitute's credit is reversed, and the new substitute
// is credited with sub.CreditedHours, all in one transaction. Reassigning the
// same substitute leaves hours owed unchanged.
func (r *SubstitutionRepository) Upsert(ctx context.Context, sub models.Substitution) (*SubstitutionUpsertResult, error) {
	result := &SubstitutionUpsertResult{}
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var absenceID string
		if err := tx.GetContext(ctx, &absenceID, coveringAbsenceQuery, sub.AbsentTeacherID, models.DateOnly(sub.Date), sub.Period); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrSlotNotCovered
			}
			return fmt.Errorf("lock covering absence: %w", err)
		}

		var current models.Substitution
		selectQuery := fmt.Sprintf("SELECT %s FROM substitutions WHERE date = $1 AND period = $2 AND absent_teacher_id = $3 FOR UPDATE", substitutionColumns)
		err := tx.GetContext(ctx, &current, selectQuery, models.DateOnly(sub.Date), sub.Period, sub.AbsentTeacherID)
		now := time.Now().UTC()
		switch {
		case errors.Is(err, sql.ErrNoRows):
			sub.ID = uuid.NewString()
			sub.Date = models.DateOnly(sub.Date)
			sub.CreatedAt = now
			sub.UpdatedAt = now
			const insertQuery = `INSERT INTO substitutions (id, date, period, absent_teacher_id, substitute_teacher_id, class_id, subject_id, room, credited_hours, created_by, created_at, updated_at)
				VALUES (:id, :date, :period, :absent_teacher_id, :substitute_teacher_id, :class_id, :subject_id, :room, :credited_hours, :created_by, :created_at, :updated_at)`
			if _, err := tx.NamedExecContext(ctx, insertQuery, sub); err != nil {
				return fmt.Errorf("insert substitution: %w", err)
			}
			if err := adjustHoursOwed(ctx, tx, sub.SubstituteTeacherID, sub.CreditedHours); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("lock substitution slot: %w", err)
		default:
			previous := current
			result.Previous = &previous
			sub.ID = current.ID
			sub.Date = current.Date
			sub.CreatedAt = current.CreatedAt
			sub.UpdatedAt = now
			if current.SubstituteTeacherID == sub.SubstituteTeacherID {
				sub.CreditedHours = current.CreditedHours
			} else {
				if err := adjustHoursOwed(ctx, tx, current.SubstituteTeacherID, -current.CreditedHours); err != nil {
					return err
				}
			}
			const updateQuery = `UPDATE substitutions SET substitute_teacher_id = :substitute_teacher_id, class_id = :class_id, subject_id = :subject_id, room = :room, credited_hours = :credited_hours, created_by = :created_by, updated_at = :updated_at WHERE id = :id`
			if _, err := tx.NamedExecContext(ctx, updateQuery, sub); err != nil {
				return fmt.Errorf("update substitution: %w", err)
			}
			if current.SubstituteTeacherID != sub.SubstituteTeacherID {
				if err := adjustHoursOwed(ctx, tx, sub.SubstituteTeacherID, sub.CreditedHours); err != nil {
					return err
				}
			}
		}
		result.Current = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes the assignment for key and reverses its credit. It returns the
// removed row, or nil when the slot had no assignment.
func (r *SubstitutionRepository) Delete(ctx context.Context, key models.SubstitutionKey) (*models.Substitution, error) {
	var removed *models.Substitution
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var current models.Substitution
		query := fmt.Sprintf("DELETE FROM substitutions WHERE date = $1 AND period = $2 AND absent_teacher_id = $3 RETURNING %s", substitutionColumns)
		if err := tx.GetContext(ctx, &current, query, models.DateOnly(key.Date), key.Period, key.AbsentTeacherID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("delete substitution: %w", err)
		}
		if err := adjustHoursOwed(ctx, tx, current.SubstituteTeacherID, -current.CreditedHours); err != nil {
			return err
		}
		removed = &current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}
