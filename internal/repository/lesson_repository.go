package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-substitution-api/internal/models"
	"github.com/noah-isme/sma-substitution-api/pkg/database"
)

const lessonColumns = "id, teacher_id, weekday, period, class_id, subject_id, room, created_at"

// LessonRepository persists the weekly timetable.
type LessonRepository struct {
	db *sqlx.DB
}

// NewLessonRepository constructs a LessonRepository.
func NewLessonRepository(db *sqlx.DB) *LessonRepository {
	return &LessonRepository{db: db}
}

// ListAll returns every lesson of the timetable.
func (r *LessonRepository) ListAll(ctx context.Context) ([]models.Lesson, error) {
	query := fmt.Sprintf("SELECT %s FROM lessons ORDER BY teacher_id, weekday, period", lessonColumns)
	var lessons []models.Lesson
	if err := r.db.SelectContext(ctx, &lessons, query); err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	return lessons, nil
}

// ReplaceAll swaps the stored timetable for lessons in a single transaction.
func (r *LessonRepository) ReplaceAll(ctx context.Context, lessons []models.Lesson) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM lessons`); err != nil {
			return fmt.Errorf("clear lessons: %w", err)
		}
		if len(lessons) == 0 {
			return nil
		}
		now := time.Now().UTC()
		for i := range lessons {
			if lessons[i].ID == "" {
				lessons[i].ID = uuid.NewString()
			}
			if lessons[i].CreatedAt.IsZero() {
				lessons[i].CreatedAt = now
			}
		}
		const insert = `INSERT INTO lessons (id, teacher_id, weekday, period, class_id, subject_id, room, created_at)
			VALUES (:id, :teacher_id, :weekday, :period, :class_id, :subject_id, :room, :created_at)`
		for start := 0; start < len(lessons); start += lessonBatchSize {
			end := start + lessonBatchSize
			if end > len(lessons) {
				end = len(lessons)
			}
			if _, err := tx.NamedExecContext(ctx, insert, lessons[start:end]); err != nil {
				return fmt.Errorf("insert lessons: %w", err)
			}
		}
		return nil
	})
}

// Postgres caps bind parameters at 65535; eight columns per row.
const lessonBatchSize = 500
