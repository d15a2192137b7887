package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-substitution-api/internal/models"
)

func TestLessonRepositoryListAll(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM lessons ORDER BY teacher_id, weekday, period").
		WillReturnRows(sqlmock.NewRows([]string{"id", "teacher_id", "weekday", "period", "class_id", "subject_id", "room", "created_at"}).
			AddRow("l1", "rossi", 1, 3, "2B", "ITA", "A4", time.Now()))

	lessons, err := repo.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, lessons, 1)
	assert.Equal(t, models.LessonKey{TeacherID: "rossi", Weekday: 1, Period: 3}, lessons[0].Key())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonRepositoryReplaceAll(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM lessons").WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectExec("INSERT INTO lessons").WillReturnResult(sqlmock.NewResult(2, 2))
	mock.ExpectCommit()

	lessons := []models.Lesson{
		{TeacherID: "rossi", Weekday: 1, Period: 3, ClassID: "2B", SubjectID: "ITA"},
		{TeacherID: "verdi", Weekday: 1, Period: 4, SubjectID: "DISP"},
	}
	require.NoError(t, repo.ReplaceAll(context.Background(), lessons))
	assert.NotEmpty(t, lessons[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonRepositoryReplaceAllRollsBack(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM lessons").WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectExec("INSERT INTO lessons").WillReturnError(errors.New("violates foreign key"))
	mock.ExpectRollback()

	err := repo.ReplaceAll(context.Background(), []models.Lesson{{TeacherID: "ghost", Weekday: 1, Period: 1}})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
