package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-substitution-api/internal/models"
)

var absenceRowColumns = []string{"id", "teacher_id", "start_date", "end_date", "whole_day", "hours", "justified", "reason", "document_ref", "document_type", "created_by", "created_at", "updated_at"}

func TestAbsenceRepositoryListForDate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAbsenceRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM absences WHERE start_date <= $1 AND end_date >= $1")).
		WithArgs(monday).
		WillReturnRows(sqlmock.NewRows(absenceRowColumns).
			AddRow("abs-1", "bianchi", monday, monday, false, "{2,3}", true, "visita medica", nil, nil, nil, now, now))

	absences, err := repo.ListForDate(context.Background(), monday.Add(9*time.Hour))
	require.NoError(t, err)
	require.Len(t, absences, 1)
	assert.Equal(t, pq.Int64Array{2, 3}, absences[0].Hours)
	assert.True(t, absences[0].Covers(monday, 3))
	assert.False(t, absences[0].Covers(monday, 4))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAbsenceRepositoryListForTeacherBetween(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAbsenceRepository(db)

	to := monday.AddDate(0, 0, 4)
	mock.ExpectQuery(regexp.QuoteMeta("FROM absences WHERE teacher_id = $1 AND start_date <= $3 AND end_date >= $2")).
		WithArgs("bianchi", monday, to).
		WillReturnRows(sqlmock.NewRows(absenceRowColumns))

	absences, err := repo.ListForTeacherBetween(context.Background(), "bianchi", monday, to)
	require.NoError(t, err)
	assert.Empty(t, absences)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAbsenceRepositoryCreateUpdateDelete(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAbsenceRepository(db)

	mock.ExpectExec("INSERT INTO absences").WillReturnResult(sqlmock.NewResult(1, 1))
	absence := &models.Absence{TeacherID: "bianchi", StartDate: monday, EndDate: monday, WholeDay: true}
	require.NoError(t, repo.Create(context.Background(), absence))
	assert.NotEmpty(t, absence.ID)

	mock.ExpectExec("UPDATE absences SET teacher_id").WillReturnResult(sqlmock.NewResult(0, 1))
	absence.Justified = true
	require.NoError(t, repo.Update(context.Background(), absence))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE absences SET document_ref = $1, document_type = $2")).
		WithArgs("absences/x.pdf", "application/pdf", sqlmock.AnyArg(), absence.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SetDocument(context.Background(), absence.ID, "absences/x.pdf", "application/pdf"))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM absences WHERE id = $1")).
		WithArgs(absence.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), absence.ID))
	assert.NoError(t, mock.ExpectationsWereMet())
}
