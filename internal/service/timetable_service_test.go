package service

import (
	"context"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-substitution-api/internal/dto"
	"github.com/noah-isme/sma-substitution-api/internal/models"
	appErrors "github.com/noah-isme/sma-substitution-api/pkg/errors"
)

func TestTimetableImportReplacesIndexAndReportsDuplicates(t *testing.T) {
	f := newPlanningFixture(t)
	ctx := context.Background()
	_, _, err := f.availability.FindAvailable(ctx, mondayStr, 3)
	require.NoError(t, err)

	result, err := f.timetable.Import(ctx, dto.ImportTimetableRequest{Lessons: []dto.TimetableLessonInput{
		{TeacherID: "verdi", Weekday: 1, Period: 3, ClassID: "1A", SubjectID: "ART"},
		{TeacherID: "rossi", Weekday: 1, Period: 2, ClassID: "1A", SubjectID: "HIST"},
		{TeacherID: "verdi", Weekday: 1, Period: 3, ClassID: "2A", SubjectID: "ART"},
	}}, &models.JWTClaims{UserID: "admin"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Imported)
	require.Len(t, result.Duplicates, 1)
	assert.Equal(t, "verdi", result.Duplicates[0].TeacherID)
	assert.Equal(t, 2, result.Duplicates[0].Kept)
	assert.Equal(t, 0, result.Duplicates[0].Dropped)

	lesson, ok := f.index.LessonFor("verdi", 1, 3)
	require.True(t, ok)
	assert.Equal(t, "2A", lesson.ClassID)
	assert.False(t, f.index.IsTeaching("rossi", 1, 3))
	assert.Len(t, f.store.lessons, 2)
	assert.False(t, f.cache.has("availability:2024-03-11:3"))

	candidates, _, err := f.availability.FindAvailable(ctx, mondayStr, 3)
	require.NoError(t, err)
	ids := candidateIDs(candidates)
	assert.Contains(t, ids, "rossi")
	assert.NotContains(t, ids, "verdi")
	assert.Contains(t, f.store.auditActions(), models.AuditActionTimetableImport)
}

func TestTimetableImportValidatesRows(t *testing.T) {
	f := newPlanningFixture(t)

	_, err := f.timetable.Import(context.Background(), dto.ImportTimetableRequest{Lessons: []dto.TimetableLessonInput{
		{TeacherID: "verdi", Weekday: 7, Period: 3},
	}}, nil)
	requireCode(t, err, appErrors.ErrValidation)

	_, err = f.timetable.Import(context.Background(), dto.ImportTimetableRequest{Lessons: []dto.TimetableLessonInput{
		{TeacherID: "", Weekday: 1, Period: 3},
	}}, nil)
	requireCode(t, err, appErrors.ErrValidation)
	assert.Equal(t, 6, f.index.Size())
}

func TestTimetableImportUnknownTeacher(t *testing.T) {
	f := newPlanningFixture(t)
	repo := &memLessons{store: f.store, replaceErr: &pq.Error{Code: "23503"}}
	svc := NewTimetableService(repo, f.index, nil, nil, nil, nil, nil)

	_, err := svc.Import(context.Background(), dto.ImportTimetableRequest{Lessons: []dto.TimetableLessonInput{
		{TeacherID: "ghost", Weekday: 1, Period: 1, SubjectID: "ITA"},
	}}, nil)
	requireCode(t, err, appErrors.ErrValidation)
	assert.Equal(t, 6, f.index.Size())
}

func TestTimetableReloadAndLookups(t *testing.T) {
	f := newPlanningFixture(t)
	ctx := context.Background()

	f.store.lessons = append(f.store.lessons, models.Lesson{TeacherID: "neri", Weekday: 2, Period: 1, ClassID: "5E", SubjectID: "PHY"})
	require.NoError(t, f.timetable.Reload(ctx))
	assert.Equal(t, 7, f.index.Size())
	assert.Equal(t, 7, f.metrics.Snapshot().TimetableLessons)

	lessons, err := f.timetable.ListByTeacher(ctx, "bianchi")
	require.NoError(t, err)
	require.Len(t, lessons, 2)
	assert.Equal(t, 3, lessons[0].Period)
	assert.Equal(t, 4, lessons[1].Period)

	slot, err := f.timetable.Slot(ctx, "bruno", 1, 3)
	require.NoError(t, err)
	require.NotNil(t, slot.Lesson)
	assert.False(t, slot.IsTeaching)

	slot, err = f.timetable.Slot(ctx, "rossi", 1, 3)
	require.NoError(t, err)
	assert.True(t, slot.IsTeaching)

	_, err = f.timetable.Slot(ctx, "rossi", 0, 3)
	requireCode(t, err, appErrors.ErrValidation)
	_, err = f.timetable.ListByTeacher(ctx, " ")
	requireCode(t, err, appErrors.ErrValidation)
}
