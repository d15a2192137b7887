package service

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-substitution-api/internal/dto"
	"github.com/noah-isme/sma-substitution-api/internal/models"
	appErrors "github.com/noah-isme/sma-substitution-api/pkg/errors"
	"github.com/noah-isme/sma-substitution-api/pkg/storage"
)

func TestDeleteAbsenceRevokesSubstitutionAndRestoresHours(t *testing.T) {
	f := newPlanningFixture(t)
	ctx := context.Background()

	_, err := f.substitutions.Assign(ctx, assignReq("bianchi", "verdi", 3), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, f.store.hours("verdi"))

	require.NoError(t, f.absences.Delete(ctx, "abs-bianchi", nil))
	assert.Equal(t, 2, f.store.hours("verdi"))
	assert.Equal(t, 0, f.store.substitutionCount())

	_, err = f.absences.Get(ctx, "abs-bianchi")
	requireCode(t, err, appErrors.ErrNotFound)
	assert.Contains(t, f.store.auditActions(), models.AuditActionAbsenceDelete)
}

func TestDeleteAbsenceKeepsAssignmentsCoveredByAnotherAbsence(t *testing.T) {
	f := newPlanningFixture(t)
	ctx := context.Background()

	_, err := f.absences.Create(ctx, dto.AbsenceRequest{TeacherID: "bianchi", StartDate: "2024-03-11", EndDate: "2024-03-15", Hours: []int64{3}}, nil)
	require.NoError(t, err)
	_, err = f.substitutions.Assign(ctx, assignReq("bianchi", "verdi", 3), nil)
	require.NoError(t, err)
	_, err = f.substitutions.Assign(ctx, assignReq("bianchi", "neri", 4), nil)
	require.NoError(t, err)

	require.NoError(t, f.absences.Delete(ctx, "abs-bianchi", nil))
	assert.Equal(t, 3, f.store.hours("verdi"))
	assert.Equal(t, 5, f.store.hours("neri"))
	assert.Equal(t, 1, f.store.substitutionCount())
}

func TestUpdateAbsenceRevokesSlotsNoLongerCovered(t *testing.T) {
	f := newPlanningFixture(t)
	ctx := context.Background()

	_, err := f.substitutions.Assign(ctx, assignReq("bianchi", "verdi", 3), nil)
	require.NoError(t, err)
	_, err = f.substitutions.Assign(ctx, assignReq("bianchi", "neri", 4), nil)
	require.NoError(t, err)

	updated, err := f.absences.Update(ctx, "abs-bianchi", dto.AbsenceRequest{TeacherID: "bianchi", StartDate: mondayStr, EndDate: mondayStr, Hours: []int64{4, 1, 4}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 4}, []int64(updated.Hours))

	assert.Equal(t, 2, f.store.hours("verdi"))
	assert.Equal(t, 6, f.store.hours("neri"))
	assert.Equal(t, 1, f.store.substitutionCount())
}

func TestCreateAbsenceValidation(t *testing.T) {
	f := newPlanningFixture(t)
	ctx := context.Background()

	_, err := f.absences.Create(ctx, dto.AbsenceRequest{TeacherID: "verdi", StartDate: "2024-03-12", EndDate: "2024-03-11", WholeDay: true}, nil)
	requireCode(t, err, appErrors.ErrValidation)

	_, err = f.absences.Create(ctx, dto.AbsenceRequest{TeacherID: "verdi", StartDate: mondayStr, EndDate: mondayStr}, nil)
	requireCode(t, err, appErrors.ErrValidation)

	_, err = f.absences.Create(ctx, dto.AbsenceRequest{TeacherID: "verdi", StartDate: mondayStr, EndDate: mondayStr, Hours: []int64{9}}, nil)
	requireCode(t, err, appErrors.ErrValidation)

	_, err = f.absences.Create(ctx, dto.AbsenceRequest{TeacherID: "nobody", StartDate: mondayStr, EndDate: mondayStr, WholeDay: true}, nil)
	requireCode(t, err, appErrors.ErrNotFound)
}

func TestCreateAbsenceMakesTeacherUnavailable(t *testing.T) {
	f := newPlanningFixture(t)
	ctx := context.Background()
	actor := &models.JWTClaims{UserID: "po-1", Role: models.RolePersonnelOffice}

	absence, err := f.absences.Create(ctx, dto.AbsenceRequest{TeacherID: "verdi", StartDate: mondayStr, EndDate: mondayStr, WholeDay: true, Hours: []int64{2}, Reason: " illness "}, actor)
	require.NoError(t, err)
	assert.Empty(t, absence.Hours)
	assert.Equal(t, "illness", absence.Reason)
	require.NotNil(t, absence.CreatedBy)
	assert.Equal(t, "po-1", *absence.CreatedBy)

	absent, err := f.absences.IsAbsent(ctx, "verdi", monday, 3)
	require.NoError(t, err)
	assert.True(t, absent)

	absent, err = f.absences.IsAbsent(ctx, "verdi", monday.AddDate(0, 0, 1), 3)
	require.NoError(t, err)
	assert.False(t, absent)

	candidates, _, err := f.availability.FindAvailable(ctx, mondayStr, 3)
	require.NoError(t, err)
	assert.NotContains(t, candidateIDs(candidates), "verdi")
}

func TestIsAbsentHonoursSpecificHours(t *testing.T) {
	f := newPlanningFixture(t)
	ctx := context.Background()

	absent, err := f.absences.IsAbsent(ctx, "ferrari", monday, 4)
	require.NoError(t, err)
	assert.True(t, absent)

	absent, err = f.absences.IsAbsent(ctx, "ferrari", monday, 5)
	require.NoError(t, err)
	assert.False(t, absent)

	_, err = f.absences.IsAbsent(ctx, "ferrari", monday, 0)
	requireCode(t, err, appErrors.ErrValidation)
}

func TestListAbsencesForDate(t *testing.T) {
	f := newPlanningFixture(t)

	items, err := f.absences.ListForDate(context.Background(), mondayStr)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, err = f.absences.ListForDate(context.Background(), "yesterday")
	requireCode(t, err, appErrors.ErrValidation)
}

func newDocumentFixture(t *testing.T) (*planningFixture, *AbsenceService, string) {
	t.Helper()
	f := newPlanningFixture(t)
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	svc := NewAbsenceService(memAbsences{f.store}, memTeachers{f.store}, f.substitutions, f.availability, store, f.store, nil,
		AbsenceDocumentConfig{MaxSizeBytes: 1024, AllowedMIMEs: []string{"application/pdf", "image/png"}}, nil, nil)
	return f, svc, dir
}

func TestAttachAndOpenAbsenceDocument(t *testing.T) {
	_, svc, dir := newDocumentFixture(t)
	ctx := context.Background()

	first, err := svc.AttachDocument(ctx, "abs-bianchi", dto.AbsenceDocument{Filename: "cert.pdf", ContentType: "application/pdf", Size: 8}, strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	require.NotNil(t, first.DocumentRef)
	assert.True(t, strings.HasPrefix(*first.DocumentRef, "absences/abs-bianchi/"))
	assert.True(t, strings.HasSuffix(*first.DocumentRef, ".pdf"))
	firstRef := *first.DocumentRef

	reader, contentType, err := svc.OpenDocument(ctx, "abs-bianchi")
	require.NoError(t, err)
	body, err := io.ReadAll(reader)
	require.NoError(t, reader.Close())
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(body))
	assert.Equal(t, "application/pdf", contentType)

	second, err := svc.AttachDocument(ctx, "abs-bianchi", dto.AbsenceDocument{Filename: "scan.png", ContentType: "image/png", Size: 4}, strings.NewReader("\x89PNG"))
	require.NoError(t, err)
	assert.NotEqual(t, firstRef, *second.DocumentRef)

	_, err = os.Stat(filepath.Join(dir, filepath.FromSlash(firstRef)))
	assert.True(t, os.IsNotExist(err))
}

func TestAttachDocumentRejectsInvalidUploads(t *testing.T) {
	_, svc, _ := newDocumentFixture(t)
	ctx := context.Background()

	_, err := svc.AttachDocument(ctx, "abs-bianchi", dto.AbsenceDocument{Filename: "a.exe", ContentType: "application/x-msdownload", Size: 10}, strings.NewReader("MZ"))
	requireCode(t, err, appErrors.ErrValidation)

	_, err = svc.AttachDocument(ctx, "abs-bianchi", dto.AbsenceDocument{Filename: "big.pdf", ContentType: "application/pdf", Size: 4096}, strings.NewReader("%PDF"))
	requireCode(t, err, appErrors.ErrValidation)

	_, err = svc.AttachDocument(ctx, "missing", dto.AbsenceDocument{Filename: "a.pdf", ContentType: "application/pdf", Size: 4}, strings.NewReader("%PDF"))
	requireCode(t, err, appErrors.ErrNotFound)

	_, _, err = svc.OpenDocument(ctx, "abs-ferrari")
	requireCode(t, err, appErrors.ErrNotFound)
}
