package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-substitution-api/internal/dto"
	"github.com/noah-isme/sma-substitution-api/internal/models"
	appErrors "github.com/noah-isme/sma-substitution-api/pkg/errors"
)

func strPtr(v string) *string { return &v }

func TestTeacherServiceCreateAndDuplicateEmail(t *testing.T) {
	f := newPlanningFixture(t)
	ctx := context.Background()

	created, err := f.teachers.Create(ctx, dto.CreateTeacherRequest{Name: " Elena ", Surname: "Conti", Email: strPtr("elena@school.it"), WeeklyHours: 18, HoursOwed: 1}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Elena", created.Name)
	assert.True(t, created.Active)
	assert.Equal(t, 1, created.HoursOwed)

	_, err = f.teachers.Create(ctx, dto.CreateTeacherRequest{Name: "Eva", Surname: "Conti", Email: strPtr("ELENA@school.it"), WeeklyHours: 18}, nil)
	requireCode(t, err, appErrors.ErrConflict)

	_, err = f.teachers.Create(ctx, dto.CreateTeacherRequest{Surname: "Conti"}, nil)
	requireCode(t, err, appErrors.ErrValidation)
}

func TestTeacherServiceUpdateKeepsHoursOwed(t *testing.T) {
	f := newPlanningFixture(t)
	ctx := context.Background()
	inactive := false

	updated, err := f.teachers.Update(ctx, "verdi", dto.UpdateTeacherRequest{Name: "Giulia", Surname: "Verdi", WeeklyHours: 12, Active: &inactive}, nil)
	require.NoError(t, err)
	assert.Equal(t, 12, updated.WeeklyHours)
	assert.False(t, updated.Active)
	assert.Equal(t, 2, f.store.hours("verdi"))

	_, err = f.teachers.Update(ctx, "nobody", dto.UpdateTeacherRequest{Name: "X", Surname: "Y"}, nil)
	requireCode(t, err, appErrors.ErrNotFound)
}

func TestTeacherServiceDeactivateRemovesFromAvailability(t *testing.T) {
	f := newPlanningFixture(t)
	ctx := context.Background()

	_, _, err := f.availability.FindAvailable(ctx, mondayStr, 3)
	require.NoError(t, err)

	require.NoError(t, f.teachers.Deactivate(ctx, "verdi", &models.JWTClaims{UserID: "admin"}))
	assert.False(t, f.cache.has("availability:2024-03-11:3"))

	candidates, hit, err := f.availability.FindAvailable(ctx, mondayStr, 3)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NotContains(t, candidateIDs(candidates), "verdi")
	assert.Contains(t, f.store.auditActions(), models.AuditActionTeacherDeactivate)

	err = f.teachers.Deactivate(ctx, "nobody", nil)
	requireCode(t, err, appErrors.ErrNotFound)
}

func TestTeacherServiceListPagination(t *testing.T) {
	f := newPlanningFixture(t)
	active := true

	items, pagination, err := f.teachers.List(context.Background(), models.TeacherFilter{Active: &active, PageSize: 500})
	require.NoError(t, err)
	assert.Len(t, items, 6)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 50, pagination.PageSize)
	assert.Equal(t, 6, pagination.TotalCount)
}
