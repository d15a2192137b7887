package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-substitution-api/internal/dto"
	"github.com/noah-isme/sma-substitution-api/internal/middleware"
	"github.com/noah-isme/sma-substitution-api/internal/models"
	appErrors "github.com/noah-isme/sma-substitution-api/pkg/errors"
	"github.com/noah-isme/sma-substitution-api/pkg/response"
)

type substitutionService interface {
	ListForDate(ctx context.Context, rawDate string) ([]models.SubstitutionDetail, error)
	Assign(ctx context.Context, req dto.AssignSubstitutionRequest, actor *models.JWTClaims) (*models.Substitution, error)
	Revoke(ctx context.Context, rawDate string, period int, absentTeacherID string, actor *models.JWTClaims) error
}

type availabilityService interface {
	FindAvailable(ctx context.Context, rawDate string, period int) ([]models.Candidate, bool, error)
	Gaps(ctx context.Context, rawDate string) ([]models.CoverageGap, error)
}

// SubstitutionHandler exposes substitute planning endpoints.
type SubstitutionHandler struct {
	substitutions substitutionService
	availability  availabilityService
}

// NewSubstitutionHandler builds a SubstitutionHandler.
func NewSubstitutionHandler(substitutions substitutionService, availability availabilityService) *SubstitutionHandler {
	return &SubstitutionHandler{substitutions: substitutions, availability: availability}
}

// List godoc
// @Summary Substitutions of a day
// @Tags Substitutions
// @Produce json
// @Param date query string false "Date (YYYY-MM-DD), defaults to today"
// @Success 200 {object} response.Envelope
// @Router /substitutions [get]
func (h *SubstitutionHandler) List(c *gin.Context) {
	items, err := h.substitutions.ListForDate(c.Request.Context(), c.Query("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Available godoc
// @Summary Teachers available to cover a slot
// @Description Ordered by ascending hours owed, then surname.
// @Tags Substitutions
// @Produce json
// @Param date query string true "Date (YYYY-MM-DD)"
// @Param period query int true "Period (1-8)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /substitutions/available [get]
func (h *SubstitutionHandler) Available(c *gin.Context) {
	var query dto.AvailabilityQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid availability query"))
		return
	}
	candidates, cacheHit, err := h.availability.FindAvailable(c.Request.Context(), query.Date, query.Period)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, candidates, nil, middleware.ExtractMeta(c))
}

// Gaps godoc
// @Summary Lessons left uncovered by absences
// @Tags Substitutions
// @Produce json
// @Param date query string false "Date (YYYY-MM-DD), defaults to today"
// @Success 200 {object} response.Envelope
// @Router /substitutions/gaps [get]
func (h *SubstitutionHandler) Gaps(c *gin.Context) {
	gaps, err := h.availability.Gaps(c.Request.Context(), c.Query("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gaps, nil)
}

// Assign godoc
// @Summary Assign or reassign a substitute
// @Description The substitute is re-validated at commit time; a 409 carries the reason in meta.
// @Tags Substitutions
// @Accept json
// @Produce json
// @Param payload body dto.AssignSubstitutionRequest true "Assignment"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /substitutions [put]
func (h *SubstitutionHandler) Assign(c *gin.Context) {
	var req dto.AssignSubstitutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid substitution payload"))
		return
	}
	sub, err := h.substitutions.Assign(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		respondSubstitutionError(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sub, nil)
}

// Revoke godoc
// @Summary Revoke a substitution
// @Description Idempotent: revoking an empty slot succeeds.
// @Tags Substitutions
// @Param date path string true "Date (YYYY-MM-DD)"
// @Param period path int true "Period (1-8)"
// @Param absentTeacherId path string true "Absent teacher ID"
// @Success 204
// @Router /substitutions/{date}/{period}/{absentTeacherId} [delete]
func (h *SubstitutionHandler) Revoke(c *gin.Context) {
	period, err := intParam(c.Param("period"), "period")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.substitutions.Revoke(c.Request.Context(), c.Param("date"), period, c.Param("absentTeacherId"), claimsFromContext(c)); err != nil {
		respondSubstitutionError(c, err)
		return
	}
	response.NoContent(c)
}

func respondSubstitutionError(c *gin.Context, err error) {
	var conflict *models.SubstitutionConflictError
	if errors.As(err, &conflict) {
		response.ErrorWithMeta(c, err, map[string]interface{}{
			"reason":    conflict.Reason,
			"teacherId": conflict.TeacherID,
			"date":      conflict.Date,
			"period":    conflict.Period,
		})
		return
	}
	response.Error(c, err)
}
