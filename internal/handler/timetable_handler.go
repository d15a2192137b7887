package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-substitution-api/internal/dto"
	"github.com/noah-isme/sma-substitution-api/internal/models"
	appErrors "github.com/noah-isme/sma-substitution-api/pkg/errors"
	"github.com/noah-isme/sma-substitution-api/pkg/response"
)

type timetableService interface {
	Import(ctx context.Context, req dto.ImportTimetableRequest, actor *models.JWTClaims) (*dto.TimetableImportResult, error)
	ListByTeacher(ctx context.Context, teacherID string) ([]models.Lesson, error)
	Slot(ctx context.Context, teacherID string, weekday, period int) (*dto.SlotLookup, error)
}

// TimetableHandler exposes the weekly timetable.
type TimetableHandler struct {
	service timetableService
}

// NewTimetableHandler builds a TimetableHandler.
func NewTimetableHandler(service timetableService) *TimetableHandler {
	return &TimetableHandler{service: service}
}

// Import godoc
// @Summary Replace the weekly timetable
// @Description Rows sharing teacher, weekday and period keep the later row; collisions are reported.
// @Tags Timetable
// @Accept json
// @Produce json
// @Param payload body dto.ImportTimetableRequest true "Timetable rows"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /timetable [put]
func (h *TimetableHandler) Import(c *gin.Context) {
	var req dto.ImportTimetableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid timetable payload"))
		return
	}
	result, err := h.service.Import(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ListByTeacher godoc
// @Summary Weekly lessons of a teacher
// @Tags Timetable
// @Produce json
// @Param id path string true "Teacher ID"
// @Success 200 {object} response.Envelope
// @Router /timetable/teachers/{id} [get]
func (h *TimetableHandler) ListByTeacher(c *gin.Context) {
	lessons, err := h.service.ListByTeacher(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lessons, nil)
}

// Slot godoc
// @Summary Resolve a timetable slot
// @Tags Timetable
// @Produce json
// @Param teacherId query string true "Teacher ID"
// @Param weekday query int true "Weekday (1=Monday..6=Saturday)"
// @Param period query int true "Period (1-8)"
// @Success 200 {object} response.Envelope
// @Router /timetable/slot [get]
func (h *TimetableHandler) Slot(c *gin.Context) {
	weekday, err := intParam(c.Query("weekday"), "weekday")
	if err != nil {
		response.Error(c, err)
		return
	}
	period, err := intParam(c.Query("period"), "period")
	if err != nil {
		response.Error(c, err)
		return
	}
	lookup, err := h.service.Slot(c.Request.Context(), c.Query("teacherId"), weekday, period)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lookup, nil)
}
