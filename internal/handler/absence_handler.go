package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-substitution-api/internal/dto"
	"github.com/noah-isme/sma-substitution-api/internal/models"
	appErrors "github.com/noah-isme/sma-substitution-api/pkg/errors"
	"github.com/noah-isme/sma-substitution-api/pkg/response"
)

type absenceService interface {
	ListForDate(ctx context.Context, rawDate string) ([]models.Absence, error)
	Get(ctx context.Context, id string) (*models.Absence, error)
	Create(ctx context.Context, req dto.AbsenceRequest, actor *models.JWTClaims) (*models.Absence, error)
	Update(ctx context.Context, id string, req dto.AbsenceRequest, actor *models.JWTClaims) (*models.Absence, error)
	Delete(ctx context.Context, id string, actor *models.JWTClaims) error
	AttachDocument(ctx context.Context, id string, meta dto.AbsenceDocument, content io.Reader) (*models.Absence, error)
	OpenDocument(ctx context.Context, id string) (io.ReadCloser, string, error)
}

// AbsenceHandler exposes the absence ledger.
type AbsenceHandler struct {
	service absenceService
}

// NewAbsenceHandler builds an AbsenceHandler.
func NewAbsenceHandler(service absenceService) *AbsenceHandler {
	return &AbsenceHandler{service: service}
}

// List godoc
// @Summary Absences in force on a date
// @Tags Absences
// @Produce json
// @Param date query string false "Date (YYYY-MM-DD), defaults to today"
// @Success 200 {object} response.Envelope
// @Router /absences [get]
func (h *AbsenceHandler) List(c *gin.Context) {
	items, err := h.service.ListForDate(c.Request.Context(), c.Query("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Get godoc
// @Summary Get absence
// @Tags Absences
// @Produce json
// @Param id path string true "Absence ID"
// @Success 200 {object} response.Envelope
// @Router /absences/{id} [get]
func (h *AbsenceHandler) Get(c *gin.Context) {
	absence, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, absence, nil)
}

// Create godoc
// @Summary Record an absence
// @Tags Absences
// @Accept json
// @Produce json
// @Param payload body dto.AbsenceRequest true "Absence payload"
// @Success 201 {object} response.Envelope
// @Router /absences [post]
func (h *AbsenceHandler) Create(c *gin.Context) {
	var req dto.AbsenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid absence payload"))
		return
	}
	absence, err := h.service.Create(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, absence)
}

// Update godoc
// @Summary Replace an absence
// @Description Substitutions for slots the edit no longer covers are revoked.
// @Tags Absences
// @Accept json
// @Produce json
// @Param id path string true "Absence ID"
// @Param payload body dto.AbsenceRequest true "Absence payload"
// @Success 200 {object} response.Envelope
// @Router /absences/{id} [put]
func (h *AbsenceHandler) Update(c *gin.Context) {
	var req dto.AbsenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid absence payload"))
		return
	}
	absence, err := h.service.Update(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, absence, nil)
}

// Delete godoc
// @Summary Delete an absence
// @Description Substitutions justified only by this absence are revoked and their hours reversed.
// @Tags Absences
// @Param id path string true "Absence ID"
// @Success 204
// @Router /absences/{id} [delete]
func (h *AbsenceHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// UploadDocument godoc
// @Summary Attach a supporting document
// @Tags Absences
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Absence ID"
// @Param file formData file true "PDF, JPEG or PNG document"
// @Success 200 {object} response.Envelope
// @Router /absences/{id}/document [post]
func (h *AbsenceHandler) UploadDocument(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file is required"))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to read uploaded file"))
		return
	}
	defer file.Close() //nolint:errcheck

	meta := dto.AbsenceDocument{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
	}
	absence, err := h.service.AttachDocument(c.Request.Context(), c.Param("id"), meta, file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, absence, nil)
}

// DownloadDocument godoc
// @Summary Download the supporting document
// @Tags Absences
// @Produce application/octet-stream
// @Param id path string true "Absence ID"
// @Success 200 {file} binary
// @Router /absences/{id}/document [get]
func (h *AbsenceHandler) DownloadDocument(c *gin.Context) {
	reader, contentType, err := h.service.OpenDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer reader.Close() //nolint:errcheck

	c.Header("Cache-Control", "no-store")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "absence-"+path.Base(c.Param("id"))+extensionFor(contentType)))
	c.DataFromReader(http.StatusOK, -1, contentType, reader, nil)
}

func extensionFor(contentType string) string {
	switch contentType {
	case "application/pdf":
		return ".pdf"
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	default:
		return ""
	}
}
