package service

import (
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-substitution-api/internal/dto"
	"github.com/noah-isme/sma-substitution-api/internal/models"
	appErrors "github.com/noah-isme/sma-substitution-api/pkg/errors"
)

const absenceResource = "absence"

type absenceRepository interface {
	ListForDate(ctx context.Context, date time.Time) ([]models.Absence, error)
	ListForTeacherBetween(ctx context.Context, teacherID string, from, to time.Time) ([]models.Absence, error)
	FindByID(ctx context.Context, id string) (*models.Absence, error)
	Create(ctx context.Context, absence *models.Absence) error
	Update(ctx context.Context, absence *models.Absence) error
	SetDocument(ctx context.Context, id, ref, contentType string) error
	Delete(ctx context.Context, id string) error
}

type teacherLookup interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
}

// substitutionSweeper revokes assignments no longer justified by an absence.
type substitutionSweeper interface {
	RevokeUncovered(ctx context.Context, teacherID string, from, to time.Time, excludeAbsenceID string, actor *models.JWTClaims) (int, error)
}

type absenceAvailability interface {
	InvalidateDates(ctx context.Context, from, to time.Time)
}

type documentStore interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (io.ReadCloser, error)
	Delete(filename string) error
}

// AbsenceDocumentConfig limits supporting document uploads.
type AbsenceDocumentConfig struct {
	MaxSizeBytes int64
	AllowedMIMEs []string
}

var documentExtensions = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
}

// AbsenceService maintains the absence ledger and revokes substitutions an
// edit or deletion leaves without a covering absence.
type AbsenceService struct {
	repo         absenceRepository
	teachers     teacherLookup
	sweeper      substitutionSweeper
	availability absenceAvailability
	documents    documentStore
	audit        auditLogger
	calendar     *SchoolCalendar
	docConfig    AbsenceDocumentConfig
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewAbsenceService constructs an AbsenceService.
func NewAbsenceService(
	repo absenceRepository,
	teachers teacherLookup,
	sweeper substitutionSweeper,
	availability absenceAvailability,
	documents documentStore,
	audit auditLogger,
	calendar *SchoolCalendar,
	docConfig AbsenceDocumentConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *AbsenceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if calendar == nil {
		calendar = NewSchoolCalendar("")
	}
	if docConfig.MaxSizeBytes <= 0 {
		docConfig.MaxSizeBytes = 5 * 1024 * 1024
	}
	if len(docConfig.AllowedMIMEs) == 0 {
		docConfig.AllowedMIMEs = []string{"application/pdf", "image/jpeg", "image/png"}
	}
	return &AbsenceService{
		repo:         repo,
		teachers:     teachers,
		sweeper:      sweeper,
		availability: availability,
		documents:    documents,
		audit:        audit,
		calendar:     calendar,
		docConfig:    docConfig,
		validator:    validate,
		logger:       logger,
	}
}

// ListForDate returns the absences in force on a date (today when empty).
func (s *AbsenceService) ListForDate(ctx context.Context, rawDate string) ([]models.Absence, error) {
	date, err := s.calendar.DateOrToday(rawDate)
	if err != nil {
		return nil, err
	}
	absences, err := s.repo.ListForDate(ctx, date)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to list absences")
	}
	return absences, nil
}

// Get returns an absence by id.
func (s *AbsenceService) Get(ctx context.Context, id string) (*models.Absence, error) {
	absence, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "absence not found")
		}
		return nil, appErrors.Storage(err, "failed to load absence")
	}
	return absence, nil
}

// IsAbsent reports whether a teacher is absent at the given date and period.
func (s *AbsenceService) IsAbsent(ctx context.Context, teacherID string, date time.Time, period int) (bool, error) {
	if err := validatePeriod(period); err != nil {
		return false, err
	}
	absences, err := s.repo.ListForTeacherBetween(ctx, teacherID, date, date)
	if err != nil {
		return false, appErrors.Storage(err, "failed to load absences")
	}
	return absentAt(absences, teacherID, date, period), nil
}

// Create records a new absence.
func (s *AbsenceService) Create(ctx context.Context, req dto.AbsenceRequest, actor *models.JWTClaims) (*models.Absence, error) {
	absence, err := s.buildAbsence(ctx, req)
	if err != nil {
		return nil, err
	}
	absence.CreatedBy = actorID(actor)
	if err := s.repo.Create(ctx, absence); err != nil {
		return nil, appErrors.Storage(err, "failed to create absence")
	}
	s.invalidate(ctx, absence.StartDate, absence.EndDate)
	emitAudit(ctx, s.audit, s.logger, actor, auditEntry{
		action: models.AuditActionAbsenceCreate, resource: absenceResource, resourceID: absence.ID, newValues: absence,
	})
	return absence, nil
}

// Update replaces an absence. Substitutions for slots the edit stopped
// covering are revoked.
func (s *AbsenceService) Update(ctx context.Context, id string, req dto.AbsenceRequest, actor *models.JWTClaims) (*models.Absence, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	before := *existing

	next, err := s.buildAbsence(ctx, req)
	if err != nil {
		return nil, err
	}
	next.ID = existing.ID
	next.DocumentRef = existing.DocumentRef
	next.DocumentType = existing.DocumentType
	next.CreatedBy = existing.CreatedBy
	next.CreatedAt = existing.CreatedAt

	if err := s.repo.Update(ctx, next); err != nil {
		return nil, appErrors.Storage(err, "failed to update absence")
	}
	if _, err := s.sweep(ctx, before.TeacherID, before.StartDate, before.EndDate, "", actor); err != nil {
		return nil, err
	}
	s.invalidate(ctx, earliest(before.StartDate, next.StartDate), latest(before.EndDate, next.EndDate))
	emitAudit(ctx, s.audit, s.logger, actor, auditEntry{
		action: models.AuditActionAbsenceUpdate, resource: absenceResource, resourceID: id, oldValues: before, newValues: next,
	})
	return next, nil
}

// Delete removes an absence together with the substitutions it justified.
// The row goes first so a concurrent assign either fails its absence check or
// commits before the sweep lists the teacher's substitutions.
func (s *AbsenceService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Storage(err, "failed to delete absence")
	}
	if _, err := s.sweep(ctx, existing.TeacherID, existing.StartDate, existing.EndDate, existing.ID, actor); err != nil {
		s.logger.Error("absence deleted but substitutions were not revoked",
			zap.String("absence_id", id),
			zap.String("teacher_id", existing.TeacherID),
			zap.Error(err),
		)
		return err
	}
	if existing.DocumentRef != nil && s.documents != nil {
		if err := s.documents.Delete(*existing.DocumentRef); err != nil {
			s.logger.Warn("failed to delete absence document", zap.String("absence_id", id), zap.Error(err))
		}
	}
	s.invalidate(ctx, existing.StartDate, existing.EndDate)
	emitAudit(ctx, s.audit, s.logger, actor, auditEntry{
		action: models.AuditActionAbsenceDelete, resource: absenceResource, resourceID: id, oldValues: existing,
	})
	return nil
}

// AttachDocument stores a supporting document for an absence, replacing any
// previous one.
func (s *AbsenceService) AttachDocument(ctx context.Context, id string, meta dto.AbsenceDocument, content io.Reader) (*models.Absence, error) {
	if s.documents == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "document storage is not configured")
	}
	contentType := strings.ToLower(strings.TrimSpace(strings.Split(meta.ContentType, ";")[0]))
	if !s.allowedMIME(contentType) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "document type not allowed")
	}
	if meta.Size <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "document is empty")
	}
	if meta.Size > s.docConfig.MaxSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation, "document exceeds maximum size")
	}

	absence, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	ext, ok := documentExtensions[contentType]
	if !ok {
		ext = strings.ToLower(filepath.Ext(meta.Filename))
	}
	name := filepath.ToSlash(filepath.Join("absences", absence.ID, uuid.NewString()+ext))
	ref, err := s.documents.SaveStream(name, io.LimitReader(content, s.docConfig.MaxSizeBytes))
	if err != nil {
		return nil, appErrors.Storage(err, "failed to store document")
	}
	if err := s.repo.SetDocument(ctx, absence.ID, ref, contentType); err != nil {
		_ = s.documents.Delete(ref)
		return nil, appErrors.Storage(err, "failed to record document")
	}
	if absence.DocumentRef != nil && *absence.DocumentRef != ref {
		if err := s.documents.Delete(*absence.DocumentRef); err != nil {
			s.logger.Warn("failed to delete replaced absence document", zap.String("absence_id", absence.ID), zap.Error(err))
		}
	}
	absence.DocumentRef = &ref
	absence.DocumentType = &contentType
	return absence, nil
}

// OpenDocument returns the stored document of an absence and its content type.
func (s *AbsenceService) OpenDocument(ctx context.Context, id string) (io.ReadCloser, string, error) {
	absence, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if absence.DocumentRef == nil || s.documents == nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "absence has no document")
	}
	file, err := s.documents.Open(*absence.DocumentRef)
	if err != nil {
		return nil, "", appErrors.Storage(err, "failed to open document")
	}
	contentType := "application/octet-stream"
	if absence.DocumentType != nil {
		contentType = *absence.DocumentType
	}
	return file, contentType, nil
}

func (s *AbsenceService) buildAbsence(ctx context.Context, req dto.AbsenceRequest) (*models.Absence, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid absence payload")
	}
	start, err := s.calendar.ParseDate(req.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := s.calendar.ParseDate(req.EndDate)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "endDate must not be before startDate")
	}
	hours := normalizeHours(req.Hours)
	if req.WholeDay {
		hours = pq.Int64Array{}
	} else if len(hours) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "hours are required when the absence is not whole-day")
	}
	for _, h := range hours {
		if !models.ValidPeriod(int(h)) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "hours must be between 1 and 8")
		}
	}

	teacherID := strings.TrimSpace(req.TeacherID)
	if _, err := s.teachers.FindByID(ctx, teacherID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Storage(err, "failed to load teacher")
	}

	return &models.Absence{
		TeacherID: teacherID,
		StartDate: start,
		EndDate:   end,
		WholeDay:  req.WholeDay,
		Hours:     hours,
		Justified: req.Justified,
		Reason:    strings.TrimSpace(req.Reason),
	}, nil
}

func (s *AbsenceService) sweep(ctx context.Context, teacherID string, from, to time.Time, excludeID string, actor *models.JWTClaims) (int, error) {
	if s.sweeper == nil {
		return 0, nil
	}
	revoked, err := s.sweeper.RevokeUncovered(ctx, teacherID, from, to, excludeID, actor)
	if err != nil {
		return revoked, err
	}
	if revoked > 0 {
		s.logger.Info("revoked substitutions no longer covered by an absence",
			zap.String("teacher_id", teacherID),
			zap.String("from", from.Format(models.DateLayout)),
			zap.String("to", to.Format(models.DateLayout)),
			zap.Int("revoked", revoked),
		)
	}
	return revoked, nil
}

func (s *AbsenceService) invalidate(ctx context.Context, from, to time.Time) {
	if s.availability != nil {
		s.availability.InvalidateDates(ctx, from, to)
	}
}

func (s *AbsenceService) allowedMIME(contentType string) bool {
	for _, allowed := range s.docConfig.AllowedMIMEs {
		if strings.EqualFold(allowed, contentType) {
			return true
		}
	}
	return false
}

// absentAt reports whether any of absences keeps teacherID away at date/period.
func absentAt(absences []models.Absence, teacherID string, date time.Time, period int) bool {
	for _, a := range absences {
		if a.TeacherID == teacherID && a.Covers(date, period) {
			return true
		}
	}
	return false
}

func normalizeHours(hours []int64) pq.Int64Array {
	seen := make(map[int64]struct{}, len(hours))
	out := make(pq.Int64Array, 0, len(hours))
	for _, h := range hours {
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func earliest(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
