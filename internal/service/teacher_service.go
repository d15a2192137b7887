package service

import (
	"context"
	"database/sql"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-substitution-api/internal/dto"
	"github.com/noah-isme/sma-substitution-api/internal/models"
	appErrors "github.com/noah-isme/sma-substitution-api/pkg/errors"
)

const teacherResource = "teacher"

type teacherRepository interface {
	List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, int, error)
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
	ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error)
	Create(ctx context.Context, teacher *models.Teacher) error
	Update(ctx context.Context, teacher *models.Teacher) error
	Deactivate(ctx context.Context, id string) error
}

type availabilityInvalidator interface {
	InvalidateAll(ctx context.Context)
}

// TeacherService orchestrates teacher operations.
type TeacherService struct {
	repo         teacherRepository
	availability availabilityInvalidator
	audit        auditLogger
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewTeacherService constructs a TeacherService.
func NewTeacherService(repo teacherRepository, availability availabilityInvalidator, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *TeacherService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TeacherService{repo: repo, availability: availability, audit: audit, validator: validate, logger: logger}
}

// List returns teachers plus pagination data.
func (s *TeacherService) List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, *models.Pagination, error) {
	teachers, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Storage(err, "failed to list teachers")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return teachers, pagination, nil
}

// Get returns a teacher by id.
func (s *TeacherService) Get(ctx context.Context, id string) (*models.Teacher, error) {
	teacher, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Storage(err, "failed to load teacher")
	}
	return teacher, nil
}

// Create registers a new teacher record.
func (s *TeacherService) Create(ctx context.Context, req dto.CreateTeacherRequest, actor *models.JWTClaims) (*models.Teacher, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid teacher payload")
	}
	email := normalizeOptional(req.Email)
	if err := s.ensureUniqueEmail(ctx, email, ""); err != nil {
		return nil, err
	}

	teacher := &models.Teacher{
		Name:             strings.TrimSpace(req.Name),
		Surname:          strings.TrimSpace(req.Surname),
		Email:            email,
		Active:           true,
		WeeklyHours:      req.WeeklyHours,
		HoursOwed:        req.HoursOwed,
		IsSupportTeacher: req.IsSupportTeacher,
	}

	if err := s.repo.Create(ctx, teacher); err != nil {
		return nil, appErrors.Storage(err, "failed to create teacher")
	}
	s.invalidateAvailability(ctx)
	emitAudit(ctx, s.audit, s.logger, actor, auditEntry{
		action: models.AuditActionTeacherCreate, resource: teacherResource, resourceID: teacher.ID, newValues: teacher,
	})
	return teacher, nil
}

// Update modifies an existing teacher. Hours owed is not editable.
func (s *TeacherService) Update(ctx context.Context, id string, req dto.UpdateTeacherRequest, actor *models.JWTClaims) (*models.Teacher, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid teacher payload")
	}

	teacher, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	before := *teacher

	email := normalizeOptional(req.Email)
	if err := s.ensureUniqueEmail(ctx, email, id); err != nil {
		return nil, err
	}

	teacher.Name = strings.TrimSpace(req.Name)
	teacher.Surname = strings.TrimSpace(req.Surname)
	teacher.Email = email
	teacher.WeeklyHours = req.WeeklyHours
	teacher.IsSupportTeacher = req.IsSupportTeacher
	if req.Active != nil {
		teacher.Active = *req.Active
	}

	if err := s.repo.Update(ctx, teacher); err != nil {
		return nil, appErrors.Storage(err, "failed to update teacher")
	}
	s.invalidateAvailability(ctx)
	emitAudit(ctx, s.audit, s.logger, actor, auditEntry{
		action: models.AuditActionTeacherUpdate, resource: teacherResource, resourceID: id, oldValues: before, newValues: teacher,
	})
	return teacher, nil
}

// Deactivate marks a teacher inactive. Teachers are never deleted because
// substitutions reference them.
func (s *TeacherService) Deactivate(ctx context.Context, id string, actor *models.JWTClaims) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Storage(err, "failed to deactivate teacher")
	}
	s.invalidateAvailability(ctx)
	emitAudit(ctx, s.audit, s.logger, actor, auditEntry{
		action: models.AuditActionTeacherDeactivate, resource: teacherResource, resourceID: id,
	})
	return nil
}

func (s *TeacherService) invalidateAvailability(ctx context.Context) {
	if s.availability != nil {
		s.availability.InvalidateAll(ctx)
	}
}

func (s *TeacherService) ensureUniqueEmail(ctx context.Context, email *string, excludeID string) error {
	if email == nil {
		return nil
	}
	exists, err := s.repo.ExistsByEmail(ctx, *email, excludeID)
	if err != nil {
		return appErrors.Storage(err, "failed to check email uniqueness")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "email already used")
	}
	return nil
}

func normalizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
