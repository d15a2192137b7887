package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-substitution-api/internal/dto"
	"github.com/noah-isme/sma-substitution-api/internal/models"
	"github.com/noah-isme/sma-substitution-api/pkg/database"
	appErrors "github.com/noah-isme/sma-substitution-api/pkg/errors"
)

const timetableResource = "timetable"

type lessonRepository interface {
	ListAll(ctx context.Context) ([]models.Lesson, error)
	ReplaceAll(ctx context.Context, lessons []models.Lesson) error
}

// TimetableService owns the stored timetable and keeps the in-memory index in
// sync with it.
type TimetableService struct {
	repo         lessonRepository
	index        *TimetableIndex
	availability availabilityInvalidator
	audit        auditLogger
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewTimetableService constructs a TimetableService.
func NewTimetableService(repo lessonRepository, index *TimetableIndex, availability availabilityInvalidator, audit auditLogger, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *TimetableService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimetableService{
		repo:         repo,
		index:        index,
		availability: availability,
		audit:        audit,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
	}
}

// Index exposes the live timetable index.
func (s *TimetableService) Index() *TimetableIndex {
	return s.index
}

// Reload rebuilds the index from storage.
func (s *TimetableService) Reload(ctx context.Context) error {
	lessons, err := s.repo.ListAll(ctx)
	if err != nil {
		s.metrics.RecordTimetableReload(0, err)
		return appErrors.Storage(err, "failed to load timetable")
	}
	s.reportDuplicates(s.index.Rebuild(lessons), lessons)
	s.metrics.RecordTimetableReload(s.index.Size(), nil)
	s.logger.Debug("timetable index rebuilt", zap.Int("lessons", s.index.Size()))
	return nil
}

// Import replaces the whole timetable with req.Lessons. Rows sharing a slot
// keep the later row; every collision is logged and reported.
func (s *TimetableService) Import(ctx context.Context, req dto.ImportTimetableRequest, actor *models.JWTClaims) (*dto.TimetableImportResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid timetable payload")
	}

	lessons := make([]models.Lesson, 0, len(req.Lessons))
	for _, row := range req.Lessons {
		lessons = append(lessons, models.Lesson{
			TeacherID: strings.TrimSpace(row.TeacherID),
			Weekday:   row.Weekday,
			Period:    row.Period,
			ClassID:   strings.TrimSpace(row.ClassID),
			SubjectID: strings.TrimSpace(row.SubjectID),
			Room:      strings.TrimSpace(row.Room),
		})
	}

	staging := NewTimetableIndex(s.index.freeSubject)
	duplicates := staging.Rebuild(lessons)
	s.reportDuplicates(duplicates, lessons)

	unique := dedupeLessons(lessons, duplicates)
	if err := s.repo.ReplaceAll(ctx, unique); err != nil {
		if database.ForeignKeyViolation(err) {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "timetable references an unknown teacher")
		}
		return nil, appErrors.Storage(err, "failed to store timetable")
	}
	s.index.Rebuild(unique)
	s.metrics.RecordTimetableReload(s.index.Size(), nil)
	if s.availability != nil {
		s.availability.InvalidateAll(ctx)
	}

	result := &dto.TimetableImportResult{Imported: len(unique), Duplicates: make([]dto.DuplicateLesson, 0, len(duplicates))}
	for _, dup := range duplicates {
		result.Duplicates = append(result.Duplicates, dto.DuplicateLesson{
			TeacherID: dup.Key.TeacherID,
			Weekday:   dup.Key.Weekday,
			Period:    dup.Key.Period,
			Kept:      dup.Kept,
			Dropped:   dup.Dropped,
		})
	}
	emitAudit(ctx, s.audit, s.logger, actor, auditEntry{
		action:    models.AuditActionTimetableImport,
		resource:  timetableResource,
		newValues: map[string]int{"imported": result.Imported, "duplicates": len(result.Duplicates)},
	})
	return result, nil
}

// ListByTeacher returns the weekly lessons of a teacher.
func (s *TimetableService) ListByTeacher(ctx context.Context, teacherID string) ([]models.Lesson, error) {
	if strings.TrimSpace(teacherID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacherId is required")
	}
	return s.index.LessonsForTeacher(teacherID), nil
}

// Slot resolves what a teacher does at a weekday and period.
func (s *TimetableService) Slot(ctx context.Context, teacherID string, weekday, period int) (*dto.SlotLookup, error) {
	if strings.TrimSpace(teacherID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacherId is required")
	}
	if !models.ValidWeekday(weekday) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "weekday must be between 1 (Monday) and 6 (Saturday)")
	}
	if err := validatePeriod(period); err != nil {
		return nil, err
	}
	lookup := &dto.SlotLookup{TeacherID: teacherID, Weekday: weekday, Period: period}
	if lesson, ok := s.index.LessonFor(teacherID, weekday, period); ok {
		lookup.Lesson = &lesson
		lookup.IsTeaching = !s.index.IsFreePeriod(lesson)
	}
	return lookup, nil
}

func (s *TimetableService) reportDuplicates(duplicates []DuplicateSlot, lessons []models.Lesson) {
	for _, dup := range duplicates {
		kept, dropped := lessons[dup.Kept], lessons[dup.Dropped]
		s.logger.Warn("duplicate timetable slot, later row wins",
			zap.String("teacher_id", dup.Key.TeacherID),
			zap.Int("weekday", dup.Key.Weekday),
			zap.Int("period", dup.Key.Period),
			zap.String("kept", fmt.Sprintf("row %d class=%s subject=%s", dup.Kept, kept.ClassID, kept.SubjectID)),
			zap.String("dropped", fmt.Sprintf("row %d class=%s subject=%s", dup.Dropped, dropped.ClassID, dropped.SubjectID)),
		)
	}
}

// dedupeLessons drops the rows overwritten by a later row for the same slot.
func dedupeLessons(lessons []models.Lesson, duplicates []DuplicateSlot) []models.Lesson {
	if len(duplicates) == 0 {
		return lessons
	}
	dropped := make(map[int]struct{}, len(duplicates))
	for _, dup := range duplicates {
		dropped[dup.Dropped] = struct{}{}
	}
	out := make([]models.Lesson, 0, len(lessons)-len(dropped))
	for i, lesson := range lessons {
		if _, skip := dropped[i]; !skip {
			out = append(out, lesson)
		}
	}
	return out
}
