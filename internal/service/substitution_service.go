package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-substitution-api/internal/dto"
	"github.com/noah-isme/sma-substitution-api/internal/models"
	"github.com/noah-isme/sma-substitution-api/internal/repository"
	"github.com/noah-isme/sma-substitution-api/pkg/database"
	appErrors "github.com/noah-isme/sma-substitution-api/pkg/errors"
	"github.com/noah-isme/sma-substitution-api/pkg/lock"
)

const (
	substitutionResource = "substitution"

	substituteSlotConstraint = "substitutions_substitute_slot_key"
)

type substitutionRepository interface {
	ListForDate(ctx context.Context, date time.Time) ([]models.SubstitutionDetail, error)
	ListForAbsentTeacherBetween(ctx context.Context, teacherID string, from, to time.Time) ([]models.Substitution, error)
	Upsert(ctx context.Context, sub models.Substitution) (*repository.SubstitutionUpsertResult, error)
	Delete(ctx context.Context, key models.SubstitutionKey) (*models.Substitution, error)
}

type eligibilityChecker interface {
	Evaluate(ctx context.Context, date time.Time, period int, teacherID, ignoreAbsentTeacherID string) (models.Ineligibility, error)
	InvalidateAll(ctx context.Context)
}

// SubstitutionConfig tunes credit bookkeeping and slot locking.
type SubstitutionConfig struct {
	CreditHours int
	LockTTL     time.Duration
	LockWait    time.Duration
}

var conflictMessages = map[models.Ineligibility]string{
	models.IneligibleInactive:        "substitute is inactive",
	models.IneligibleTeaching:        "substitute is teaching their own class at this slot",
	models.IneligibleAbsent:          "substitute is absent at this slot",
	models.IneligibleAlreadyAssigned: "substitute is already assigned elsewhere at this slot",
	models.IneligibleSlotBusy:        "slot is being updated, please retry",
}

// SubstitutionService assigns and revokes substitutes for absent teachers'
// lessons. Every transition of a slot is serialized by a slot lock and applied
// in a single transaction together with its hours-owed bookkeeping.
type SubstitutionService struct {
	repo        substitutionRepository
	teachers    teacherLookup
	absences    absenceReader
	eligibility eligibilityChecker
	index       *TimetableIndex
	locker      lock.Locker
	audit       auditLogger
	metrics     *MetricsService
	calendar    *SchoolCalendar
	config      SubstitutionConfig
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewSubstitutionService constructs a SubstitutionService.
func NewSubstitutionService(
	repo substitutionRepository,
	teachers teacherLookup,
	absences absenceReader,
	eligibility eligibilityChecker,
	index *TimetableIndex,
	locker lock.Locker,
	audit auditLogger,
	metrics *MetricsService,
	calendar *SchoolCalendar,
	config SubstitutionConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *SubstitutionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if calendar == nil {
		calendar = NewSchoolCalendar("")
	}
	if locker == nil {
		locker = lock.NewLocalLock()
	}
	if config.CreditHours <= 0 {
		config.CreditHours = 1
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 10 * time.Second
	}
	if config.LockWait <= 0 {
		config.LockWait = 3 * time.Second
	}
	return &SubstitutionService{
		repo:        repo,
		teachers:    teachers,
		absences:    absences,
		eligibility: eligibility,
		index:       index,
		locker:      locker,
		audit:       audit,
		metrics:     metrics,
		calendar:    calendar,
		config:      config,
		validator:   validate,
		logger:      logger,
	}
}

// ListForDate returns the day's assignments ordered by period, then absent surname.
func (s *SubstitutionService) ListForDate(ctx context.Context, rawDate string) ([]models.SubstitutionDetail, error) {
	date, err := s.calendar.DateOrToday(rawDate)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListForDate(ctx, date)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to list substitutions")
	}
	return items, nil
}

// Assign makes req.SubstituteTeacherID the substitute for the absent teacher's
// lesson at (date, period), replacing any previous substitute. The substitute
// is re-validated against storage under the slot lock.
func (s *SubstitutionService) Assign(ctx context.Context, req dto.AssignSubstitutionRequest, actor *models.JWTClaims) (*models.Substitution, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid substitution payload")
	}
	date, err := s.calendar.ParseDate(req.Date)
	if err != nil {
		return nil, err
	}
	if err := validatePeriod(req.Period); err != nil {
		return nil, err
	}
	absentID := strings.TrimSpace(req.AbsentTeacherID)
	substituteID := strings.TrimSpace(req.SubstituteTeacherID)
	if absentID == substituteID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a teacher cannot substitute for themselves")
	}

	if _, err := s.teachers.FindByID(ctx, absentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "absent teacher not found")
		}
		return nil, appErrors.Storage(err, "failed to load absent teacher")
	}

	lesson, err := s.lessonToCover(ctx, absentID, date, req.Period)
	if err != nil {
		return nil, err
	}

	key := models.SubstitutionKey{Date: date, Period: req.Period, AbsentTeacherID: absentID}
	release, err := s.locker.Acquire(ctx, "substitution:"+key.String(), s.config.LockTTL, s.config.LockWait)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			s.metrics.RecordSubstitution("assign", outcomeConflict)
			return nil, conflictError(models.IneligibleSlotBusy, substituteID, date, req.Period)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock substitution slot")
	}
	defer release()

	if err := s.requireAbsent(ctx, absentID, date, req.Period); err != nil {
		return nil, err
	}

	reason, err := s.eligibility.Evaluate(ctx, date, req.Period, substituteID, absentID)
	if err != nil {
		if appErrors.FromError(err).Code == appErrors.ErrNotFound.Code {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "substitute teacher not found")
		}
		s.metrics.RecordSubstitution("assign", outcomeError)
		return nil, err
	}
	if reason != "" {
		s.metrics.RecordSubstitution("assign", outcomeConflict)
		return nil, conflictError(reason, substituteID, date, req.Period)
	}

	result, err := s.repo.Upsert(ctx, models.Substitution{
		Date:                date,
		Period:              req.Period,
		AbsentTeacherID:     absentID,
		SubstituteTeacherID: substituteID,
		ClassID:             lesson.ClassID,
		SubjectID:           lesson.SubjectID,
		Room:                lesson.Room,
		CreditedHours:       s.config.CreditHours,
		CreatedBy:           actorID(actor),
	})
	if err != nil {
		if errors.Is(err, repository.ErrSlotNotCovered) {
			s.metrics.RecordSubstitution("assign", outcomeConflict)
			return nil, appErrors.Clone(appErrors.ErrValidation, "teacher is not absent at this slot")
		}
		if constraint, ok := database.UniqueViolation(err); ok {
			s.metrics.RecordSubstitution("assign", outcomeConflict)
			if constraint == substituteSlotConstraint {
				return nil, conflictError(models.IneligibleAlreadyAssigned, substituteID, date, req.Period)
			}
			return nil, conflictError(models.IneligibleSlotBusy, substituteID, date, req.Period)
		}
		s.metrics.RecordSubstitution("assign", outcomeError)
		return nil, appErrors.Storage(err, "failed to save substitution")
	}

	s.metrics.RecordSubstitution("assign", outcomeSuccess)
	// hours owed orders availability on every date
	s.eligibility.InvalidateAll(ctx)
	entry := auditEntry{
		action:     models.AuditActionSubstitutionAssign,
		resource:   substitutionResource,
		resourceID: result.Current.ID,
		newValues:  result.Current,
	}
	if result.Previous != nil {
		entry.oldValues = result.Previous
	}
	emitAudit(ctx, s.audit, s.logger, actor, entry)
	s.logger.Info("substitution assigned",
		zap.String("date", req.Date),
		zap.Int("period", req.Period),
		zap.String("absent_teacher_id", absentID),
		zap.String("substitute_teacher_id", substituteID),
		zap.Bool("reassigned", result.Previous != nil),
	)
	current := result.Current
	return &current, nil
}

// Revoke removes the assignment of a slot and reverses its credit. Revoking an
// empty slot succeeds without changes.
func (s *SubstitutionService) Revoke(ctx context.Context, rawDate string, period int, absentTeacherID string, actor *models.JWTClaims) error {
	date, err := s.calendar.ParseDate(rawDate)
	if err != nil {
		return err
	}
	if err := validatePeriod(period); err != nil {
		return err
	}
	absentTeacherID = strings.TrimSpace(absentTeacherID)
	if absentTeacherID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "absentTeacherId is required")
	}
	_, err = s.revokeKey(ctx, models.SubstitutionKey{Date: date, Period: period, AbsentTeacherID: absentTeacherID}, actor)
	return err
}

// RevokeUncovered revokes the assignments of teacherID between from and to
// whose slot is no longer covered by any of the teacher's absences, ignoring
// the absence excludeAbsenceID. It returns the number of revocations.
//
// Callers change the absence first. Assigns already past their absence check
// on one of the teacher's slots are waited out before assignments are listed.
func (s *SubstitutionService) RevokeUncovered(ctx context.Context, teacherID string, from, to time.Time, excludeAbsenceID string, actor *models.JWTClaims) (int, error) {
	s.awaitSlotWriters(ctx, teacherID, from, to)

	subs, err := s.repo.ListForAbsentTeacherBetween(ctx, teacherID, from, to)
	if err != nil {
		return 0, appErrors.Storage(err, "failed to list substitutions")
	}
	if len(subs) == 0 {
		return 0, nil
	}
	absences, err := s.absences.ListForTeacherBetween(ctx, teacherID, from, to)
	if err != nil {
		return 0, appErrors.Storage(err, "failed to list absences")
	}
	remaining := make([]models.Absence, 0, len(absences))
	for _, a := range absences {
		if a.ID != excludeAbsenceID {
			remaining = append(remaining, a)
		}
	}

	revoked := 0
	for _, sub := range subs {
		if absentAt(remaining, teacherID, sub.Date, sub.Period) {
			continue
		}
		removed, err := s.revokeKey(ctx, sub.SlotKey(), actor)
		if err != nil {
			s.metrics.RecordCascadeRevocations(revoked)
			return revoked, err
		}
		if removed {
			revoked++
			s.logger.Info("substitution revoked by absence change",
				zap.String("absent_teacher_id", teacherID),
				zap.String("date", sub.Date.Format(models.DateLayout)),
				zap.Int("period", sub.Period),
				zap.String("substitute_teacher_id", sub.SubstituteTeacherID),
			)
		}
	}
	s.metrics.RecordCascadeRevocations(revoked)
	return revoked, nil
}

func (s *SubstitutionService) revokeKey(ctx context.Context, key models.SubstitutionKey, actor *models.JWTClaims) (bool, error) {
	release, err := s.locker.Acquire(ctx, "substitution:"+key.String(), s.config.LockTTL, s.config.LockWait)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			s.metrics.RecordSubstitution("revoke", outcomeConflict)
			return false, conflictError(models.IneligibleSlotBusy, key.AbsentTeacherID, key.Date, key.Period)
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock substitution slot")
	}
	defer release()

	removed, err := s.repo.Delete(ctx, key)
	if err != nil {
		s.metrics.RecordSubstitution("revoke", outcomeError)
		return false, appErrors.Storage(err, "failed to revoke substitution")
	}
	if removed == nil {
		return false, nil
	}
	s.metrics.RecordSubstitution("revoke", outcomeSuccess)
	s.eligibility.InvalidateAll(ctx)
	emitAudit(ctx, s.audit, s.logger, actor, auditEntry{
		action:     models.AuditActionSubstitutionRevoke,
		resource:   substitutionResource,
		resourceID: removed.ID,
		oldValues:  removed,
	})
	return true, nil
}

// awaitSlotWriters takes and drops the slot lock of every lesson teacherID
// teaches between from and to. A slot that stays busy is logged and skipped;
// the covering-absence lock taken by Upsert still rejects its writer.
func (s *SubstitutionService) awaitSlotWriters(ctx context.Context, teacherID string, from, to time.Time) {
	from, to = models.DateOnly(from), models.DateOnly(to)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		weekday := s.calendar.Weekday(d)
		if weekday == 0 {
			continue
		}
		for period := models.FirstPeriod; period <= models.LastPeriod; period++ {
			if !s.index.IsTeaching(teacherID, weekday, period) {
				continue
			}
			key := models.SubstitutionKey{Date: d, Period: period, AbsentTeacherID: teacherID}
			release, err := s.locker.Acquire(ctx, "substitution:"+key.String(), s.config.LockTTL, s.config.LockWait)
			if err != nil {
				s.logger.Warn("slot still busy while sweeping substitutions", zap.String("slot", key.String()), zap.Error(err))
				continue
			}
			release()
		}
	}
}

// lessonToCover returns the lesson the absent teacher misses at the slot. It
// fails when the teacher has nothing to teach there or is not absent.
func (s *SubstitutionService) lessonToCover(ctx context.Context, teacherID string, date time.Time, period int) (models.Lesson, error) {
	weekday := s.calendar.Weekday(date)
	if weekday == 0 {
		return models.Lesson{}, appErrors.Clone(appErrors.ErrValidation, "no lessons are held on Sunday")
	}
	lesson, ok := s.index.LessonFor(teacherID, weekday, period)
	if !ok || s.index.IsFreePeriod(lesson) {
		return models.Lesson{}, appErrors.Clone(appErrors.ErrValidation, "absent teacher has no lesson at this slot")
	}
	if err := s.requireAbsent(ctx, teacherID, date, period); err != nil {
		return models.Lesson{}, err
	}
	return lesson, nil
}

func (s *SubstitutionService) requireAbsent(ctx context.Context, teacherID string, date time.Time, period int) error {
	absences, err := s.absences.ListForTeacherBetween(ctx, teacherID, date, date)
	if err != nil {
		return appErrors.Storage(err, "failed to load absences")
	}
	if !absentAt(absences, teacherID, date, period) {
		return appErrors.Clone(appErrors.ErrValidation, "teacher is not absent at this slot")
	}
	return nil
}

func conflictError(reason models.Ineligibility, teacherID string, date time.Time, period int) error {
	cause := &models.SubstitutionConflictError{
		Reason:    reason,
		TeacherID: teacherID,
		Date:      date.Format(models.DateLayout),
		Period:    period,
	}
	return appErrors.Wrap(cause, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, conflictMessages[reason])
}
