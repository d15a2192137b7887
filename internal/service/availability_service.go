package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sma-substitution-api/internal/models"
	appErrors "github.com/noah-isme/sma-substitution-api/pkg/errors"
)

const availabilityCachePrefix = "availability"

// invalidateAllDaysThreshold is the range length past which InvalidateDates
// drops every cached availability entry instead of walking day by day.
const invalidateAllDaysThreshold = 31

type rosterReader interface {
	ListActive(ctx context.Context) ([]models.Teacher, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.Teacher, error)
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
}

type absenceReader interface {
	ListForDate(ctx context.Context, date time.Time) ([]models.Absence, error)
	ListForTeacherBetween(ctx context.Context, teacherID string, from, to time.Time) ([]models.Absence, error)
}

type assignmentReader interface {
	ListForDate(ctx context.Context, date time.Time) ([]models.SubstitutionDetail, error)
}

// AvailabilityService resolves which teachers can cover a slot.
type AvailabilityService struct {
	teachers    rosterReader
	absences    absenceReader
	assignments assignmentReader
	index       *TimetableIndex
	calendar    *SchoolCalendar
	cache       *CacheService
	cacheTTL    time.Duration
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewAvailabilityService constructs an AvailabilityService. cache may be nil.
func NewAvailabilityService(teachers rosterReader, absences absenceReader, assignments assignmentReader, index *TimetableIndex, calendar *SchoolCalendar, cache *CacheService, cacheTTL time.Duration, metrics *MetricsService, logger *zap.Logger) *AvailabilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if calendar == nil {
		calendar = NewSchoolCalendar("")
	}
	return &AvailabilityService{
		teachers:    teachers,
		absences:    absences,
		assignments: assignments,
		index:       index,
		calendar:    calendar,
		cache:       cache,
		cacheTTL:    cacheTTL,
		metrics:     metrics,
		logger:      logger,
	}
}

// FindAvailable lists the teachers able to cover (date, period), ordered by
// ascending hours owed, then surname, name and id. The boolean reports a
// cache hit.
func (s *AvailabilityService) FindAvailable(ctx context.Context, rawDate string, period int) ([]models.Candidate, bool, error) {
	date, err := s.calendar.ParseDate(rawDate)
	if err != nil {
		return nil, false, err
	}
	if err := validatePeriod(period); err != nil {
		return nil, false, err
	}
	weekday := s.calendar.Weekday(date)
	if weekday == 0 {
		return []models.Candidate{}, false, nil
	}

	cacheKey := availabilityCacheKey(date, period)
	var cached []models.Candidate
	if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		return cached, true, nil
	}

	start := time.Now()
	var (
		roster   []models.Teacher
		absences []models.Absence
		assigned []models.SubstitutionDetail
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		roster, err = s.teachers.ListActive(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		absences, err = s.absences.ListForDate(gctx, date)
		return err
	})
	g.Go(func() error {
		var err error
		assigned, err = s.assignments.ListForDate(gctx, date)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, false, appErrors.Storage(err, "failed to load availability data")
	}

	candidates := make([]models.Candidate, 0, len(roster))
	for _, teacher := range roster {
		if s.ineligibility(teacher, date, weekday, period, absences, assigned, "") != "" {
			continue
		}
		candidates = append(candidates, models.Candidate{
			Teacher:             teacher,
			IsUnscheduledAtSlot: s.unscheduledAt(teacher.ID, weekday, period),
		})
	}
	sortCandidates(candidates)
	s.metrics.ObserveAvailability(time.Since(start))

	if err := s.cache.Set(ctx, cacheKey, candidates, s.cacheTTL); err != nil {
		s.logger.Debug("availability cache write skipped", zap.String("key", cacheKey), zap.Error(err))
	}
	return candidates, false, nil
}

// Evaluate returns the first reason teacherID cannot cover (date, period), or
// an empty Ineligibility when it can. The assignment held by the slot of
// ignoreAbsentTeacherID is not counted against the teacher, so reassigning the
// same substitute stays possible. It always reads storage, never the cache.
func (s *AvailabilityService) Evaluate(ctx context.Context, date time.Time, period int, teacherID, ignoreAbsentTeacherID string) (models.Ineligibility, error) {
	if err := validatePeriod(period); err != nil {
		return "", err
	}
	teacher, err := s.teachers.FindByID(ctx, teacherID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return "", appErrors.Storage(err, "failed to load teacher")
	}
	if !teacher.Active {
		return models.IneligibleInactive, nil
	}

	absences, err := s.absences.ListForTeacherBetween(ctx, teacherID, date, date)
	if err != nil {
		return "", appErrors.Storage(err, "failed to load absences")
	}
	assigned, err := s.assignments.ListForDate(ctx, date)
	if err != nil {
		return "", appErrors.Storage(err, "failed to load substitutions")
	}
	return s.ineligibility(*teacher, date, s.calendar.Weekday(date), period, absences, assigned, ignoreAbsentTeacherID), nil
}

// Gaps lists, for a date, every lesson an absent teacher would have taught
// with the substitute currently covering it, if any.
func (s *AvailabilityService) Gaps(ctx context.Context, rawDate string) ([]models.CoverageGap, error) {
	date, err := s.calendar.DateOrToday(rawDate)
	if err != nil {
		return nil, err
	}
	weekday := s.calendar.Weekday(date)
	if weekday == 0 {
		return []models.CoverageGap{}, nil
	}

	var (
		absences []models.Absence
		assigned []models.SubstitutionDetail
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		absences, err = s.absences.ListForDate(gctx, date)
		return err
	})
	g.Go(func() error {
		var err error
		assigned, err = s.assignments.ListForDate(gctx, date)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, appErrors.Storage(err, "failed to load coverage data")
	}
	if len(absences) == 0 {
		return []models.CoverageGap{}, nil
	}

	ids := make([]string, 0, len(absences))
	seenTeacher := make(map[string]struct{}, len(absences))
	for _, a := range absences {
		if _, ok := seenTeacher[a.TeacherID]; !ok {
			seenTeacher[a.TeacherID] = struct{}{}
			ids = append(ids, a.TeacherID)
		}
	}
	teachers, err := s.teachers.ListByIDs(ctx, ids)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to load absent teachers")
	}
	byID := make(map[string]models.Teacher, len(teachers))
	for _, t := range teachers {
		byID[t.ID] = t
	}

	bySlot := make(map[string]models.Substitution, len(assigned))
	for _, sub := range assigned {
		bySlot[gapKey(sub.AbsentTeacherID, sub.Period)] = sub.Substitution
	}

	gaps := make([]models.CoverageGap, 0)
	emitted := make(map[string]struct{})
	for _, absence := range absences {
		for _, lesson := range s.index.LessonsForTeacher(absence.TeacherID) {
			if lesson.Weekday != weekday || s.index.IsFreePeriod(lesson) || !absence.Covers(date, lesson.Period) {
				continue
			}
			key := gapKey(absence.TeacherID, lesson.Period)
			if _, dup := emitted[key]; dup {
				continue
			}
			emitted[key] = struct{}{}
			teacher := byID[absence.TeacherID]
			gap := models.CoverageGap{
				Date:                 date.Format(models.DateLayout),
				Period:               lesson.Period,
				AbsenceID:            absence.ID,
				AbsentTeacherID:      absence.TeacherID,
				AbsentTeacherName:    teacher.Name,
				AbsentTeacherSurname: teacher.Surname,
				ClassID:              lesson.ClassID,
				SubjectID:            lesson.SubjectID,
				Room:                 lesson.Room,
			}
			if sub, ok := bySlot[key]; ok {
				covered := sub
				gap.Substitution = &covered
				gap.SubstituteAbsent = absentAt(absences, sub.SubstituteTeacherID, date, lesson.Period)
			}
			gaps = append(gaps, gap)
		}
	}
	sort.Slice(gaps, func(i, j int) bool {
		if gaps[i].Period != gaps[j].Period {
			return gaps[i].Period < gaps[j].Period
		}
		if gaps[i].AbsentTeacherSurname != gaps[j].AbsentTeacherSurname {
			return gaps[i].AbsentTeacherSurname < gaps[j].AbsentTeacherSurname
		}
		return gaps[i].AbsentTeacherID < gaps[j].AbsentTeacherID
	})
	return gaps, nil
}

// InvalidateAll drops every cached availability result.
func (s *AvailabilityService) InvalidateAll(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, availabilityCachePrefix+":*")
}

// InvalidateDates drops cached availability results for every day in [from, to].
func (s *AvailabilityService) InvalidateDates(ctx context.Context, from, to time.Time) {
	from, to = models.DateOnly(from), models.DateOnly(to)
	if to.Before(from) {
		from, to = to, from
	}
	if to.Sub(from) > invalidateAllDaysThreshold*24*time.Hour {
		s.InvalidateAll(ctx)
		return
	}
	patterns := make([]string, 0, int(to.Sub(from).Hours()/24)+1)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		patterns = append(patterns, fmt.Sprintf("%s:%s:*", availabilityCachePrefix, d.Format(models.DateLayout)))
	}
	_ = s.cache.Invalidate(ctx, patterns...)
}

// ineligibility applies the eligibility rules in order: inactive, teaching
// their own class, absent, already substituting elsewhere.
func (s *AvailabilityService) ineligibility(teacher models.Teacher, date time.Time, weekday, period int, absences []models.Absence, assigned []models.SubstitutionDetail, ignoreAbsentTeacherID string) models.Ineligibility {
	if !teacher.Active {
		return models.IneligibleInactive
	}
	if weekday != 0 && s.index.IsTeaching(teacher.ID, weekday, period) {
		return models.IneligibleTeaching
	}
	if absentAt(absences, teacher.ID, date, period) {
		return models.IneligibleAbsent
	}
	for _, sub := range assigned {
		if sub.Period != period || sub.SubstituteTeacherID != teacher.ID {
			continue
		}
		if ignoreAbsentTeacherID != "" && sub.AbsentTeacherID == ignoreAbsentTeacherID {
			continue
		}
		return models.IneligibleAlreadyAssigned
	}
	return ""
}

func (s *AvailabilityService) unscheduledAt(teacherID string, weekday, period int) bool {
	lesson, ok := s.index.LessonFor(teacherID, weekday, period)
	return ok && s.index.IsFreePeriod(lesson)
}

func sortCandidates(candidates []models.Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.HoursOwed != b.HoursOwed {
			return a.HoursOwed < b.HoursOwed
		}
		if !strings.EqualFold(a.Surname, b.Surname) {
			return strings.ToLower(a.Surname) < strings.ToLower(b.Surname)
		}
		if !strings.EqualFold(a.Name, b.Name) {
			return strings.ToLower(a.Name) < strings.ToLower(b.Name)
		}
		return a.ID < b.ID
	})
}

func availabilityCacheKey(date time.Time, period int) string {
	return fmt.Sprintf("%s:%s:%d", availabilityCachePrefix, date.Format(models.DateLayout), period)
}

func gapKey(teacherID string, period int) string {
	return fmt.Sprintf("%s|%d", teacherID, period)
}
