package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-substitution-api/internal/models"
	"github.com/noah-isme/sma-substitution-api/internal/repository"
	appErrors "github.com/noah-isme/sma-substitution-api/pkg/errors"
	"github.com/noah-isme/sma-substitution-api/pkg/lock"
)

// memStore is an in-memory stand-in for the teachers, absences and
// substitutions tables. Hours-owed bookkeeping mirrors the SQL repository.
type memStore struct {
	mu            sync.Mutex
	teachers      map[string]models.Teacher
	absences      map[string]models.Absence
	substitutions map[string]models.Substitution
	lessons       []models.Lesson
	audits        []*models.AuditLog

	upsertErr error
}

func newMemStore() *memStore {
	return &memStore{
		teachers:      make(map[string]models.Teacher),
		absences:      make(map[string]models.Absence),
		substitutions: make(map[string]models.Substitution),
	}
}

func (m *memStore) hours(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.teachers[id].HoursOwed
}

func (m *memStore) substitutionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.substitutions)
}

func (m *memStore) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, log)
	return nil
}

func (m *memStore) auditActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions := make([]string, 0, len(m.audits))
	for _, a := range m.audits {
		actions = append(actions, a.Action)
	}
	return actions
}

type memTeachers struct{ *memStore }

func (r memTeachers) List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Teacher, 0, len(r.teachers))
	for _, t := range r.teachers {
		if filter.Active != nil && t.Active != *filter.Active {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(t.FullName()), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Surname < out[j].Surname })
	return out, len(out), nil
}

func (r memTeachers) ListActive(ctx context.Context) ([]models.Teacher, error) {
	active := true
	items, _, err := r.List(ctx, models.TeacherFilter{Active: &active})
	return items, err
}

func (r memTeachers) ListByIDs(ctx context.Context, ids []string) ([]models.Teacher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Teacher, 0, len(ids))
	for _, id := range ids {
		if t, ok := r.teachers[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r memTeachers) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teachers[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &t, nil
}

func (r memTeachers) ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.teachers {
		if t.ID != excludeID && t.Email != nil && strings.EqualFold(*t.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (r memTeachers) Create(ctx context.Context, teacher *models.Teacher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if teacher.ID == "" {
		teacher.ID = uuid.NewString()
	}
	r.teachers[teacher.ID] = *teacher
	return nil
}

func (r memTeachers) Update(ctx context.Context, teacher *models.Teacher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.teachers[teacher.ID]
	if !ok {
		return sql.ErrNoRows
	}
	next := *teacher
	next.HoursOwed = current.HoursOwed
	r.teachers[teacher.ID] = next
	return nil
}

func (r memTeachers) Deactivate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teachers[id]
	if !ok {
		return sql.ErrNoRows
	}
	t.Active = false
	r.teachers[id] = t
	return nil
}

type memAbsences struct{ *memStore }

func (r memAbsences) ListForDate(ctx context.Context, date time.Time) ([]models.Absence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Absence, 0)
	for _, a := range r.absences {
		if a.CoversDate(date) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memAbsences) ListForTeacherBetween(ctx context.Context, teacherID string, from, to time.Time) ([]models.Absence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Absence, 0)
	for _, a := range r.absences {
		if a.TeacherID != teacherID {
			continue
		}
		if models.DateOnly(a.EndDate).Before(models.DateOnly(from)) || models.DateOnly(a.StartDate).After(models.DateOnly(to)) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (r memAbsences) FindByID(ctx context.Context, id string) (*models.Absence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.absences[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &a, nil
}

func (r memAbsences) Create(ctx context.Context, absence *models.Absence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if absence.ID == "" {
		absence.ID = uuid.NewString()
	}
	r.absences[absence.ID] = *absence
	return nil
}

func (r memAbsences) Update(ctx context.Context, absence *models.Absence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.absences[absence.ID]; !ok {
		return sql.ErrNoRows
	}
	r.absences[absence.ID] = *absence
	return nil
}

func (r memAbsences) SetDocument(ctx context.Context, id, ref, contentType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.absences[id]
	if !ok {
		return sql.ErrNoRows
	}
	a.DocumentRef = &ref
	a.DocumentType = &contentType
	r.absences[id] = a
	return nil
}

func (r memAbsences) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.absences, id)
	return nil
}

type memSubstitutions struct{ *memStore }

func slotID(date time.Time, period int, absentID string) string {
	return fmt.Sprintf("%s|%d|%s", date.Format(models.DateLayout), period, absentID)
}

func (r memSubstitutions) ListForDate(ctx context.Context, date time.Time) ([]models.SubstitutionDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.SubstitutionDetail, 0)
	for _, sub := range r.substitutions {
		if !models.DateOnly(sub.Date).Equal(models.DateOnly(date)) {
			continue
		}
		absent, substitute := r.teachers[sub.AbsentTeacherID], r.teachers[sub.SubstituteTeacherID]
		out = append(out, models.SubstitutionDetail{
			Substitution:             sub,
			AbsentTeacherName:        absent.Name,
			AbsentTeacherSurname:     absent.Surname,
			SubstituteTeacherName:    substitute.Name,
			SubstituteTeacherSurname: substitute.Surname,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Period != out[j].Period {
			return out[i].Period < out[j].Period
		}
		return out[i].AbsentTeacherSurname < out[j].AbsentTeacherSurname
	})
	return out, nil
}

func (r memSubstitutions) ListForAbsentTeacherBetween(ctx context.Context, teacherID string, from, to time.Time) ([]models.Substitution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Substitution, 0)
	for _, sub := range r.substitutions {
		d := models.DateOnly(sub.Date)
		if sub.AbsentTeacherID == teacherID && !d.Before(models.DateOnly(from)) && !d.After(models.DateOnly(to)) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r memSubstitutions) Upsert(ctx context.Context, sub models.Substitution) (*repository.SubstitutionUpsertResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return nil, r.upsertErr
	}
	if !absentAt(r.absenceList(), sub.AbsentTeacherID, sub.Date, sub.Period) {
		return nil, repository.ErrSlotNotCovered
	}
	sub.Date = models.DateOnly(sub.Date)
	key := slotID(sub.Date, sub.Period, sub.AbsentTeacherID)
	for k, other := range r.substitutions {
		if k != key && other.Date.Equal(sub.Date) && other.Period == sub.Period && other.SubstituteTeacherID == sub.SubstituteTeacherID {
			return nil, &pq.Error{Code: "23505", Constraint: "substitutions_substitute_slot_key"}
		}
	}

	result := &repository.SubstitutionUpsertResult{}
	if current, ok := r.substitutions[key]; ok {
		previous := current
		result.Previous = &previous
		sub.ID = current.ID
		if current.SubstituteTeacherID == sub.SubstituteTeacherID {
			sub.CreditedHours = current.CreditedHours
		} else {
			r.adjust(current.SubstituteTeacherID, -current.CreditedHours)
			r.adjust(sub.SubstituteTeacherID, sub.CreditedHours)
		}
	} else {
		sub.ID = uuid.NewString()
		r.adjust(sub.SubstituteTeacherID, sub.CreditedHours)
	}
	r.substitutions[key] = sub
	result.Current = sub
	return result, nil
}

func (r memSubstitutions) Delete(ctx context.Context, key models.SubstitutionKey) (*models.Substitution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := slotID(models.DateOnly(key.Date), key.Period, key.AbsentTeacherID)
	current, ok := r.substitutions[id]
	if !ok {
		return nil, nil
	}
	delete(r.substitutions, id)
	r.adjust(current.SubstituteTeacherID, -current.CreditedHours)
	return &current, nil
}

func (r memSubstitutions) absenceList() []models.Absence {
	out := make([]models.Absence, 0, len(r.absences))
	for _, a := range r.absences {
		out = append(out, a)
	}
	return out
}

func (r memSubstitutions) adjust(teacherID string, delta int) {
	t := r.teachers[teacherID]
	t.HoursOwed += delta
	r.teachers[teacherID] = t
}

// memCache implements CacheRepository with redis-style glob invalidation.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte)}
}

func (c *memCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	return nil
}

func (c *memCache) DeleteByPattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(c.entries, key)
		}
	}
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

var (
	monday    = time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	mondayStr = "2024-03-11"
)

// planningFixture wires the planning services over one memStore.
//
// Monday 2024-03-11: Rossi teaches period 3, Bianchi teaches period 3 and is
// absent all day, Ferrari teaches period 3 and is absent for periods 3-4,
// Bruno holds a free-period placeholder at period 3, Verdi and Neri are free,
// Gialli is inactive.
type planningFixture struct {
	store         *memStore
	cache         *memCache
	locker        *lock.LocalLock
	index         *TimetableIndex
	metrics       *MetricsService
	availability  *AvailabilityService
	substitutions *SubstitutionService
	absences      *AbsenceService
	timetable     *TimetableService
	teachers      *TeacherService
}

func newPlanningFixture(t *testing.T) *planningFixture {
	t.Helper()
	store := newMemStore()
	for _, teacher := range []models.Teacher{
		{ID: "rossi", Name: "Mario", Surname: "Rossi", Active: true, WeeklyHours: 18},
		{ID: "bianchi", Name: "Anna", Surname: "Bianchi", Active: true, WeeklyHours: 18},
		{ID: "ferrari", Name: "Luca", Surname: "Ferrari", Active: true, WeeklyHours: 18},
		{ID: "verdi", Name: "Giulia", Surname: "Verdi", Active: true, WeeklyHours: 18, HoursOwed: 2},
		{ID: "bruno", Name: "Paolo", Surname: "Bruno", Active: true, WeeklyHours: 18, HoursOwed: 2},
		{ID: "neri", Name: "Sara", Surname: "Neri", Active: true, WeeklyHours: 18, HoursOwed: 5},
		{ID: "gialli", Name: "Carlo", Surname: "Gialli", Active: false, WeeklyHours: 18},
	} {
		store.teachers[teacher.ID] = teacher
	}
	store.lessons = []models.Lesson{
		{ID: "l1", TeacherID: "rossi", Weekday: 1, Period: 3, ClassID: "1A", SubjectID: "HIST", Room: "101"},
		{ID: "l2", TeacherID: "bianchi", Weekday: 1, Period: 3, ClassID: "2B", SubjectID: "MATH", Room: "204"},
		{ID: "l3", TeacherID: "bianchi", Weekday: 1, Period: 4, ClassID: "3C", SubjectID: "MATH", Room: "204"},
		{ID: "l4", TeacherID: "ferrari", Weekday: 1, Period: 3, ClassID: "4D", SubjectID: "ENG", Room: "305"},
		{ID: "l5", TeacherID: "bruno", Weekday: 1, Period: 3, ClassID: "", SubjectID: "DISP", Room: ""},
		{ID: "l6", TeacherID: "verdi", Weekday: 2, Period: 3, ClassID: "1A", SubjectID: "ART", Room: "lab"},
	}
	store.absences["abs-bianchi"] = models.Absence{
		ID: "abs-bianchi", TeacherID: "bianchi", StartDate: monday, EndDate: monday, WholeDay: true, Hours: pq.Int64Array{},
	}
	store.absences["abs-ferrari"] = models.Absence{
		ID: "abs-ferrari", TeacherID: "ferrari", StartDate: monday, EndDate: monday, Hours: pq.Int64Array{3, 4},
	}

	index := NewTimetableIndex("DISP")
	index.Rebuild(store.lessons)

	cache := newMemCache()
	metrics := NewMetricsService()
	calendar := NewSchoolCalendar("UTC")
	cacheService := NewCacheService(cache, metrics, time.Minute, nil, true)
	locker := lock.NewLocalLock()

	availability := NewAvailabilityService(memTeachers{store}, memAbsences{store}, memSubstitutions{store}, index, calendar, cacheService, time.Minute, metrics, nil)
	substitutions := NewSubstitutionService(memSubstitutions{store}, memTeachers{store}, memAbsences{store}, availability, index, locker, store, metrics, calendar,
		SubstitutionConfig{CreditHours: 1, LockTTL: time.Second, LockWait: 200 * time.Millisecond}, nil, nil)
	absences := NewAbsenceService(memAbsences{store}, memTeachers{store}, substitutions, availability, nil, store, calendar, AbsenceDocumentConfig{}, nil, nil)
	timetable := NewTimetableService(&memLessons{store: store}, index, availability, store, metrics, nil, nil)
	teachers := NewTeacherService(memTeachers{store}, availability, store, nil, nil)

	return &planningFixture{
		store:         store,
		cache:         cache,
		locker:        locker,
		index:         index,
		metrics:       metrics,
		availability:  availability,
		substitutions: substitutions,
		absences:      absences,
		timetable:     timetable,
		teachers:      teachers,
	}
}

type memLessons struct {
	store      *memStore
	replaceErr error
}

func (r *memLessons) ListAll(ctx context.Context) ([]models.Lesson, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return append([]models.Lesson(nil), r.store.lessons...), nil
}

func (r *memLessons) ReplaceAll(ctx context.Context, lessons []models.Lesson) error {
	if r.replaceErr != nil {
		return r.replaceErr
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.lessons = append([]models.Lesson(nil), lessons...)
	return nil
}

func candidateIDs(candidates []models.Candidate) []string {
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	return ids
}

func requireCode(t *testing.T, err error, template *appErrors.Error) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, template.Code, appErrors.FromError(err).Code, err.Error())
}
