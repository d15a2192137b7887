package service

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/noah-isme/sma-substitution-api/internal/models"
)

type timetableSnapshot struct {
	lessons   map[models.LessonKey]models.Lesson
	byTeacher map[string][]models.Lesson
}

// TimetableIndex answers point queries on the weekly timetable. Rebuild swaps
// the whole snapshot, so readers see either the old or the new timetable.
type TimetableIndex struct {
	freeSubject string
	snapshot    atomic.Pointer[timetableSnapshot]
}

// NewTimetableIndex builds an empty index. Lessons whose subject equals
// freeSubject (case-insensitive) mark a free period.
func NewTimetableIndex(freeSubject string) *TimetableIndex {
	idx := &TimetableIndex{freeSubject: strings.TrimSpace(freeSubject)}
	idx.snapshot.Store(&timetableSnapshot{
		lessons:   map[models.LessonKey]models.Lesson{},
		byTeacher: map[string][]models.Lesson{},
	})
	return idx
}

// Rebuild replaces the index with lessons. When two lessons share a slot the
// later one wins; the positions of every collision are returned.
func (idx *TimetableIndex) Rebuild(lessons []models.Lesson) []DuplicateSlot {
	next := &timetableSnapshot{
		lessons:   make(map[models.LessonKey]models.Lesson, len(lessons)),
		byTeacher: make(map[string][]models.Lesson),
	}
	position := make(map[models.LessonKey]int, len(lessons))
	var duplicates []DuplicateSlot
	for i, lesson := range lessons {
		key := lesson.Key()
		if prev, ok := position[key]; ok {
			duplicates = append(duplicates, DuplicateSlot{Key: key, Kept: i, Dropped: prev})
		}
		position[key] = i
		next.lessons[key] = lesson
	}
	for _, lesson := range next.lessons {
		next.byTeacher[lesson.TeacherID] = append(next.byTeacher[lesson.TeacherID], lesson)
	}
	for _, list := range next.byTeacher {
		sort.Slice(list, func(i, j int) bool {
			if list[i].Weekday != list[j].Weekday {
				return list[i].Weekday < list[j].Weekday
			}
			return list[i].Period < list[j].Period
		})
	}
	idx.snapshot.Store(next)
	return duplicates
}

// DuplicateSlot records two input rows that targeted the same slot.
type DuplicateSlot struct {
	Key     models.LessonKey
	Kept    int
	Dropped int
}

// LessonFor returns the lesson scheduled for the teacher at the slot, if any.
// Free-period lessons are returned too.
func (idx *TimetableIndex) LessonFor(teacherID string, weekday, period int) (models.Lesson, bool) {
	lesson, ok := idx.snapshot.Load().lessons[models.LessonKey{TeacherID: teacherID, Weekday: weekday, Period: period}]
	return lesson, ok
}

// IsTeaching reports whether the teacher has a class of their own at the slot.
func (idx *TimetableIndex) IsTeaching(teacherID string, weekday, period int) bool {
	lesson, ok := idx.LessonFor(teacherID, weekday, period)
	return ok && !idx.IsFreePeriod(lesson)
}

// IsFreePeriod reports whether lesson is a placeholder marking the teacher as
// unscheduled. A lesson with no subject counts as free as well.
func (idx *TimetableIndex) IsFreePeriod(lesson models.Lesson) bool {
	subject := strings.TrimSpace(lesson.SubjectID)
	if subject == "" {
		return true
	}
	return idx.freeSubject != "" && strings.EqualFold(subject, idx.freeSubject)
}

// LessonsForTeacher returns the teacher's weekly lessons ordered by weekday and period.
func (idx *TimetableIndex) LessonsForTeacher(teacherID string) []models.Lesson {
	list := idx.snapshot.Load().byTeacher[teacherID]
	out := make([]models.Lesson, len(list))
	copy(out, list)
	return out
}

// Size returns the number of indexed lessons.
func (idx *TimetableIndex) Size() int {
	return len(idx.snapshot.Load().lessons)
}
