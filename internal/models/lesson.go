package models

import "time"

// Instructional week and day boundaries.
const (
	FirstWeekday = 1 // Monday
	LastWeekday  = 6 // Saturday
	FirstPeriod  = 1
	LastPeriod   = 8
)

// Lesson is one weekly timetable entry.
type Lesson struct {
	ID        string    `db:"id" json:"id"`
	TeacherID string    `db:"teacher_id" json:"teacher_id"`
	Weekday   int       `db:"weekday" json:"weekday"`
	Period    int       `db:"period" json:"period"`
	ClassID   string    `db:"class_id" json:"class_id"`
	SubjectID string    `db:"subject_id" json:"subject_id"`
	Room      string    `db:"room" json:"room"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// LessonKey identifies a lesson slot in the weekly timetable.
type LessonKey struct {
	TeacherID string
	Weekday   int
	Period    int
}

// Key returns the slot the lesson occupies.
func (l Lesson) Key() LessonKey {
	return LessonKey{TeacherID: l.TeacherID, Weekday: l.Weekday, Period: l.Period}
}

// ValidPeriod reports whether p is a teaching period of the school day.
func ValidPeriod(p int) bool {
	return p >= FirstPeriod && p <= LastPeriod
}

// ValidWeekday reports whether d is an instructional weekday.
func ValidWeekday(d int) bool {
	return d >= FirstWeekday && d <= LastWeekday
}
