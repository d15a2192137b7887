package dto

import "github.com/noah-isme/sma-substitution-api/internal/models"

// TimetableLessonInput is one imported timetable row.
type TimetableLessonInput struct {
	TeacherID string `json:"teacherId" validate:"required"`
	Weekday   int    `json:"weekday" validate:"min=1,max=6"`
	Period    int    `json:"period" validate:"min=1,max=8"`
	ClassID   string `json:"classId"`
	SubjectID string `json:"subjectId"`
	Room      string `json:"room"`
}

// ImportTimetableRequest replaces the whole weekly timetable.
type ImportTimetableRequest struct {
	Lessons []TimetableLessonInput `json:"lessons" validate:"dive"`
}

// DuplicateLesson reports a timetable slot that appeared more than once.
type DuplicateLesson struct {
	TeacherID string `json:"teacherId"`
	Weekday   int    `json:"weekday"`
	Period    int    `json:"period"`
	Kept      int    `json:"keptRow"`
	Dropped   int    `json:"droppedRow"`
}

// TimetableImportResult summarises a timetable import.
type TimetableImportResult struct {
	Imported   int               `json:"imported"`
	Duplicates []DuplicateLesson `json:"duplicates"`
}

// SlotLookup answers "what does teacher X do at weekday/period".
type SlotLookup struct {
	TeacherID  string         `json:"teacherId"`
	Weekday    int            `json:"weekday"`
	Period     int            `json:"period"`
	IsTeaching bool           `json:"isTeaching"`
	Lesson     *models.Lesson `json:"lesson,omitempty"`
}
