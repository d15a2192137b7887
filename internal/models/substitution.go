package models

import (
	"fmt"
	"time"
)

// Substitution assigns a substitute teacher to cover an absent teacher's lesson.
type Substitution struct {
	ID                  string    `db:"id" json:"id"`
	Date                time.Time `db:"date" json:"date"`
	Period              int       `db:"period" json:"period"`
	AbsentTeacherID     string    `db:"absent_teacher_id" json:"absent_teacher_id"`
	SubstituteTeacherID string    `db:"substitute_teacher_id" json:"substitute_teacher_id"`
	ClassID             string    `db:"class_id" json:"class_id"`
	SubjectID           string    `db:"subject_id" json:"subject_id"`
	Room                string    `db:"room" json:"room"`
	CreditedHours       int       `db:"credited_hours" json:"credited_hours"`
	CreatedBy           *string   `db:"created_by" json:"created_by,omitempty"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}

// SlotKey returns the assignment key of the substitution.
func (s Substitution) SlotKey() SubstitutionKey {
	return SubstitutionKey{Date: DateOnly(s.Date), Period: s.Period, AbsentTeacherID: s.AbsentTeacherID}
}

// SubstitutionKey identifies the slot an assignment covers.
type SubstitutionKey struct {
	Date            time.Time
	Period          int
	AbsentTeacherID string
}

// String renders the key as "date|period|teacher", used for lock names.
func (k SubstitutionKey) String() string {
	return fmt.Sprintf("%s|%d|%s", k.Date.Format(DateLayout), k.Period, k.AbsentTeacherID)
}

// SubstitutionDetail is a substitution joined with both teachers' names.
type SubstitutionDetail struct {
	Substitution
	AbsentTeacherName        string `db:"absent_teacher_name" json:"absent_teacher_name"`
	AbsentTeacherSurname     string `db:"absent_teacher_surname" json:"absent_teacher_surname"`
	SubstituteTeacherName    string `db:"substitute_teacher_name" json:"substitute_teacher_name"`
	SubstituteTeacherSurname string `db:"substitute_teacher_surname" json:"substitute_teacher_surname"`
}

// Ineligibility explains why a teacher cannot cover a slot.
type Ineligibility string

const (
	IneligibleInactive        Ineligibility = "inactive"
	IneligibleTeaching        Ineligibility = "already_teaching"
	IneligibleAbsent          Ineligibility = "absent"
	IneligibleAlreadyAssigned Ineligibility = "already_assigned"
	IneligibleSlotBusy        Ineligibility = "slot_busy"
)

// SubstitutionConflictError is returned when a substitute is not available at commit time.
type SubstitutionConflictError struct {
	Reason    Ineligibility `json:"reason"`
	TeacherID string        `json:"teacher_id"`
	Date      string        `json:"date"`
	Period    int           `json:"period"`
}

func (e *SubstitutionConflictError) Error() string {
	return fmt.Sprintf("teacher %s unavailable on %s period %d: %s", e.TeacherID, e.Date, e.Period, e.Reason)
}

// Candidate is a teacher eligible to cover a slot.
type Candidate struct {
	Teacher
	IsUnscheduledAtSlot bool `json:"is_unscheduled_at_slot"`
}

// CoverageGap is a lesson left uncovered by an absence, with its current substitute if any.
type CoverageGap struct {
	Date                 string        `json:"date"`
	Period               int           `json:"period"`
	AbsenceID            string        `json:"absence_id"`
	AbsentTeacherID      string        `json:"absent_teacher_id"`
	AbsentTeacherName    string        `json:"absent_teacher_name"`
	AbsentTeacherSurname string        `json:"absent_teacher_surname"`
	ClassID              string        `json:"class_id"`
	SubjectID            string        `json:"subject_id"`
	Room                 string        `json:"room"`
	Substitution         *Substitution `json:"substitution,omitempty"`
	// SubstituteAbsent marks a covered slot whose substitute has since been
	// recorded absent at that slot.
	SubstituteAbsent     bool          `json:"substitute_absent"`
}
