package models

import (
	"time"

	"github.com/lib/pq"
)

// Absence records a period during which a teacher cannot teach.
type Absence struct {
	ID           string        `db:"id" json:"id"`
	TeacherID    string        `db:"teacher_id" json:"teacher_id"`
	StartDate    time.Time     `db:"start_date" json:"start_date"`
	EndDate      time.Time     `db:"end_date" json:"end_date"`
	WholeDay     bool          `db:"whole_day" json:"whole_day"`
	Hours        pq.Int64Array `db:"hours" json:"hours"`
	Justified    bool          `db:"justified" json:"justified"`
	Reason       string        `db:"reason" json:"reason"`
	DocumentRef  *string       `db:"document_ref" json:"document_ref,omitempty"`
	DocumentType *string       `db:"document_type" json:"document_type,omitempty"`
	CreatedBy    *string       `db:"created_by" json:"created_by,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}

// CoversDate reports whether date falls inside the absence range.
func (a Absence) CoversDate(date time.Time) bool {
	d := DateOnly(date)
	return !d.Before(DateOnly(a.StartDate)) && !d.After(DateOnly(a.EndDate))
}

// Covers reports whether the absence applies to the given date and period.
func (a Absence) Covers(date time.Time, period int) bool {
	if !a.CoversDate(date) {
		return false
	}
	if a.WholeDay {
		return true
	}
	for _, h := range a.Hours {
		if int(h) == period {
			return true
		}
	}
	return false
}

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// DateOnly truncates t to its calendar day in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
