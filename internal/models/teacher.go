package models

import "time"

// Teacher represents a member of the teaching staff.
type Teacher struct {
	ID               string    `db:"id" json:"id"`
	Name             string    `db:"name" json:"name"`
	Surname          string    `db:"surname" json:"surname"`
	Email            *string   `db:"email" json:"email,omitempty"`
	Active           bool      `db:"active" json:"active"`
	WeeklyHours      int       `db:"weekly_hours" json:"weekly_hours"`
	HoursOwed        int       `db:"hours_owed" json:"hours_owed"`
	IsSupportTeacher bool      `db:"is_support_teacher" json:"is_support_teacher"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// FullName returns "Surname Name", the order used on school rosters.
func (t Teacher) FullName() string {
	if t.Name == "" {
		return t.Surname
	}
	if t.Surname == "" {
		return t.Name
	}
	return t.Surname + " " + t.Name
}

// TeacherFilter captures filtering options for listing teachers.
type TeacherFilter struct {
	Search    string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
