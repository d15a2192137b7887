package dto

// CreateTeacherRequest represents payload for creating teachers.
type CreateTeacherRequest struct {
	Name             string  `json:"name" validate:"required,max=100"`
	Surname          string  `json:"surname" validate:"required,max=100"`
	Email            *string `json:"email" validate:"omitempty,email"`
	WeeklyHours      int     `json:"weeklyHours" validate:"min=0,max=40"`
	HoursOwed        int     `json:"hoursOwed" validate:"min=0"`
	IsSupportTeacher bool    `json:"isSupportTeacher"`
}

// UpdateTeacherRequest represents payload for updating teachers. Hours owed is
// maintained by substitutions and cannot be edited here.
type UpdateTeacherRequest struct {
	Name             string  `json:"name" validate:"required,max=100"`
	Surname          string  `json:"surname" validate:"required,max=100"`
	Email            *string `json:"email" validate:"omitempty,email"`
	WeeklyHours      int     `json:"weeklyHours" validate:"min=0,max=40"`
	IsSupportTeacher bool    `json:"isSupportTeacher"`
	Active           *bool   `json:"active"`
}
