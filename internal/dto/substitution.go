package dto

// AssignSubstitutionRequest assigns or reassigns the substitute for a slot.
type AssignSubstitutionRequest struct {
	Date                string `json:"date" validate:"required,datetime=2006-01-02"`
	Period              int    `json:"period" validate:"required,min=1,max=8"`
	AbsentTeacherID     string `json:"absentTeacherId" validate:"required"`
	SubstituteTeacherID string `json:"substituteTeacherId" validate:"required"`
}

// AvailabilityQuery selects the slot to resolve candidates for.
type AvailabilityQuery struct {
	Date   string `form:"date" validate:"required,datetime=2006-01-02"`
	Period int    `form:"period" validate:"required,min=1,max=8"`
}
