package dto

// AbsenceRequest is the payload for creating or replacing an absence.
type AbsenceRequest struct {
	TeacherID string  `json:"teacherId" validate:"required"`
	StartDate string  `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate   string  `json:"endDate" validate:"required,datetime=2006-01-02"`
	WholeDay  bool    `json:"wholeDay"`
	Hours     []int64 `json:"hours" validate:"omitempty,dive,min=1,max=8"`
	Justified bool    `json:"justified"`
	Reason    string  `json:"reason" validate:"max=500"`
}

// AbsenceDocument describes an uploaded supporting document.
type AbsenceDocument struct {
	Filename    string
	ContentType string
	Size        int64
}
