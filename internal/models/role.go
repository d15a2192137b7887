package models

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin           UserRole = "ADMIN"
	RoleVicePrincipal   UserRole = "VICE_PRINCIPAL"
	RolePersonnelOffice UserRole = "PERSONNEL_OFFICE"
	RoleTeacher         UserRole = "TEACHER"
)

// PlanningRoles may change absences, timetables and substitutions.
var PlanningRoles = []UserRole{RoleAdmin, RoleVicePrincipal, RolePersonnelOffice}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
