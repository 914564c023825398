package dto

// Trend describes a change indicator shown next to a dashboard figure.
type Trend struct {
	Value      int    `json:"value"`
	IsPositive bool   `json:"is_positive"`
	Period     string `json:"period"`
}

// DashboardTrends groups the trend indicators of the stats cards.
type DashboardTrends struct {
	Courses     Trend `json:"courses"`
	Students    Trend `json:"students"`
	Teachers    Trend `json:"teachers"`
	Sessions    Trend `json:"sessions"`
	Assignments Trend `json:"assignments"`
	Grades      Trend `json:"grades"`
}

// DashboardStats is the role-scoped dashboard payload.
type DashboardStats struct {
	Role               string          `json:"role"`
	TotalCourses       int             `json:"total_courses"`
	TotalStudents      int             `json:"total_students"`
	TotalTeachers      int             `json:"total_teachers"`
	ActiveSessions     int             `json:"active_sessions"`
	PendingAssignments int             `json:"pending_assignments"`
	PendingGrading     int             `json:"pending_grading"`
	PendingTeachers    int             `json:"pending_teachers"`
	AverageGrade       int             `json:"average_grade"`
	Trends             DashboardTrends `json:"trends"`
}
