package dto

import "github.com/noah-isme/lms-api/internal/models"

// AnalyticsData is the admin analytics payload.
type AnalyticsData struct {
	Overview        AnalyticsOverview     `json:"overview"`
	MonthlyGrowth   []MonthlyGrowth       `json:"monthly_growth"`
	PlatformUsage   PlatformUsage         `json:"platform_usage"`
	UserAnalytics   UserAnalytics         `json:"user_analytics"`
	CourseAnalytics CourseAnalytics       `json:"course_analytics"`
	Engagement      Engagement            `json:"engagement"`
	System          *models.SystemMetrics `json:"system,omitempty"`
}

// AnalyticsOverview summarises platform totals.
type AnalyticsOverview struct {
	TotalStudents  int            `json:"total_students"`
	TotalTeachers  int            `json:"total_teachers"`
	TotalCourses   int            `json:"total_courses"`
	ActiveSessions int            `json:"active_sessions"`
	Trends         OverviewTrends `json:"trends"`
}

// OverviewTrends holds month-over-month changes.
type OverviewTrends struct {
	Students Trend `json:"students"`
	Teachers Trend `json:"teachers"`
	Courses  Trend `json:"courses"`
	Sessions Trend `json:"sessions"`
}

// MonthlyGrowth is one month of the growth chart.
type MonthlyGrowth struct {
	Month         string `json:"month"`
	Students      int    `json:"students"`
	Teachers      int    `json:"teachers"`
	Courses       int    `json:"courses"`
	Sessions      int    `json:"sessions"`
	Registrations int    `json:"registrations"`
}

// PlatformUsage captures activity figures.
type PlatformUsage struct {
	DailyActiveUsers     int `json:"daily_active_users"`
	WeeklySessions       int `json:"weekly_sessions"`
	AvgSessionDuration   int `json:"avg_session_duration"`
	CourseCompletionRate int `json:"course_completion_rate"`
}

// UserAnalytics groups registration, activity and role figures.
type UserAnalytics struct {
	Registrations Registrations     `json:"registrations"`
	Activity      Activity          `json:"activity"`
	Roles         models.RoleCounts `json:"roles"`
}

// Registrations compares sign-ups this month with last month.
type Registrations struct {
	ThisMonth        int `json:"this_month"`
	LastMonth        int `json:"last_month"`
	PercentageChange int `json:"percentage_change"`
}

// Activity counts users by recent login.
type Activity struct {
	ActiveToday    int `json:"active_today"`
	ActiveThisWeek int `json:"active_this_week"`
	TotalUsers     int `json:"total_users"`
}

// CourseAnalytics reports per-course completion.
type CourseAnalytics struct {
	TotalCourses      int                `json:"total_courses"`
	AverageEnrollment int                `json:"average_enrollment"`
	CompletionRates   []CourseCompletion `json:"completion_rates"`
}

// CourseCompletion is one course row of the completion table.
type CourseCompletion struct {
	CourseID       string `json:"course_id"`
	CourseName     string `json:"course_name"`
	Enrollments    int    `json:"enrollments"`
	Completions    int    `json:"completions"`
	CompletionRate int    `json:"completion_rate"`
}

// Engagement holds derived engagement ratios in percent.
type Engagement struct {
	AverageLoginFrequency    int `json:"average_login_frequency"`
	SessionParticipation     int `json:"session_participation"`
	AssignmentSubmissionRate int `json:"assignment_submission_rate"`
}
