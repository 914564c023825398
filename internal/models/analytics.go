package models

import "time"

// SystemMetrics represents system level figures captured from instrumentation.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// RoleCounts holds user totals per role.
type RoleCounts struct {
	Students int `db:"students" json:"students"`
	Teachers int `db:"teachers" json:"teachers"`
	Admins   int `db:"admins" json:"admins"`
}

// Total returns the number of users across all roles.
func (r RoleCounts) Total() int {
	return r.Students + r.Teachers + r.Admins
}

// CourseCompletion aggregates enrollment and finished submissions per course.
type CourseCompletion struct {
	CourseID    string `db:"course_id" json:"course_id"`
	CourseName  string `db:"course_name" json:"course_name"`
	Enrollments int    `db:"enrollments" json:"enrollments"`
	Assessments int    `db:"assessments" json:"assessments"`
	Completions int    `db:"completions" json:"completions"`
}

// SessionWindow is the minimal session projection used by live counters.
type SessionWindow struct {
	StartTime time.Time `db:"start_time"`
	Duration  int       `db:"duration"`
	CreatedAt time.Time `db:"created_at"`
}

// IsLive applies the display-only live predicate.
func (w SessionWindow) IsLive(now time.Time) bool {
	end := w.StartTime.Add(time.Duration(w.Duration) * time.Minute)
	return !now.Before(w.StartTime) && now.Before(end)
}

// GradedScore is a graded submission percentage with its submission time.
type GradedScore struct {
	Percentage  float64    `db:"percentage"`
	SubmittedAt *time.Time `db:"submitted_at"`
}

// TimeWindow bounds created_at style filters. Nil ends are open.
type TimeWindow struct {
	From *time.Time
	To   *time.Time
}

// Before returns a window ending (exclusive) at t.
func Before(t time.Time) TimeWindow {
	return TimeWindow{To: &t}
}

// Since returns a window starting (inclusive) at t.
func Since(t time.Time) TimeWindow {
	return TimeWindow{From: &t}
}

// Between returns the half-open window [from, to).
func Between(from, to time.Time) TimeWindow {
	return TimeWindow{From: &from, To: &to}
}

// StatsScope narrows aggregate queries to a teacher's or a student's data.
type StatsScope struct {
	TeacherID *string
	StudentID *string
}
