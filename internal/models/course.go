package models

import (
	"strings"
	"time"
)

// Course is a class offering for one year group.
type Course struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Code        string    `db:"code" json:"code"`
	YearGroup   int       `db:"year_group" json:"year_group"`
	TeacherID   *string   `db:"teacher_id" json:"teacher_id,omitempty"`
	TeacherName *string   `db:"teacher_name" json:"teacher_name,omitempty"`
	Description string    `db:"description" json:"description"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	Students    []string  `db:"-" json:"students"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// OwnedBy reports whether the course is assigned to the given teacher.
func (c *Course) OwnedBy(userID string) bool {
	return c.TeacherID != nil && *c.TeacherID == userID
}

// HasStudent reports whether the student is on the roster.
func (c *Course) HasStudent(studentID string) bool {
	for _, id := range c.Students {
		if id == studentID {
			return true
		}
	}
	return false
}

// MatchesClassCode reports whether a student's class code matches the first
// three characters of the course code, ignoring case.
func (c *Course) MatchesClassCode(classCode string) bool {
	classCode = strings.TrimSpace(classCode)
	if classCode == "" || len(c.Code) < 3 {
		return false
	}
	return strings.EqualFold(classCode, c.Code[:3])
}

// CourseSummary is the student-facing course projection without the roster.
type CourseSummary struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Code        string  `json:"code"`
	YearGroup   int     `json:"year_group"`
	TeacherName *string `json:"teacher_name,omitempty"`
	Description string  `json:"description"`
	IsEnrolled  bool    `json:"is_enrolled"`
}

// Summary projects the course for a student.
func (c *Course) Summary(studentID string) CourseSummary {
	return CourseSummary{
		ID:          c.ID,
		Name:        c.Name,
		Code:        c.Code,
		YearGroup:   c.YearGroup,
		TeacherName: c.TeacherName,
		Description: c.Description,
		IsEnrolled:  c.HasStudent(studentID),
	}
}

// CourseFilter narrows course listings.
type CourseFilter struct {
	TeacherID *string
	StudentID *string
}

// TeacherStudent is a distinct student across a teacher's courses with their
// submission performance.
type TeacherStudent struct {
	ID                string   `db:"id" json:"id"`
	Name              string   `db:"name" json:"name"`
	Email             string   `db:"email" json:"email"`
	ClassCode         *string  `db:"class_code" json:"class_code,omitempty"`
	CourseCount       int      `db:"course_count" json:"course_count"`
	SubmissionCount   int      `db:"submission_count" json:"submission_count"`
	AveragePercentage *float64 `db:"average_percentage" json:"average_percentage,omitempty"`
}
