package models

import (
	"database/sql/driver"
	"time"
)

// SubmissionStatus captures the attempt lifecycle.
type SubmissionStatus string

const (
	SubmissionStatusInProgress SubmissionStatus = "in_progress"
	SubmissionStatusSubmitted  SubmissionStatus = "submitted"
	SubmissionStatusLate       SubmissionStatus = "late"
	SubmissionStatusGraded     SubmissionStatus = "graded"
)

// Answer is a student's response to one question.
type Answer struct {
	QuestionID string      `json:"question_id" validate:"required"`
	Answer     AnswerValue `json:"answer" swaggertype:"string"`
	TimeSpent  *int        `json:"time_spent,omitempty" validate:"omitempty,gte=0"`
}

// Answers persists the answer list as JSONB.
type Answers []Answer

// Value marshals answers to JSON for persistence.
func (a Answers) Value() (driver.Value, error) {
	if a == nil {
		a = Answers{}
	}
	return jsonValue([]Answer(a), "answers")
}

// Scan unmarshals JSONB into the answer list.
func (a *Answers) Scan(value interface{}) error {
	var out []Answer
	ok, err := jsonScan(value, &out, "answers")
	if err != nil {
		return err
	}
	if !ok || out == nil {
		out = []Answer{}
	}
	*a = out
	return nil
}

// Lookup returns the answer recorded for the question, if any.
func (a Answers) Lookup(questionID string) (AnswerValue, bool) {
	for _, ans := range a {
		if ans.QuestionID == questionID {
			return ans.Answer, true
		}
	}
	return nil, false
}

// QuestionScores maps question IDs to manually awarded points.
type QuestionScores map[string]float64

// Value marshals the scores to JSON, storing NULL when empty.
func (q QuestionScores) Value() (driver.Value, error) {
	if len(q) == 0 {
		return nil, nil
	}
	return jsonValue(map[string]float64(q), "question scores")
}

// Scan unmarshals JSONB into the score map.
func (q *QuestionScores) Scan(value interface{}) error {
	var out map[string]float64
	ok, err := jsonScan(value, &out, "question scores")
	if err != nil {
		return err
	}
	if !ok {
		out = nil
	}
	*q = out
	return nil
}

// Submission is one student's attempt at one assessment.
type Submission struct {
	ID             string           `db:"id" json:"id"`
	AssessmentID   string           `db:"assessment_id" json:"assessment_id"`
	StudentID      string           `db:"student_id" json:"student_id"`
	StudentName    *string          `db:"student_name" json:"student_name,omitempty"`
	Answers        Answers          `db:"answers" json:"answers"`
	StartedAt      time.Time        `db:"started_at" json:"started_at"`
	SubmittedAt    *time.Time       `db:"submitted_at" json:"submitted_at,omitempty"`
	TimeElapsed    int              `db:"time_elapsed" json:"time_elapsed"`
	Score          *float64         `db:"score" json:"score,omitempty"`
	Percentage     *float64         `db:"percentage" json:"percentage,omitempty"`
	Graded         bool             `db:"graded" json:"graded"`
	GradedBy       *string          `db:"graded_by" json:"graded_by,omitempty"`
	GradedAt       *time.Time       `db:"graded_at" json:"graded_at,omitempty"`
	Feedback       *string          `db:"feedback" json:"feedback,omitempty"`
	QuestionScores QuestionScores   `db:"question_scores" json:"question_scores,omitempty"`
	AttemptNumber  int              `db:"attempt_number" json:"attempt_number"`
	Status         SubmissionStatus `db:"status" json:"status"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

// InProgress reports whether the attempt is still open.
func (s *Submission) InProgress() bool {
	return s.Status == SubmissionStatusInProgress
}
