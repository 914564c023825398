package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"strconv"
	"time"
)

// AssessmentType classifies an assessment.
type AssessmentType string

const (
	AssessmentTypeQuiz       AssessmentType = "quiz"
	AssessmentTypeAssignment AssessmentType = "assignment"
	AssessmentTypeExam       AssessmentType = "exam"
)

// AssessmentStatus captures the publication lifecycle.
type AssessmentStatus string

const (
	AssessmentStatusDraft     AssessmentStatus = "draft"
	AssessmentStatusPublished AssessmentStatus = "published"
	AssessmentStatusClosed    AssessmentStatus = "closed"
)

// QuestionType enumerates supported question kinds.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeTrueFalse      QuestionType = "true_false"
	QuestionTypeShortAnswer    QuestionType = "short_answer"
	QuestionTypeEssay          QuestionType = "essay"
)

// Objective reports whether the question type is graded automatically.
func (t QuestionType) Objective() bool {
	return t == QuestionTypeMultipleChoice || t == QuestionTypeTrueFalse
}

// AnswerValue is an arbitrary JSON answer as sent by the client. Equality is
// defined on scalars only: strings, numbers and booleans compare by type and
// value, so "1" never equals 1 and arrays or objects never match.
type AnswerValue json.RawMessage

// MarshalJSON implements json.Marshaler.
func (a AnswerValue) MarshalJSON() ([]byte, error) {
	if len(a) == 0 {
		return []byte("null"), nil
	}
	return a, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *AnswerValue) UnmarshalJSON(data []byte) error {
	*a = append((*a)[:0], data...)
	return nil
}

// IsZero reports whether no answer was given.
func (a AnswerValue) IsZero() bool {
	trimmed := bytes.TrimSpace(a)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Equal compares two answers for exact scalar equality.
func (a AnswerValue) Equal(other AnswerValue) bool {
	if a.IsZero() || other.IsZero() {
		return false
	}
	left, ok := a.scalar()
	if !ok {
		return false
	}
	right, ok := other.scalar()
	if !ok {
		return false
	}
	switch l := left.(type) {
	case string:
		r, ok := right.(string)
		return ok && l == r
	case bool:
		r, ok := right.(bool)
		return ok && l == r
	case json.Number:
		r, ok := right.(json.Number)
		if !ok {
			return false
		}
		lf, errL := strconv.ParseFloat(l.String(), 64)
		rf, errR := strconv.ParseFloat(r.String(), 64)
		return errL == nil && errR == nil && lf == rf
	}
	return false
}

func (a AnswerValue) scalar() (interface{}, bool) {
	dec := json.NewDecoder(bytes.NewReader(a))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case string, bool, json.Number:
		return v, true
	}
	return nil, false
}

// StringAnswer builds an AnswerValue holding a JSON string.
func StringAnswer(s string) AnswerValue {
	data, _ := json.Marshal(s)
	return AnswerValue(data)
}

// String renders the answer for exports and logs.
func (a AnswerValue) String() string {
	if a.IsZero() {
		return ""
	}
	var s string
	if err := json.Unmarshal(a, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(a))
}

// Question is embedded in an assessment. CorrectAnswer is only meaningful for
// objective question types.
type Question struct {
	ID            string       `json:"id"`
	Text          string       `json:"text" validate:"required"`
	Type          QuestionType `json:"type" validate:"required,oneof=multiple_choice true_false short_answer essay"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer AnswerValue  `json:"correct_answer,omitempty" swaggertype:"string"`
	Points        float64      `json:"points" validate:"gte=0"`
	Explanation   string       `json:"explanation,omitempty"`
}

// Questions persists the ordered question list as JSONB.
type Questions []Question

// Value marshals questions to JSON for persistence.
func (q Questions) Value() (driver.Value, error) {
	if q == nil {
		q = Questions{}
	}
	return jsonValue([]Question(q), "questions")
}

// Scan unmarshals JSONB into the question list.
func (q *Questions) Scan(value interface{}) error {
	var out []Question
	ok, err := jsonScan(value, &out, "questions")
	if err != nil {
		return err
	}
	if !ok || out == nil {
		out = []Question{}
	}
	*q = out
	return nil
}

// Assessment is a timed quiz, assignment or exam.
type Assessment struct {
	ID                 string           `db:"id" json:"id"`
	Title              string           `db:"title" json:"title"`
	Description        string           `db:"description" json:"description"`
	Type               AssessmentType   `db:"type" json:"type"`
	CourseID           string           `db:"course_id" json:"course_id"`
	TeacherID          string           `db:"teacher_id" json:"teacher_id"`
	StartDate          time.Time        `db:"start_date" json:"start_date"`
	EndDate            time.Time        `db:"end_date" json:"end_date"`
	Duration           int              `db:"duration" json:"duration"`
	Attempts           int              `db:"attempts" json:"attempts"`
	ShowResults        bool             `db:"show_results" json:"show_results"`
	ShowCorrectAnswers bool             `db:"show_correct_answers" json:"show_correct_answers"`
	ShuffleQuestions   bool             `db:"shuffle_questions" json:"shuffle_questions"`
	ShuffleOptions     bool             `db:"shuffle_options" json:"shuffle_options"`
	PassingScore       *float64         `db:"passing_score" json:"passing_score,omitempty"`
	Instructions       string           `db:"instructions" json:"instructions"`
	Questions          Questions        `db:"questions" json:"questions"`
	TotalPoints        float64          `db:"total_points" json:"total_points"`
	Status             AssessmentStatus `db:"status" json:"status"`
	IsActive           bool             `db:"is_active" json:"is_active"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at" json:"updated_at"`
}

// RecomputeTotal sets TotalPoints to the sum of question points.
func (a *Assessment) RecomputeTotal() {
	var total float64
	for _, q := range a.Questions {
		total += q.Points
	}
	a.TotalPoints = total
}

// HasSubjective reports whether any question needs a human grader.
func (a *Assessment) HasSubjective() bool {
	for _, q := range a.Questions {
		if !q.Type.Objective() {
			return true
		}
	}
	return false
}

// IsOpenAt reports whether t lies within [StartDate, EndDate].
func (a *Assessment) IsOpenAt(t time.Time) bool {
	return !t.Before(a.StartDate) && !t.After(a.EndDate)
}

// Question looks up a question by its identifier.
func (a *Assessment) Question(id string) (Question, bool) {
	for _, q := range a.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// DurationSeconds returns the time limit in seconds.
func (a *Assessment) DurationSeconds() int {
	return a.Duration * 60
}

// PassingThreshold returns the passing percentage, zero when unset.
func (a *Assessment) PassingThreshold() float64 {
	if a.PassingScore == nil {
		return 0
	}
	return *a.PassingScore
}

// StudentQuestions returns copies of the questions without correct answers
// and explanations.
func (a *Assessment) StudentQuestions() []Question {
	out := make([]Question, len(a.Questions))
	for i, q := range a.Questions {
		q.CorrectAnswer = nil
		q.Explanation = ""
		if q.Options != nil {
			q.Options = append([]string(nil), q.Options...)
		}
		out[i] = q
	}
	return out
}

// ForStudent returns a copy of the assessment safe to show to students.
func (a *Assessment) ForStudent() Assessment {
	cp := *a
	cp.Questions = a.StudentQuestions()
	return cp
}

// AssessmentStats aggregates submissions of one assessment.
type AssessmentStats struct {
	TotalSubmissions int      `db:"total_submissions" json:"total_submissions"`
	Graded           int      `db:"graded" json:"graded"`
	PendingGrading   int      `db:"pending_grading" json:"pending_grading"`
	InProgress       int      `db:"in_progress" json:"in_progress"`
	AverageScore     *float64 `db:"average_score" json:"average_score,omitempty"`
}
