package dto

import (
	"time"

	"github.com/noah-isme/lms-api/internal/models"
)

// StudentAssessment is a published assessment as listed for a student.
type StudentAssessment struct {
	models.Assessment
	AttemptCount int  `json:"attempt_count"`
	CanTakeAgain bool `json:"can_take_again"`
	IsAvailable  bool `json:"is_available"`
}

// StartAttemptResponse returns the attempt and the presentation copy of the
// questions for this request.
type StartAttemptResponse struct {
	Submission *models.Submission `json:"submission"`
	Questions  []models.Question  `json:"questions"`
	Duration   int                `json:"duration"`
	Resumed    bool               `json:"resumed"`
}

// SubmissionResults is the graded breakdown of one submission.
type SubmissionResults struct {
	SubmissionID    string                  `json:"submission_id"`
	AssessmentID    string                  `json:"assessment_id"`
	AssessmentTitle string                  `json:"assessment_title"`
	StudentID       string                  `json:"student_id"`
	AttemptNumber   int                     `json:"attempt_number"`
	Status          models.SubmissionStatus `json:"status"`
	Score           float64                 `json:"score"`
	MaxScore        float64                 `json:"max_score"`
	Percentage      float64                 `json:"percentage"`
	PassingScore    float64                 `json:"passing_score"`
	Passed          bool                    `json:"passed"`
	TimeSpent       int                     `json:"time_spent"`
	SubmittedAt     *time.Time              `json:"submitted_at,omitempty"`
	GradedAt        *time.Time              `json:"graded_at,omitempty"`
	Feedback        *string                 `json:"feedback,omitempty"`
	Questions       []QuestionResult        `json:"questions"`
}

// QuestionResult is the per-question part of the results breakdown.
type QuestionResult struct {
	QuestionID    string              `json:"question_id"`
	Text          string              `json:"text"`
	Type          models.QuestionType `json:"type"`
	Options       []string            `json:"options,omitempty"`
	StudentAnswer models.AnswerValue  `json:"student_answer" swaggertype:"string"`
	CorrectAnswer models.AnswerValue  `json:"correct_answer,omitempty" swaggertype:"string"`
	IsCorrect     *bool               `json:"is_correct,omitempty"`
	PointsEarned  float64             `json:"points_earned"`
	MaxPoints     float64             `json:"max_points"`
	Explanation   string              `json:"explanation,omitempty"`
}

// JoinSessionResponse returns the meeting link after a join.
type JoinSessionResponse struct {
	MeetingURL string          `json:"meeting_url"`
	Session    *models.Session `json:"session"`
}

// GoogleStatus reports whether the teacher connected a calendar.
type GoogleStatus struct {
	Connected bool `json:"connected"`
}

// GoogleAuthURL is the consent URL the teacher is redirected to.
type GoogleAuthURL struct {
	URL string `json:"url"`
}

// ResourceDownload points the caller at the resource content.
type ResourceDownload struct {
	URL       string     `json:"url"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
