package repository

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
)

func TestAssessmentFindByIDDecodesQuestions(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAssessmentRepository(db)

	now := time.Now()
	columns := strings.Split(strings.ReplaceAll(assessmentColumns, " ", ""), ",")
	questions := `[{"id":"q1","text":"1+1?","type":"multiple_choice","options":["1","2"],"correct_answer":"2","points":2}]`
	mock.ExpectQuery(regexp.QuoteMeta("FROM assessments WHERE id = $1 LIMIT 1")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"a1", "Quiz", "", "quiz", "c1", "t1", now, now.Add(time.Hour), 30, 1, true, false, false, false,
			nil, "", []byte(questions), 2.0, "draft", true, now, now))

	assessment, err := repo.FindByID(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, assessment.Questions, 1)
	assert.Equal(t, models.QuestionTypeMultipleChoice, assessment.Questions[0].Type)
	assert.True(t, assessment.Questions[0].CorrectAnswer.Equal(models.StringAnswer("2")))
	assert.Nil(t, assessment.PassingScore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssessmentListPublishedForNoCourses(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAssessmentRepository(db)

	assessments, err := repo.ListPublishedForCourses(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, assessments)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssessmentCreatePersistsQuestionsAsJSON(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAssessmentRepository(db)

	mock.ExpectExec("INSERT INTO assessments").WillReturnResult(sqlmock.NewResult(1, 1))

	assessment := &models.Assessment{
		Title:     "Quiz",
		Type:      models.AssessmentTypeQuiz,
		CourseID:  "c1",
		TeacherID: "t1",
		Questions: models.Questions{{ID: "q1", Text: "?", Type: models.QuestionTypeEssay, Points: 5}},
		Status:    models.AssessmentStatusDraft,
		IsActive:  true,
	}
	require.NoError(t, repo.Create(context.Background(), assessment))
	assert.NotEmpty(t, assessment.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
