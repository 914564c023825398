package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type submissionFixture struct {
	svc         *SubmissionService
	assessments *fakeAssessmentRepo
	submissions *fakeSubmissionRepo
	users       *mockUserRepo
	clock       *time.Time
}

func newSubmissionFixture(t *testing.T, assessments ...*models.Assessment) *submissionFixture {
	t.Helper()
	clock := fixedNow
	f := &submissionFixture{
		assessments: newFakeAssessmentRepo(assessments...),
		submissions: newFakeSubmissionRepo(),
		users:       courseFixtureUsers(),
		clock:       &clock,
	}
	f.svc = NewSubmissionService(f.submissions, f.assessments, newFakeCourseRepo(assessmentCourse()), f.users, nil, nil, zap.NewNop())
	f.svc.now = func() time.Time { return *f.clock }
	f.svc.shuffle = nil
	return f
}

func (f *submissionFixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func answer(questionID string, raw string) models.Answer {
	return models.Answer{QuestionID: questionID, Answer: models.AnswerValue(raw)}
}

func essayQuestion(id string, points float64) models.Question {
	return models.Question{ID: id, Text: "Discuss", Type: models.QuestionTypeEssay, Points: points}
}

func TestSubmissionEndToEndOnTime(t *testing.T) {
	users := courseFixtureUsers()
	courses := newFakeCourseRepo(&models.Course{ID: "c1", Code: "MAT", YearGroup: 3, TeacherID: strPtr("t1"), IsActive: true, Students: []string{"s1"}})
	assessments := newFakeAssessmentRepo()
	submissions := newFakeSubmissionRepo()
	assessmentSvc := NewAssessmentService(assessments, courses, submissions, nil, nil, nil, zap.NewNop())
	assessmentSvc.now = func() time.Time { return fixedNow }
	submissionSvc := NewSubmissionService(submissions, assessments, courses, users, nil, nil, zap.NewNop())
	clock := fixedNow
	submissionSvc.now = func() time.Time { return clock }
	ctx := context.Background()

	created, err := assessmentSvc.Create(ctx, teacherActor, CreateAssessmentRequest{
		Title:     "Quiz",
		Type:      models.AssessmentTypeQuiz,
		CourseID:  "c1",
		StartDate: fixedNow.Add(-time.Hour),
		EndDate:   fixedNow.Add(time.Hour),
		Duration:  30,
		Questions: []models.Question{
			choiceQuestion("q1", "A", 2),
			choiceQuestion("q2", "B", 2),
		},
	})
	require.NoError(t, err)
	_, err = assessmentSvc.Publish(ctx, teacherActor, created.ID)
	require.NoError(t, err)

	started, err := submissionSvc.Start(ctx, created.ID, "s1")
	require.NoError(t, err)
	assert.False(t, started.Resumed)
	assert.Equal(t, 1, started.Submission.AttemptNumber)
	for _, q := range started.Questions {
		assert.True(t, q.CorrectAnswer.IsZero())
	}

	clock = clock.Add(5 * time.Minute)

	sub, err := submissionSvc.Submit(ctx, "s1", started.Submission.ID, SubmitRequest{Answers: models.Answers{
		answer("q1", `"A"`),
		answer("q2", `"B"`),
	}})
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusSubmitted, sub.Status)
	assert.Equal(t, 4.0, *sub.Score)
	assert.Equal(t, 100.0, *sub.Percentage)
	assert.True(t, sub.Graded)
	assert.NotNil(t, sub.GradedAt)
	assert.Equal(t, 300, sub.TimeElapsed)
}

func TestSubmissionLateAfterDuration(t *testing.T) {
	f := newSubmissionFixture(t, publishedAssessment("a1", choiceQuestion("q1", "A", 2), choiceQuestion("q2", "B", 2)))
	ctx := context.Background()

	started, err := f.svc.Start(ctx, "a1", "s1")
	require.NoError(t, err)

	f.advance(30*time.Minute + time.Second)
	sub, err := f.svc.Submit(ctx, "s1", started.Submission.ID, SubmitRequest{Answers: models.Answers{
		answer("q1", `"A"`),
		answer("q2", `"C"`),
	}})
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusLate, sub.Status)
	assert.Equal(t, 2.0, *sub.Score)
	assert.Equal(t, 50.0, *sub.Percentage)
	assert.Equal(t, 1801, sub.TimeElapsed)
}

func TestSubmissionExactlyAtDurationIsOnTime(t *testing.T) {
	f := newSubmissionFixture(t, publishedAssessment("a1", choiceQuestion("q1", "A", 2)))
	started, err := f.svc.Start(context.Background(), "a1", "s1")
	require.NoError(t, err)

	f.advance(30 * time.Minute)
	sub, err := f.svc.Submit(context.Background(), "s1", started.Submission.ID, SubmitRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusSubmitted, sub.Status)
}

func TestSubmissionStartResumesAndEnforcesLimit(t *testing.T) {
	f := newSubmissionFixture(t, publishedAssessment("a1", choiceQuestion("q1", "A", 2)))
	ctx := context.Background()

	first, err := f.svc.Start(ctx, "a1", "s1")
	require.NoError(t, err)
	second, err := f.svc.Start(ctx, "a1", "s1")
	require.NoError(t, err)
	assert.True(t, second.Resumed)
	assert.Equal(t, first.Submission.ID, second.Submission.ID)
	assert.Len(t, f.submissions.submissions, 1)

	_, err = f.svc.Submit(ctx, "s1", first.Submission.ID, SubmitRequest{})
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, "a1", "s1")
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
	assert.Contains(t, err.Error(), "maximum attempts reached")
}

func TestSubmissionStartPreconditions(t *testing.T) {
	draft := publishedAssessment("draft", choiceQuestion("q1", "A", 1))
	draft.Status = models.AssessmentStatusDraft
	later := publishedAssessment("later", choiceQuestion("q1", "A", 1))
	later.StartDate = fixedNow.Add(time.Hour)
	later.EndDate = fixedNow.Add(2 * time.Hour)
	deleted := publishedAssessment("deleted", choiceQuestion("q1", "A", 1))
	deleted.IsActive = false
	f := newSubmissionFixture(t, publishedAssessment("a1", choiceQuestion("q1", "A", 1)), draft, later, deleted)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, "missing", "s1")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	_, err = f.svc.Start(ctx, "deleted", "s1")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	_, err = f.svc.Start(ctx, "draft", "s1")
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))

	_, err = f.svc.Start(ctx, "a1", "s2")
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = f.svc.Start(ctx, "later", "s1")
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestSubmissionStartDuplicateAttemptIsConflict(t *testing.T) {
	a := publishedAssessment("a1", choiceQuestion("q1", "A", 1))
	a.Attempts = 3
	f := newSubmissionFixture(t, a)
	// attempt 2 already exists, as if a concurrent start won the race
	f.submissions.submissions["done"] = &models.Submission{ID: "done", AssessmentID: "a1", StudentID: "s1", AttemptNumber: 2, Status: models.SubmissionStatusSubmitted}

	_, err := f.svc.Start(context.Background(), "a1", "s1")
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestSubmissionShufflesPresentationOnly(t *testing.T) {
	a := publishedAssessment("a1", choiceQuestion("q1", "A", 1), choiceQuestion("q2", "B", 1), choiceQuestion("q3", "C", 1))
	a.ShuffleQuestions = true
	a.ShuffleOptions = true
	f := newSubmissionFixture(t, a)
	reverse := func(n int, swap func(i, j int)) {
		for i := 0; i < n/2; i++ {
			swap(i, n-1-i)
		}
	}
	f.svc.shuffle = reverse

	started, err := f.svc.Start(context.Background(), "a1", "s1")
	require.NoError(t, err)
	require.Len(t, started.Questions, 3)
	assert.Equal(t, "q3", started.Questions[0].ID)
	assert.Equal(t, []string{"C", "B", "A"}, started.Questions[0].Options)

	stored := f.assessments.assessments["a1"]
	assert.Equal(t, "q1", stored.Questions[0].ID)
	assert.Equal(t, []string{"A", "B", "C"}, stored.Questions[0].Options)
}

func TestSubmissionSaveProgress(t *testing.T) {
	f := newSubmissionFixture(t, publishedAssessment("a1", choiceQuestion("q1", "A", 2)))
	ctx := context.Background()
	started, err := f.svc.Start(ctx, "a1", "s1")
	require.NoError(t, err)
	id := started.Submission.ID

	require.NoError(t, f.svc.SaveProgress(ctx, "s1", id, SaveProgressRequest{Answers: models.Answers{answer("q1", `"A"`)}, TimeElapsed: 40}))
	assert.Equal(t, 40, f.submissions.submissions[id].TimeElapsed)

	err = f.svc.SaveProgress(ctx, "s2", id, SaveProgressRequest{TimeElapsed: 1})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	sub, err := f.svc.Submit(ctx, "s1", id, SubmitRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2.0, *sub.Score)

	require.NoError(t, f.svc.SaveProgress(ctx, "s1", id, SaveProgressRequest{Answers: models.Answers{answer("q1", `"B"`)}, TimeElapsed: 99}))
	assert.Equal(t, models.SubmissionStatusSubmitted, f.submissions.submissions[id].Status)
	assert.Equal(t, `"A"`, string(f.submissions.submissions[id].Answers[0].Answer))

	_, err = f.svc.Submit(ctx, "s1", id, SubmitRequest{})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestSubmissionSubjectiveAwaitsManualGrade(t *testing.T) {
	a := publishedAssessment("a1", choiceQuestion("q1", "A", 2), essayQuestion("q2", 8))
	f := newSubmissionFixture(t, a)
	ctx := context.Background()
	started, err := f.svc.Start(ctx, "a1", "s1")
	require.NoError(t, err)

	sub, err := f.svc.Submit(ctx, "s1", started.Submission.ID, SubmitRequest{Answers: models.Answers{
		answer("q1", `"A"`),
		answer("q2", `"long essay"`),
	}})
	require.NoError(t, err)
	assert.False(t, sub.Graded)
	assert.Nil(t, sub.GradedAt)
	assert.Equal(t, 2.0, *sub.Score)
	assert.Equal(t, 20.0, *sub.Percentage)

	_, err = f.svc.Results(ctx, models.Actor{ID: "s1", Role: models.RoleStudent}, sub.ID)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	feedback := "good effort"
	graded, err := f.svc.Grade(ctx, teacherActor, sub.ID, GradeRequest{
		Grades:   map[string]float64{"q1": 5, "q2": 6, "ghost": 10},
		Feedback: &feedback,
	}, models.RequestMeta{IP: "10.0.0.2"})
	require.NoError(t, err)
	assert.True(t, graded.Graded)
	assert.Equal(t, models.SubmissionStatusGraded, graded.Status)
	assert.Equal(t, 8.0, *graded.Score)
	assert.Equal(t, 80.0, *graded.Percentage)
	assert.Equal(t, models.QuestionScores{"q1": 2, "q2": 6}, graded.QuestionScores)
	assert.Equal(t, "t1", *graded.GradedBy)
	require.Len(t, f.users.auditLogs, 1)
	assert.Equal(t, models.AuditActionSubmissionGrade, f.users.auditLogs[0].Action)

	regraded, err := f.svc.Grade(ctx, teacherActor, sub.ID, GradeRequest{Grades: map[string]float64{"q1": -3, "q2": 8}}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, 8.0, *regraded.Score)
	assert.Equal(t, 0.0, regraded.QuestionScores["q1"])
	assert.Equal(t, 2, f.submissions.gradeCalls)
}

func TestSubmissionGradeGuards(t *testing.T) {
	f := newSubmissionFixture(t, publishedAssessment("a1", essayQuestion("q1", 5)))
	ctx := context.Background()
	started, err := f.svc.Start(ctx, "a1", "s1")
	require.NoError(t, err)

	_, err = f.svc.Grade(ctx, teacherActor, started.Submission.ID, GradeRequest{Grades: map[string]float64{"q1": 1}}, models.RequestMeta{})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))

	_, err = f.svc.Submit(ctx, "s1", started.Submission.ID, SubmitRequest{})
	require.NoError(t, err)

	_, err = f.svc.Grade(ctx, models.Actor{ID: "t2", Role: models.RoleTeacher}, started.Submission.ID, GradeRequest{Grades: map[string]float64{"q1": 1}}, models.RequestMeta{})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = f.svc.Grade(ctx, teacherActor, started.Submission.ID, GradeRequest{}, models.RequestMeta{})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestSubmissionResultsVisibility(t *testing.T) {
	a := publishedAssessment("a1", choiceQuestion("q1", "A", 2), choiceQuestion("q2", "B", 2))
	pass := 60.0
	a.PassingScore = &pass
	a.ShowResults = true
	a.ShowCorrectAnswers = false
	f := newSubmissionFixture(t, a)
	ctx := context.Background()
	started, err := f.svc.Start(ctx, "a1", "s1")
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, "s1", started.Submission.ID, SubmitRequest{Answers: models.Answers{answer("q1", `"A"`), answer("q2", `"A"`)}})
	require.NoError(t, err)
	id := started.Submission.ID

	studentView, err := f.svc.Results(ctx, models.Actor{ID: "s1", Role: models.RoleStudent}, id)
	require.NoError(t, err)
	assert.Equal(t, 50.0, studentView.Percentage)
	assert.False(t, studentView.Passed)
	require.Len(t, studentView.Questions, 2)
	require.NotNil(t, studentView.Questions[0].IsCorrect)
	assert.True(t, *studentView.Questions[0].IsCorrect)
	assert.Equal(t, 2.0, studentView.Questions[0].PointsEarned)
	assert.False(t, *studentView.Questions[1].IsCorrect)
	assert.True(t, studentView.Questions[1].CorrectAnswer.IsZero())

	teacherView, err := f.svc.Results(ctx, teacherActor, id)
	require.NoError(t, err)
	assert.Equal(t, `"B"`, string(teacherView.Questions[1].CorrectAnswer))

	_, err = f.svc.Results(ctx, adminActor, id)
	require.NoError(t, err)

	_, err = f.svc.Results(ctx, models.Actor{ID: "s2", Role: models.RoleStudent}, id)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = f.svc.Results(ctx, models.Actor{ID: "t2", Role: models.RoleTeacher}, id)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	stored := f.assessments.assessments["a1"]
	stored.ShowResults = false
	_, err = f.svc.Results(ctx, models.Actor{ID: "s1", Role: models.RoleStudent}, id)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	stored.ShowCorrectAnswers = true
	revealed, err := f.svc.Results(ctx, models.Actor{ID: "s1", Role: models.RoleStudent}, id)
	require.NoError(t, err)
	assert.Equal(t, `"B"`, string(revealed.Questions[1].CorrectAnswer))
}

func TestSubmissionReads(t *testing.T) {
	a := publishedAssessment("a1", choiceQuestion("q1", "A", 1))
	a.Attempts = 2
	f := newSubmissionFixture(t, a)
	ctx := context.Background()

	first, err := f.svc.Start(ctx, "a1", "s1")
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, "s1", first.Submission.ID, SubmitRequest{})
	require.NoError(t, err)
	second, err := f.svc.Start(ctx, "a1", "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Submission.AttemptNumber)

	mine, err := f.svc.ListMine(ctx, "s1", "a1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, 1, mine[0].AttemptNumber)

	_, err = f.svc.Get(ctx, models.Actor{ID: "s2", Role: models.RoleStudent}, first.Submission.ID)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	got, err := f.svc.Get(ctx, teacherActor, first.Submission.ID)
	require.NoError(t, err)
	assert.Equal(t, "s1", got.StudentID)

	all, err := f.svc.ListForAssessment(ctx, teacherActor, "a1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.svc.ListForAssessment(ctx, models.Actor{ID: "t2", Role: models.RoleTeacher}, "a1")
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestAutoGradeUsesStrictScalarEquality(t *testing.T) {
	questions := []models.Question{
		{ID: "str", Type: models.QuestionTypeMultipleChoice, CorrectAnswer: models.AnswerValue(`"1"`), Points: 1},
		{ID: "num", Type: models.QuestionTypeMultipleChoice, CorrectAnswer: models.AnswerValue(`1`), Points: 2},
		{ID: "bool", Type: models.QuestionTypeTrueFalse, CorrectAnswer: models.AnswerValue(`true`), Points: 4},
		{ID: "arr", Type: models.QuestionTypeMultipleChoice, CorrectAnswer: models.AnswerValue(`["A"]`), Points: 8},
		{ID: "essay", Type: models.QuestionTypeEssay, CorrectAnswer: models.AnswerValue(`"x"`), Points: 16},
		{ID: "unset", Type: models.QuestionTypeTrueFalse, Points: 32},
	}

	assert.Equal(t, 0.0, AutoGrade(questions, models.Answers{
		answer("str", `1`),
		answer("num", `"1"`),
		answer("bool", `"true"`),
		answer("arr", `["A"]`),
		answer("essay", `"x"`),
	}))
	assert.Equal(t, 7.0, AutoGrade(questions, models.Answers{
		answer("str", `"1"`),
		answer("num", `1.0`),
		answer("bool", `true`),
	}))
}

func TestApplyGradesClampsAndPercentage(t *testing.T) {
	questions := []models.Question{{ID: "q1", Points: 3}, {ID: "q2", Points: 7}}
	scores, total := ApplyGrades(questions, map[string]float64{"q1": 10, "q2": 2.5, "other": 4})
	assert.Equal(t, models.QuestionScores{"q1": 3, "q2": 2.5}, scores)
	assert.Equal(t, 5.5, total)
	assert.Equal(t, 55.0, Percentage(total, 10))
	assert.Equal(t, 0.0, Percentage(5, 0))
}

func TestPercentageIsExactForDecimalScores(t *testing.T) {
	cases := []struct {
		score, max, want float64
	}{
		{5.5, 10, 55},
		{7, 8, 87.5},
		{2.5, 4, 62.5},
		{0.7, 1, 70},
		{10, 10, 100},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Percentage(tc.score, tc.max), "score %v of %v", tc.score, tc.max)
	}
}

func TestAnswerRoundTripKeepsRawJSON(t *testing.T) {
	var ans models.Answer
	require.NoError(t, json.Unmarshal([]byte(`{"question_id":"q1","answer":1}`), &ans))
	assert.True(t, ans.Answer.Equal(models.AnswerValue(`1`)))
	assert.False(t, ans.Answer.Equal(models.StringAnswer("1")))
}
