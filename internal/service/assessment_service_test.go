package service

import (
	"context"
	"database/sql"
	"net/http"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type fakeAssessmentRepo struct {
	assessments map[string]*models.Assessment
}

func newFakeAssessmentRepo(items ...*models.Assessment) *fakeAssessmentRepo {
	repo := &fakeAssessmentRepo{assessments: map[string]*models.Assessment{}}
	for _, a := range items {
		repo.assessments[a.ID] = a
	}
	return repo
}

func (f *fakeAssessmentRepo) FindByID(ctx context.Context, id string) (*models.Assessment, error) {
	a, ok := f.assessments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *a
	clone.Questions = append(models.Questions{}, a.Questions...)
	return &clone, nil
}

func (f *fakeAssessmentRepo) ListByTeacher(ctx context.Context, teacherID string) ([]models.Assessment, error) {
	var out []models.Assessment
	for _, a := range f.assessments {
		if a.IsActive && a.TeacherID == teacherID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeAssessmentRepo) ListPublishedForCourses(ctx context.Context, courseIDs []string) ([]models.Assessment, error) {
	wanted := make(map[string]bool, len(courseIDs))
	for _, id := range courseIDs {
		wanted[id] = true
	}
	var out []models.Assessment
	for _, a := range f.assessments {
		if a.IsActive && a.Status == models.AssessmentStatusPublished && wanted[a.CourseID] {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeAssessmentRepo) Create(ctx context.Context, assessment *models.Assessment) error {
	clone := *assessment
	f.assessments[assessment.ID] = &clone
	return nil
}

func (f *fakeAssessmentRepo) Update(ctx context.Context, assessment *models.Assessment) error {
	if _, ok := f.assessments[assessment.ID]; !ok {
		return sql.ErrNoRows
	}
	clone := *assessment
	f.assessments[assessment.ID] = &clone
	return nil
}

func (f *fakeAssessmentRepo) UpdateStatus(ctx context.Context, id string, status models.AssessmentStatus) error {
	a, ok := f.assessments[id]
	if !ok {
		return sql.ErrNoRows
	}
	a.Status = status
	return nil
}

func (f *fakeAssessmentRepo) SoftDelete(ctx context.Context, id string) error {
	a, ok := f.assessments[id]
	if !ok || !a.IsActive {
		return sql.ErrNoRows
	}
	a.IsActive = false
	return nil
}

type fakeSubmissionRepo struct {
	submissions map[string]*models.Submission
	gradeCalls  int
}

func newFakeSubmissionRepo(items ...*models.Submission) *fakeSubmissionRepo {
	repo := &fakeSubmissionRepo{submissions: map[string]*models.Submission{}}
	for _, s := range items {
		repo.submissions[s.ID] = s
	}
	return repo
}

func (f *fakeSubmissionRepo) FindByID(ctx context.Context, id string) (*models.Submission, error) {
	s, ok := f.submissions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *s
	return &clone, nil
}

func (f *fakeSubmissionRepo) FindInProgress(ctx context.Context, assessmentID, studentID string) (*models.Submission, error) {
	for _, s := range f.submissions {
		if s.AssessmentID == assessmentID && s.StudentID == studentID && s.InProgress() {
			clone := *s
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeSubmissionRepo) CountAttempts(ctx context.Context, assessmentID, studentID string) (int, error) {
	count := 0
	for _, s := range f.submissions {
		if s.AssessmentID == assessmentID && s.StudentID == studentID {
			count++
		}
	}
	return count, nil
}

func (f *fakeSubmissionRepo) CountByAssessment(ctx context.Context, assessmentID string) (int, error) {
	count := 0
	for _, s := range f.submissions {
		if s.AssessmentID == assessmentID {
			count++
		}
	}
	return count, nil
}

func (f *fakeSubmissionRepo) AttemptCountsByStudent(ctx context.Context, studentID string) (map[string]int, error) {
	counts := map[string]int{}
	for _, s := range f.submissions {
		if s.StudentID == studentID {
			counts[s.AssessmentID]++
		}
	}
	return counts, nil
}

func (f *fakeSubmissionRepo) Create(ctx context.Context, submission *models.Submission) error {
	for _, s := range f.submissions {
		if s.AssessmentID == submission.AssessmentID && s.StudentID == submission.StudentID && s.AttemptNumber == submission.AttemptNumber {
			return &pq.Error{Code: "23505"}
		}
	}
	clone := *submission
	f.submissions[submission.ID] = &clone
	return nil
}

func (f *fakeSubmissionRepo) SaveProgress(ctx context.Context, id string, answers models.Answers, timeElapsed int) (bool, error) {
	s, ok := f.submissions[id]
	if !ok || !s.InProgress() {
		return false, nil
	}
	s.Answers = answers
	s.TimeElapsed = timeElapsed
	return true, nil
}

func (f *fakeSubmissionRepo) Finalize(ctx context.Context, submission *models.Submission) error {
	s, ok := f.submissions[submission.ID]
	if !ok || !s.InProgress() {
		return sql.ErrNoRows
	}
	clone := *submission
	f.submissions[submission.ID] = &clone
	return nil
}

func (f *fakeSubmissionRepo) SaveGrade(ctx context.Context, submission *models.Submission) error {
	s, ok := f.submissions[submission.ID]
	if !ok || s.InProgress() {
		return sql.ErrNoRows
	}
	f.gradeCalls++
	clone := *submission
	f.submissions[submission.ID] = &clone
	return nil
}

func (f *fakeSubmissionRepo) ListByStudent(ctx context.Context, assessmentID, studentID string) ([]models.Submission, error) {
	var out []models.Submission
	for _, s := range f.submissions {
		if s.AssessmentID == assessmentID && s.StudentID == studentID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, nil
}

func (f *fakeSubmissionRepo) ListByAssessment(ctx context.Context, assessmentID string) ([]models.Submission, error) {
	var out []models.Submission
	for _, s := range f.submissions {
		if s.AssessmentID == assessmentID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeSubmissionRepo) Stats(ctx context.Context, assessmentID string) (*models.AssessmentStats, error) {
	stats := &models.AssessmentStats{}
	var sum float64
	for _, s := range f.submissions {
		if s.AssessmentID != assessmentID {
			continue
		}
		if s.InProgress() {
			stats.InProgress++
			continue
		}
		stats.TotalSubmissions++
		if s.Graded {
			stats.Graded++
			if s.Percentage != nil {
				sum += *s.Percentage
			}
		} else {
			stats.PendingGrading++
		}
	}
	if stats.Graded > 0 {
		avg := sum / float64(stats.Graded)
		stats.AverageScore = &avg
	}
	return stats, nil
}

var fixedNow = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func assessmentCourse() *models.Course {
	return &models.Course{ID: "c1", Name: "Mathematics", Code: "MAT", YearGroup: 3, TeacherID: strPtr("t1"), IsActive: true, Students: []string{"s1"}}
}

func choiceQuestion(id, correct string, points float64) models.Question {
	return models.Question{
		ID:            id,
		Text:          "Pick " + correct,
		Type:          models.QuestionTypeMultipleChoice,
		Options:       []string{"A", "B", "C"},
		CorrectAnswer: models.StringAnswer(correct),
		Points:        points,
		Explanation:   "because " + correct,
	}
}

func publishedAssessment(id string, questions ...models.Question) *models.Assessment {
	a := &models.Assessment{
		ID:          id,
		Title:       "Quiz " + id,
		Type:        models.AssessmentTypeQuiz,
		CourseID:    "c1",
		TeacherID:   "t1",
		StartDate:   fixedNow.Add(-time.Hour),
		EndDate:     fixedNow.Add(24 * time.Hour),
		Duration:    30,
		Attempts:    1,
		ShowResults: true,
		Questions:   questions,
		Status:      models.AssessmentStatusPublished,
		IsActive:    true,
	}
	a.RecomputeTotal()
	return a
}

func newTestAssessmentService(repo *fakeAssessmentRepo, courses *fakeCourseRepo, subs *fakeSubmissionRepo) *AssessmentService {
	svc := NewAssessmentService(repo, courses, subs, nil, nil, nil, zap.NewNop())
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func validCreateRequest() CreateAssessmentRequest {
	return CreateAssessmentRequest{
		Title:     "Algebra quiz",
		Type:      models.AssessmentTypeQuiz,
		CourseID:  "c1",
		StartDate: fixedNow,
		EndDate:   fixedNow.Add(48 * time.Hour),
		Duration:  20,
		Questions: []models.Question{
			{Text: "2+2?", Type: models.QuestionTypeMultipleChoice, Options: []string{"3", "4"}, CorrectAnswer: models.StringAnswer("4"), Points: 2},
			{Text: "Explain", Type: models.QuestionTypeEssay, Points: 3, CorrectAnswer: models.StringAnswer("ignored")},
		},
	}
}

func TestAssessmentCreateAppliesDefaults(t *testing.T) {
	repo := newFakeAssessmentRepo()
	svc := newTestAssessmentService(repo, newFakeCourseRepo(assessmentCourse()), newFakeSubmissionRepo())

	a, err := svc.Create(context.Background(), teacherActor, validCreateRequest())
	require.NoError(t, err)
	assert.Equal(t, models.AssessmentStatusDraft, a.Status)
	assert.Equal(t, 1, a.Attempts)
	assert.True(t, a.ShowResults)
	assert.True(t, a.IsActive)
	assert.Equal(t, 5.0, a.TotalPoints)
	require.Len(t, a.Questions, 2)
	assert.NotEmpty(t, a.Questions[0].ID)
	assert.NotEqual(t, a.Questions[0].ID, a.Questions[1].ID)
	assert.True(t, a.Questions[1].CorrectAnswer.IsZero())
	assert.Contains(t, repo.assessments, a.ID)
}

func TestAssessmentCreateRejections(t *testing.T) {
	courses := newFakeCourseRepo(assessmentCourse())
	svc := newTestAssessmentService(newFakeAssessmentRepo(), courses, newFakeSubmissionRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, models.Actor{ID: "t2", Role: models.RoleTeacher}, validCreateRequest())
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = svc.Create(ctx, adminActor, validCreateRequest())
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	req := validCreateRequest()
	req.EndDate = req.StartDate
	_, err = svc.Create(ctx, teacherActor, req)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	req = validCreateRequest()
	req.Questions[0].Options = []string{"only"}
	_, err = svc.Create(ctx, teacherActor, req)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	req = validCreateRequest()
	req.Attempts = intPtr(11)
	_, err = svc.Create(ctx, teacherActor, req)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	req = validCreateRequest()
	req.CourseID = "missing"
	_, err = svc.Create(ctx, teacherActor, req)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestAssessmentUpdateKeepsTotalInSync(t *testing.T) {
	draft := publishedAssessment("a1", choiceQuestion("q1", "A", 2))
	draft.Status = models.AssessmentStatusDraft
	repo := newFakeAssessmentRepo(draft)
	svc := newTestAssessmentService(repo, newFakeCourseRepo(assessmentCourse()), newFakeSubmissionRepo())

	updated, err := svc.Update(context.Background(), teacherActor, "a1", UpdateAssessmentRequest{
		Questions: []models.Question{choiceQuestion("q1", "A", 4), choiceQuestion("q2", "B", 1.5)},
	})
	require.NoError(t, err)
	assert.Equal(t, 5.5, updated.TotalPoints)
	assert.Equal(t, 5.5, repo.assessments["a1"].TotalPoints)

	end := draft.StartDate.Add(-time.Minute)
	_, err = svc.Update(context.Background(), teacherActor, "a1", UpdateAssessmentRequest{EndDate: &end})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestAssessmentUpdateLockedOnceAttempted(t *testing.T) {
	repo := newFakeAssessmentRepo(publishedAssessment("a1", choiceQuestion("q1", "A", 2)))
	subs := newFakeSubmissionRepo(&models.Submission{ID: "sub1", AssessmentID: "a1", StudentID: "s1", AttemptNumber: 1, Status: models.SubmissionStatusInProgress})
	svc := newTestAssessmentService(repo, newFakeCourseRepo(assessmentCourse()), subs)

	_, err := svc.Update(context.Background(), teacherActor, "a1", UpdateAssessmentRequest{Title: strPtr("Renamed")})
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
	assert.Equal(t, http.StatusConflict, appErrors.FromError(err).Status)

	delete(subs.submissions, "sub1")
	updated, err := svc.Update(context.Background(), teacherActor, "a1", UpdateAssessmentRequest{Title: strPtr("Renamed")})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
}

func TestAssessmentPublishLifecycle(t *testing.T) {
	empty := publishedAssessment("empty")
	empty.Status = models.AssessmentStatusDraft
	ready := publishedAssessment("ready", choiceQuestion("q1", "A", 2))
	ready.Status = models.AssessmentStatusDraft
	repo := newFakeAssessmentRepo(empty, ready)
	subs := newFakeSubmissionRepo()
	svc := newTestAssessmentService(repo, newFakeCourseRepo(assessmentCourse()), subs)
	ctx := context.Background()

	_, err := svc.Publish(ctx, teacherActor, "empty")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Equal(t, models.AssessmentStatusDraft, repo.assessments["empty"].Status)

	a, err := svc.Publish(ctx, teacherActor, "ready")
	require.NoError(t, err)
	assert.Equal(t, models.AssessmentStatusPublished, a.Status)

	a, err = svc.Publish(ctx, teacherActor, "ready")
	require.NoError(t, err)
	assert.Equal(t, models.AssessmentStatusPublished, a.Status)

	_, err = svc.Publish(ctx, models.Actor{ID: "t2", Role: models.RoleTeacher}, "ready")
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	subs.submissions["sub1"] = &models.Submission{ID: "sub1", AssessmentID: "ready", StudentID: "s1", AttemptNumber: 1, Status: models.SubmissionStatusSubmitted}
	_, err = svc.Unpublish(ctx, teacherActor, "ready")
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))

	delete(subs.submissions, "sub1")
	a, err = svc.Unpublish(ctx, teacherActor, "ready")
	require.NoError(t, err)
	assert.Equal(t, models.AssessmentStatusDraft, a.Status)

	_, err = svc.Unpublish(ctx, teacherActor, "ready")
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestAssessmentClose(t *testing.T) {
	draft := publishedAssessment("draft", choiceQuestion("q1", "A", 1))
	draft.Status = models.AssessmentStatusDraft
	repo := newFakeAssessmentRepo(publishedAssessment("a1", choiceQuestion("q1", "A", 1)), draft)
	svc := newTestAssessmentService(repo, newFakeCourseRepo(assessmentCourse()), newFakeSubmissionRepo())

	a, err := svc.Close(context.Background(), adminActor, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.AssessmentStatusClosed, a.Status)

	_, err = svc.Close(context.Background(), teacherActor, "draft")
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))

	_, err = svc.Publish(context.Background(), teacherActor, "a1")
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestAssessmentDeleteIsSoft(t *testing.T) {
	repo := newFakeAssessmentRepo(publishedAssessment("a1", choiceQuestion("q1", "A", 1)))
	svc := newTestAssessmentService(repo, newFakeCourseRepo(assessmentCourse()), newFakeSubmissionRepo())

	err := svc.Delete(context.Background(), models.Actor{ID: "s1", Role: models.RoleStudent}, "a1")
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	require.NoError(t, svc.Delete(context.Background(), teacherActor, "a1"))
	assert.False(t, repo.assessments["a1"].IsActive)

	_, err = svc.Get(context.Background(), teacherActor, "a1")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestAssessmentListStudent(t *testing.T) {
	other := &models.Course{ID: "c2", Code: "BIO", TeacherID: strPtr("t2"), IsActive: true}
	open := publishedAssessment("a1", choiceQuestion("q1", "A", 2))
	future := publishedAssessment("a2", choiceQuestion("q1", "B", 2))
	future.StartDate = fixedNow.Add(time.Hour)
	future.Attempts = 2
	draft := publishedAssessment("a3", choiceQuestion("q1", "A", 2))
	draft.Status = models.AssessmentStatusDraft
	elsewhere := publishedAssessment("a4", choiceQuestion("q1", "A", 2))
	elsewhere.CourseID = "c2"

	repo := newFakeAssessmentRepo(open, future, draft, elsewhere)
	subs := newFakeSubmissionRepo(&models.Submission{ID: "sub1", AssessmentID: "a1", StudentID: "s1", AttemptNumber: 1, Status: models.SubmissionStatusSubmitted})
	svc := newTestAssessmentService(repo, newFakeCourseRepo(assessmentCourse(), other), subs)

	items, err := svc.ListStudent(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "a1", items[0].ID)
	assert.Equal(t, 1, items[0].AttemptCount)
	assert.False(t, items[0].CanTakeAgain)
	assert.True(t, items[0].IsAvailable)
	assert.True(t, items[0].Questions[0].CorrectAnswer.IsZero())
	assert.Empty(t, items[0].Questions[0].Explanation)

	assert.Equal(t, "a2", items[1].ID)
	assert.Equal(t, 0, items[1].AttemptCount)
	assert.True(t, items[1].CanTakeAgain)
	assert.False(t, items[1].IsAvailable)

	none, err := svc.ListStudent(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAssessmentGetVisibility(t *testing.T) {
	draft := publishedAssessment("draft", choiceQuestion("q1", "A", 1))
	draft.Status = models.AssessmentStatusDraft
	repo := newFakeAssessmentRepo(publishedAssessment("a1", choiceQuestion("q1", "A", 1)), draft)
	svc := newTestAssessmentService(repo, newFakeCourseRepo(assessmentCourse()), newFakeSubmissionRepo())
	ctx := context.Background()

	full, err := svc.Get(ctx, teacherActor, "a1")
	require.NoError(t, err)
	assert.False(t, full.Questions[0].CorrectAnswer.IsZero())

	view, err := svc.Get(ctx, models.Actor{ID: "s1", Role: models.RoleStudent}, "a1")
	require.NoError(t, err)
	assert.True(t, view.Questions[0].CorrectAnswer.IsZero())
	assert.False(t, repo.assessments["a1"].Questions[0].CorrectAnswer.IsZero())

	_, err = svc.Get(ctx, models.Actor{ID: "s9", Role: models.RoleStudent}, "a1")
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = svc.Get(ctx, models.Actor{ID: "s1", Role: models.RoleStudent}, "draft")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	_, err = svc.Get(ctx, models.Actor{ID: "t2", Role: models.RoleTeacher}, "a1")
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestAssessmentStatsAndExport(t *testing.T) {
	score, pct := 2.0, 100.0
	submitted := fixedNow.Add(-10 * time.Minute)
	subs := newFakeSubmissionRepo(
		&models.Submission{ID: "sub1", AssessmentID: "a1", StudentID: "s1", StudentName: strPtr("Student One"), AttemptNumber: 1, Status: models.SubmissionStatusSubmitted, Graded: true, Score: &score, Percentage: &pct, SubmittedAt: &submitted},
		&models.Submission{ID: "sub2", AssessmentID: "a1", StudentID: "s2", AttemptNumber: 1, Status: models.SubmissionStatusInProgress},
	)
	repo := newFakeAssessmentRepo(publishedAssessment("a1", choiceQuestion("q1", "A", 2)))
	svc := newTestAssessmentService(repo, newFakeCourseRepo(assessmentCourse()), subs)
	ctx := context.Background()

	stats, err := svc.Stats(ctx, teacherActor, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalSubmissions)
	assert.Equal(t, 1, stats.Graded)
	assert.Equal(t, 1, stats.InProgress)
	require.NotNil(t, stats.AverageScore)
	assert.Equal(t, 100.0, *stats.AverageScore)

	file, err := svc.ExportResults(ctx, teacherActor, "a1", "csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv; charset=utf-8", file.ContentType)
	assert.True(t, strings.HasSuffix(file.Filename, ".csv"))
	body := string(file.Data)
	assert.Contains(t, body, "Student,Attempt,Status,Score,Percentage,Submitted At")
	assert.Contains(t, body, "Student One,1,submitted,2.00,100.00,")
	assert.Contains(t, body, "s2,1,in_progress,,,")

	_, err = svc.ExportResults(ctx, teacherActor, "a1", "xlsx")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.ExportResults(ctx, models.Actor{ID: "t2", Role: models.RoleTeacher}, "a1", "pdf")
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}
