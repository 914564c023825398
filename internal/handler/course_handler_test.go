package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/middleware"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
)

type fakeCourseService struct {
	courseService
	courses       []models.Course
	summaries     []models.CourseSummary
	students      []models.TeacherStudent
	listedAs      models.Actor
	studentListed string
	created       service.CreateCourseRequest
}

func (f *fakeCourseService) List(_ context.Context, actor models.Actor) ([]models.Course, error) {
	f.listedAs = actor
	return f.courses, nil
}

func (f *fakeCourseService) ListForStudent(_ context.Context, studentID string) ([]models.CourseSummary, error) {
	f.studentListed = studentID
	return f.summaries, nil
}

func (f *fakeCourseService) Create(_ context.Context, _ models.Actor, req service.CreateCourseRequest) (*models.Course, error) {
	f.created = req
	return &models.Course{ID: "c1", Code: req.Code}, nil
}

func (f *fakeCourseService) TeacherStudents(context.Context, string) ([]models.TeacherStudent, error) {
	return f.students, nil
}

func serveAs(claims *models.JWTClaims, method, path string, h gin.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	router := gin.New()
	router.Handle(method, path, func(c *gin.Context) {
		if claims != nil {
			c.Set(middleware.ContextUserKey, claims)
		}
		h(c)
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCourseHandlerListByRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeCourseService{
		courses:   []models.Course{{ID: "c1"}},
		summaries: []models.CourseSummary{{ID: "c1", IsEnrolled: true}},
	}
	handler := NewCourseHandler(srv)

	student := &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}
	rec := serveAs(student, http.MethodGet, "/courses", handler.List, httptest.NewRequest(http.MethodGet, "/courses", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", srv.studentListed)
	assert.Contains(t, rec.Body.String(), `"is_enrolled":true`)

	teacher := &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}
	rec = serveAs(teacher, http.MethodGet, "/courses", handler.List, httptest.NewRequest(http.MethodGet, "/courses", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.Actor{ID: "t1", Role: models.RoleTeacher}, srv.listedAs)
}

func TestCourseHandlerCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeCourseService{}
	handler := NewCourseHandler(srv)

	admin := &models.JWTClaims{UserID: "a1", Role: models.RoleAdmin}
	req := jsonRequest(http.MethodPost, "/courses", `{"name":"Maths","code":"mat101","year_group":3}`)
	rec := serveAs(admin, http.MethodPost, "/courses", handler.Create, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "mat101", srv.created.Code)
	assert.Equal(t, 3, srv.created.YearGroup)
}

func TestCourseHandlerStudentPerformanceRanksGradedStudents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	low, high := 55.0, 91.5
	srv := &fakeCourseService{students: []models.TeacherStudent{
		{ID: "s1", SubmissionCount: 2, AveragePercentage: &low},
		{ID: "s2"},
		{ID: "s3", SubmissionCount: 1, AveragePercentage: &high},
	}}
	handler := NewCourseHandler(srv)

	teacher := &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}
	rec := serveAs(teacher, http.MethodGet, "/teacher/students/performance", handler.StudentPerformance,
		httptest.NewRequest(http.MethodGet, "/teacher/students/performance", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, `"id":"s2"`)
	assert.Less(t, strings.Index(body, `"id":"s3"`), strings.Index(body, `"id":"s1"`))
}
