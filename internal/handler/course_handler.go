package handler

import (
	"context"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/response"
)

type courseService interface {
	Create(ctx context.Context, actor models.Actor, req service.CreateCourseRequest) (*models.Course, error)
	Update(ctx context.Context, actor models.Actor, id string, req service.UpdateCourseRequest) (*models.Course, error)
	Delete(ctx context.Context, actor models.Actor, id string, meta models.RequestMeta) error
	List(ctx context.Context, actor models.Actor) ([]models.Course, error)
	ListForStudent(ctx context.Context, studentID string) ([]models.CourseSummary, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.Course, error)
	GetForStudent(ctx context.Context, studentID, id string) (*models.CourseSummary, error)
	SelfEnroll(ctx context.Context, studentID, courseID string) (*models.CourseSummary, error)
	UpdateEnrollments(ctx context.Context, actor models.Actor, courseID string, req service.UpdateEnrollmentsRequest) (*models.Course, error)
	TeacherStudents(ctx context.Context, teacherID string) ([]models.TeacherStudent, error)
}

// CourseHandler exposes course and roster endpoints.
type CourseHandler struct {
	service courseService
}

// NewCourseHandler constructs a course handler.
func NewCourseHandler(svc courseService) *CourseHandler {
	return &CourseHandler{service: svc}
}

// List godoc
// @Summary List courses
// @Description Teachers see their own courses, admins every active course, students a reduced view with enrollment flags
// @Tags Courses
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /courses [get]
func (h *CourseHandler) List(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var (
		data interface{}
		err  error
	)
	if actor.Role == models.RoleStudent {
		data, err = h.service.ListForStudent(c.Request.Context(), actor.ID)
	} else {
		data, err = h.service.List(c.Request.Context(), actor)
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, data, nil)
}

// Get godoc
// @Summary Get course
// @Tags Courses
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id} [get]
func (h *CourseHandler) Get(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var (
		data interface{}
		err  error
	)
	if actor.Role == models.RoleStudent {
		data, err = h.service.GetForStudent(c.Request.Context(), actor.ID, c.Param("id"))
	} else {
		data, err = h.service.Get(c.Request.Context(), actor, c.Param("id"))
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, data, nil)
}

// Create godoc
// @Summary Create course
// @Tags Courses
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.CreateCourseRequest true "Course payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses [post]
func (h *CourseHandler) Create(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req service.CreateCourseRequest
	if !bindJSON(c, &req, "invalid course payload") {
		return
	}

	course, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, course)
}

// Update godoc
// @Summary Update course
// @Tags Courses
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Param payload body service.UpdateCourseRequest true "Course payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{id} [put]
func (h *CourseHandler) Update(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req service.UpdateCourseRequest
	if !bindJSON(c, &req, "invalid course payload") {
		return
	}

	course, err := h.service.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, course, nil)
}

// Delete godoc
// @Summary Delete course
// @Description Soft deletes the course
// @Tags Courses
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /courses/{id} [delete]
func (h *CourseHandler) Delete(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), actor, c.Param("id"), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// UpdateEnrollments godoc
// @Summary Replace course roster
// @Tags Courses
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Param payload body service.UpdateEnrollmentsRequest true "Student IDs"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /courses/{id}/enrollments [put]
func (h *CourseHandler) UpdateEnrollments(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req service.UpdateEnrollmentsRequest
	if !bindJSON(c, &req, "invalid enrollment payload") {
		return
	}

	course, err := h.service.UpdateEnrollments(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, course, nil)
}

// SelfEnroll godoc
// @Summary Enroll in a course
// @Description Students may join courses whose code prefix matches their class code
// @Tags Courses
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /courses/{id}/self-enroll [post]
func (h *CourseHandler) SelfEnroll(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	summary, err := h.service.SelfEnroll(c.Request.Context(), actor.ID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, summary, nil)
}

// TeacherStudents godoc
// @Summary Students across the teacher's courses
// @Tags Courses
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /teacher/students [get]
func (h *CourseHandler) TeacherStudents(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	students, err := h.service.TeacherStudents(c.Request.Context(), actor.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, students, nil)
}

// StudentPerformance godoc
// @Summary Student performance ranking
// @Description Students with at least one submission, best average first
// @Tags Courses
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /teacher/students/performance [get]
func (h *CourseHandler) StudentPerformance(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	students, err := h.service.TeacherStudents(c.Request.Context(), actor.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	ranked := make([]models.TeacherStudent, 0, len(students))
	for _, s := range students {
		if s.SubmissionCount > 0 && s.AveragePercentage != nil {
			ranked = append(ranked, s)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return *ranked[i].AveragePercentage > *ranked[j].AveragePercentage
	})

	response.JSON(c, http.StatusOK, ranked, nil)
}
