// Package router assembles the HTTP surface of the API.
package router

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/handler"
	"github.com/noah-isme/lms-api/internal/middleware"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lms-api/pkg/middleware/cors"
	"github.com/noah-isme/lms-api/pkg/middleware/ratelimit"
	reqidmiddleware "github.com/noah-isme/lms-api/pkg/middleware/requestid"
	"github.com/noah-isme/lms-api/pkg/response"
)

// TokenValidator verifies bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// AuditWriter persists audit entries.
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Config controls the optional parts of the router.
type Config struct {
	APIPrefix      string
	AllowedOrigins []string
	EnableDocs     bool
	AuthRateLimit  int
}

// Deps are the cross-cutting collaborators used by middleware.
type Deps struct {
	Logger  *zap.Logger
	Tokens  TokenValidator
	Metrics *service.MetricsService
	Audit   AuditWriter
	// Redis backs the auth rate limiter. Nil disables limiting.
	Redis *redis.Client
}

// Handlers groups every HTTP handler.
type Handlers struct {
	Auth       *handler.AuthHandler
	User       *handler.UserHandler
	Course     *handler.CourseHandler
	Assessment *handler.AssessmentHandler
	Submission *handler.SubmissionHandler
	Session    *handler.SessionHandler
	Google     *handler.GoogleHandler
	Resource   *handler.ResourceHandler
	Dashboard  *handler.DashboardHandler
	Analytics  *handler.AnalyticsHandler
	Metrics    *handler.MetricsHandler
}

// New builds the gin engine with all routes registered.
func New(cfg Config, deps Deps, h Handlers) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(cfg.AllowedOrigins))
	r.Use(middleware.Metrics(deps.Metrics))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)
	if cfg.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	var counter ratelimit.Counter
	if deps.Redis != nil {
		counter = ratelimit.NewRedisCounter(deps.Redis)
	}
	authLimit := ratelimit.New(counter, ratelimit.Config{
		Name:   "auth",
		Limit:  cfg.AuthRateLimit,
		Window: time.Minute,
		Logger: deps.Logger,
		OnLimited: func(c *gin.Context) {
			response.Error(c, appErrors.ErrTooManyRequests)
		},
	})

	const (
		admin   = models.RoleAdmin
		teacher = models.RoleTeacher
		student = models.RoleStudent
	)
	staff := middleware.RequireRoles(admin, teacher)
	adminOnly := middleware.RequireRoles(admin)
	teacherOnly := middleware.RequireRoles(teacher)
	studentOnly := middleware.RequireRoles(student)
	audit := func(action, resource string) gin.HandlerFunc {
		return middleware.Audit(deps.Audit, deps.Logger, action, resource)
	}

	api := r.Group(cfg.APIPrefix)
	authed := middleware.JWT(deps.Tokens)

	auth := api.Group("/auth")
	{
		public := auth.Group("", authLimit)
		public.POST("/register", h.Auth.Register)
		public.POST("/login", h.Auth.Login)
		public.POST("/refresh", h.Auth.Refresh)
		public.POST("/forgot-password", h.Auth.ForgotPassword)
		public.POST("/reset-password", h.Auth.ResetPassword)
		public.POST("/resend-verification", h.Auth.ResendVerification)
		auth.POST("/logout", h.Auth.Logout)
		auth.GET("/verify-email", h.Auth.VerifyEmail)

		auth.GET("/me", authed, h.Auth.Me)
		auth.GET("/pending-teachers", authed, adminOnly, h.Auth.PendingTeachers)
		auth.PUT("/approve-teacher/:id", authed, adminOnly, h.Auth.ApproveTeacher)
		auth.DELETE("/reject-teacher/:id", authed, adminOnly, h.Auth.RejectTeacher)
	}

	api.GET("/google/oauth/callback", h.Google.Callback)
	api.GET("/resources/files/:token", h.Resource.ServeFile)

	secured := api.Group("", authed)

	users := secured.Group("/users")
	{
		users.GET("", adminOnly, h.User.List)
		users.POST("", adminOnly, h.User.Create)
		users.PUT("/me", h.User.UpdateMe)
		users.GET("/students", staff, h.User.Students)
		users.GET("/teachers/available", adminOnly, h.User.AvailableTeachers)
	}

	courses := secured.Group("/courses")
	{
		courses.GET("", h.Course.List)
		courses.POST("", adminOnly, h.Course.Create)
		courses.GET("/:id", h.Course.Get)
		courses.PUT("/:id", staff, h.Course.Update)
		courses.DELETE("/:id", adminOnly, h.Course.Delete)
		courses.PUT("/:id/enrollments", staff, h.Course.UpdateEnrollments)
		courses.POST("/:id/self-enroll", studentOnly, h.Course.SelfEnroll)
	}

	teacherGroup := secured.Group("/teacher", teacherOnly)
	{
		teacherGroup.GET("/students", h.Course.TeacherStudents)
		teacherGroup.GET("/students/performance", h.Course.StudentPerformance)
	}

	assessments := secured.Group("/assessments")
	{
		assessments.POST("", teacherOnly, h.Assessment.Create)
		assessments.GET("/teacher", teacherOnly, h.Assessment.ListTeacher)
		assessments.GET("/student", studentOnly, h.Assessment.ListStudent)

		assessments.GET("/submissions/:id", h.Submission.Get)
		assessments.POST("/submissions/:id/submit", studentOnly, h.Submission.Submit)
		assessments.PATCH("/submissions/:id/progress", studentOnly, h.Submission.SaveProgress)
		assessments.GET("/submissions/:id/results", h.Submission.Results)
		assessments.POST("/submissions/:id/grade", teacherOnly, h.Submission.Grade)

		assessments.GET("/:id", h.Assessment.Get)
		assessments.PUT("/:id", staff, h.Assessment.Update)
		assessments.DELETE("/:id", staff, h.Assessment.Delete)
		assessments.PATCH("/:id/publish", staff, h.Assessment.Publish)
		assessments.PATCH("/:id/unpublish", staff, h.Assessment.Unpublish)
		assessments.PATCH("/:id/close", staff, h.Assessment.Close)
		assessments.GET("/:id/stats", staff, h.Assessment.Stats)
		assessments.GET("/:id/export", staff, h.Assessment.Export)
		assessments.POST("/:id/start", studentOnly, h.Submission.Start)
		assessments.GET("/:id/submissions", staff, h.Submission.ListForAssessment)
		assessments.GET("/:id/submissions/me", studentOnly, h.Submission.ListMine)
	}

	sessions := secured.Group("/sessions")
	{
		sessions.GET("", h.Session.List)
		sessions.POST("", staff, h.Session.Create)
		sessions.GET("/:id", h.Session.Get)
		sessions.POST("/:id/join", h.Session.Join)
		sessions.POST("/:id/leave", h.Session.Leave)
		sessions.PATCH("/:id/status", staff, h.Session.UpdateStatus)
		sessions.DELETE("/:id", staff, audit(models.AuditActionSessionDelete, "session"), h.Session.Delete)
	}

	google := secured.Group("/google", teacherOnly)
	{
		google.GET("/auth-url", h.Google.AuthURL)
		google.GET("/status", h.Google.Status)
	}

	resources := secured.Group("/resources")
	{
		resources.GET("", h.Resource.List)
		resources.POST("", staff, h.Resource.Create)
		resources.POST("/upload", staff, audit(models.AuditActionResourceUpload, "resource"), h.Resource.Upload)
		resources.GET("/:id", h.Resource.Get)
		resources.PUT("/:id", staff, h.Resource.Update)
		resources.DELETE("/:id", staff, audit(models.AuditActionResourceDelete, "resource"), h.Resource.Delete)
		resources.GET("/:id/download", h.Resource.Download)
	}

	secured.GET("/dashboard/stats", h.Dashboard.Stats)
	secured.GET("/analytics/data", adminOnly, h.Analytics.Data)

	return r
}
