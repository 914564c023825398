package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	_ "github.com/noah-isme/lms-api/api/swagger"
	"github.com/noah-isme/lms-api/internal/handler"
	"github.com/noah-isme/lms-api/internal/repository"
	"github.com/noah-isme/lms-api/internal/router"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/cache"
	"github.com/noah-isme/lms-api/pkg/calendar"
	"github.com/noah-isme/lms-api/pkg/config"
	"github.com/noah-isme/lms-api/pkg/database"
	"github.com/noah-isme/lms-api/pkg/export"
	"github.com/noah-isme/lms-api/pkg/logger"
	"github.com/noah-isme/lms-api/pkg/mail"
	"github.com/noah-isme/lms-api/pkg/objectstore"
	"github.com/noah-isme/lms-api/pkg/storage"
)

// @title LMS API
// @version 1.0.0
// @description Role-based learning management backend: courses, assessments, live sessions and resources.
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	binding.EnableDecoderDisallowUnknownFields = true

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	metricsSvc := service.NewMetricsService()
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Dashboard.CacheTTL, logr, redisClient != nil)

	var sender mail.Sender = mail.NewLogSender(logr)
	if cfg.Mail.SendGridAPIKey != "" {
		sender = mail.NewSendGridSender(cfg.Mail.SendGridAPIKey, cfg.Mail.FromName, cfg.Mail.FromAddress)
	}
	mailQueue := service.NewMailQueue(service.NewMailWorker(sender, metricsSvc, logr), cfg.Mail.Workers, logr)
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	mailQueue.Start(rootCtx)
	defer mailQueue.Stop()

	store, files, signer := buildStorage(cfg.Storage, logr)
	googleCal := calendar.NewGoogleCalendar(calendar.Config{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.Google.RedirectURL,
	})
	stateSigner := calendar.NewStateSigner(cfg.JWT.Secret, cfg.Google.StateTTL)
	exportSvc := service.NewExportService(logr, export.NewCSVExporter(), export.NewPDFExporter())

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	assessmentRepo := repository.NewAssessmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	resourceRepo := repository.NewResourceRepository(db)
	analyticsRepo := repository.NewAnalyticsRepository(db)

	validate := service.NewValidator()
	mailSvc := service.NewMailService(mailQueue, cfg.AppURL, logr)
	authSvc := service.NewAuthService(userRepo, mailSvc, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		RefreshTokenSecret: cfg.JWT.RefreshSecret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	userSvc := service.NewUserService(userRepo, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, userRepo, cacheSvc, validate, logr)
	assessmentSvc := service.NewAssessmentService(assessmentRepo, courseRepo, submissionRepo, exportSvc, cacheSvc, validate, logr)
	submissionSvc := service.NewSubmissionService(submissionRepo, assessmentRepo, courseRepo, userRepo, cacheSvc, validate, logr)
	sessionSvc := service.NewSessionService(sessionRepo, courseRepo, userRepo, googleCal, cacheSvc, validate, logr)
	googleSvc := service.NewGoogleService(googleCal, stateSigner, userRepo, cfg.AppURL, logr)
	resourceSvc := service.NewResourceService(resourceRepo, userRepo, store, files, signer, validate, logr, service.ResourceServiceConfig{
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		APIPrefix:      cfg.APIPrefix,
	})
	dashboardSvc := service.NewDashboardService(analyticsRepo, cacheSvc, metricsSvc, logr, service.DashboardServiceConfig{CacheTTL: cfg.Dashboard.CacheTTL})
	analyticsSvc := service.NewAnalyticsService(analyticsRepo, cacheSvc, metricsSvc, logr, cfg.Analytics.CacheTTL)

	checks := map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	engine := router.New(router.Config{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		EnableDocs:     cfg.Env != config.EnvProduction,
		AuthRateLimit:  cfg.RateLimit.AuthPerMinute,
	}, router.Deps{
		Logger:  logr,
		Tokens:  authSvc,
		Metrics: metricsSvc,
		Audit:   userRepo,
		Redis:   redisClient,
	}, router.Handlers{
		Auth:       handler.NewAuthHandler(authSvc),
		User:       handler.NewUserHandler(userSvc),
		Course:     handler.NewCourseHandler(courseSvc),
		Assessment: handler.NewAssessmentHandler(assessmentSvc),
		Submission: handler.NewSubmissionHandler(submissionSvc),
		Session:    handler.NewSessionHandler(sessionSvc),
		Google:     handler.NewGoogleHandler(googleSvc),
		Resource:   handler.NewResourceHandler(resourceSvc, cfg.Storage.MaxUploadBytes),
		Dashboard:  handler.NewDashboardHandler(dashboardSvc),
		Analytics:  handler.NewAnalyticsHandler(analyticsSvc),
		Metrics:    handler.NewMetricsHandler(metricsSvc, checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

type fileOpener interface {
	Open(key string) (*os.File, error)
}

// buildStorage picks OSS when it is configured and falls back to the local
// disk. files is nil for OSS since objects are served from public URLs.
func buildStorage(cfg config.StorageConfig, logr *zap.Logger) (objectstore.Store, fileOpener, *storage.SignedURLSigner) {
	signer := storage.NewSignedURLSigner(cfg.SignedURLSecret, cfg.SignedURLTTL)
	if cfg.OSSEnabled() {
		oss, err := objectstore.NewOSSStore(objectstore.OSSConfig{
			Endpoint:        cfg.OSSEndpoint,
			AccessKeyID:     cfg.OSSAccessKeyID,
			AccessKeySecret: cfg.OSSAccessKeySecret,
			Bucket:          cfg.OSSBucket,
			PublicBaseURL:   cfg.OSSPublicBaseURL,
			Prefix:          cfg.OSSPrefix,
		})
		if err == nil {
			logr.Sugar().Infow("resource storage: oss", "bucket", cfg.OSSBucket)
			return oss, nil, signer
		}
		logr.Sugar().Warnw("oss unavailable, falling back to local storage", "error", err)
	}

	fs, err := storage.NewLocalStorage(cfg.LocalDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare local storage", "dir", cfg.LocalDir, "error", err)
	}
	local := objectstore.NewLocalStore(fs)
	logr.Sugar().Infow("resource storage: local", "dir", cfg.LocalDir)
	return local, local, signer
}
