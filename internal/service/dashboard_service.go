package service

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

const (
	recentTrendWindow = 10
	recentTrendMin    = 4
	passingAverage    = 75
)

type statsRepository interface {
	CountUsers(ctx context.Context, role *models.UserRole, w models.TimeWindow) (int, error)
	CountActiveUsers(ctx context.Context, since time.Time) (int, error)
	CountPendingTeachers(ctx context.Context) (int, error)
	RoleCounts(ctx context.Context) (models.RoleCounts, error)
	CountCourses(ctx context.Context, scope models.StatsScope, activeOnly bool, w models.TimeWindow) (int, error)
	CountDistinctStudents(ctx context.Context, teacherID string) (int, error)
	CountSessions(ctx context.Context, scope models.StatsScope, w models.TimeWindow) (int, error)
	SessionWindows(ctx context.Context, scope models.StatsScope) ([]models.SessionWindow, error)
	CountAssessments(ctx context.Context, scope models.StatsScope, publishedOnly bool, w models.TimeWindow) (int, error)
	CountPendingAssessments(ctx context.Context, studentID string, now time.Time) (int, error)
	CountPendingGrading(ctx context.Context, teacherID string) (int, error)
	GradedScores(ctx context.Context, scope models.StatsScope) ([]models.GradedScore, error)
	CountFinishedSubmissions(ctx context.Context, w models.TimeWindow) (int, error)
	CourseCompletions(ctx context.Context) ([]models.CourseCompletion, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL time.Duration
}

// DashboardService composes the role-scoped dashboard cards.
type DashboardService struct {
	repo    statsRepository
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
	cfg     DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(repo statsRepository, cache *CacheService, metrics *MetricsService, logger *zap.Logger, cfg DashboardServiceConfig) *DashboardService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{
		repo:    repo,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		cfg:     cfg,
	}
}

// Stats returns the caller's dashboard and whether it came from cache.
func (s *DashboardService) Stats(ctx context.Context, actor models.Actor) (*dto.DashboardStats, bool, error) {
	key := DashboardKey(actor.Role, actor.ID)
	var cached dto.DashboardStats
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, true, nil
	}

	start := time.Now()
	var (
		stats *dto.DashboardStats
		err   error
	)
	switch actor.Role {
	case models.RoleAdmin:
		stats, err = s.adminStats(ctx)
	case models.RoleTeacher:
		stats, err = s.teacherStats(ctx, actor.ID)
	case models.RoleStudent:
		stats, err = s.studentStats(ctx, actor.ID)
	default:
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "no dashboard for this role")
	}
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load dashboard statistics")
	}
	stats.Role = string(actor.Role)
	s.metrics.ObserveDBQuery("dashboard_"+string(actor.Role), time.Since(start))

	if err := s.cache.Set(ctx, key, stats, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("dashboard cache write failed", zap.String("key", key), zap.Error(err))
	}
	return stats, false, nil
}

func (s *DashboardService) adminStats(ctx context.Context) (*dto.DashboardStats, error) {
	now := s.now()
	lastMonth := now.AddDate(0, -1, 0)
	lastWeek := now.Add(-7 * 24 * time.Hour)
	student, teacher := models.RoleStudent, models.RoleTeacher
	all := models.StatsScope{}

	var (
		c   counter
		out dto.DashboardStats
	)
	out.TotalCourses = c.count(s.repo.CountCourses(ctx, all, true, models.TimeWindow{}))
	coursesBefore := c.count(s.repo.CountCourses(ctx, all, true, models.Before(lastMonth)))
	out.TotalStudents = c.count(s.repo.CountUsers(ctx, &student, models.TimeWindow{}))
	studentsBefore := c.count(s.repo.CountUsers(ctx, &student, models.Before(lastMonth)))
	out.TotalTeachers = c.count(s.repo.CountUsers(ctx, &teacher, models.TimeWindow{}))
	teachersBefore := c.count(s.repo.CountUsers(ctx, &teacher, models.Before(lastMonth)))
	sessionsThisWeek := c.count(s.repo.CountSessions(ctx, all, models.Since(lastWeek)))
	out.PendingAssignments = c.count(s.repo.CountAssessments(ctx, all, true, models.TimeWindow{}))
	assessmentsThisWeek := c.count(s.repo.CountAssessments(ctx, all, true, models.Since(lastWeek)))
	out.PendingTeachers = c.count(s.repo.CountPendingTeachers(ctx))
	if c.err != nil {
		return nil, c.err
	}
	windows, err := s.repo.SessionWindows(ctx, all)
	if err != nil {
		return nil, err
	}
	scores, err := s.repo.GradedScores(ctx, all)
	if err != nil {
		return nil, err
	}

	out.ActiveSessions = countLive(windows, now)
	out.AverageGrade = averageScore(scores)
	out.Trends = dto.DashboardTrends{
		Courses:     trend(growthSince(out.TotalCourses, coursesBefore), "vs last month"),
		Students:    trend(growthSince(out.TotalStudents, studentsBefore), "vs last month"),
		Teachers:    trend(growthSince(out.TotalTeachers, teachersBefore), "vs last month"),
		Sessions:    dto.Trend{Value: sessionsThisWeek, IsPositive: true, Period: "this week"},
		Assignments: dto.Trend{Value: assessmentsThisWeek, IsPositive: true, Period: "this week"},
		Grades:      dto.Trend{Value: out.AverageGrade, IsPositive: out.AverageGrade >= passingAverage, Period: "system average"},
	}
	return &out, nil
}

func (s *DashboardService) teacherStats(ctx context.Context, teacherID string) (*dto.DashboardStats, error) {
	now := s.now()
	lastWeek := now.Add(-7 * 24 * time.Hour)
	scope := models.StatsScope{TeacherID: &teacherID}

	var (
		c   counter
		out dto.DashboardStats
	)
	out.TotalCourses = c.count(s.repo.CountCourses(ctx, scope, true, models.TimeWindow{}))
	out.TotalStudents = c.count(s.repo.CountDistinctStudents(ctx, teacherID))
	out.PendingAssignments = c.count(s.repo.CountAssessments(ctx, scope, false, models.TimeWindow{}))
	assessmentsThisWeek := c.count(s.repo.CountAssessments(ctx, scope, false, models.Since(lastWeek)))
	sessionsThisWeek := c.count(s.repo.CountSessions(ctx, scope, models.Since(lastWeek)))
	out.PendingGrading = c.count(s.repo.CountPendingGrading(ctx, teacherID))
	if c.err != nil {
		return nil, c.err
	}
	windows, err := s.repo.SessionWindows(ctx, scope)
	if err != nil {
		return nil, err
	}
	scores, err := s.repo.GradedScores(ctx, scope)
	if err != nil {
		return nil, err
	}

	out.ActiveSessions = countLive(windows, now)
	out.AverageGrade = averageScore(scores)
	out.Trends = dto.DashboardTrends{
		Courses:     dto.Trend{Value: out.TotalCourses, IsPositive: true, Period: "assigned"},
		Students:    dto.Trend{Value: out.TotalStudents, IsPositive: true, Period: "enrolled"},
		Teachers:    dto.Trend{IsPositive: true},
		Sessions:    dto.Trend{Value: sessionsThisWeek, IsPositive: true, Period: "this week"},
		Assignments: dto.Trend{Value: assessmentsThisWeek, IsPositive: true, Period: "this week"},
		Grades:      dto.Trend{Value: out.AverageGrade, IsPositive: out.AverageGrade >= passingAverage, Period: "class average"},
	}
	return &out, nil
}

func (s *DashboardService) studentStats(ctx context.Context, studentID string) (*dto.DashboardStats, error) {
	now := s.now()
	scope := models.StatsScope{StudentID: &studentID}

	var (
		c   counter
		out dto.DashboardStats
	)
	out.TotalCourses = c.count(s.repo.CountCourses(ctx, scope, true, models.TimeWindow{}))
	out.PendingAssignments = c.count(s.repo.CountPendingAssessments(ctx, studentID, now))
	if c.err != nil {
		return nil, c.err
	}
	windows, err := s.repo.SessionWindows(ctx, scope)
	if err != nil {
		return nil, err
	}
	scores, err := s.repo.GradedScores(ctx, scope)
	if err != nil {
		return nil, err
	}

	out.ActiveSessions = countLive(windows, now)
	out.AverageGrade = averageScore(scores)
	out.Trends = dto.DashboardTrends{
		Courses:     dto.Trend{Value: out.TotalCourses, IsPositive: true, Period: "enrolled"},
		Students:    dto.Trend{IsPositive: true},
		Teachers:    dto.Trend{IsPositive: true},
		Sessions:    dto.Trend{Value: out.ActiveSessions, IsPositive: true, Period: "live now"},
		Assignments: dto.Trend{Value: out.PendingAssignments, IsPositive: false, Period: "pending"},
		Grades:      trend(recentGradeTrend(scores), "recent trend"),
	}
	return &out, nil
}

// counter keeps the first error of a run of count queries.
type counter struct {
	err error
}

func (c *counter) count(n int, err error) int {
	if err != nil && c.err == nil {
		c.err = err
	}
	return n
}

func countLive(windows []models.SessionWindow, now time.Time) int {
	live := 0
	for _, w := range windows {
		if w.IsLive(now) {
			live++
		}
	}
	return live
}

func averageScore(scores []models.GradedScore) int {
	if len(scores) == 0 {
		return 0
	}
	return int(math.Round(meanPercentage(scores)))
}

func meanPercentage(scores []models.GradedScore) float64 {
	var sum float64
	for _, score := range scores {
		sum += score.Percentage
	}
	return sum / float64(len(scores))
}

// recentGradeTrend compares the newer half of the latest graded scores with
// the older half. scores must be ordered newest first.
func recentGradeTrend(scores []models.GradedScore) int {
	recent := make([]models.GradedScore, 0, recentTrendWindow)
	for _, score := range scores {
		if score.SubmittedAt == nil {
			continue
		}
		recent = append(recent, score)
		if len(recent) == recentTrendWindow {
			break
		}
	}
	if len(recent) < recentTrendMin {
		return 0
	}
	half := len(recent) / 2
	return int(math.Round(meanPercentage(recent[:half]) - meanPercentage(recent[half:])))
}

// growthSince is the percentage growth of total over the count that existed
// before the comparison point. An empty base with a non-empty total counts
// as 100%.
func growthSince(total, before int) int {
	if before > 0 {
		return percentChange(total, before)
	}
	if total > 0 {
		return 100
	}
	return 0
}

func percentChange(current, previous int) int {
	if previous <= 0 {
		return 0
	}
	return int(math.Round(float64(current-previous) / float64(previous) * 100))
}

func trend(change int, period string) dto.Trend {
	value := change
	if value < 0 {
		value = -value
	}
	return dto.Trend{Value: value, IsPositive: change >= 0, Period: period}
}
