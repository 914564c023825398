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
	analyticsCacheKey = analyticsKeyspace + ":data"
	growthMonths      = 6
)

// AnalyticsService builds the admin analytics report with cache integration.
type AnalyticsService struct {
	repo     statsRepository
	cache    *CacheService
	metrics  *MetricsService
	logger   *zap.Logger
	cacheTTL time.Duration
	now      func() time.Time
}

// NewAnalyticsService constructs an analytics service.
func NewAnalyticsService(repo statsRepository, cache *CacheService, metrics *MetricsService, logger *zap.Logger, cacheTTL time.Duration) *AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &AnalyticsService{
		repo:     repo,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
		cacheTTL: cacheTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Data returns the analytics report. The boolean indicates whether the data
// originated from cache. System metrics are always taken live.
func (s *AnalyticsService) Data(ctx context.Context) (*dto.AnalyticsData, bool, error) {
	var cached dto.AnalyticsData
	if hit, err := s.cache.Get(ctx, analyticsCacheKey, &cached); err == nil && hit {
		cached.System = s.systemMetrics()
		return &cached, true, nil
	}

	start := time.Now()
	data, err := s.compose(ctx)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load analytics")
	}
	s.metrics.ObserveDBQuery("analytics_data", time.Since(start))

	if err := s.cache.Set(ctx, analyticsCacheKey, data, s.cacheTTL); err != nil {
		s.logger.Warn("analytics cache write failed", zap.Error(err))
	}
	data.System = s.systemMetrics()
	return data, false, nil
}

func (s *AnalyticsService) systemMetrics() *models.SystemMetrics {
	if s.metrics == nil {
		return nil
	}
	snapshot := s.metrics.Snapshot()
	return &snapshot
}

func (s *AnalyticsService) compose(ctx context.Context) (*dto.AnalyticsData, error) {
	now := s.now()
	currentMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	lastMonth := currentMonth.AddDate(0, -1, 0)
	oneWeekAgo := now.Add(-7 * 24 * time.Hour)
	oneDayAgo := now.Add(-24 * time.Hour)
	student, teacher := models.RoleStudent, models.RoleTeacher
	all := models.StatsScope{}

	roles, err := s.repo.RoleCounts(ctx)
	if err != nil {
		return nil, err
	}
	windows, err := s.repo.SessionWindows(ctx, all)
	if err != nil {
		return nil, err
	}
	completions, err := s.repo.CourseCompletions(ctx)
	if err != nil {
		return nil, err
	}

	var c counter
	totalCourses := c.count(s.repo.CountCourses(ctx, all, false, models.TimeWindow{}))
	studentsBefore := c.count(s.repo.CountUsers(ctx, &student, models.Before(currentMonth)))
	teachersBefore := c.count(s.repo.CountUsers(ctx, &teacher, models.Before(currentMonth)))
	coursesBefore := c.count(s.repo.CountCourses(ctx, all, false, models.Before(currentMonth)))
	activeToday := c.count(s.repo.CountActiveUsers(ctx, oneDayAgo))
	activeThisWeek := c.count(s.repo.CountActiveUsers(ctx, oneWeekAgo))
	registrationsThisMonth := c.count(s.repo.CountUsers(ctx, nil, models.Since(currentMonth)))
	registrationsLastMonth := c.count(s.repo.CountUsers(ctx, nil, models.Between(lastMonth, currentMonth)))
	totalAssessments := c.count(s.repo.CountAssessments(ctx, all, false, models.TimeWindow{}))
	weeklyAssessments := c.count(s.repo.CountAssessments(ctx, all, false, models.Since(oneWeekAgo)))
	totalFinished := c.count(s.repo.CountFinishedSubmissions(ctx, models.TimeWindow{}))
	weeklyFinished := c.count(s.repo.CountFinishedSubmissions(ctx, models.Since(oneWeekAgo)))
	if c.err != nil {
		return nil, c.err
	}
	growth, err := s.monthlyGrowth(ctx, currentMonth, windows)
	if err != nil {
		return nil, err
	}

	sessionsThisMonth := countCreated(windows, currentMonth, time.Time{})
	sessionsLastMonth := countCreated(windows, lastMonth, currentMonth)
	weeklySessions := countCreated(windows, oneWeekAgo, time.Time{})
	totalUsers := roles.Total()

	data := &dto.AnalyticsData{
		Overview: dto.AnalyticsOverview{
			TotalStudents:  roles.Students,
			TotalTeachers:  roles.Teachers,
			TotalCourses:   totalCourses,
			ActiveSessions: countLive(windows, now),
			Trends: dto.OverviewTrends{
				Students: trend(percentChange(roles.Students, studentsBefore), "vs last month"),
				Teachers: trend(percentChange(roles.Teachers, teachersBefore), "vs last month"),
				Courses:  trend(percentChange(totalCourses, coursesBefore), "vs last month"),
				Sessions: trend(percentChange(sessionsThisMonth, sessionsLastMonth), "vs last month"),
			},
		},
		MonthlyGrowth: growth,
		PlatformUsage: dto.PlatformUsage{
			DailyActiveUsers:     activeToday,
			WeeklySessions:       weeklySessions,
			AvgSessionDuration:   averageDuration(windows),
			CourseCompletionRate: ratioPercent(totalFinished, totalAssessments),
		},
		UserAnalytics: dto.UserAnalytics{
			Registrations: dto.Registrations{
				ThisMonth:        registrationsThisMonth,
				LastMonth:        registrationsLastMonth,
				PercentageChange: percentChange(registrationsThisMonth, registrationsLastMonth),
			},
			Activity: dto.Activity{
				ActiveToday:    activeToday,
				ActiveThisWeek: activeThisWeek,
				TotalUsers:     totalUsers,
			},
			Roles: roles,
		},
		CourseAnalytics: courseAnalytics(totalCourses, completions),
		Engagement: dto.Engagement{
			AverageLoginFrequency:    ratioPercent(activeThisWeek, totalUsers),
			SessionParticipation:     ratioPercent(weeklySessions, maxInt(activeThisWeek, 1)),
			AssignmentSubmissionRate: ratioPercent(weeklyFinished, weeklyAssessments),
		},
	}
	return data, nil
}

// monthlyGrowth returns cumulative totals at the end of each of the last six
// months, oldest first, with sessions and registrations counted per month.
func (s *AnalyticsService) monthlyGrowth(ctx context.Context, currentMonth time.Time, windows []models.SessionWindow) ([]dto.MonthlyGrowth, error) {
	student, teacher := models.RoleStudent, models.RoleTeacher
	growth := make([]dto.MonthlyGrowth, 0, growthMonths)
	for i := growthMonths - 1; i >= 0; i-- {
		monthStart := currentMonth.AddDate(0, -i, 0)
		monthEnd := monthStart.AddDate(0, 1, 0)

		var c counter
		point := dto.MonthlyGrowth{
			Month:         monthStart.Format("Jan"),
			Students:      c.count(s.repo.CountUsers(ctx, &student, models.Before(monthEnd))),
			Teachers:      c.count(s.repo.CountUsers(ctx, &teacher, models.Before(monthEnd))),
			Courses:       c.count(s.repo.CountCourses(ctx, models.StatsScope{}, false, models.Before(monthEnd))),
			Sessions:      countCreated(windows, monthStart, monthEnd),
			Registrations: c.count(s.repo.CountUsers(ctx, nil, models.Between(monthStart, monthEnd))),
		}
		if c.err != nil {
			return nil, c.err
		}
		growth = append(growth, point)
	}
	return growth, nil
}

func courseAnalytics(totalCourses int, rows []models.CourseCompletion) dto.CourseAnalytics {
	out := dto.CourseAnalytics{
		TotalCourses:    totalCourses,
		CompletionRates: make([]dto.CourseCompletion, 0, len(rows)),
	}
	enrollments := 0
	for _, row := range rows {
		enrollments += row.Enrollments
		out.CompletionRates = append(out.CompletionRates, dto.CourseCompletion{
			CourseID:       row.CourseID,
			CourseName:     row.CourseName,
			Enrollments:    row.Enrollments,
			Completions:    row.Completions,
			CompletionRate: ratioPercent(row.Completions, row.Assessments),
		})
	}
	out.AverageEnrollment = ratio(enrollments, len(rows))
	return out
}

// countCreated counts sessions created in [from, to). A zero to is open.
func countCreated(windows []models.SessionWindow, from, to time.Time) int {
	n := 0
	for _, w := range windows {
		if w.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !w.CreatedAt.Before(to) {
			continue
		}
		n++
	}
	return n
}

func averageDuration(windows []models.SessionWindow) int {
	total := 0
	for _, w := range windows {
		total += w.Duration
	}
	return ratio(total, len(windows))
}

func ratio(num, den int) int {
	if den <= 0 {
		return 0
	}
	return int(math.Round(float64(num) / float64(den)))
}

func ratioPercent(num, den int) int {
	return ratio(num*100, den)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
