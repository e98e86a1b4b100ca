package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/stitts-dev/xc-results/internal/anomaly"
	"github.com/stitts-dev/xc-results/internal/models"
)

// AnalysisRequest selects the detector options and, optionally, one season.
type AnalysisRequest struct {
	anomaly.Options
	SeasonYear int `json:"season_year"`
}

// AnalysisService feeds stored courses and results to the anomaly detector.
type AnalysisService struct {
	db     *gorm.DB
	cache  *CacheService
	ttl    time.Duration
	logger *logrus.Logger
}

func NewAnalysisService(db *gorm.DB, cache *CacheService, ttl time.Duration, logger *logrus.Logger) *AnalysisService {
	return &AnalysisService{db: db, cache: cache, ttl: ttl, logger: logger}
}

type sampleRow struct {
	AthleteID uint
	CourseID  uint
	MeetDate  time.Time
	TimeCS    int
}

// LoadInputs reads every course and every valid result tied to a course.
func (s *AnalysisService) LoadInputs(ctx context.Context, seasonYear int) ([]anomaly.Course, []anomaly.Sample, error) {
	var courses []models.Course
	if err := s.db.WithContext(ctx).Preload("Venue").Order("id").Find(&courses).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load courses: %w", err)
	}

	query := s.db.WithContext(ctx).Table("results").
		Select("results.athlete_id, races.course_id, meets.meet_date, results.time_cs").
		Joins("JOIN races ON races.id = results.race_id").
		Joins("JOIN meets ON meets.id = races.meet_id").
		Where("results.time_cs > 0 AND races.course_id IS NOT NULL")
	if seasonYear > 0 {
		query = query.Where("meets.season_year = ?", seasonYear)
	}
	var rows []sampleRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load results: %w", err)
	}

	inputs := make([]anomaly.Course, len(courses))
	for i, c := range courses {
		inputs[i] = anomaly.Course{
			ID:               c.ID,
			Name:             c.DisplayName(),
			DistanceMeters:   float64(c.DistanceMeters),
			DifficultyRating: c.DifficultyRating,
		}
	}
	samples := make([]anomaly.Sample, len(rows))
	for i, r := range rows {
		samples[i] = anomaly.Sample{AthleteID: r.AthleteID, CourseID: r.CourseID, RaceDate: r.MeetDate, TimeCS: r.TimeCS}
	}
	return inputs, samples, nil
}

// Analyze runs the detector, serving repeated requests from cache.
func (s *AnalysisService) Analyze(ctx context.Context, req AnalysisRequest) (*anomaly.Report, error) {
	req.Options = req.Options.WithDefaults()
	if err := req.Options.Validate(); err != nil {
		return nil, err
	}

	key := AnalysisCacheKey(req.MinSharedAthletes, req.OutlierThreshold, req.Improvement(), req.SeasonYear)
	var cached anomaly.Report
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	report, err := s.run(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, report, s.ttl); err != nil {
		s.logger.WithError(err).Warn("Failed to cache anomaly analysis")
	}
	return report, nil
}

// AnalyzeFresh bypasses the cache; calibration always decides on current data.
func (s *AnalysisService) AnalyzeFresh(ctx context.Context, req AnalysisRequest) (*anomaly.Report, error) {
	req.Options = req.Options.WithDefaults()
	if err := req.Options.Validate(); err != nil {
		return nil, err
	}
	return s.run(ctx, req)
}

func (s *AnalysisService) run(ctx context.Context, req AnalysisRequest) (*anomaly.Report, error) {
	start := time.Now()
	courses, samples, err := s.LoadInputs(ctx, req.SeasonYear)
	if err != nil {
		return nil, err
	}
	report, err := anomaly.Detect(courses, samples, req.Options)
	if err != nil {
		return nil, err
	}

	analysisDuration.Observe(time.Since(start).Seconds())
	for level, n := range report.Summary.ByLevel {
		flaggedCourses.WithLabelValues(string(level)).Set(float64(n))
	}
	s.logger.WithFields(logrus.Fields{
		"courses_analyzed": report.Summary.CoursesAnalyzed,
		"courses_skipped":  report.Summary.CoursesSkipped,
		"elite_athletes":   report.Summary.EliteAthletes,
		"outliers":         report.Summary.Outliers,
		"samples":          len(samples),
	}).Info("Course anomaly analysis completed")
	return report, nil
}
