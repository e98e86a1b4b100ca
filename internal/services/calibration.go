package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/stitts-dev/xc-results/internal/anomaly"
	"github.com/stitts-dev/xc-results/internal/models"
	"github.com/stitts-dev/xc-results/internal/normalize"
	"github.com/stitts-dev/xc-results/pkg/logger"
	"github.com/stitts-dev/xc-results/pkg/utils"
)

// recommendationTolerance is how far a new rating may sit from the
// recommendation and still count as accepting it.
const recommendationTolerance = 1e-4

var (
	ErrCourseNotFound  = fmt.Errorf("course %w", utils.ErrNotFound)
	ErrCommentRequired = errors.New("comment required")
)

// AdjustmentRequest is an operator's request to change a course rating.
type AdjustmentRequest struct {
	NewRating float64
	Comment   string
	AppliedBy string
	Analysis  AnalysisRequest
}

// RecomputeResult describes the derived-average refresh after a change.
type RecomputeResult struct {
	Status                  string   `json:"status"`
	ResultsConsidered       int      `json:"results_considered"`
	AverageNormalizedMileCS *float64 `json:"average_normalized_mile_cs"`
}

// AdjustmentResult is returned to the operator after a rating change.
type AdjustmentResult struct {
	CourseID          uint            `json:"course_id"`
	AdjustmentID      uint            `json:"adjustment_id"`
	OldRating         float64         `json:"old_rating"`
	NewRating         float64         `json:"new_rating"`
	RecommendedRating *float64        `json:"recommended_rating"`
	Override          bool            `json:"override"`
	Recompute         RecomputeResult `json:"recompute"`
	Warnings          []string        `json:"warnings"`
}

// CommentRequiredError lists why a comment is mandatory for this change.
type CommentRequiredError struct {
	Reasons []string
}

func (e *CommentRequiredError) Error() string {
	return fmt.Sprintf("comment required: %v", e.Reasons)
}

func (e *CommentRequiredError) Unwrap() error {
	return ErrCommentRequired
}

// CalibrationService applies difficulty-rating changes with an audit trail.
type CalibrationService struct {
	db       *gorm.DB
	analysis *AnalysisService
	cache    *CacheService
}

func NewCalibrationService(db *gorm.DB, analysis *AnalysisService, cache *CacheService) *CalibrationService {
	return &CalibrationService{db: db, analysis: analysis, cache: cache}
}

// ApplyAdjustment re-runs the anomaly analysis for the course, checks the
// comment rules, then updates the rating, refreshes the derived average and
// writes the audit row in one transaction.
func (s *CalibrationService) ApplyAdjustment(ctx context.Context, courseID uint, req AdjustmentRequest) (*AdjustmentResult, error) {
	if math.IsNaN(req.NewRating) || math.IsInf(req.NewRating, 0) || req.NewRating <= 0 {
		return nil, fmt.Errorf("%w: got %v", normalize.ErrInvalidRating, req.NewRating)
	}
	req.Comment = strings.TrimSpace(req.Comment)

	var course models.Course
	if err := s.db.WithContext(ctx).Preload("Venue").First(&course, courseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("failed to load course: %w", err)
	}
	log := logger.WithCourseContext(course.ID, course.DisplayName())

	report, err := s.analysis.AnalyzeFresh(ctx, req.Analysis)
	if err != nil {
		return nil, err
	}
	analysis, analyzed := report.Find(course.ID)

	result := &AdjustmentResult{
		CourseID:  course.ID,
		OldRating: course.DifficultyRating,
		NewRating: req.NewRating,
		Warnings:  []string{},
	}
	var reasons []string
	if analyzed {
		rec := analysis.RecommendedRating
		result.RecommendedRating = &rec
		if math.Abs(req.NewRating-rec) > recommendationTolerance {
			result.Override = true
			reasons = append(reasons, fmt.Sprintf("new rating %.4f differs from the recommended %.4f", req.NewRating, rec))
		}
		if analysis.Implausible {
			result.Warnings = append(result.Warnings, fmt.Sprintf("analysis implies an implausible rating of %.4f", analysis.ImpliedRating))
		}
	} else {
		result.Override = true
		reasons = append(reasons, "no recommendation is available: "+skipReason(report, course.ID))
	}
	if normalize.Implausible(req.NewRating) {
		reasons = append(reasons, fmt.Sprintf("new rating %.4f is below the flat-course baseline of 1.0", req.NewRating))
		result.Warnings = append(result.Warnings, "implausible rating below 1.0")
	}
	if result.Override {
		result.Warnings = append(result.Warnings, "manual override of the computed recommendation")
	}

	if len(reasons) > 0 && req.Comment == "" {
		return nil, &CommentRequiredError{Reasons: reasons}
	}

	var snapshot datatypes.JSON
	if analyzed {
		if b, err := json.Marshal(analysis); err == nil {
			snapshot = datatypes.JSON(b)
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Course{}).Where("id = ?", course.ID).Update("difficulty_rating", req.NewRating).Error; err != nil {
			return fmt.Errorf("failed to update rating: %w", err)
		}
		course.DifficultyRating = req.NewRating

		recompute, err := RecomputeCourseAverage(tx, &course)
		if err != nil {
			return err
		}
		result.Recompute = *recompute

		adj := &models.CourseRatingAdjustment{
			CourseID:          course.ID,
			OldRating:         result.OldRating,
			NewRating:         req.NewRating,
			RecommendedRating: result.RecommendedRating,
			Override:          result.Override,
			Comment:           req.Comment,
			Warnings:          models.StringList(result.Warnings),
			Snapshot:          snapshot,
			AppliedBy:         req.AppliedBy,
		}
		if err := tx.Create(adj).Error; err != nil {
			return fmt.Errorf("failed to record adjustment: %w", err)
		}
		result.AdjustmentID = adj.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateResults(ctx)
	ratingAdjustmentsTotal.WithLabelValues(strconv.FormatBool(result.Override)).Inc()
	log.WithFields(logrus.Fields{
		"old_rating": result.OldRating,
		"new_rating": result.NewRating,
		"override":   result.Override,
		"applied_by": req.AppliedBy,
	}).Info("Course rating adjusted")
	return result, nil
}

// History lists a course's rating changes, newest first.
func (s *CalibrationService) History(ctx context.Context, courseID uint) ([]models.CourseRatingAdjustment, error) {
	var adjustments []models.CourseRatingAdjustment
	err := s.db.WithContext(ctx).Where("course_id = ?", courseID).Order("created_at DESC, id DESC").Find(&adjustments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load adjustments: %w", err)
	}
	return adjustments, nil
}

// RecomputeAll refreshes the derived average of every course.
func (s *CalibrationService) RecomputeAll(ctx context.Context) (int, error) {
	var courses []models.Course
	if err := s.db.WithContext(ctx).Find(&courses).Error; err != nil {
		return 0, fmt.Errorf("failed to load courses: %w", err)
	}
	for i := range courses {
		if _, err := RecomputeCourseAverage(s.db.WithContext(ctx), &courses[i]); err != nil {
			return i, err
		}
	}
	s.cache.InvalidateResults(ctx)
	return len(courses), nil
}

// RecomputeCourseAverage stores the mean normalized mile time of the
// course's valid results, or NULL when it has none.
func RecomputeCourseAverage(tx *gorm.DB, course *models.Course) (*RecomputeResult, error) {
	var times []int
	err := tx.Table("results").
		Joins("JOIN races ON races.id = results.race_id").
		Where("races.course_id = ? AND results.time_cs > 0", course.ID).
		Pluck("results.time_cs", &times).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load course results: %w", err)
	}

	out := &RecomputeResult{Status: "no_results"}
	var sum float64
	for _, t := range times {
		pace, err := normalize.MilePace(t, course.Normalization())
		if err != nil {
			return nil, fmt.Errorf("course %d: %w", course.ID, err)
		}
		sum += pace
		out.ResultsConsidered++
	}
	if out.ResultsConsidered > 0 {
		avg := sum / float64(out.ResultsConsidered)
		out.AverageNormalizedMileCS = &avg
		out.Status = "updated"
	}

	if err := tx.Model(&models.Course{}).Where("id = ?", course.ID).Update("avg_normalized_mile_cs", out.AverageNormalizedMileCS).Error; err != nil {
		return nil, fmt.Errorf("failed to store course average: %w", err)
	}
	course.AvgNormalizedMileCS = out.AverageNormalizedMileCS
	return out, nil
}

func skipReason(report *anomaly.Report, courseID uint) string {
	for _, s := range report.Skipped {
		if s.CourseID == courseID {
			return s.Reason
		}
	}
	return "course not analyzed"
}
