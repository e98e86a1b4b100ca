// Package anomaly flags courses whose difficulty rating disagrees with what
// cross-course comparisons of the same athletes predict, and recommends a
// conservative correction.
//
// The detector is a pure function over course metadata and result samples; it
// performs no I/O and never mutates a rating.
package anomaly

import (
	"errors"
	"math"
	"time"
)

const (
	DefaultMinSharedAthletes         = 5
	DefaultOutlierThreshold          = 2.0
	DefaultImprovementSecPerMileWeek = 1.5

	// HalfStep is the fraction of the gap between the current and implied
	// rating that a recommendation moves.
	HalfStep = 0.5

	// PeerDistanceTolerance bounds the relative distance difference between
	// courses compared for peer agreement.
	PeerDistanceTolerance = 0.10
)

var (
	ErrInvalidOptions = errors.New("invalid anomaly detection options")
	ErrNoCourses      = errors.New("no courses to analyze")
)

// Level is the suspicion level assigned to a course.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

var levelRank = map[Level]int{
	LevelLow:      0,
	LevelMedium:   1,
	LevelHigh:     2,
	LevelCritical: 3,
}

// Rank orders levels from LOW (0) to CRITICAL (3).
func (l Level) Rank() int {
	return levelRank[l]
}

func (l Level) downgrade() Level {
	switch l {
	case LevelCritical:
		return LevelHigh
	case LevelHigh:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Course is the course metadata the detector needs.
type Course struct {
	ID               uint    `json:"id"`
	Name             string  `json:"name"`
	DistanceMeters   float64 `json:"distance_meters"`
	DifficultyRating float64 `json:"difficulty_rating"`
}

// Sample is one athlete's valid result on a course.
type Sample struct {
	AthleteID uint
	CourseID  uint
	RaceDate  time.Time
	TimeCS    int
}

// Options tunes the detector. Zero values fall back to the defaults, except
// ImprovementSecPerMileWeek where only nil does, so 0 disables the adjustment.
type Options struct {
	MinSharedAthletes         int      `json:"min_shared_athletes"`
	OutlierThreshold          float64  `json:"outlier_threshold"`
	ImprovementSecPerMileWeek *float64 `json:"improvement_sec_per_mile_week"`
}

// DefaultOptions returns the tuned production defaults.
func DefaultOptions() Options {
	improvement := DefaultImprovementSecPerMileWeek
	return Options{
		MinSharedAthletes:         DefaultMinSharedAthletes,
		OutlierThreshold:          DefaultOutlierThreshold,
		ImprovementSecPerMileWeek: &improvement,
	}
}

// Improvement returns the weekly in-season improvement in seconds per mile.
func (o Options) Improvement() float64 {
	if o.ImprovementSecPerMileWeek == nil {
		return DefaultImprovementSecPerMileWeek
	}
	return *o.ImprovementSecPerMileWeek
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.MinSharedAthletes == 0 {
		o.MinSharedAthletes = d.MinSharedAthletes
	}
	if o.OutlierThreshold == 0 {
		o.OutlierThreshold = d.OutlierThreshold
	}
	if o.ImprovementSecPerMileWeek == nil {
		o.ImprovementSecPerMileWeek = d.ImprovementSecPerMileWeek
	}
	return o
}

// Validate rejects options the detector cannot work with.
func (o Options) Validate() error {
	switch {
	case o.MinSharedAthletes < 2:
		return errors.Join(ErrInvalidOptions, errors.New("min_shared_athletes must be at least 2"))
	case o.OutlierThreshold <= 0:
		return errors.Join(ErrInvalidOptions, errors.New("outlier_threshold must be positive"))
	case o.Improvement() < 0 || math.IsNaN(o.Improvement()):
		return errors.Join(ErrInvalidOptions, errors.New("improvement_sec_per_mile_week must not be negative"))
	}
	return nil
}

// Pair compares an elite athlete's normalized time on a course with the time
// predicted from that athlete's results elsewhere.
type Pair struct {
	AthleteID   uint    `json:"athlete_id"`
	ActualCS    float64 `json:"actual_mile_cs"`
	PredictedCS float64 `json:"predicted_mile_cs"`
	DeviationCS float64 `json:"deviation_cs"`
	Ratio       float64 `json:"ratio"`
	Outlier     string  `json:"outlier,omitempty"` // "fast", "slow" or empty
}

// CourseAnalysis is the detector's verdict for one course.
type CourseAnalysis struct {
	CourseID          uint    `json:"course_id"`
	CourseName        string  `json:"course_name"`
	DistanceMeters    float64 `json:"distance_meters"`
	CurrentRating     float64 `json:"current_rating"`
	ImpliedRating     float64 `json:"implied_rating"`
	RecommendedRating float64 `json:"recommended_rating"`
	DeviationPct      float64 `json:"deviation_pct"`
	SharedAthletes    int     `json:"shared_athletes"`
	PairsCompared     int     `json:"pairs_compared"`
	MeanDeviationCS   float64 `json:"mean_deviation_cs"`
	MedianDeviationCS float64 `json:"median_deviation_cs"`
	StdDeviationCS    float64 `json:"std_deviation_cs"`
	MedianRatio       float64 `json:"median_ratio"`
	RatioStdDev       float64 `json:"ratio_std_dev"`
	FastOutliers      int     `json:"fast_outliers"`
	SlowOutliers      int     `json:"slow_outliers"`
	Level             Level   `json:"suspicion_level"`
	Confidence        float64 `json:"confidence"`
	Implausible       bool    `json:"implausible"`

	Rationale []string `json:"rationale"`
	Pairs     []Pair   `json:"pairs,omitempty"`
}

// SkippedCourse records why a course was not analyzed.
type SkippedCourse struct {
	CourseID       uint   `json:"course_id"`
	CourseName     string `json:"course_name"`
	SharedAthletes int    `json:"shared_athletes"`
	Reason         string `json:"reason"`
}

// Summary aggregates a detection run.
type Summary struct {
	CoursesAnalyzed int           `json:"courses_analyzed"`
	CoursesSkipped  int           `json:"courses_skipped"`
	EliteAthletes   int           `json:"elite_athletes"`
	Outliers        int           `json:"outliers"`
	ByLevel         map[Level]int `json:"by_level"`
}

// Report is the ranked output of Detect.
type Report struct {
	Options  Options          `json:"options"`
	Analyses []CourseAnalysis `json:"analyses"`
	Skipped  []SkippedCourse  `json:"skipped"`
	Summary  Summary          `json:"summary"`
}

// Find returns the analysis for courseID, if the course was analyzed.
func (r *Report) Find(courseID uint) (*CourseAnalysis, bool) {
	for i := range r.Analyses {
		if r.Analyses[i].CourseID == courseID {
			return &r.Analyses[i], true
		}
	}
	return nil, false
}
