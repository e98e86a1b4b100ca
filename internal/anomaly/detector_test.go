package anomaly

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/xc-results/internal/normalize"
)

var meetDay = time.Date(2025, time.September, 20, 0, 0, 0, 0, time.UTC)

func flatCourses(ids ...uint) []Course {
	courses := make([]Course, len(ids))
	for i, id := range ids {
		courses[i] = Course{ID: id, Name: "Course", DistanceMeters: 5000, DifficultyRating: 1.0}
	}
	return courses
}

// raceAll has every athlete race every course once. trueDifficulty scales the
// athlete's base pace on that course.
func raceAll(athletes int, trueDifficulty map[uint]float64) []Sample {
	var samples []Sample
	for i := 0; i < athletes; i++ {
		basePace := 30000 + 200*float64(i)
		for courseID, d := range trueDifficulty {
			raw := basePace * d * 5000 / normalize.MileMeters
			samples = append(samples, Sample{
				AthleteID: uint(i + 1),
				CourseID:  courseID,
				RaceDate:  meetDay,
				TimeCS:    int(math.Round(raw)),
			})
		}
	}
	return samples
}

func TestDetectFlagsUnderratedCourse(t *testing.T) {
	courses := flatCourses(1, 2, 3)
	samples := raceAll(12, map[uint]float64{1: 1.0, 2: 1.0, 3: 1.10})

	report, err := Detect(courses, samples, Options{})
	require.NoError(t, err)

	require.Len(t, report.Analyses, 3)
	top := report.Analyses[0]
	assert.Equal(t, uint(3), top.CourseID)
	assert.Equal(t, LevelCritical, top.Level)
	assert.InDelta(t, 1.10, top.MedianRatio, 1e-3)
	assert.InDelta(t, 1.10, top.ImpliedRating, 1e-3)
	assert.InDelta(t, 1.05, top.RecommendedRating, 1e-3)
	assert.InDelta(t, 10.0, top.DeviationPct, 0.1)
	assert.Equal(t, 12, top.SharedAthletes)
	assert.False(t, top.Implausible)
	assert.NotEmpty(t, top.Rationale)

	for _, a := range report.Analyses[1:] {
		assert.Less(t, a.Level.Rank(), top.Level.Rank())
	}

	assert.Equal(t, 3, report.Summary.CoursesAnalyzed)
	assert.Equal(t, 0, report.Summary.CoursesSkipped)
	assert.Equal(t, 12, report.Summary.EliteAthletes)
	assert.Equal(t, 1, report.Summary.ByLevel[LevelCritical])
}

func TestDetectRecommendationAndConfidenceBounds(t *testing.T) {
	courses := flatCourses(1, 2, 3, 4)
	courses[3].DistanceMeters = 6400
	samples := raceAll(8, map[uint]float64{1: 1.0, 2: 1.04, 3: 0.93, 4: 1.0})

	report, err := Detect(courses, samples, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, report.Analyses)

	for _, a := range report.Analyses {
		assert.GreaterOrEqual(t, a.Confidence, 0.0)
		assert.LessOrEqual(t, a.Confidence, 1.0)

		if a.ImpliedRating == a.CurrentRating {
			continue
		}
		lo := math.Min(a.CurrentRating, a.ImpliedRating)
		hi := math.Max(a.CurrentRating, a.ImpliedRating)
		assert.Greater(t, a.RecommendedRating, lo)
		assert.Less(t, a.RecommendedRating, hi)
	}
}

func TestDetectAdjustsForInSeasonImprovement(t *testing.T) {
	courses := flatCourses(1, 2)
	var samples []Sample
	for i := 0; i < 6; i++ {
		pace := 32000 + 250*float64(i)
		later := pace - 4*150 // four weeks at 1.5 s/mile/week
		samples = append(samples,
			Sample{AthleteID: uint(i + 1), CourseID: 1, RaceDate: meetDay, TimeCS: int(math.Round(pace * 5000 / normalize.MileMeters))},
			Sample{AthleteID: uint(i + 1), CourseID: 2, RaceDate: meetDay.Add(4 * week), TimeCS: int(math.Round(later * 5000 / normalize.MileMeters))},
		)
	}

	report, err := Detect(courses, samples, Options{})
	require.NoError(t, err)
	require.Len(t, report.Analyses, 2)

	for _, a := range report.Analyses {
		assert.InDelta(t, 0, a.DeviationPct, 0.01, "course %d", a.CourseID)
		assert.Equal(t, LevelLow, a.Level)
	}
}

func TestDetectIgnoresOffSeasonGap(t *testing.T) {
	courses := flatCourses(1, 2, 3)
	lastSeason := time.Date(2024, time.September, 14, 0, 0, 0, 0, time.UTC)
	thisSeason := time.Date(2025, time.September, 13, 0, 0, 0, 0, time.UTC)

	var samples []Sample
	for i := 0; i < 10; i++ {
		pace := 31000 + 200*float64(i)
		timeCS := int(math.Round(pace * 5000 / normalize.MileMeters))
		athleteID := uint(i + 1)
		samples = append(samples,
			Sample{AthleteID: athleteID, CourseID: 1, RaceDate: lastSeason, TimeCS: timeCS},
			Sample{AthleteID: athleteID, CourseID: 2, RaceDate: thisSeason, TimeCS: timeCS},
			Sample{AthleteID: athleteID, CourseID: 3, RaceDate: thisSeason, TimeCS: timeCS},
		)
	}

	report, err := Detect(courses, samples, Options{})
	require.NoError(t, err)
	require.Len(t, report.Analyses, 3)

	for _, a := range report.Analyses {
		assert.Equal(t, LevelLow, a.Level, "course %d", a.CourseID)
		assert.InDelta(t, 0, a.DeviationPct, 0.01, "course %d", a.CourseID)
		assert.InDelta(t, 1.0, a.ImpliedRating, 1e-3, "course %d", a.CourseID)
	}
}

func TestDetectImprovementCanBeDisabled(t *testing.T) {
	courses := flatCourses(1, 2)
	var samples []Sample
	for i := 0; i < 6; i++ {
		timeCS := int(math.Round((32000 + 250*float64(i)) * 5000 / normalize.MileMeters))
		samples = append(samples,
			Sample{AthleteID: uint(i + 1), CourseID: 1, RaceDate: meetDay, TimeCS: timeCS},
			Sample{AthleteID: uint(i + 1), CourseID: 2, RaceDate: meetDay.Add(4 * week), TimeCS: timeCS},
		)
	}

	none := 0.0
	report, err := Detect(courses, samples, Options{ImprovementSecPerMileWeek: &none})
	require.NoError(t, err)
	assert.Equal(t, 0.0, report.Options.Improvement())
	for _, a := range report.Analyses {
		assert.InDelta(t, 0, a.DeviationPct, 0.01, "course %d", a.CourseID)
	}

	defaults, err := Detect(courses, samples, Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultImprovementSecPerMileWeek, defaults.Options.Improvement())
	later, ok := defaults.Find(2)
	require.True(t, ok)
	assert.Positive(t, later.DeviationPct)
}

func TestDetectExcludesOutliers(t *testing.T) {
	courses := flatCourses(1, 2, 3)
	samples := raceAll(12, map[uint]float64{1: 1.0, 2: 1.0, 3: 1.10})
	for i := range samples {
		if samples[i].AthleteID == 1 && samples[i].CourseID == 3 {
			samples[i].TimeCS = int(float64(samples[i].TimeCS) * 1.5 / 1.1)
		}
	}

	report, err := Detect(courses, samples, Options{})
	require.NoError(t, err)

	analysis, ok := report.Find(3)
	require.True(t, ok)
	assert.Equal(t, 1, analysis.SlowOutliers)
	assert.InDelta(t, 1.10, analysis.MedianRatio, 1e-3)
	assert.GreaterOrEqual(t, report.Summary.Outliers, 1)

	var flagged []uint
	for _, p := range analysis.Pairs {
		if p.Outlier != "" {
			flagged = append(flagged, p.AthleteID)
		}
	}
	assert.Equal(t, []uint{1}, flagged)
}

func TestDetectFlagsImplausibleImpliedRating(t *testing.T) {
	courses := flatCourses(1, 2, 3)
	samples := raceAll(10, map[uint]float64{1: 1.0, 2: 1.0, 3: 0.90})

	report, err := Detect(courses, samples, Options{})
	require.NoError(t, err)

	analysis, ok := report.Find(3)
	require.True(t, ok)
	assert.True(t, analysis.Implausible)
	assert.Less(t, analysis.ImpliedRating, 1.0)
	assert.Negative(t, analysis.DeviationPct)
}

func TestDetectSkipsThinCourses(t *testing.T) {
	courses := flatCourses(1, 2, 3)
	samples := raceAll(4, map[uint]float64{1: 1.0, 2: 1.0, 3: 1.0})

	report, err := Detect(courses, samples, Options{})
	require.NoError(t, err)

	assert.Empty(t, report.Analyses)
	require.Len(t, report.Skipped, 3)
	assert.Equal(t, 4, report.Skipped[0].SharedAthletes)
	assert.Contains(t, report.Skipped[0].Reason, "insufficient sample")
	assert.Equal(t, 3, report.Summary.CoursesSkipped)
}

func TestDetectSkipsInvalidCourse(t *testing.T) {
	courses := flatCourses(1, 2, 3)
	courses[2].DifficultyRating = 0
	samples := raceAll(6, map[uint]float64{1: 1.0, 2: 1.0, 3: 1.0})

	report, err := Detect(courses, samples, Options{})
	require.NoError(t, err)

	require.Len(t, report.Skipped, 1)
	assert.Equal(t, uint(3), report.Skipped[0].CourseID)
	assert.Contains(t, report.Skipped[0].Reason, "difficulty rating")
	assert.Len(t, report.Analyses, 2)
}

func TestDetectRejectsBadOptions(t *testing.T) {
	_, err := Detect(flatCourses(1), nil, Options{OutlierThreshold: -1})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = Detect(flatCourses(1), nil, Options{MinSharedAthletes: 1})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	negative := -0.5
	_, err = Detect(flatCourses(1), nil, Options{ImprovementSecPerMileWeek: &negative})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = Detect(nil, nil, Options{})
	assert.ErrorIs(t, err, ErrNoCourses)
}

func TestLevelDowngrade(t *testing.T) {
	assert.Equal(t, LevelHigh, LevelCritical.downgrade())
	assert.Equal(t, LevelMedium, LevelHigh.downgrade())
	assert.Equal(t, LevelLow, LevelMedium.downgrade())
	assert.Equal(t, LevelLow, LevelLow.downgrade())
}

func TestMedianAndSpread(t *testing.T) {
	assert.Equal(t, 0.0, median(nil))
	assert.Equal(t, 2.0, median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 3, 2}))

	mean, std := meanStd([]float64{7})
	assert.Equal(t, 7.0, mean)
	assert.Zero(t, std)

	mean, std = meanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, mean, 1e-9)
	assert.InDelta(t, 2.138, std, 1e-3)
}
