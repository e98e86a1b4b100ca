package anomaly

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/stitts-dev/xc-results/internal/normalize"
	"github.com/stitts-dev/xc-results/internal/xctime"
)

const (
	week = 7 * 24 * time.Hour

	criticalPct = 8.0
	highPct     = 5.0
	mediumPct   = 2.5

	// ratio spread above which a verdict is downgraded one level
	noisyRatioStd = 0.05
	// ratio spread at which the variance component of confidence reaches 0
	maxRatioStd = 0.10

	weightSample   = 0.40
	weightVariance = 0.35
	weightPeers    = 0.25
	noPeerScore    = 0.5
)

type normalizedResult struct {
	courseID uint
	date     time.Time
	mileCS   float64
}

// Detect analyzes every course against the elite athletes who also ran
// elsewhere. Courses without enough shared athletes are reported as skipped.
func Detect(courses []Course, samples []Sample, opts Options) (*Report, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(courses) == 0 {
		return nil, ErrNoCourses
	}

	byID := make(map[uint]Course, len(courses))
	for _, c := range courses {
		byID[c.ID] = c
	}

	byAthlete := make(map[uint][]normalizedResult)
	for _, s := range samples {
		c, ok := byID[s.CourseID]
		if !ok {
			continue
		}
		pace, err := normalize.MilePace(s.TimeCS, normalize.Course{
			DistanceMeters:   c.DistanceMeters,
			DifficultyRating: c.DifficultyRating,
		})
		if err != nil {
			continue
		}
		byAthlete[s.AthleteID] = append(byAthlete[s.AthleteID], normalizedResult{
			courseID: s.CourseID,
			date:     s.RaceDate,
			mileCS:   pace,
		})
	}

	elite := eliteAthletes(byAthlete)

	report := &Report{
		Options: opts,
		Summary: Summary{
			EliteAthletes: len(elite),
			ByLevel:       map[Level]int{LevelLow: 0, LevelMedium: 0, LevelHigh: 0, LevelCritical: 0},
		},
	}

	improvementCS := opts.Improvement() * 100
	for _, c := range courses {
		if err := (normalize.Course{DistanceMeters: c.DistanceMeters, DifficultyRating: c.DifficultyRating}).Validate(); err != nil {
			report.Skipped = append(report.Skipped, SkippedCourse{
				CourseID:   c.ID,
				CourseName: c.Name,
				Reason:     err.Error(),
			})
			continue
		}

		pairs, shared := coursePairs(c.ID, elite, byAthlete, improvementCS)
		if shared < opts.MinSharedAthletes {
			report.Skipped = append(report.Skipped, SkippedCourse{
				CourseID:       c.ID,
				CourseName:     c.Name,
				SharedAthletes: shared,
				Reason:         fmt.Sprintf("insufficient sample: %d shared elite athletes, need %d", shared, opts.MinSharedAthletes),
			})
			continue
		}

		report.Analyses = append(report.Analyses, analyzeCourse(c, pairs, shared, opts))
	}

	applyConfidence(report.Analyses, opts)

	sort.SliceStable(report.Analyses, func(i, j int) bool {
		a, b := report.Analyses[i], report.Analyses[j]
		if a.Level.Rank() != b.Level.Rank() {
			return a.Level.Rank() > b.Level.Rank()
		}
		return math.Abs(a.DeviationPct) > math.Abs(b.DeviationPct)
	})

	report.Summary.CoursesAnalyzed = len(report.Analyses)
	report.Summary.CoursesSkipped = len(report.Skipped)
	for _, a := range report.Analyses {
		report.Summary.Outliers += a.FastOutliers + a.SlowOutliers
		report.Summary.ByLevel[a.Level]++
	}
	return report, nil
}

// eliteAthletes keeps athletes with valid results on at least two courses.
func eliteAthletes(byAthlete map[uint][]normalizedResult) []uint {
	var elite []uint
	for id, results := range byAthlete {
		courses := make(map[uint]struct{})
		for _, r := range results {
			courses[r.courseID] = struct{}{}
		}
		if len(courses) >= 2 {
			elite = append(elite, id)
		}
	}
	sort.Slice(elite, func(i, j int) bool { return elite[i] < elite[j] })
	return elite
}

// coursePairs pairs each elite result on courseID with a prediction built
// from the same athlete's results on other courses.
func coursePairs(courseID uint, elite []uint, byAthlete map[uint][]normalizedResult, improvementCS float64) ([]Pair, int) {
	var pairs []Pair
	shared := 0
	for _, athleteID := range elite {
		var here, elsewhere []normalizedResult
		for _, r := range byAthlete[athleteID] {
			if r.courseID == courseID {
				here = append(here, r)
			} else {
				elsewhere = append(elsewhere, r)
			}
		}
		if len(here) == 0 || len(elsewhere) == 0 {
			continue
		}
		shared++
		for _, h := range here {
			predicted := predict(h, elsewhere, improvementCS)
			if predicted <= 0 {
				continue
			}
			pairs = append(pairs, Pair{
				AthleteID:   athleteID,
				ActualCS:    h.mileCS,
				PredictedCS: predicted,
				DeviationCS: h.mileCS - predicted,
				Ratio:       h.mileCS / predicted,
			})
		}
	}
	return pairs, shared
}

// predict averages the athlete's other normalized times, each moved by the
// expected in-season improvement between that race and the target race.
// Results from a different season are taken as they are; the off-season is
// not counted as training weeks.
func predict(target normalizedResult, others []normalizedResult, improvementCS float64) float64 {
	var sum float64
	for _, o := range others {
		adjusted := o.mileCS
		if sameSeason(target.date, o.date) {
			weeks := target.date.Sub(o.date).Hours() / week.Hours()
			adjusted -= improvementCS * weeks
		}
		sum += adjusted
	}
	return sum / float64(len(others))
}

func sameSeason(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	return xctime.SeasonYear(a) == xctime.SeasonYear(b)
}

func analyzeCourse(c Course, pairs []Pair, shared int, opts Options) CourseAnalysis {
	deviations := make([]float64, len(pairs))
	for i, p := range pairs {
		deviations[i] = p.DeviationCS
	}
	meanDev, stdDev := meanStd(deviations)

	a := CourseAnalysis{
		CourseID:          c.ID,
		CourseName:        c.Name,
		DistanceMeters:    c.DistanceMeters,
		CurrentRating:     c.DifficultyRating,
		SharedAthletes:    shared,
		PairsCompared:     len(pairs),
		MeanDeviationCS:   meanDev,
		MedianDeviationCS: median(deviations),
		StdDeviationCS:    stdDev,
	}

	var inlierRatios []float64
	for i := range pairs {
		if stdDev > 0 && math.Abs(pairs[i].DeviationCS-meanDev)/stdDev > opts.OutlierThreshold {
			if pairs[i].DeviationCS < meanDev {
				pairs[i].Outlier = "fast"
				a.FastOutliers++
			} else {
				pairs[i].Outlier = "slow"
				a.SlowOutliers++
			}
			continue
		}
		inlierRatios = append(inlierRatios, pairs[i].Ratio)
	}
	a.Pairs = pairs
	if len(inlierRatios) == 0 {
		for _, p := range pairs {
			inlierRatios = append(inlierRatios, p.Ratio)
		}
	}

	a.MedianRatio = median(inlierRatios)
	_, a.RatioStdDev = meanStd(inlierRatios)
	a.ImpliedRating = c.DifficultyRating * a.MedianRatio
	a.RecommendedRating = c.DifficultyRating + HalfStep*(a.ImpliedRating-c.DifficultyRating)
	a.DeviationPct = (a.MedianRatio - 1) * 100
	a.Implausible = normalize.Implausible(a.ImpliedRating)

	a.Level = levelFor(a.DeviationPct)
	direction := "slower"
	if a.DeviationPct < 0 {
		direction = "faster"
	}
	a.Rationale = append(a.Rationale, fmt.Sprintf(
		"%d elite athletes ran %.1f%% %s than predicted (median ratio %.4f over %d pairs)",
		shared, math.Abs(a.DeviationPct), direction, a.MedianRatio, len(inlierRatios)))
	if a.FastOutliers+a.SlowOutliers > 0 {
		a.Rationale = append(a.Rationale, fmt.Sprintf(
			"excluded %d fast and %d slow outliers beyond %.1f standard deviations",
			a.FastOutliers, a.SlowOutliers, opts.OutlierThreshold))
	}
	if shared < 2*opts.MinSharedAthletes && a.Level != LevelLow {
		a.Level = a.Level.downgrade()
		a.Rationale = append(a.Rationale, fmt.Sprintf("downgraded: thin sample of %d athletes", shared))
	}
	if a.RatioStdDev > noisyRatioStd && a.Level != LevelLow {
		a.Level = a.Level.downgrade()
		a.Rationale = append(a.Rationale, fmt.Sprintf("downgraded: ratio spread %.3f exceeds %.2f", a.RatioStdDev, noisyRatioStd))
	}
	if a.Implausible {
		a.Rationale = append(a.Rationale, fmt.Sprintf("implied rating %.4f is below the flat-course baseline of 1.0", a.ImpliedRating))
	}
	return a
}

func levelFor(deviationPct float64) Level {
	d := math.Abs(deviationPct)
	switch {
	case d >= criticalPct:
		return LevelCritical
	case d >= highPct:
		return LevelHigh
	case d >= mediumPct:
		return LevelMedium
	default:
		return LevelLow
	}
}

// applyConfidence scores each analysis from sample adequacy, ratio spread and
// agreement with courses of similar distance. A peer agrees when its own
// deviation stays inside the normal band, meaning the prediction model holds
// at that distance.
func applyConfidence(analyses []CourseAnalysis, opts Options) {
	for i := range analyses {
		a := &analyses[i]
		sample := clamp01(float64(a.SharedAthletes) / float64(3*opts.MinSharedAthletes))
		variance := 1 - clamp01(a.RatioStdDev/maxRatioStd)

		peers, agreeing := 0, 0
		for j := range analyses {
			if i == j {
				continue
			}
			p := analyses[j]
			if math.Abs(p.DistanceMeters-a.DistanceMeters)/a.DistanceMeters > PeerDistanceTolerance {
				continue
			}
			peers++
			if math.Abs(p.DeviationPct) < mediumPct {
				agreeing++
			}
		}
		peerScore := noPeerScore
		if peers > 0 {
			peerScore = float64(agreeing) / float64(peers)
		}

		a.Confidence = clamp01(weightSample*sample + weightVariance*variance + weightPeers*peerScore)
	}
}
