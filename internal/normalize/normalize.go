// Package normalize converts raw race times into course-independent values.
//
// There is exactly one normalization formula in the service, the
// pace-equivalent model:
//
//	normalized_mile_cs = (raw_cs * MileMeters / distance_m) / difficulty_rating
//
// A difficulty rating of 1.0 describes a flat reference course; harder courses
// carry larger ratings and therefore shrink the normalized value.
package normalize

import (
	"errors"
	"fmt"
	"math"
)

// MileMeters is the length of a statute mile.
const MileMeters = 1609.344

var (
	ErrInvalidDistance = errors.New("course distance must be positive")
	ErrInvalidRating   = errors.New("difficulty rating must be positive")
	ErrInvalidTime     = errors.New("raw time must be positive")
)

// Course is the subset of course attributes normalization depends on.
type Course struct {
	DistanceMeters   float64
	DifficultyRating float64
}

// Validate reports data-integrity violations that make a course unusable.
func (c Course) Validate() error {
	if !finite(c.DistanceMeters) || c.DistanceMeters <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidDistance, c.DistanceMeters)
	}
	if !finite(c.DifficultyRating) || c.DifficultyRating <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidRating, c.DifficultyRating)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// MilePace returns the normalized per-mile time in centiseconds.
func MilePace(rawCS int, course Course) (float64, error) {
	if rawCS <= 0 {
		return 0, ErrInvalidTime
	}
	if err := course.Validate(); err != nil {
		return 0, err
	}
	return (float64(rawCS) * MileMeters / course.DistanceMeters) / course.DifficultyRating, nil
}

// Equivalent converts a raw time on course into the time it would equate to
// on the reference course.
func Equivalent(rawCS int, course, reference Course) (float64, error) {
	if err := reference.Validate(); err != nil {
		return 0, fmt.Errorf("reference course: %w", err)
	}
	pace, err := MilePace(rawCS, course)
	if err != nil {
		return 0, err
	}
	return pace * reference.DistanceMeters / MileMeters * reference.DifficultyRating, nil
}

// RawFromMilePace inverts MilePace: the raw time that would normalize to pace.
func RawFromMilePace(paceCS float64, course Course) (float64, error) {
	if err := course.Validate(); err != nil {
		return 0, err
	}
	return paceCS * course.DifficultyRating * course.DistanceMeters / MileMeters, nil
}

// Implausible reports ratings that claim a course is easier than flat ground.
// Such values are surfaced as warnings, never corrected automatically.
func Implausible(rating float64) bool {
	return rating > 0 && rating < 1.0
}
