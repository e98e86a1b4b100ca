package models

import (
	"strconv"
	"time"

	"gorm.io/datatypes"

	"github.com/stitts-dev/xc-results/internal/normalize"
)

// Venue is a park or campus that hosts one or more course layouts.
type Venue struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:200;not null" json:"name"`
	City      string    `gorm:"size:100" json:"city"`
	State     string    `gorm:"size:50" json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Courses []Course `gorm:"foreignKey:VenueID" json:"courses,omitempty"`
}

// TableName specifies the table name for GORM
func (Venue) TableName() string {
	return "venues"
}

// Course is one measured layout at a venue. DifficultyRating is 1.0 for a flat
// baseline course; only the calibration action changes it.
type Course struct {
	ID               uint    `gorm:"primaryKey" json:"id"`
	VenueID          uint    `gorm:"not null;uniqueIndex:idx_courses_venue_distance_layout" json:"venue_id"`
	Name             string  `gorm:"size:200" json:"name"`
	DistanceMeters   int     `gorm:"not null;uniqueIndex:idx_courses_venue_distance_layout" json:"distance_meters"`
	LayoutVersion    string  `gorm:"size:50;not null;default:'';uniqueIndex:idx_courses_venue_distance_layout" json:"layout_version"`
	DifficultyRating float64 `gorm:"not null;default:1" json:"difficulty_rating"`

	// AvgNormalizedMileCS is derived from the course's valid results and
	// refreshed whenever the rating changes.
	AvgNormalizedMileCS *float64  `json:"avg_normalized_mile_cs"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`

	Venue *Venue `gorm:"foreignKey:VenueID" json:"venue,omitempty"`
}

// TableName specifies the table name for GORM
func (Course) TableName() string {
	return "courses"
}

// Normalization returns the attributes the normalization formula uses.
func (c Course) Normalization() normalize.Course {
	return normalize.Course{
		DistanceMeters:   float64(c.DistanceMeters),
		DifficultyRating: c.DifficultyRating,
	}
}

// DisplayName falls back to "<venue> <distance>m" for unnamed layouts.
func (c Course) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.Venue != nil {
		return c.Venue.Name + " " + strconv.Itoa(c.DistanceMeters) + "m"
	}
	return strconv.Itoa(c.DistanceMeters) + "m"
}

// CourseRatingAdjustment is the audit trail of every difficulty change.
type CourseRatingAdjustment struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	CourseID          uint       `gorm:"index;not null" json:"course_id"`
	OldRating         float64    `gorm:"not null" json:"old_rating"`
	NewRating         float64    `gorm:"not null" json:"new_rating"`
	RecommendedRating *float64   `json:"recommended_rating"`
	Override          bool       `gorm:"default:false" json:"override"`
	Comment           string     `gorm:"type:text" json:"comment"`
	Warnings          StringList `gorm:"type:text" json:"warnings"`
	AppliedBy         string     `gorm:"size:200" json:"applied_by"`
	CreatedAt         time.Time  `json:"created_at"`

	// Snapshot is the anomaly analysis the change was based on.
	Snapshot datatypes.JSON `json:"snapshot"`

	Course *Course `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE;" json:"-"`
}

// TableName specifies the table name for GORM
func (CourseRatingAdjustment) TableName() string {
	return "course_rating_adjustments"
}
