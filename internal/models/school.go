package models

import (
	"time"

	"github.com/stitts-dev/xc-results/internal/xctime"
)

type School struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:200;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Athletes []Athlete `gorm:"foreignKey:SchoolID" json:"athletes,omitempty"`
}

// TableName specifies the table name for GORM
func (School) TableName() string {
	return "schools"
}

// Athlete is identified by name, school and graduation year. Grade is never
// stored; see GradeOn.
type Athlete struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	FullName       string    `gorm:"size:200;not null;uniqueIndex:idx_athletes_identity" json:"full_name"`
	SchoolID       uint      `gorm:"not null;uniqueIndex:idx_athletes_identity" json:"school_id"`
	Gender         string    `gorm:"size:1" json:"gender"` // "M" or "F"
	GraduationYear int       `gorm:"uniqueIndex:idx_athletes_identity" json:"graduation_year"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	School *School `gorm:"foreignKey:SchoolID" json:"school,omitempty"`
}

// TableName specifies the table name for GORM
func (Athlete) TableName() string {
	return "athletes"
}

// GradeOn returns the athlete's grade on date, false when outside 9-12.
func (a Athlete) GradeOn(date time.Time) (int, bool) {
	return xctime.GradeLevel(a.GraduationYear, date)
}
