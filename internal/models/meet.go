package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/stitts-dev/xc-results/internal/xctime"
)

type Meet struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	AthleticNetID string    `gorm:"uniqueIndex;size:50;not null" json:"athletic_net_id"`
	Name          string    `gorm:"size:200;not null" json:"name"`
	MeetDate      time.Time `gorm:"index;not null" json:"meet_date"`
	SeasonYear    int       `gorm:"index" json:"season_year"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	Races []Race `gorm:"foreignKey:MeetID" json:"races,omitempty"`
}

// TableName specifies the table name for GORM
func (Meet) TableName() string {
	return "meets"
}

// BeforeSave derives the season from the meet date when it is missing.
func (m *Meet) BeforeSave(_ *gorm.DB) error {
	if m.SeasonYear == 0 && !m.MeetDate.IsZero() {
		m.SeasonYear = xctime.SeasonYear(m.MeetDate)
	}
	return nil
}

type Race struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	MeetID         uint      `gorm:"not null;uniqueIndex:idx_races_meet_name" json:"meet_id"`
	CourseID       *uint     `gorm:"index" json:"course_id"`
	Name           string    `gorm:"size:200;not null;uniqueIndex:idx_races_meet_name" json:"name"`
	Gender         string    `gorm:"size:1" json:"gender"`
	DistanceMeters int       `json:"distance_meters"`
	AthleticNetID  string    `gorm:"size:50;index" json:"athletic_net_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Meet   *Meet   `gorm:"foreignKey:MeetID" json:"meet,omitempty"`
	Course *Course `gorm:"foreignKey:CourseID" json:"course,omitempty"`
}

// TableName specifies the table name for GORM
func (Race) TableName() string {
	return "races"
}

// Result is one athlete's finish in a race. TimeCS of 0 means no valid time.
type Result struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AthleteID    uint      `gorm:"not null;uniqueIndex:idx_results_athlete_race" json:"athlete_id"`
	RaceID       uint      `gorm:"not null;uniqueIndex:idx_results_athlete_race;index" json:"race_id"`
	TimeCS       int       `gorm:"not null;default:0" json:"time_cs"`
	PlaceOverall *int      `json:"place_overall"`
	SeasonYear   int       `gorm:"index" json:"season_year"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Athlete *Athlete `gorm:"foreignKey:AthleteID" json:"athlete,omitempty"`
	Race    *Race    `gorm:"foreignKey:RaceID" json:"race,omitempty"`
}

// TableName specifies the table name for GORM
func (Result) TableName() string {
	return "results"
}

// HasValidTime reports whether the result carries a usable time.
func (r Result) HasValidTime() bool {
	return r.TimeCS > 0
}

// DisplayTime formats the stored time, DNF when missing.
func (r Result) DisplayTime() string {
	return xctime.FormatTime(r.TimeCS)
}
