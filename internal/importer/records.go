package importer

import (
	"strings"
	"time"
)

// Row carries the source line of a decoded record for skip reporting.
type Row struct {
	Line int `json:"line"`
}

func (r *Row) setLine(n int) { r.Line = n }

// LineNumber returns the 1-based CSV line the record came from.
func (r Row) LineNumber() int { return r.Line }

type VenueRecord struct {
	Row
	Name  string `csv:"name" validate:"required,max=200"`
	City  string `csv:"city" validate:"max=100"`
	State string `csv:"state" validate:"max=50"`
}

type CourseRecord struct {
	Row
	VenueName      string `csv:"venue_name" validate:"required,max=200"`
	DistanceMeters int    `csv:"distance_meters" validate:"required,gt=0,lte=20000"`
	LayoutVersion  string `csv:"layout_version" validate:"max=50"`
}

type SchoolRecord struct {
	Row
	Name string `csv:"name" validate:"required,max=200"`
}

type MeetRecord struct {
	Row
	AthleticNetID string    `csv:"athletic_net_id" validate:"required,max=50"`
	Name          string    `csv:"name" validate:"required,max=200"`
	MeetDate      time.Time `csv:"meet_date" validate:"required"`
	SeasonYear    int       `csv:"season_year" validate:"omitempty,gte=1900,lte=2200"`
}

type RaceRecord struct {
	Row
	MeetAthleticNetID string `csv:"meet_athletic_net_id" validate:"required,max=50"`
	Name              string `csv:"name" validate:"required,max=200"`
	Gender            string `csv:"gender" validate:"omitempty,oneof=M F"`
	DistanceMeters    int    `csv:"distance_meters" validate:"required,gt=0,lte=20000"`
	VenueName         string `csv:"venue_name" validate:"max=200"`
	AthleticNetID     string `csv:"athletic_net_id" validate:"max=50"`
}

type AthleteRecord struct {
	Row
	FullName       string `csv:"full_name" validate:"required,max=200"`
	SchoolName     string `csv:"school_name" validate:"required,max=200"`
	Gender         string `csv:"gender" validate:"omitempty,oneof=M F"`
	GraduationYear int    `csv:"graduation_year" validate:"omitempty,gte=1950,lte=2200"`
}

// ResultRecord keeps the raw time text; "time_cs" may hold centiseconds or a
// display time such as 19:32.40.
type ResultRecord struct {
	Row
	MeetAthleticNetID string `csv:"meet_athletic_net_id" validate:"required,max=50"`
	RaceName          string `csv:"race_name" validate:"required,max=200"`
	AthleteFullName   string `csv:"athlete_full_name" validate:"required,max=200"`
	SchoolName        string `csv:"school_name" validate:"required,max=200"`
	GraduationYear    int    `csv:"graduation_year" validate:"omitempty,gte=1950,lte=2200"`
	Time              string `csv:"time_cs" validate:"max=20"`
	PlaceOverall      *int   `csv:"place_overall" validate:"omitempty,gt=0"`
	SeasonYear        int    `csv:"season_year" validate:"omitempty,gte=1900,lte=2200"`
}

func (r *RaceRecord) normalize() { r.Gender = NormalizeGender(r.Gender) }

func (r *AthleteRecord) normalize() { r.Gender = NormalizeGender(r.Gender) }

// NormalizeGender maps the spellings seen in meet files onto "M" and "F".
// Unknown values are returned upper-cased so validation rejects them.
func NormalizeGender(g string) string {
	switch strings.ToUpper(strings.TrimSpace(g)) {
	case "":
		return ""
	case "M", "MALE", "BOYS", "BOY", "MEN":
		return "M"
	case "F", "W", "FEMALE", "GIRLS", "GIRL", "WOMEN":
		return "F"
	default:
		return strings.ToUpper(strings.TrimSpace(g))
	}
}

// Bundle is one complete import: every entity file decoded and validated.
type Bundle struct {
	Venues   []VenueRecord   `json:"venues"`
	Courses  []CourseRecord  `json:"courses"`
	Schools  []SchoolRecord  `json:"schools"`
	Meets    []MeetRecord    `json:"meets"`
	Races    []RaceRecord    `json:"races"`
	Athletes []AthleteRecord `json:"athletes"`
	Results  []ResultRecord  `json:"results"`

	// Rejected holds rows that failed decoding or validation.
	Rejected []RowError `json:"rejected,omitempty"`
}
