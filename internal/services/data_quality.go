package services

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/stitts-dev/xc-results/internal/models"
	"github.com/stitts-dev/xc-results/internal/xctime"
)

// maxQualityRows bounds each list in the data-quality report.
const maxQualityRows = 200

// ImplausibleCourse is a course rated easier than the flat baseline.
type ImplausibleCourse struct {
	CourseID         uint    `json:"course_id"`
	CourseName       string  `json:"course_name"`
	DifficultyRating float64 `json:"difficulty_rating"`
}

// InvalidTimeResult is a stored result with no usable time.
type InvalidTimeResult struct {
	ResultID    uint   `json:"result_id"`
	RaceID      uint   `json:"race_id"`
	AthleteID   uint   `json:"athlete_id"`
	AthleteName string `json:"athlete_name"`
	MeetName    string `json:"meet_name"`
}

// GradeIssue is an athlete whose derived grade falls outside 9-12 for a race
// they ran.
type GradeIssue struct {
	ResultID       uint      `json:"result_id"`
	AthleteID      uint      `json:"athlete_id"`
	AthleteName    string    `json:"athlete_name"`
	GraduationYear int       `json:"graduation_year"`
	MeetDate       time.Time `json:"meet_date"`
	DerivedGrade   int       `json:"derived_grade"`
}

// UnlinkedRace is a race with no course, so its results cannot be normalized.
type UnlinkedRace struct {
	RaceID   uint   `json:"race_id"`
	RaceName string `json:"race_name"`
	MeetName string `json:"meet_name"`
}

// DataQualityReport lists records that need operator attention.
type DataQualityReport struct {
	ImplausibleCourses []ImplausibleCourse `json:"implausible_courses"`
	InvalidTimes       []InvalidTimeResult `json:"invalid_time_results"`
	InvalidTimeTotal   int64               `json:"invalid_time_total"`
	GradeIssues        []GradeIssue        `json:"grade_issues"`
	GradeIssueTotal    int64               `json:"grade_issue_total"`
	UnlinkedRaces      []UnlinkedRace      `json:"races_without_course"`
}

type DataQualityService struct {
	db *gorm.DB
}

func NewDataQualityService(db *gorm.DB) *DataQualityService {
	return &DataQualityService{db: db}
}

func (s *DataQualityService) Report(ctx context.Context) (*DataQualityReport, error) {
	db := s.db.WithContext(ctx)
	report := &DataQualityReport{
		ImplausibleCourses: []ImplausibleCourse{},
		InvalidTimes:       []InvalidTimeResult{},
		GradeIssues:        []GradeIssue{},
		UnlinkedRaces:      []UnlinkedRace{},
	}

	var courses []models.Course
	if err := db.Preload("Venue").Where("difficulty_rating < ?", 1.0).Order("difficulty_rating").Find(&courses).Error; err != nil {
		return nil, fmt.Errorf("failed to load implausible courses: %w", err)
	}
	for _, c := range courses {
		report.ImplausibleCourses = append(report.ImplausibleCourses, ImplausibleCourse{
			CourseID:         c.ID,
			CourseName:       c.DisplayName(),
			DifficultyRating: c.DifficultyRating,
		})
	}

	invalid := db.Table("results").
		Joins("JOIN athletes ON athletes.id = results.athlete_id").
		Joins("JOIN races ON races.id = results.race_id").
		Joins("JOIN meets ON meets.id = races.meet_id").
		Where("results.time_cs <= 0")
	if err := invalid.Session(&gorm.Session{}).Count(&report.InvalidTimeTotal).Error; err != nil {
		return nil, fmt.Errorf("failed to count invalid results: %w", err)
	}
	err := invalid.
		Select("results.id AS result_id, results.race_id, results.athlete_id, athletes.full_name AS athlete_name, meets.name AS meet_name").
		Order("results.id").Limit(maxQualityRows).
		Scan(&report.InvalidTimes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load invalid results: %w", err)
	}

	// derived grade is MaxGrade - (graduation_year - season_year)
	gradeSpan := xctime.MaxGrade - xctime.MinGrade
	grades := db.Table("results").
		Joins("JOIN athletes ON athletes.id = results.athlete_id").
		Joins("JOIN races ON races.id = results.race_id").
		Joins("JOIN meets ON meets.id = races.meet_id").
		Where("(athletes.graduation_year <= 0 OR meets.season_year <= 0 OR athletes.graduation_year - meets.season_year NOT BETWEEN 0 AND ?)", gradeSpan)
	if err := grades.Session(&gorm.Session{}).Count(&report.GradeIssueTotal).Error; err != nil {
		return nil, fmt.Errorf("failed to count grade issues: %w", err)
	}
	err = grades.
		Select(`results.id AS result_id, athletes.id AS athlete_id, athletes.full_name AS athlete_name,
			athletes.graduation_year, meets.meet_date,
			CASE WHEN athletes.graduation_year <= 0 OR meets.season_year <= 0 THEN 0
				ELSE ? - (athletes.graduation_year - meets.season_year) END AS derived_grade`, xctime.MaxGrade).
		Order("results.id").Limit(maxQualityRows).
		Scan(&report.GradeIssues).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load grade issues: %w", err)
	}

	err = db.Table("races").
		Select("races.id AS race_id, races.name AS race_name, meets.name AS meet_name").
		Joins("JOIN meets ON meets.id = races.meet_id").
		Where("races.course_id IS NULL").
		Order("races.id").Limit(maxQualityRows).
		Scan(&report.UnlinkedRaces).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load races without course: %w", err)
	}
	return report, nil
}
