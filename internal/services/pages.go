package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/stitts-dev/xc-results/internal/models"
	"github.com/stitts-dev/xc-results/internal/normalize"
	"github.com/stitts-dev/xc-results/internal/scoring"
	"github.com/stitts-dev/xc-results/internal/xctime"
	"github.com/stitts-dev/xc-results/pkg/utils"
)

const (
	DefaultPerPage          = 25
	MaxPerPage              = 100
	DefaultPerformanceLimit = 50
	MaxPerformanceLimit     = 500
)

var (
	ErrNotFound      = fmt.Errorf("record %w", utils.ErrNotFound)
	ErrInvalidFilter = fmt.Errorf("%w: filter", utils.ErrInvalidInput)
)

// ListParams controls pagination and name search on list pages.
type ListParams struct {
	Page    int
	PerPage int
	Search  string
}

// Normalized clamps paging to valid bounds.
func (p ListParams) Normalized() ListParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	p.Search = strings.TrimSpace(p.Search)
	return p
}

func (p ListParams) offset() int {
	return (p.Page - 1) * p.PerPage
}

// PerformanceFilter narrows a course's performance list.
type PerformanceFilter struct {
	Grade  int
	Gender string
	Limit  int
}

// Performance is one result on a course with its normalized times.
type Performance struct {
	ResultID         uint      `json:"result_id"`
	AthleteID        uint      `json:"athlete_id"`
	AthleteName      string    `json:"athlete_name"`
	SchoolName       string    `json:"school_name"`
	Gender           string    `json:"gender"`
	Grade            *int      `json:"grade"`
	MeetName         string    `json:"meet_name"`
	MeetDate         time.Time `json:"meet_date"`
	TimeCS           int       `json:"time_cs"`
	Time             string    `json:"time"`
	NormalizedMileCS float64   `json:"normalized_mile_cs"`
	NormalizedMile   string    `json:"normalized_mile"`

	ReferenceEquivalentCS *float64 `json:"reference_equivalent_cs,omitempty"`
	ReferenceEquivalent   string   `json:"reference_equivalent,omitempty"`
}

// CourseDetail is a course with its rating history.
type CourseDetail struct {
	models.Course
	Adjustments []models.CourseRatingAdjustment `json:"adjustments"`
	Implausible bool                            `json:"implausible_rating"`
}

// RaceResult is one row of a race's result table.
type RaceResult struct {
	models.Result
	Time       string `json:"time"`
	SchoolName string `json:"school_name"`
	Grade      *int   `json:"grade"`
}

// RaceDetail is a race with its ordered results.
type RaceDetail struct {
	models.Race
	Results []RaceResult `json:"results"`
}

// TeamView is a team score labelled with the school name.
type TeamView struct {
	scoring.TeamScore
	SchoolName string `json:"school_name"`
}

// RaceTeamScores is the team-scoring view of a race.
type RaceTeamScores struct {
	RaceID     uint       `json:"race_id"`
	Teams      []TeamView `json:"teams"`
	Incomplete []TeamView `json:"incomplete"`
}

// AthleteResult is one row of an athlete's result history.
type AthleteResult struct {
	ResultID         uint      `json:"result_id"`
	RaceID           uint      `json:"race_id"`
	RaceName         string    `json:"race_name"`
	MeetName         string    `json:"meet_name"`
	MeetDate         time.Time `json:"meet_date"`
	CourseID         *uint     `json:"course_id"`
	CourseName       string    `json:"course_name,omitempty"`
	Grade            *int      `json:"grade"`
	TimeCS           int       `json:"time_cs"`
	Time             string    `json:"time"`
	PlaceOverall     *int      `json:"place_overall"`
	NormalizedMileCS *float64  `json:"normalized_mile_cs,omitempty"`
}

// AthleteDetail is an athlete with their results, newest first.
type AthleteDetail struct {
	models.Athlete
	Results []AthleteResult `json:"results"`
}

// PageService serves the read-only public pages.
type PageService struct {
	db                *gorm.DB
	cache             *CacheService
	ttl               time.Duration
	referenceCourseID uint
}

func NewPageService(db *gorm.DB, cache *CacheService, ttl time.Duration, referenceCourseID uint) *PageService {
	return &PageService{db: db, cache: cache, ttl: ttl, referenceCourseID: referenceCourseID}
}

func searchScope(column, search string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if search == "" {
			return db
		}
		return db.Where("LOWER("+column+") LIKE ?", "%"+strings.ToLower(search)+"%")
	}
}

func (s *PageService) ListSchools(ctx context.Context, params ListParams) ([]models.School, int64, error) {
	params = params.Normalized()
	query := s.db.WithContext(ctx).Model(&models.School{}).Scopes(searchScope("name", params.Search))

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count schools: %w", err)
	}
	var schools []models.School
	if err := query.Order("name").Offset(params.offset()).Limit(params.PerPage).Find(&schools).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list schools: %w", err)
	}
	return schools, total, nil
}

func (s *PageService) GetSchool(ctx context.Context, id uint) (*models.School, error) {
	var school models.School
	err := s.db.WithContext(ctx).
		Preload("Athletes", func(db *gorm.DB) *gorm.DB {
			return db.Order("graduation_year, full_name")
		}).
		First(&school, id).Error
	if err != nil {
		return nil, notFound(err, "school")
	}
	return &school, nil
}

type courseList struct {
	Courses []models.Course `json:"courses"`
	Total   int64           `json:"total"`
}

func (s *PageService) ListCourses(ctx context.Context, params ListParams) ([]models.Course, int64, error) {
	params = params.Normalized()
	key := CourseListCacheKey(params.Page, params.PerPage, params.Search)
	var cached courseList
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached.Courses, cached.Total, nil
	}

	query := s.db.WithContext(ctx).Model(&models.Course{}).
		Joins("JOIN venues ON venues.id = courses.venue_id").
		Scopes(searchScope("venues.name", params.Search))

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count courses: %w", err)
	}
	var courses []models.Course
	err := query.Preload("Venue").
		Order("venues.name, courses.distance_meters, courses.layout_version").
		Offset(params.offset()).Limit(params.PerPage).
		Find(&courses).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list courses: %w", err)
	}

	_ = s.cache.Set(ctx, key, courseList{Courses: courses, Total: total}, s.ttl)
	return courses, total, nil
}

func (s *PageService) GetCourse(ctx context.Context, id uint) (*CourseDetail, error) {
	key := CourseCacheKey(id)
	var cached CourseDetail
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	var course models.Course
	if err := s.db.WithContext(ctx).Preload("Venue").First(&course, id).Error; err != nil {
		return nil, notFound(err, "course")
	}
	detail := &CourseDetail{Course: course, Implausible: normalize.Implausible(course.DifficultyRating)}
	err := s.db.WithContext(ctx).Where("course_id = ?", id).Order("created_at DESC, id DESC").Find(&detail.Adjustments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load adjustments: %w", err)
	}

	_ = s.cache.Set(ctx, key, detail, s.ttl)
	return detail, nil
}

type performanceRow struct {
	ResultID       uint
	AthleteID      uint
	FullName       string
	SchoolName     string
	Gender         string
	GraduationYear int
	MeetName       string
	MeetDate       time.Time
	TimeCS         int
}

// CoursePerformances lists the fastest valid results on a course. With a
// grade filter only athletes in that grade (9-12) are returned.
func (s *PageService) CoursePerformances(ctx context.Context, courseID uint, filter PerformanceFilter) ([]Performance, error) {
	if filter.Grade != 0 && (filter.Grade < xctime.MinGrade || filter.Grade > xctime.MaxGrade) {
		return nil, fmt.Errorf("%w: grade must be between %d and %d", ErrInvalidFilter, xctime.MinGrade, xctime.MaxGrade)
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultPerformanceLimit
	}
	if filter.Limit > MaxPerformanceLimit {
		filter.Limit = MaxPerformanceLimit
	}

	var course models.Course
	if err := s.db.WithContext(ctx).First(&course, courseID).Error; err != nil {
		return nil, notFound(err, "course")
	}
	reference, err := s.referenceCourse(ctx)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Table("results").
		Select("results.id AS result_id, athletes.id AS athlete_id, athletes.full_name, schools.name AS school_name, " +
			"athletes.gender, athletes.graduation_year, meets.name AS meet_name, meets.meet_date, results.time_cs").
		Joins("JOIN races ON races.id = results.race_id").
		Joins("JOIN meets ON meets.id = races.meet_id").
		Joins("JOIN athletes ON athletes.id = results.athlete_id").
		Joins("LEFT JOIN schools ON schools.id = athletes.school_id").
		Where("races.course_id = ? AND results.time_cs > 0", courseID).
		Order("results.time_cs, results.id")
	if filter.Gender != "" {
		query = query.Where("athletes.gender = ?", strings.ToUpper(filter.Gender))
	}
	// Grade depends on the meet date, so the grade filter and limit are
	// applied after loading.
	if filter.Grade == 0 {
		query = query.Limit(filter.Limit)
	}
	var rows []performanceRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load performances: %w", err)
	}

	out := make([]Performance, 0, len(rows))
	for _, r := range rows {
		grade, ok := xctime.GradeLevel(r.GraduationYear, r.MeetDate)
		if filter.Grade != 0 && (!ok || grade != filter.Grade) {
			continue
		}
		pace, err := normalize.MilePace(r.TimeCS, course.Normalization())
		if err != nil {
			return nil, fmt.Errorf("course %d: %w", course.ID, err)
		}
		p := Performance{
			ResultID:         r.ResultID,
			AthleteID:        r.AthleteID,
			AthleteName:      r.FullName,
			SchoolName:       r.SchoolName,
			Gender:           r.Gender,
			MeetName:         r.MeetName,
			MeetDate:         r.MeetDate,
			TimeCS:           r.TimeCS,
			Time:             xctime.FormatTime(r.TimeCS),
			NormalizedMileCS: pace,
			NormalizedMile:   xctime.FormatPace(pace),
		}
		if ok {
			g := grade
			p.Grade = &g
		}
		if reference != nil {
			if eq, err := normalize.Equivalent(r.TimeCS, course.Normalization(), reference.Normalization()); err == nil {
				p.ReferenceEquivalentCS = &eq
				p.ReferenceEquivalent = xctime.FormatPace(eq)
			}
		}
		out = append(out, p)
		if len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *PageService) referenceCourse(ctx context.Context) (*models.Course, error) {
	if s.referenceCourseID == 0 {
		return nil, nil
	}
	var ref models.Course
	err := s.db.WithContext(ctx).First(&ref, s.referenceCourseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reference course: %w", err)
	}
	return &ref, nil
}

func (s *PageService) ListMeets(ctx context.Context, params ListParams, seasonYear int) ([]models.Meet, int64, error) {
	params = params.Normalized()
	query := s.db.WithContext(ctx).Model(&models.Meet{}).Scopes(searchScope("name", params.Search))
	if seasonYear > 0 {
		query = query.Where("season_year = ?", seasonYear)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count meets: %w", err)
	}
	var meets []models.Meet
	if err := query.Order("meet_date DESC, name").Offset(params.offset()).Limit(params.PerPage).Find(&meets).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list meets: %w", err)
	}
	return meets, total, nil
}

func (s *PageService) GetMeet(ctx context.Context, id uint) (*models.Meet, error) {
	var meet models.Meet
	err := s.db.WithContext(ctx).
		Preload("Races", func(db *gorm.DB) *gorm.DB { return db.Order("name") }).
		Preload("Races.Course.Venue").
		First(&meet, id).Error
	if err != nil {
		return nil, notFound(err, "meet")
	}
	return &meet, nil
}

func (s *PageService) GetRace(ctx context.Context, id uint) (*RaceDetail, error) {
	var race models.Race
	if err := s.db.WithContext(ctx).Preload("Meet").Preload("Course.Venue").First(&race, id).Error; err != nil {
		return nil, notFound(err, "race")
	}

	var results []models.Result
	err := s.db.WithContext(ctx).Preload("Athlete.School").
		Where("race_id = ?", id).
		Order("CASE WHEN place_overall IS NULL THEN 1 ELSE 0 END, place_overall, id").
		Find(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load race results: %w", err)
	}

	detail := &RaceDetail{Race: race, Results: make([]RaceResult, 0, len(results))}
	for _, r := range results {
		row := RaceResult{Result: r, Time: r.DisplayTime()}
		if r.Athlete != nil {
			if r.Athlete.School != nil {
				row.SchoolName = r.Athlete.School.Name
			}
			if race.Meet != nil {
				if g, ok := r.Athlete.GradeOn(race.Meet.MeetDate); ok {
					row.Grade = &g
				}
			}
		}
		detail.Results = append(detail.Results, row)
	}
	return detail, nil
}

// TeamScores scores a race from its stored results.
func (s *PageService) TeamScores(ctx context.Context, raceID uint) (*RaceTeamScores, error) {
	var race models.Race
	if err := s.db.WithContext(ctx).First(&race, raceID).Error; err != nil {
		return nil, notFound(err, "race")
	}

	var results []models.Result
	if err := s.db.WithContext(ctx).Preload("Athlete").Where("race_id = ?", raceID).Find(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to load race results: %w", err)
	}
	finishers := make([]scoring.Finisher, 0, len(results))
	for _, r := range results {
		f := scoring.Finisher{ResultID: r.ID, AthleteID: r.AthleteID, TimeCS: r.TimeCS, Place: r.PlaceOverall}
		if r.Athlete != nil {
			f.SchoolID = r.Athlete.SchoolID
		}
		finishers = append(finishers, f)
	}
	score := scoring.ScoreRace(finishers)

	names, err := s.schoolNames(ctx, score)
	if err != nil {
		return nil, err
	}
	out := &RaceTeamScores{RaceID: raceID, Teams: []TeamView{}, Incomplete: []TeamView{}}
	for _, t := range score.Teams {
		out.Teams = append(out.Teams, TeamView{TeamScore: t, SchoolName: names[t.SchoolID]})
	}
	for _, t := range score.Incomplete {
		out.Incomplete = append(out.Incomplete, TeamView{TeamScore: t, SchoolName: names[t.SchoolID]})
	}
	return out, nil
}

func (s *PageService) schoolNames(ctx context.Context, score scoring.RaceScore) (map[uint]string, error) {
	var ids []uint
	for _, t := range append(append([]scoring.TeamScore{}, score.Teams...), score.Incomplete...) {
		ids = append(ids, t.SchoolID)
	}
	names := make(map[uint]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	var schools []models.School
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&schools).Error; err != nil {
		return nil, fmt.Errorf("failed to load schools: %w", err)
	}
	for _, sc := range schools {
		names[sc.ID] = sc.Name
	}
	return names, nil
}

func (s *PageService) GetAthlete(ctx context.Context, id uint) (*AthleteDetail, error) {
	var athlete models.Athlete
	if err := s.db.WithContext(ctx).Preload("School").First(&athlete, id).Error; err != nil {
		return nil, notFound(err, "athlete")
	}

	var results []models.Result
	err := s.db.WithContext(ctx).
		Preload("Race.Meet").
		Preload("Race.Course.Venue").
		Where("athlete_id = ?", id).
		Find(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load athlete results: %w", err)
	}

	detail := &AthleteDetail{Athlete: athlete, Results: make([]AthleteResult, 0, len(results))}
	for _, r := range results {
		row := AthleteResult{
			ResultID:     r.ID,
			RaceID:       r.RaceID,
			TimeCS:       r.TimeCS,
			Time:         r.DisplayTime(),
			PlaceOverall: r.PlaceOverall,
		}
		if race := r.Race; race != nil {
			row.RaceName = race.Name
			row.CourseID = race.CourseID
			if race.Meet != nil {
				row.MeetName = race.Meet.Name
				row.MeetDate = race.Meet.MeetDate
				if g, ok := athlete.GradeOn(race.Meet.MeetDate); ok {
					row.Grade = &g
				}
			}
			if race.Course != nil {
				row.CourseName = race.Course.DisplayName()
				if r.HasValidTime() {
					if pace, err := normalize.MilePace(r.TimeCS, race.Course.Normalization()); err == nil {
						row.NormalizedMileCS = &pace
					}
				}
			}
		}
		detail.Results = append(detail.Results, row)
	}
	sort.SliceStable(detail.Results, func(i, j int) bool {
		return detail.Results[i].MeetDate.After(detail.Results[j].MeetDate)
	})
	return detail, nil
}

func notFound(err error, entity string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, entity)
	}
	return fmt.Errorf("failed to load %s: %w", entity, err)
}
