// Package importer loads meet data into the database. Input arrives either as
// seven CSV files sharing a prefix or as a Bundle assembled by a provider; both
// paths go through the same validated, idempotent upsert pipeline.
package importer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stitts-dev/xc-results/internal/models"
	"github.com/stitts-dev/xc-results/internal/scoring"
	"github.com/stitts-dev/xc-results/internal/xctime"
	"github.com/stitts-dev/xc-results/pkg/logger"
)

const DefaultBatchSize = 500

// EntityCounts reports what happened to one entity's rows.
type EntityCounts struct {
	Read     int `json:"read"`
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Summary is the outcome of one import run.
type Summary struct {
	BatchID       string                   `json:"batch_id"`
	Source        string                   `json:"source"`
	Counts        map[string]*EntityCounts `json:"counts"`
	Skips         []RowError               `json:"skips"`
	RacesRescored int                      `json:"races_rescored"`
	Duration      time.Duration            `json:"duration_ns"`
}

func newSummary(source string) *Summary {
	s := &Summary{
		BatchID: uuid.NewString(),
		Source:  source,
		Counts:  make(map[string]*EntityCounts, len(Entities)),
	}
	for _, e := range Entities {
		s.Counts[e] = &EntityCounts{}
	}
	return s
}

// TotalSkipped sums skipped rows across entities.
func (s *Summary) TotalSkipped() int {
	total := 0
	for _, c := range s.Counts {
		total += c.Skipped
	}
	return total
}

// TotalImported sums imported rows across entities.
func (s *Summary) TotalImported() int {
	total := 0
	for _, c := range s.Counts {
		total += c.Imported
	}
	return total
}

type Importer struct {
	db        *gorm.DB
	batchSize int
}

func New(db *gorm.DB, batchSize int) *Importer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Importer{db: db, batchSize: batchSize}
}

// ImportFiles reads <dir>/<prefix>-*.csv and imports them. Nothing is written
// when a file or column is missing.
func (im *Importer) ImportFiles(ctx context.Context, dir, prefix string) (*Summary, error) {
	bundle, err := ReadBundle(dir, prefix)
	if err != nil {
		return nil, err
	}
	return im.Import(ctx, bundle, "csv:"+prefix)
}

// Import upserts a bundle in dependency order inside one transaction and
// recomputes overall places for every race it touched.
func (im *Importer) Import(ctx context.Context, bundle *Bundle, source string) (*Summary, error) {
	start := time.Now()
	summary := newSummary(source)
	log := logger.WithImportContext(summary.BatchID, source)

	for _, rej := range bundle.Rejected {
		summary.skip(log, rej.Entity, rej.Line, rej.Reason)
		summary.Counts[rej.Entity].Read++
	}
	summary.Counts[EntityVenues].Read += len(bundle.Venues)
	summary.Counts[EntityCourses].Read += len(bundle.Courses)
	summary.Counts[EntitySchools].Read += len(bundle.Schools)
	summary.Counts[EntityMeets].Read += len(bundle.Meets)
	summary.Counts[EntityRaces].Read += len(bundle.Races)
	summary.Counts[EntityAthletes].Read += len(bundle.Athletes)
	summary.Counts[EntityResults].Read += len(bundle.Results)

	err := im.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run := &importRun{tx: tx, batchSize: im.batchSize, summary: summary, log: log}
		steps := []func(*Bundle) error{
			run.venues,
			run.courses,
			run.schools,
			run.meets,
			run.races,
			run.athletes,
			run.results,
			run.rescore,
		}
		for _, step := range steps {
			if err := step(bundle); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Error("Import failed")
		return nil, fmt.Errorf("import %s: %w", summary.BatchID, err)
	}

	summary.Duration = time.Since(start)
	log.WithFields(logrus.Fields{
		"imported":       summary.TotalImported(),
		"skipped":        summary.TotalSkipped(),
		"races_rescored": summary.RacesRescored,
		"duration":       summary.Duration,
	}).Info("Import completed")
	return summary, nil
}

func (s *Summary) skip(log *logrus.Entry, entity string, line int, reason string) {
	if s.Counts[entity] == nil {
		s.Counts[entity] = &EntityCounts{}
	}
	s.Counts[entity].Skipped++
	s.Skips = append(s.Skips, RowError{Entity: entity, Line: line, Reason: reason})
	log.WithFields(logrus.Fields{
		"entity": entity,
		"line":   line,
		"reason": reason,
	}).Warn("Skipping import row")
}

type athleteKey struct {
	name     string
	schoolID uint
	gradYear int
}

type raceKey struct {
	meetID uint
	name   string
}

// importRun holds the id lookups built up as each entity lands.
type importRun struct {
	tx        *gorm.DB
	batchSize int
	summary   *Summary
	log       *logrus.Entry

	venueIDs   map[string]uint
	courseIDs  map[string]uint // venue id + distance -> newest course
	schoolIDs  map[string]uint
	meetsByID  map[string]models.Meet
	raceIDs    map[raceKey]uint
	athleteIDs map[athleteKey]uint
	touched    map[uint]struct{}
}

func (r *importRun) skip(entity string, line int, reason string) {
	r.summary.skip(r.log, entity, line, reason)
}

func key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func courseKey(venueID uint, distance int) string {
	return strconv.FormatUint(uint64(venueID), 10) + ":" + strconv.Itoa(distance)
}

func (r *importRun) venues(b *Bundle) error {
	seen := make(map[string]bool)
	var rows []models.Venue
	for _, rec := range b.Venues {
		k := key(rec.Name)
		if seen[k] {
			r.skip(EntityVenues, rec.Line, "duplicate venue "+rec.Name)
			continue
		}
		seen[k] = true
		rows = append(rows, models.Venue{Name: strings.TrimSpace(rec.Name), City: rec.City, State: rec.State})
	}
	if len(rows) > 0 {
		err := r.tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"city", "state", "updated_at"}),
		}).CreateInBatches(&rows, r.batchSize).Error
		if err != nil {
			return fmt.Errorf("failed to upsert venues: %w", err)
		}
	}
	r.summary.Counts[EntityVenues].Imported = len(rows)

	var all []models.Venue
	if err := r.tx.Select("id", "name").Find(&all).Error; err != nil {
		return fmt.Errorf("failed to load venues: %w", err)
	}
	r.venueIDs = make(map[string]uint, len(all))
	for _, v := range all {
		r.venueIDs[key(v.Name)] = v.ID
	}
	return nil
}

func (r *importRun) courses(b *Bundle) error {
	type layout struct {
		venueID  uint
		distance int
		version  string
	}
	seen := make(map[layout]bool)
	var rows []models.Course
	for _, rec := range b.Courses {
		venueID, ok := r.venueIDs[key(rec.VenueName)]
		if !ok {
			r.skip(EntityCourses, rec.Line, "unknown venue "+rec.VenueName)
			continue
		}
		l := layout{venueID, rec.DistanceMeters, strings.TrimSpace(rec.LayoutVersion)}
		if seen[l] {
			r.skip(EntityCourses, rec.Line, "duplicate course layout")
			continue
		}
		seen[l] = true
		rows = append(rows, models.Course{
			VenueID:          venueID,
			DistanceMeters:   rec.DistanceMeters,
			LayoutVersion:    l.version,
			DifficultyRating: 1.0,
		})
	}
	// Ratings belong to calibration; existing courses are left untouched.
	if len(rows) > 0 {
		res := r.tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "venue_id"}, {Name: "distance_meters"}, {Name: "layout_version"}},
			DoNothing: true,
		}).CreateInBatches(&rows, r.batchSize)
		if res.Error != nil {
			return fmt.Errorf("failed to upsert courses: %w", res.Error)
		}
		// Rows that already existed are left alone and not counted.
		r.summary.Counts[EntityCourses].Imported = int(res.RowsAffected)
	}

	var all []models.Course
	if err := r.tx.Select("id", "venue_id", "distance_meters").Order("id").Find(&all).Error; err != nil {
		return fmt.Errorf("failed to load courses: %w", err)
	}
	// Ordered by id, so the newest layout for a venue and distance wins.
	r.courseIDs = make(map[string]uint, len(all))
	for _, c := range all {
		r.courseIDs[courseKey(c.VenueID, c.DistanceMeters)] = c.ID
	}
	return nil
}

func (r *importRun) schools(b *Bundle) error {
	seen := make(map[string]bool)
	var rows []models.School
	for _, rec := range b.Schools {
		k := key(rec.Name)
		if seen[k] {
			r.skip(EntitySchools, rec.Line, "duplicate school "+rec.Name)
			continue
		}
		seen[k] = true
		rows = append(rows, models.School{Name: strings.TrimSpace(rec.Name)})
	}
	if len(rows) > 0 {
		res := r.tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).CreateInBatches(&rows, r.batchSize)
		if res.Error != nil {
			return fmt.Errorf("failed to upsert schools: %w", res.Error)
		}
		// Rows that already existed are left alone and not counted.
		r.summary.Counts[EntitySchools].Imported = int(res.RowsAffected)
	}

	var all []models.School
	if err := r.tx.Select("id", "name").Find(&all).Error; err != nil {
		return fmt.Errorf("failed to load schools: %w", err)
	}
	r.schoolIDs = make(map[string]uint, len(all))
	for _, s := range all {
		r.schoolIDs[key(s.Name)] = s.ID
	}
	return nil
}

func (r *importRun) meets(b *Bundle) error {
	seen := make(map[string]bool)
	var rows []models.Meet
	var ids []string
	for _, rec := range b.Meets {
		id := strings.TrimSpace(rec.AthleticNetID)
		if seen[id] {
			r.skip(EntityMeets, rec.Line, "duplicate meet "+id)
			continue
		}
		seen[id] = true
		season := rec.SeasonYear
		if season == 0 {
			season = xctime.SeasonYear(rec.MeetDate)
		}
		rows = append(rows, models.Meet{
			AthleticNetID: id,
			Name:          strings.TrimSpace(rec.Name),
			MeetDate:      rec.MeetDate,
			SeasonYear:    season,
		})
		ids = append(ids, id)
	}
	if len(rows) > 0 {
		err := r.tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "athletic_net_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "meet_date", "season_year", "updated_at"}),
		}).CreateInBatches(&rows, r.batchSize).Error
		if err != nil {
			return fmt.Errorf("failed to upsert meets: %w", err)
		}
	}
	r.summary.Counts[EntityMeets].Imported = len(rows)

	// Results may reference meets imported earlier, so look up every id named
	// by this bundle's races and results too.
	for _, rec := range b.Races {
		ids = append(ids, strings.TrimSpace(rec.MeetAthleticNetID))
	}
	for _, rec := range b.Results {
		ids = append(ids, strings.TrimSpace(rec.MeetAthleticNetID))
	}
	r.meetsByID = make(map[string]models.Meet)
	for _, chunk := range chunkStrings(dedupe(ids), r.batchSize) {
		var found []models.Meet
		if err := r.tx.Where("athletic_net_id IN ?", chunk).Find(&found).Error; err != nil {
			return fmt.Errorf("failed to load meets: %w", err)
		}
		for _, m := range found {
			r.meetsByID[m.AthleticNetID] = m
		}
	}
	return nil
}

func (r *importRun) races(b *Bundle) error {
	seen := make(map[raceKey]bool)
	var rows []models.Race
	for _, rec := range b.Races {
		meet, ok := r.meetsByID[strings.TrimSpace(rec.MeetAthleticNetID)]
		if !ok {
			r.skip(EntityRaces, rec.Line, "unknown meet "+rec.MeetAthleticNetID)
			continue
		}
		rk := raceKey{meet.ID, strings.TrimSpace(rec.Name)}
		if seen[rk] {
			r.skip(EntityRaces, rec.Line, "duplicate race "+rec.Name)
			continue
		}
		seen[rk] = true

		race := models.Race{
			MeetID:         meet.ID,
			Name:           rk.name,
			Gender:         rec.Gender,
			DistanceMeters: rec.DistanceMeters,
			AthleticNetID:  strings.TrimSpace(rec.AthleticNetID),
		}
		if rec.VenueName != "" {
			if venueID, ok := r.venueIDs[key(rec.VenueName)]; ok {
				if courseID, ok := r.courseIDs[courseKey(venueID, rec.DistanceMeters)]; ok {
					race.CourseID = &courseID
				}
			}
			if race.CourseID == nil {
				r.log.WithFields(logrus.Fields{
					"race":     rec.Name,
					"venue":    rec.VenueName,
					"distance": rec.DistanceMeters,
				}).Warn("No course matches race venue and distance")
			}
		}
		rows = append(rows, race)
	}
	if len(rows) > 0 {
		err := r.tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "meet_id"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"course_id", "gender", "distance_meters", "athletic_net_id", "updated_at"}),
		}).CreateInBatches(&rows, r.batchSize).Error
		if err != nil {
			return fmt.Errorf("failed to upsert races: %w", err)
		}
	}
	r.summary.Counts[EntityRaces].Imported = len(rows)

	meetIDs := make([]uint, 0, len(r.meetsByID))
	for _, m := range r.meetsByID {
		meetIDs = append(meetIDs, m.ID)
	}
	r.raceIDs = make(map[raceKey]uint)
	for _, chunk := range chunkUints(meetIDs, r.batchSize) {
		var found []models.Race
		if err := r.tx.Select("id", "meet_id", "name").Where("meet_id IN ?", chunk).Find(&found).Error; err != nil {
			return fmt.Errorf("failed to load races: %w", err)
		}
		for _, race := range found {
			r.raceIDs[raceKey{race.MeetID, race.Name}] = race.ID
		}
	}
	return nil
}

func (r *importRun) athletes(b *Bundle) error {
	seen := make(map[athleteKey]bool)
	var rows []models.Athlete
	for _, rec := range b.Athletes {
		schoolID, ok := r.schoolIDs[key(rec.SchoolName)]
		if !ok {
			r.skip(EntityAthletes, rec.Line, "unknown school "+rec.SchoolName)
			continue
		}
		ak := athleteKey{strings.TrimSpace(rec.FullName), schoolID, rec.GraduationYear}
		if seen[ak] {
			r.skip(EntityAthletes, rec.Line, "duplicate athlete "+rec.FullName)
			continue
		}
		seen[ak] = true
		rows = append(rows, models.Athlete{
			FullName:       ak.name,
			SchoolID:       schoolID,
			Gender:         rec.Gender,
			GraduationYear: rec.GraduationYear,
		})
	}
	if len(rows) > 0 {
		err := r.tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "full_name"}, {Name: "school_id"}, {Name: "graduation_year"}},
			DoUpdates: clause.AssignmentColumns([]string{"gender", "updated_at"}),
		}).CreateInBatches(&rows, r.batchSize).Error
		if err != nil {
			return fmt.Errorf("failed to upsert athletes: %w", err)
		}
	}
	r.summary.Counts[EntityAthletes].Imported = len(rows)

	var resultSchools []uint
	seenSchool := make(map[uint]bool)
	for _, rec := range b.Results {
		if id, ok := r.schoolIDs[key(rec.SchoolName)]; ok && !seenSchool[id] {
			seenSchool[id] = true
			resultSchools = append(resultSchools, id)
		}
	}
	r.athleteIDs = make(map[athleteKey]uint)
	for _, chunk := range chunkUints(resultSchools, r.batchSize) {
		var found []models.Athlete
		if err := r.tx.Select("id", "full_name", "school_id", "graduation_year").Where("school_id IN ?", chunk).Find(&found).Error; err != nil {
			return fmt.Errorf("failed to load athletes: %w", err)
		}
		for _, a := range found {
			r.athleteIDs[athleteKey{a.FullName, a.SchoolID, a.GraduationYear}] = a.ID
		}
	}
	return nil
}

func (r *importRun) results(b *Bundle) error {
	type resultKey struct{ athleteID, raceID uint }
	seen := make(map[resultKey]bool)
	r.touched = make(map[uint]struct{})
	var rows []models.Result
	for _, rec := range b.Results {
		meet, ok := r.meetsByID[strings.TrimSpace(rec.MeetAthleticNetID)]
		if !ok {
			r.skip(EntityResults, rec.Line, "unknown meet "+rec.MeetAthleticNetID)
			continue
		}
		raceID, ok := r.raceIDs[raceKey{meet.ID, strings.TrimSpace(rec.RaceName)}]
		if !ok {
			r.skip(EntityResults, rec.Line, "unknown race "+rec.RaceName)
			continue
		}
		schoolID, ok := r.schoolIDs[key(rec.SchoolName)]
		if !ok {
			r.skip(EntityResults, rec.Line, "unknown school "+rec.SchoolName)
			continue
		}
		athleteID, ok := r.athleteIDs[athleteKey{strings.TrimSpace(rec.AthleteFullName), schoolID, rec.GraduationYear}]
		if !ok {
			r.skip(EntityResults, rec.Line, "unknown athlete "+rec.AthleteFullName)
			continue
		}
		timeCS := ParseResultTime(rec.Time)
		if timeCS <= 0 {
			r.skip(EntityResults, rec.Line, fmt.Sprintf("no valid time (%q)", rec.Time))
			continue
		}
		rk := resultKey{athleteID, raceID}
		if seen[rk] {
			r.skip(EntityResults, rec.Line, "duplicate result for "+rec.AthleteFullName)
			continue
		}
		seen[rk] = true

		season := rec.SeasonYear
		if season == 0 {
			season = meet.SeasonYear
		}
		rows = append(rows, models.Result{
			AthleteID:    athleteID,
			RaceID:       raceID,
			TimeCS:       timeCS,
			PlaceOverall: rec.PlaceOverall,
			SeasonYear:   season,
		})
		r.touched[raceID] = struct{}{}
	}
	if len(rows) > 0 {
		err := r.tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "athlete_id"}, {Name: "race_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"time_cs", "place_overall", "season_year", "updated_at"}),
		}).CreateInBatches(&rows, r.batchSize).Error
		if err != nil {
			return fmt.Errorf("failed to upsert results: %w", err)
		}
	}
	r.summary.Counts[EntityResults].Imported = len(rows)
	return nil
}

// rescore recomputes place_overall for every race that received results.
func (r *importRun) rescore(_ *Bundle) error {
	for raceID := range r.touched {
		if err := AssignRacePlaces(r.tx, raceID); err != nil {
			return err
		}
		r.summary.RacesRescored++
	}
	return nil
}

// AssignRacePlaces rewrites place_overall for one race from its stored times.
func AssignRacePlaces(tx *gorm.DB, raceID uint) error {
	var results []models.Result
	if err := tx.Select("id", "athlete_id", "time_cs", "place_overall").Where("race_id = ?", raceID).Find(&results).Error; err != nil {
		return fmt.Errorf("failed to load results for race %d: %w", raceID, err)
	}
	finishers := make([]scoring.Finisher, len(results))
	for i, res := range results {
		finishers[i] = scoring.Finisher{ResultID: res.ID, AthleteID: res.AthleteID, TimeCS: res.TimeCS, Place: res.PlaceOverall}
	}
	places := scoring.AssignPlaces(finishers)
	for _, res := range results {
		var place interface{}
		if p, ok := places[res.ID]; ok {
			if res.PlaceOverall != nil && *res.PlaceOverall == p {
				continue
			}
			place = p
		} else if res.PlaceOverall == nil {
			continue
		}
		if err := tx.Model(&models.Result{}).Where("id = ?", res.ID).Update("place_overall", place).Error; err != nil {
			return fmt.Errorf("failed to update place for result %d: %w", res.ID, err)
		}
	}
	return nil
}

// ParseResultTime accepts plain centiseconds or a display time.
func ParseResultTime(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if strings.Contains(raw, ":") {
		return xctime.ParseTime(raw)
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func dedupe(xs []string) []string {
	seen := make(map[string]bool, len(xs))
	out := make([]string, 0, len(xs))
	for _, x := range xs {
		if x == "" || seen[x] {
			continue
		}
		seen[x] = true
		out = append(out, x)
	}
	return out
}

func chunkStrings(xs []string, size int) [][]string {
	var chunks [][]string
	for len(xs) > size {
		chunks = append(chunks, xs[:size])
		xs = xs[size:]
	}
	if len(xs) > 0 {
		chunks = append(chunks, xs)
	}
	return chunks
}

func chunkUints(xs []uint, size int) [][]uint {
	var chunks [][]uint
	for len(xs) > size {
		chunks = append(chunks, xs[:size])
		xs = xs[size:]
	}
	if len(xs) > 0 {
		chunks = append(chunks, xs)
	}
	return chunks
}
