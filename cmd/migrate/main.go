package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/xc-results/internal/importer"
	"github.com/stitts-dev/xc-results/internal/models"
	"github.com/stitts-dev/xc-results/pkg/config"
	"github.com/stitts-dev/xc-results/pkg/database"
	"github.com/stitts-dev/xc-results/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		logrus.Fatal("Usage: migrate [up|down|seed]")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger.InitLogger(cfg.LogLevel, cfg.IsDevelopment())
	log := logger.WithService("migrate")

	// Connect to database
	db, err := database.NewConnection(cfg.DatabaseURL, cfg.IsDevelopment())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	command := os.Args[1]

	switch command {
	case "up":
		if err := runMigrations(db); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Info("Migrations completed successfully")

	case "down":
		if err := dropTables(db); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		log.Info("Tables dropped successfully")

	case "seed":
		summary, err := seedData(db, cfg.ImportBatchSize)
		if err != nil {
			log.Fatalf("Failed to seed data: %v", err)
		}
		log.WithField("rows", summary.TotalImported()).Info("Data seeded successfully")

	default:
		log.Fatalf("Unknown command: %s", command)
	}
}

func runMigrations(db *database.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate models: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_scrape_jobs_status_created ON scrape_jobs(status, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_course_rating_adjustments_course ON course_rating_adjustments(course_id, created_at)",
	}
	if !db.IsSQLite() {
		indexes = append(indexes,
			"CREATE INDEX IF NOT EXISTS idx_schools_name_lower ON schools(LOWER(name))",
			"CREATE INDEX IF NOT EXISTS idx_athletes_name_lower ON athletes(LOWER(full_name))",
		)
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

func dropTables(db *database.DB) error {
	// Drop tables in reverse order to handle foreign key constraints
	tables := []string{
		"course_rating_adjustments",
		"scrape_jobs",
		"results",
		"athletes",
		"races",
		"meets",
		"schools",
		"courses",
		"venues",
	}

	cascade := " CASCADE"
	if db.IsSQLite() {
		cascade = ""
	}
	for _, table := range tables {
		if err := db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s%s", table, cascade)).Error; err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}

	return nil
}

// seedData loads one small dual meet through the regular import pipeline so
// local environments have pages to browse.
func seedData(db *database.DB, batchSize int) (*importer.Summary, error) {
	meetDate := time.Date(2025, time.September, 13, 0, 0, 0, 0, time.UTC)
	place := func(n int) *int { return &n }

	bundle := &importer.Bundle{
		Venues: []importer.VenueRecord{
			{Name: "Crystal Springs", City: "Belmont", State: "CA"},
			{Name: "Toro Park", City: "Salinas", State: "CA"},
		},
		Courses: []importer.CourseRecord{
			{VenueName: "Crystal Springs", DistanceMeters: 4741},
			{VenueName: "Toro Park", DistanceMeters: 5000},
		},
		Schools: []importer.SchoolRecord{
			{Name: "Bellarmine"},
			{Name: "Palo Alto"},
		},
		Meets: []importer.MeetRecord{
			{AthleticNetID: "seed-1", Name: "Seed Invitational", MeetDate: meetDate, SeasonYear: 2025},
		},
		Races: []importer.RaceRecord{
			{MeetAthleticNetID: "seed-1", Name: "Varsity Boys", Gender: "M", DistanceMeters: 4741, VenueName: "Crystal Springs"},
		},
		Athletes: []importer.AthleteRecord{
			{FullName: "Sam Ortiz", SchoolName: "Bellarmine", Gender: "M", GraduationYear: 2026},
			{FullName: "Leo Park", SchoolName: "Bellarmine", Gender: "M", GraduationYear: 2027},
			{FullName: "Max Chen", SchoolName: "Palo Alto", Gender: "M", GraduationYear: 2026},
			{FullName: "Eli Brooks", SchoolName: "Palo Alto", Gender: "M", GraduationYear: 2028},
		},
		Results: []importer.ResultRecord{
			{MeetAthleticNetID: "seed-1", RaceName: "Varsity Boys", AthleteFullName: "Sam Ortiz", SchoolName: "Bellarmine", GraduationYear: 2026, Time: "15:32.10", PlaceOverall: place(1)},
			{MeetAthleticNetID: "seed-1", RaceName: "Varsity Boys", AthleteFullName: "Max Chen", SchoolName: "Palo Alto", GraduationYear: 2026, Time: "15:40.55", PlaceOverall: place(2)},
			{MeetAthleticNetID: "seed-1", RaceName: "Varsity Boys", AthleteFullName: "Leo Park", SchoolName: "Bellarmine", GraduationYear: 2027, Time: "16:02.00", PlaceOverall: place(3)},
			{MeetAthleticNetID: "seed-1", RaceName: "Varsity Boys", AthleteFullName: "Eli Brooks", SchoolName: "Palo Alto", GraduationYear: 2028, Time: "16:15.80", PlaceOverall: place(4)},
		},
	}

	return importer.New(db.DB, batchSize).Import(context.Background(), bundle, "seed")
}
