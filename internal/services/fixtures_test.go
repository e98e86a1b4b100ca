package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/stitts-dev/xc-results/internal/importer"
	"github.com/stitts-dev/xc-results/internal/models"
	"github.com/stitts-dev/xc-results/internal/testutil"
)

// fixture is a small season: eight boys from two schools ran Lakeside and
// Hilltop on the same day, and Hilltop ran 6% slow for everyone.
type fixture struct {
	db        *gorm.DB
	lakeside  models.Course
	hilltop   models.Course
	riverbend models.Course
	meet      models.Meet
	raceLake  models.Race
	raceHill  models.Race
	schoolA   models.School
	schoolB   models.School
	athletes  []models.Athlete
}

var raceDay = time.Date(2025, time.September, 6, 0, 0, 0, 0, time.UTC)

// graduation years for a 2026 season: grade 12, 11, 10, 9, 12, 11, 8, 12
var gradYears = []int{2026, 2027, 2028, 2029, 2026, 2027, 2030, 2026}

func lakeTime(i int) int { return 100000 + 500*i }

func hillTime(i int) int { return 106000 + 530*i }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	f := &fixture{db: db}

	mustCreate := func(v interface{}) {
		require.NoError(t, db.Create(v).Error)
	}

	lakeVenue := models.Venue{Name: "Lakeside Park", State: "OR"}
	hillVenue := models.Venue{Name: "Hilltop Farm", State: "OR"}
	riverVenue := models.Venue{Name: "Riverbend", State: "OR"}
	mustCreate(&lakeVenue)
	mustCreate(&hillVenue)
	mustCreate(&riverVenue)

	f.lakeside = models.Course{VenueID: lakeVenue.ID, DistanceMeters: 5000, DifficultyRating: 1.0}
	f.hilltop = models.Course{VenueID: hillVenue.ID, DistanceMeters: 5000, DifficultyRating: 1.0}
	f.riverbend = models.Course{VenueID: riverVenue.ID, DistanceMeters: 5000, DifficultyRating: 1.0}
	mustCreate(&f.lakeside)
	mustCreate(&f.hilltop)
	mustCreate(&f.riverbend)

	f.schoolA = models.School{Name: "Central High"}
	f.schoolB = models.School{Name: "West Valley"}
	mustCreate(&f.schoolA)
	mustCreate(&f.schoolB)

	f.meet = models.Meet{AthleticNetID: "5001", Name: "Early Bird", MeetDate: raceDay}
	mustCreate(&f.meet)
	f.raceLake = models.Race{MeetID: f.meet.ID, CourseID: &f.lakeside.ID, Name: "Varsity Boys Lakeside", Gender: "M", DistanceMeters: 5000}
	f.raceHill = models.Race{MeetID: f.meet.ID, CourseID: &f.hilltop.ID, Name: "Varsity Boys Hilltop", Gender: "M", DistanceMeters: 5000}
	mustCreate(&f.raceLake)
	mustCreate(&f.raceHill)

	for i, gy := range gradYears {
		school := f.schoolA.ID
		if i >= 6 {
			school = f.schoolB.ID
		}
		a := models.Athlete{FullName: fmt.Sprintf("Runner %d", i), SchoolID: school, Gender: "M", GraduationYear: gy}
		mustCreate(&a)
		f.athletes = append(f.athletes, a)

		mustCreate(&models.Result{AthleteID: a.ID, RaceID: f.raceLake.ID, TimeCS: lakeTime(i), SeasonYear: 2026})
		mustCreate(&models.Result{AthleteID: a.ID, RaceID: f.raceHill.ID, TimeCS: hillTime(i), SeasonYear: 2026})
	}
	require.NoError(t, importer.AssignRacePlaces(db, f.raceLake.ID))
	require.NoError(t, importer.AssignRacePlaces(db, f.raceHill.ID))
	return f
}

func (f *fixture) analysis() *AnalysisService {
	return NewAnalysisService(f.db, NewCacheService(nil), time.Minute, quietLogger())
}
