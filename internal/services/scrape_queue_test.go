package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/stitts-dev/xc-results/internal/importer"
	"github.com/stitts-dev/xc-results/internal/models"
	"github.com/stitts-dev/xc-results/internal/providers"
	"github.com/stitts-dev/xc-results/internal/testutil"
)

type fakeFetcher struct {
	calls int
	err   error
	// abort, when set, cancels the caller's context mid-fetch.
	abort context.CancelFunc
}

func (f *fakeFetcher) FetchMeet(ctx context.Context, meetID string) (*importer.Bundle, error) {
	f.calls++
	if f.abort != nil {
		f.abort()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	place := 1
	return &importer.Bundle{
		Venues:   []importer.VenueRecord{{Name: "Lakeside Park"}},
		Courses:  []importer.CourseRecord{{VenueName: "Lakeside Park", DistanceMeters: 5000}},
		Schools:  []importer.SchoolRecord{{Name: "Central High"}},
		Meets:    []importer.MeetRecord{{AthleticNetID: meetID, Name: "Twilight", MeetDate: raceDay}},
		Races:    []importer.RaceRecord{{MeetAthleticNetID: meetID, Name: "Varsity Boys", Gender: "M", DistanceMeters: 5000, VenueName: "Lakeside Park"}},
		Athletes: []importer.AthleteRecord{{FullName: "Sam Ortiz", SchoolName: "Central High", Gender: "M", GraduationYear: 2026}},
		Results: []importer.ResultRecord{{
			MeetAthleticNetID: meetID, RaceName: "Varsity Boys", AthleteFullName: "Sam Ortiz",
			SchoolName: "Central High", GraduationYear: 2026, Time: "16:40.50", PlaceOverall: &place,
		}},
	}, nil
}

type ScrapeQueueTestSuite struct {
	suite.Suite
	fetcher *fakeFetcher
	queue   *ScrapeQueue
	db      *gorm.DB
	ctx     context.Context
}

func (s *ScrapeQueueTestSuite) SetupTest() {
	db := testutil.NewDB(s.T())
	s.db = db
	s.fetcher = &fakeFetcher{}
	imports := NewImportService(importer.New(db, 100), "", NewCacheService(nil))
	s.queue = NewScrapeQueue(db, s.fetcher, imports, 3, time.Hour, quietLogger())
	s.ctx = context.Background()
}

func TestScrapeQueueSuite(t *testing.T) {
	suite.Run(t, new(ScrapeQueueTestSuite))
}

func (s *ScrapeQueueTestSuite) TestEnqueueIsIdempotent() {
	job, created, err := s.queue.Enqueue(s.ctx, "7001")
	s.Require().NoError(err)
	s.True(created)
	s.Equal(models.ScrapeStatusPending, job.Status)
	s.Len(job.ID, 36)
	s.Equal(3, job.MaxAttempts)

	again, created, err := s.queue.Enqueue(s.ctx, "7001")
	s.Require().NoError(err)
	s.False(created)
	s.Equal(job.ID, again.ID)

	_, _, err = s.queue.Enqueue(s.ctx, "")
	s.ErrorIs(err, ErrInvalidMeet)
}

func (s *ScrapeQueueTestSuite) TestProcessNextCompletesJob() {
	job, _, err := s.queue.Enqueue(s.ctx, "7001")
	s.Require().NoError(err)

	done, err := s.queue.ProcessNext(s.ctx)
	s.Require().NoError(err)
	s.Require().NotNil(done)
	s.Equal(job.ID, done.ID)
	s.Equal(models.ScrapeStatusCompleted, done.Status)

	stored, err := s.queue.Get(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(models.ScrapeStatusCompleted, stored.Status)
	s.Equal(1, stored.Attempts)
	s.NotNil(stored.StartedAt)
	s.NotNil(stored.FinishedAt)
	s.Contains(string(stored.Summary), `"source":"scrape:7001"`)

	next, err := s.queue.ProcessNext(s.ctx)
	s.NoError(err)
	s.Nil(next)
	s.Equal(1, s.fetcher.calls)

	// a completed meet is not scraped again
	again, created, err := s.queue.Enqueue(s.ctx, "7001")
	s.Require().NoError(err)
	s.False(created)
	s.Equal(models.ScrapeStatusCompleted, again.Status)
}

func (s *ScrapeQueueTestSuite) TestTransientFailureRetriesUntilMaxAttempts() {
	s.fetcher.err = providers.ErrUnavailable
	job, _, err := s.queue.Enqueue(s.ctx, "7002")
	s.Require().NoError(err)

	for attempt := 1; attempt <= 3; attempt++ {
		_, err := s.queue.ProcessNext(s.ctx)
		s.Require().NoError(err)

		stored, err := s.queue.Get(s.ctx, job.ID)
		s.Require().NoError(err)
		s.Equal(attempt, stored.Attempts)
		s.Contains(stored.LastError, "unavailable")
		if attempt < 3 {
			s.Equal(models.ScrapeStatusPending, stored.Status)
		} else {
			s.Equal(models.ScrapeStatusFailed, stored.Status)
		}
	}

	next, err := s.queue.ProcessNext(s.ctx)
	s.NoError(err)
	s.Nil(next)
	s.Equal(3, s.fetcher.calls)
}

func (s *ScrapeQueueTestSuite) TestCancelledRunStillRecordsOutcome() {
	job, _, err := s.queue.Enqueue(s.ctx, "7005")
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	s.fetcher.abort = cancel

	done, err := s.queue.ProcessNext(ctx)
	s.Require().NoError(err)
	s.Require().NotNil(done)
	s.Contains(done.LastError, context.Canceled.Error())

	stored, err := s.queue.Get(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(models.ScrapeStatusPending, stored.Status)
	s.Equal(1, stored.Attempts)

	s.fetcher.abort = nil
	next, err := s.queue.ProcessNext(s.ctx)
	s.Require().NoError(err)
	s.Require().NotNil(next)
	s.Equal(job.ID, next.ID)
	s.Equal(models.ScrapeStatusCompleted, next.Status)
	s.Equal(2, next.Attempts)
}

func (s *ScrapeQueueTestSuite) TestRecoverStaleRunningJob() {
	startedLongAgo := time.Now().Add(-time.Hour)
	startedJustNow := time.Now()
	stale := &models.ScrapeJob{MeetAthleticNetID: "7006", Status: models.ScrapeStatusRunning, Attempts: 1, MaxAttempts: 3, StartedAt: &startedLongAgo}
	fresh := &models.ScrapeJob{MeetAthleticNetID: "7007", Status: models.ScrapeStatusRunning, Attempts: 1, MaxAttempts: 3, StartedAt: &startedJustNow}
	exhausted := &models.ScrapeJob{MeetAthleticNetID: "7008", Status: models.ScrapeStatusRunning, Attempts: 3, MaxAttempts: 3, StartedAt: &startedLongAgo}
	s.Require().NoError(s.db.Create(stale).Error)
	s.Require().NoError(s.db.Create(fresh).Error)
	s.Require().NoError(s.db.Create(exhausted).Error)

	recovered, err := s.queue.RecoverStale(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, recovered)

	stored, err := s.queue.Get(s.ctx, stale.ID)
	s.Require().NoError(err)
	s.Equal(models.ScrapeStatusPending, stored.Status)
	s.Contains(stored.LastError, "interrupted")

	stored, err = s.queue.Get(s.ctx, fresh.ID)
	s.Require().NoError(err)
	s.Equal(models.ScrapeStatusRunning, stored.Status)

	stored, err = s.queue.Get(s.ctx, exhausted.ID)
	s.Require().NoError(err)
	s.Equal(models.ScrapeStatusFailed, stored.Status)

	// the exhausted job can still be retried by hand
	_, err = s.queue.Retry(s.ctx, exhausted.ID)
	s.NoError(err)

	done, err := s.queue.ProcessNext(s.ctx)
	s.Require().NoError(err)
	s.Require().NotNil(done)
	s.Equal(stale.ID, done.ID)
	s.Equal(models.ScrapeStatusCompleted, done.Status)
}

func (s *ScrapeQueueTestSuite) TestMissingMeetFailsWithoutRetry() {
	s.fetcher.err = providers.ErrMeetNotFound
	job, _, err := s.queue.Enqueue(s.ctx, "404")
	s.Require().NoError(err)

	done, err := s.queue.ProcessNext(s.ctx)
	s.Require().NoError(err)
	s.Equal(models.ScrapeStatusFailed, done.Status)

	failed, err := s.queue.List(s.ctx, models.ScrapeStatusFailed)
	s.Require().NoError(err)
	s.Require().Len(failed, 1)
	s.Equal(job.ID, failed[0].ID)

	pending, err := s.queue.List(s.ctx, models.ScrapeStatusPending)
	s.Require().NoError(err)
	s.Empty(pending)
}

func (s *ScrapeQueueTestSuite) TestManualRetry() {
	s.fetcher.err = providers.ErrMeetNotFound
	job, _, err := s.queue.Enqueue(s.ctx, "7003")
	s.Require().NoError(err)
	_, err = s.queue.ProcessNext(s.ctx)
	s.Require().NoError(err)

	retried, err := s.queue.Retry(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(models.ScrapeStatusPending, retried.Status)

	_, err = s.queue.Retry(s.ctx, job.ID)
	s.ErrorIs(err, models.ErrInvalidTransition)

	s.fetcher.err = nil
	done, err := s.queue.ProcessNext(s.ctx)
	s.Require().NoError(err)
	s.Equal(models.ScrapeStatusCompleted, done.Status)
	s.Equal(2, done.Attempts)

	_, err = s.queue.Retry(s.ctx, "missing")
	s.ErrorIs(err, ErrJobNotFound)
}

func (s *ScrapeQueueTestSuite) TestEnqueueRequeuesFailedMeet() {
	s.fetcher.err = errors.New("boom")
	job, _, err := s.queue.Enqueue(s.ctx, "7004")
	s.Require().NoError(err)
	for i := 0; i < 3; i++ {
		_, err = s.queue.ProcessNext(s.ctx)
		s.Require().NoError(err)
	}

	again, created, err := s.queue.Enqueue(s.ctx, "7004")
	s.Require().NoError(err)
	s.False(created)
	s.Equal(job.ID, again.ID)
	s.Equal(models.ScrapeStatusPending, again.Status)
}

func (s *ScrapeQueueTestSuite) TestStartStop() {
	s.Require().NoError(s.queue.Start())
	s.ErrorIs(s.queue.Start(), ErrQueueRunning)
	s.queue.Stop()
	s.queue.Stop()
}
