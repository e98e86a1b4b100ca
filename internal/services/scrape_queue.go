package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/stitts-dev/xc-results/internal/importer"
	"github.com/stitts-dev/xc-results/internal/models"
	"github.com/stitts-dev/xc-results/internal/providers"
	"github.com/stitts-dev/xc-results/pkg/logger"
	"github.com/stitts-dev/xc-results/pkg/utils"
)

const (
	// jobTimeout bounds one scheduled run of a job.
	jobTimeout = 5 * time.Minute
	// recordTimeout bounds writing a job's outcome after the run.
	recordTimeout = 10 * time.Second
)

var (
	ErrJobNotFound  = fmt.Errorf("scrape job %w", utils.ErrNotFound)
	ErrInvalidMeet  = fmt.Errorf("%w: meet id is required", utils.ErrInvalidInput)
	ErrQueueRunning = errors.New("scrape queue is already running")

	errInterrupted = errors.New("scrape job interrupted before recording an outcome")
)

// MeetFetcher pulls one meet from the results site as an import bundle.
type MeetFetcher interface {
	FetchMeet(ctx context.Context, meetID string) (*importer.Bundle, error)
}

// ScrapeQueue persists scrape requests and works through them one at a time.
type ScrapeQueue struct {
	db          *gorm.DB
	fetcher     MeetFetcher
	imports     *ImportService
	maxAttempts int
	interval    time.Duration
	staleAfter  time.Duration
	logger      *logrus.Logger
	events      *JobEventHub

	cron      *cron.Cron
	mu        sync.Mutex
	isRunning bool
}

func NewScrapeQueue(db *gorm.DB, fetcher MeetFetcher, imports *ImportService, maxAttempts int, interval time.Duration, logger *logrus.Logger) *ScrapeQueue {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &ScrapeQueue{
		db:          db,
		fetcher:     fetcher,
		imports:     imports,
		maxAttempts: maxAttempts,
		interval:    interval,
		staleAfter:  2 * jobTimeout,
		logger:      logger,
	}
}

// WithEvents publishes every job state change to hub.
func (q *ScrapeQueue) WithEvents(hub *JobEventHub) *ScrapeQueue {
	q.events = hub
	return q
}

// Events returns the hub set by WithEvents, or nil.
func (q *ScrapeQueue) Events() *JobEventHub {
	return q.events
}

// Enqueue records a request to scrape a meet. A meet already queued, running
// or completed returns its existing job; a failed one is put back to pending.
func (q *ScrapeQueue) Enqueue(ctx context.Context, meetID string) (*models.ScrapeJob, bool, error) {
	if meetID == "" {
		return nil, false, ErrInvalidMeet
	}

	var existing models.ScrapeJob
	err := q.db.WithContext(ctx).Where("meet_athletic_net_id = ?", meetID).Order("created_at DESC").First(&existing).Error
	switch {
	case err == nil:
		if existing.Status == models.ScrapeStatusFailed {
			job, err := q.requeue(ctx, &existing)
			return job, false, err
		}
		return &existing, false, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, false, fmt.Errorf("failed to look up scrape job: %w", err)
	}

	job := &models.ScrapeJob{
		MeetAthleticNetID: meetID,
		Status:            models.ScrapeStatusPending,
		MaxAttempts:       q.maxAttempts,
	}
	if err := q.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, false, fmt.Errorf("failed to create scrape job: %w", err)
	}
	logger.WithJobContext(job.ID, meetID).Info("Scrape job queued")
	q.events.Publish(job)
	return job, true, nil
}

// List returns jobs, newest first, optionally filtered by status.
func (q *ScrapeQueue) List(ctx context.Context, status models.ScrapeStatus) ([]models.ScrapeJob, error) {
	query := q.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var jobs []models.ScrapeJob
	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list scrape jobs: %w", err)
	}
	return jobs, nil
}

func (q *ScrapeQueue) Get(ctx context.Context, id string) (*models.ScrapeJob, error) {
	var job models.ScrapeJob
	if err := q.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to load scrape job: %w", err)
	}
	return &job, nil
}

// Retry puts a failed job back to pending regardless of its attempt count.
func (q *ScrapeQueue) Retry(ctx context.Context, id string) (*models.ScrapeJob, error) {
	job, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return q.requeue(ctx, job)
}

func (q *ScrapeQueue) requeue(ctx context.Context, job *models.ScrapeJob) (*models.ScrapeJob, error) {
	from := job.Status
	if err := job.Transition(models.ScrapeStatusPending); err != nil {
		return nil, err
	}
	res := q.db.WithContext(ctx).Model(&models.ScrapeJob{}).
		Where("id = ? AND status = ?", job.ID, from).
		Updates(map[string]interface{}{
			"status":      job.Status,
			"finished_at": nil,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to requeue scrape job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: job %s changed concurrently", models.ErrInvalidTransition, job.ID)
	}
	job.FinishedAt = nil
	logger.WithJobContext(job.ID, job.MeetAthleticNetID).Info("Scrape job requeued")
	q.events.Publish(job)
	return job, nil
}

// ProcessNext claims the oldest pending job and runs it. It returns nil, nil
// when nothing is pending. The outcome is recorded even when ctx ends during
// the run, so a job never stays running because its caller gave up.
func (q *ScrapeQueue) ProcessNext(ctx context.Context) (*models.ScrapeJob, error) {
	job, err := q.claim(ctx)
	if err != nil || job == nil {
		return nil, err
	}
	log := logger.WithJobContext(job.ID, job.MeetAthleticNetID).WithField("attempt", job.Attempts)
	log.Info("Processing scrape job")
	q.events.Publish(job)

	summary, runErr := q.run(ctx, job)

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	now := time.Now()
	job.FinishedAt = &now

	updates := map[string]interface{}{"finished_at": now}
	if runErr == nil {
		_ = job.Transition(models.ScrapeStatusCompleted)
		job.LastError = ""
		if b, err := json.Marshal(summary); err == nil {
			job.Summary = datatypes.JSON(b)
			updates["summary"] = job.Summary
		}
	} else {
		_ = job.Transition(models.ScrapeStatusFailed)
		job.LastError = runErr.Error()
	}
	updates["status"] = job.Status
	updates["last_error"] = job.LastError

	if err := q.db.WithContext(recordCtx).Model(&models.ScrapeJob{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to record scrape job outcome: %w", err)
	}
	scrapeJobsTotal.WithLabelValues(string(job.Status)).Inc()
	q.events.Publish(job)

	if runErr == nil {
		log.WithField("imported", summary.TotalImported()).Info("Scrape job completed")
		return job, nil
	}

	log.WithError(runErr).Warn("Scrape job failed")
	if job.CanAutoRetry() && !errors.Is(runErr, providers.ErrMeetNotFound) {
		if _, err := q.requeue(recordCtx, job); err != nil {
			return nil, err
		}
	}
	return job, nil
}

// RecoverStale fails jobs left running longer than staleAfter and requeues
// those with attempts left.
func (q *ScrapeQueue) RecoverStale(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-q.staleAfter)
	var stale []models.ScrapeJob
	err := q.db.WithContext(ctx).
		Where("status = ? AND (started_at IS NULL OR started_at < ?)", models.ScrapeStatusRunning, cutoff).
		Find(&stale).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find stale scrape jobs: %w", err)
	}

	recovered := 0
	for i := range stale {
		job := &stale[i]
		now := time.Now()
		if err := job.Transition(models.ScrapeStatusFailed); err != nil {
			return recovered, err
		}
		job.FinishedAt = &now
		job.LastError = errInterrupted.Error()
		res := q.db.WithContext(ctx).Model(&models.ScrapeJob{}).
			Where("id = ? AND status = ?", job.ID, models.ScrapeStatusRunning).
			Updates(map[string]interface{}{
				"status":      job.Status,
				"finished_at": now,
				"last_error":  job.LastError,
			})
		if res.Error != nil {
			return recovered, fmt.Errorf("failed to recover scrape job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		recovered++
		scrapeJobsTotal.WithLabelValues(string(job.Status)).Inc()
		logger.WithJobContext(job.ID, job.MeetAthleticNetID).Warn("Recovered stale scrape job")
		q.events.Publish(job)

		if job.CanAutoRetry() {
			if _, err := q.requeue(ctx, job); err != nil {
				return recovered, err
			}
		}
	}
	return recovered, nil
}

// claim moves the oldest pending job to running. The conditional update
// ensures two workers never claim the same job.
func (q *ScrapeQueue) claim(ctx context.Context) (*models.ScrapeJob, error) {
	for {
		var job models.ScrapeJob
		err := q.db.WithContext(ctx).Where("status = ?", models.ScrapeStatusPending).Order("created_at ASC").First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to find pending scrape job: %w", err)
		}

		now := time.Now()
		res := q.db.WithContext(ctx).Model(&models.ScrapeJob{}).
			Where("id = ? AND status = ?", job.ID, models.ScrapeStatusPending).
			Updates(map[string]interface{}{
				"status":     models.ScrapeStatusRunning,
				"attempts":   gorm.Expr("attempts + 1"),
				"started_at": now,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("failed to claim scrape job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		job.Status = models.ScrapeStatusRunning
		job.Attempts++
		job.StartedAt = &now
		return &job, nil
	}
}

func (q *ScrapeQueue) run(ctx context.Context, job *models.ScrapeJob) (*importer.Summary, error) {
	bundle, err := q.fetcher.FetchMeet(ctx, job.MeetAthleticNetID)
	if err != nil {
		return nil, err
	}
	return q.imports.ImportBundle(ctx, bundle, "scrape:"+job.MeetAthleticNetID)
}

// Start schedules ProcessNext on the configured interval.
func (q *ScrapeQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.isRunning {
		return ErrQueueRunning
	}

	cronLogger := cron.VerbosePrintfLogger(q.logger)
	q.cron = cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.SkipIfStillRunning(cronLogger)))
	schedule := fmt.Sprintf("@every %s", q.interval)
	if _, err := q.cron.AddFunc(schedule, q.tick); err != nil {
		return fmt.Errorf("failed to schedule scrape worker: %w", err)
	}
	q.cron.Start()
	q.isRunning = true

	q.logger.WithFields(logrus.Fields{
		"component": "scrape_queue",
		"interval":  q.interval.String(),
	}).Info("Scrape queue started")
	return nil
}

func (q *ScrapeQueue) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := q.RecoverStale(ctx); err != nil {
		q.logger.WithError(err).WithField("component", "scrape_queue").Error("Scrape job recovery failed")
	}
	if _, err := q.ProcessNext(ctx); err != nil {
		q.logger.WithError(err).WithField("component", "scrape_queue").Error("Scrape worker tick failed")
	}
}

func (q *ScrapeQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.isRunning {
		return
	}
	ctx := q.cron.Stop()
	select {
	case <-ctx.Done():
		q.logger.WithField("component", "scrape_queue").Info("Scrape queue stopped gracefully")
	case <-time.After(5 * time.Second):
		q.logger.WithField("component", "scrape_queue").Warn("Scrape queue stop timed out")
	}
	q.isRunning = false
}
