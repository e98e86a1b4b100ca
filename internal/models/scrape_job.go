package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ScrapeStatus is the lifecycle state of a scrape job.
type ScrapeStatus string

const (
	ScrapeStatusPending   ScrapeStatus = "pending"
	ScrapeStatusRunning   ScrapeStatus = "running"
	ScrapeStatusCompleted ScrapeStatus = "completed"
	ScrapeStatusFailed    ScrapeStatus = "failed"
)

// ErrInvalidTransition is returned for a status change the job lifecycle
// does not allow.
var ErrInvalidTransition = errors.New("invalid scrape job transition")

var scrapeTransitions = map[ScrapeStatus][]ScrapeStatus{
	ScrapeStatusPending: {ScrapeStatusRunning},
	ScrapeStatusRunning: {ScrapeStatusCompleted, ScrapeStatusFailed},
	ScrapeStatusFailed:  {ScrapeStatusPending},
}

// Valid reports whether s is a known status.
func (s ScrapeStatus) Valid() bool {
	switch s {
	case ScrapeStatusPending, ScrapeStatusRunning, ScrapeStatusCompleted, ScrapeStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle allows s -> next.
func (s ScrapeStatus) CanTransitionTo(next ScrapeStatus) bool {
	for _, allowed := range scrapeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ScrapeJob is a persisted request to fetch one meet from the results site.
type ScrapeJob struct {
	ID                string       `gorm:"primaryKey;size:36" json:"id"`
	MeetAthleticNetID string       `gorm:"size:50;not null;index" json:"meet_athletic_net_id"`
	Status            ScrapeStatus `gorm:"size:20;not null;index;default:pending" json:"status"`
	Attempts          int          `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts       int          `gorm:"not null;default:3" json:"max_attempts"`
	LastError         string       `gorm:"type:text" json:"last_error,omitempty"`
	StartedAt         *time.Time   `json:"started_at,omitempty"`
	FinishedAt        *time.Time   `json:"finished_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`

	// Summary holds the import counts of the last successful run.
	Summary datatypes.JSON `json:"summary,omitempty"`
}

// TableName specifies the table name for GORM
func (ScrapeJob) TableName() string {
	return "scrape_jobs"
}

// BeforeCreate assigns a UUID and the initial status.
func (j *ScrapeJob) BeforeCreate(_ *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = ScrapeStatusPending
	}
	return nil
}

// Transition moves the job to next, enforcing the lifecycle.
func (j *ScrapeJob) Transition(next ScrapeStatus) error {
	if !j.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, next)
	}
	j.Status = next
	return nil
}

// CanAutoRetry reports whether a failed job still has automatic attempts left.
func (j *ScrapeJob) CanAutoRetry() bool {
	return j.Status == ScrapeStatusFailed && j.Attempts < j.MaxAttempts
}
