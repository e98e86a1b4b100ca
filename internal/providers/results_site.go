package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/stitts-dev/xc-results/internal/importer"
)

var (
	// ErrMeetNotFound is permanent; retrying will not help.
	ErrMeetNotFound = errors.New("meet not found on results site")
	ErrUnavailable  = errors.New("results site unavailable")
)

// ResultsSiteConfig configures the results-site client.
type ResultsSiteConfig struct {
	BaseURL          string
	Timeout          time.Duration
	RequestsPerSec   float64
	FailureThreshold int
}

// ResultsSiteClient fetches published meet results and converts them into an
// import bundle.
type ResultsSiteClient struct {
	httpClient  *http.Client
	baseURL     string
	rateLimiter *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	logger      *logrus.Logger
}

func NewResultsSiteClient(cfg ResultsSiteConfig, logger *logrus.Logger) *ResultsSiteClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 1
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}

	settings := gobreaker.Settings{
		Name:        "results-site",
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
		// A missing meet is the site answering correctly.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrMeetNotFound)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"component": "circuit_breaker",
				"service":   name,
				"from":      from.String(),
				"to":        to.String(),
			}).Info("Circuit breaker state changed")
		},
	}

	return &ResultsSiteClient{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		breaker:     gobreaker.NewCircuitBreaker(settings),
		logger:      logger,
	}
}

// Results site response structures
type meetResultsResponse struct {
	Meet  siteMeet   `json:"meet"`
	Venue siteVenue  `json:"venue"`
	Races []siteRace `json:"races"`
}

type siteMeet struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Date string `json:"date"`
}

type siteVenue struct {
	Name  string `json:"name"`
	City  string `json:"city"`
	State string `json:"state"`
}

type siteRace struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Gender         string       `json:"gender"`
	DistanceMeters int          `json:"distance_meters"`
	Results        []siteResult `json:"results"`
}

type siteResult struct {
	Athlete        string `json:"athlete"`
	School         string `json:"school"`
	Gender         string `json:"gender"`
	GraduationYear int    `json:"graduation_year"`
	Time           string `json:"time"`
	Place          *int   `json:"place"`
}

// FetchMeet downloads one meet's results. Calls are rate limited and guarded
// by a circuit breaker.
func (c *ResultsSiteClient) FetchMeet(ctx context.Context, meetID string) (*importer.Bundle, error) {
	meetID = strings.TrimSpace(meetID)
	if meetID == "" {
		return nil, fmt.Errorf("meet id is required")
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, meetID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}

	resp := out.(*meetResultsResponse)
	bundle, err := toBundle(meetID, resp)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"meet_id": meetID,
		"races":   len(bundle.Races),
		"results": len(bundle.Results),
	}).Info("Fetched meet results")
	return bundle, nil
}

// BreakerState reports the circuit breaker state for health output.
func (c *ResultsSiteClient) BreakerState() string {
	return c.breaker.State().String()
}

func (c *ResultsSiteClient) fetch(ctx context.Context, meetID string) (*meetResultsResponse, error) {
	endpoint := fmt.Sprintf("%s/meets/%s/results", c.baseURL, url.PathEscape(meetID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch meet %s: %w", meetID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrMeetNotFound, meetID)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("results site returned status %d for meet %s", resp.StatusCode, meetID)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed meetResultsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse meet %s: %w", meetID, err)
	}
	return &parsed, nil
}

func toBundle(meetID string, resp *meetResultsResponse) (*importer.Bundle, error) {
	date, err := time.Parse("2006-01-02", resp.Meet.Date)
	if err != nil {
		return nil, fmt.Errorf("meet %s has invalid date %q: %w", meetID, resp.Meet.Date, err)
	}
	if resp.Meet.ID != "" {
		meetID = resp.Meet.ID
	}

	b := &importer.Bundle{
		Venues: []importer.VenueRecord{{Name: resp.Venue.Name, City: resp.Venue.City, State: resp.Venue.State}},
		Meets: []importer.MeetRecord{{
			AthleticNetID: meetID,
			Name:          resp.Meet.Name,
			MeetDate:      date,
		}},
	}

	distances := make(map[int]bool)
	schools := make(map[string]bool)
	type athleteKey struct {
		name   string
		school string
		grad   int
	}
	athletes := make(map[athleteKey]bool)

	for _, race := range resp.Races {
		if !distances[race.DistanceMeters] {
			distances[race.DistanceMeters] = true
			b.Courses = append(b.Courses, importer.CourseRecord{VenueName: resp.Venue.Name, DistanceMeters: race.DistanceMeters})
		}
		b.Races = append(b.Races, importer.RaceRecord{
			MeetAthleticNetID: meetID,
			Name:              race.Name,
			Gender:            race.Gender,
			DistanceMeters:    race.DistanceMeters,
			VenueName:         resp.Venue.Name,
			AthleticNetID:     race.ID,
		})

		for _, r := range race.Results {
			if !schools[r.School] {
				schools[r.School] = true
				b.Schools = append(b.Schools, importer.SchoolRecord{Name: r.School})
			}
			ak := athleteKey{r.Athlete, r.School, r.GraduationYear}
			if !athletes[ak] {
				athletes[ak] = true
				gender := r.Gender
				if gender == "" {
					gender = race.Gender
				}
				b.Athletes = append(b.Athletes, importer.AthleteRecord{
					FullName:       r.Athlete,
					SchoolName:     r.School,
					Gender:         gender,
					GraduationYear: r.GraduationYear,
				})
			}
			b.Results = append(b.Results, importer.ResultRecord{
				MeetAthleticNetID: meetID,
				RaceName:          race.Name,
				AthleteFullName:   r.Athlete,
				SchoolName:        r.School,
				GraduationYear:    r.GraduationYear,
				Time:              r.Time,
				PlaceOverall:      r.Place,
			})
		}
	}

	b.Validate()
	return b, nil
}
