package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/stitts-dev/xc-results/internal/api/middleware"
	"github.com/stitts-dev/xc-results/internal/importer"
	"github.com/stitts-dev/xc-results/internal/providers"
	"github.com/stitts-dev/xc-results/internal/services"
	"github.com/stitts-dev/xc-results/internal/testutil"
	"github.com/stitts-dev/xc-results/pkg/config"
	"github.com/stitts-dev/xc-results/pkg/database"
)

const testSecret = "test-secret"

type missingMeets struct{}

func (missingMeets) FetchMeet(context.Context, string) (*importer.Bundle, error) {
	return nil, providers.ErrMeetNotFound
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error"`
	Meta *struct {
		Total int64 `json:"total"`
	} `json:"meta"`
}

type RouterTestSuite struct {
	suite.Suite
	router  *gin.Engine
	token   string
	hub     *services.JobEventHub
	stopHub context.CancelFunc
}

func (s *RouterTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	db := &database.DB{DB: testutil.NewDB(s.T())}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cfg := &config.Config{
		AdminJWTSecret: testSecret,
		CacheTTL:       time.Minute,
		CorsOrigins:    []string{"http://localhost:5173"},
	}
	cache := services.NewCacheService(nil)
	imports := services.NewImportService(importer.New(db.DB, 100), "../importer/testdata", cache)
	var ctx context.Context
	ctx, s.stopHub = context.WithCancel(context.Background())
	s.hub = services.NewJobEventHub(logger)
	go s.hub.Run(ctx)
	queue := services.NewScrapeQueue(db.DB, missingMeets{}, imports, 3, time.Hour, logger).WithEvents(s.hub)

	s.router = NewRouter(db, cache, cfg, imports, queue, logger)
	s.token = s.sign("admin")
}

func (s *RouterTestSuite) TearDownTest() {
	s.stopHub()
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}

func (s *RouterTestSuite) sign(role string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.AdminClaims{
		Role:             role,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ops@example.com"},
	})
	signed, err := token.SignedString([]byte(testSecret))
	s.Require().NoError(err)
	return signed
}

func (s *RouterTestSuite) do(method, path string, body interface{}, token string) (*httptest.ResponseRecorder, envelope) {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func (s *RouterTestSuite) importFixtures() {
	w, env := s.do(http.MethodPost, "/api/v1/admin/import", gin.H{"file_prefix": "fall2025"}, s.token)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.Require().True(env.Success)
}

func (s *RouterTestSuite) TestHealthAndMetrics() {
	w, _ := s.do(http.MethodGet, "/health", nil, "")
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"database":"ok"`)

	w, _ = s.do(http.MethodGet, "/metrics", nil, "")
	s.Equal(http.StatusOK, w.Code)
}

func (s *RouterTestSuite) TestAdminGuard() {
	w, env := s.do(http.MethodGet, "/api/v1/admin/data-quality", nil, "")
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Equal("UNAUTHORIZED", env.Error.Code)

	w, env = s.do(http.MethodGet, "/api/v1/admin/data-quality", nil, s.sign("coach"))
	s.Equal(http.StatusForbidden, w.Code)
	s.Equal("FORBIDDEN", env.Error.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/admin/data-quality", nil, "not-a-jwt")
	s.Equal(http.StatusUnauthorized, w.Code)

	w, env = s.do(http.MethodGet, "/api/v1/admin/data-quality", nil, s.token)
	s.Equal(http.StatusOK, w.Code)
	s.True(env.Success)
}

func (s *RouterTestSuite) TestImportAndBrowse() {
	s.importFixtures()

	w, env := s.do(http.MethodGet, "/api/v1/schools?search=bell", nil, "")
	s.Require().Equal(http.StatusOK, w.Code)
	s.Require().NotNil(env.Meta)
	s.Equal(int64(1), env.Meta.Total)

	w, env = s.do(http.MethodGet, "/api/v1/courses", nil, "")
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal(int64(3), env.Meta.Total)

	w, _ = s.do(http.MethodGet, "/api/v1/races/1/team-scores", nil, "")
	s.Equal(http.StatusOK, w.Code)

	w, env = s.do(http.MethodGet, "/api/v1/races/999", nil, "")
	s.Equal(http.StatusNotFound, w.Code)
	s.Equal("NOT_FOUND", env.Error.Code)

	w, env = s.do(http.MethodGet, "/api/v1/athletes/abc", nil, "")
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal("VALIDATION_ERROR", env.Error.Code)

	w, env = s.do(http.MethodGet, "/api/v1/courses/1/performances?grade=13", nil, "")
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal("VALIDATION_ERROR", env.Error.Code)
}

func (s *RouterTestSuite) TestImportValidation() {
	w, env := s.do(http.MethodPost, "/api/v1/admin/import", gin.H{}, s.token)
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal("VALIDATION_ERROR", env.Error.Code)

	w, env = s.do(http.MethodPost, "/api/v1/admin/import", gin.H{"file_prefix": "partial"}, s.token)
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal("VALIDATION_ERROR", env.Error.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/admin/import", gin.H{"file_prefix": "../etc"}, s.token)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *RouterTestSuite) TestCourseAnomaliesAndExport() {
	s.importFixtures()

	w, env := s.do(http.MethodPost, "/api/v1/admin/course-anomalies", nil, s.token)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var report struct {
		Skipped []json.RawMessage `json:"skipped"`
	}
	s.Require().NoError(json.Unmarshal(env.Data, &report))
	s.Len(report.Skipped, 3)

	w, env = s.do(http.MethodPost, "/api/v1/admin/course-anomalies", gin.H{"min_shared_athletes": 1}, s.token)
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal("VALIDATION_ERROR", env.Error.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/admin/course-anomalies/export?outlier_threshold=2.5", nil, s.token)
	s.Equal(http.StatusOK, w.Code)
	s.Equal(services.XLSXContentType, w.Header().Get("Content-Type"))
	s.Contains(w.Header().Get("Content-Disposition"), "course-anomalies-")

	w, _ = s.do(http.MethodGet, "/api/v1/admin/course-anomalies/export?outlier_threshold=abc", nil, s.token)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *RouterTestSuite) TestAdjustDifficulty() {
	s.importFixtures()

	w, env := s.do(http.MethodPost, "/api/v1/admin/courses/3/difficulty", gin.H{"new_rating": 1.04}, s.token)
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	s.Equal("COMMENT_REQUIRED", env.Error.Code)
	s.Contains(env.Error.Details, "no recommendation")

	w, env = s.do(http.MethodPost, "/api/v1/admin/courses/3/difficulty", gin.H{"new_rating": 1.04, "comment": "   "}, s.token)
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	s.Equal("COMMENT_REQUIRED", env.Error.Code)

	w, env = s.do(http.MethodPost, "/api/v1/admin/courses/3/difficulty", gin.H{"new_rating": 1.04, "comment": "course walk"}, s.token)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var result services.AdjustmentResult
	s.Require().NoError(json.Unmarshal(env.Data, &result))
	s.Equal(1.0, result.OldRating)
	s.Equal(1.04, result.NewRating)
	s.True(result.Override)
	s.Equal("updated", result.Recompute.Status)

	w, env = s.do(http.MethodGet, "/api/v1/admin/courses/3/adjustments", nil, s.token)
	s.Require().Equal(http.StatusOK, w.Code)
	var history []struct {
		AppliedBy string `json:"applied_by"`
	}
	s.Require().NoError(json.Unmarshal(env.Data, &history))
	s.Require().Len(history, 1)
	s.Equal("ops@example.com", history[0].AppliedBy)

	w, _ = s.do(http.MethodPost, "/api/v1/admin/courses/3/difficulty", gin.H{"new_rating": -1}, s.token)
	s.Equal(http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/admin/courses/99/difficulty", gin.H{"new_rating": 1.1, "comment": "x"}, s.token)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *RouterTestSuite) TestScrapeJobs() {
	w, env := s.do(http.MethodPost, "/api/v1/admin/scrape-jobs", gin.H{"meet_athletic_net_id": "4242"}, s.token)
	s.Require().Equal(http.StatusCreated, w.Code)
	var job struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	s.Require().NoError(json.Unmarshal(env.Data, &job))
	s.Equal("pending", job.Status)

	w, _ = s.do(http.MethodPost, "/api/v1/admin/scrape-jobs", gin.H{"meet_athletic_net_id": "4242"}, s.token)
	s.Equal(http.StatusOK, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/admin/scrape-jobs", gin.H{}, s.token)
	s.Equal(http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/admin/scrape-jobs/"+job.ID+"/retry", nil, s.token)
	s.Equal(http.StatusConflict, w.Code)

	w, env = s.do(http.MethodPost, "/api/v1/admin/scrape-jobs/run", nil, s.token)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(string(env.Data), `"processed":true`)

	w, env = s.do(http.MethodGet, "/api/v1/admin/scrape-jobs?status=failed", nil, s.token)
	s.Require().Equal(http.StatusOK, w.Code)
	var jobs []json.RawMessage
	s.Require().NoError(json.Unmarshal(env.Data, &jobs))
	s.Len(jobs, 1)

	w, _ = s.do(http.MethodPost, "/api/v1/admin/scrape-jobs/"+job.ID+"/retry", nil, s.token)
	s.Equal(http.StatusOK, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/admin/scrape-jobs?status=bogus", nil, s.token)
	s.Equal(http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/admin/scrape-jobs/missing", nil, s.token)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *RouterTestSuite) TestScrapeJobEvents() {
	srv := httptest.NewServer(s.router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/admin/scrape-jobs/events"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	s.Require().Error(err)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?access_token="+s.token, nil)
	s.Require().NoError(err)
	defer conn.Close()
	s.Eventually(func() bool { return s.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	w, _ := s.do(http.MethodPost, "/api/v1/admin/scrape-jobs", gin.H{"meet_athletic_net_id": "777"}, s.token)
	s.Require().Equal(http.StatusCreated, w.Code)

	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	var event struct {
		Type string `json:"type"`
		Job  struct {
			MeetAthleticNetID string `json:"meet_athletic_net_id"`
			Status            string `json:"status"`
		} `json:"job"`
	}
	s.Require().NoError(conn.ReadJSON(&event))
	s.Equal("scrape_job_update", event.Type)
	s.Equal("777", event.Job.MeetAthleticNetID)
	s.Equal("pending", event.Job.Status)
}
