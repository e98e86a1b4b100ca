package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	router := gin.New()
	router.Use(RequestLogger(logger))
	router.GET("/api/v1/courses/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/api/v1/admin/scrape-jobs/:id/retry", func(c *gin.Context) { c.Status(http.StatusConflict) })
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name      string
		method    string
		path      string
		wantLevel logrus.Level
		wantField string
		wantID    string
	}{
		{name: "course page", method: http.MethodGet, path: "/api/v1/courses/7", wantLevel: logrus.InfoLevel, wantField: "course_id", wantID: "7"},
		{name: "rejected retry", method: http.MethodPost, path: "/api/v1/admin/scrape-jobs/abc/retry", wantLevel: logrus.WarnLevel, wantField: "job_id", wantID: "abc"},
		{name: "health check", method: http.MethodGet, path: "/health", wantLevel: logrus.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook.Reset()
			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))

			entry := hook.LastEntry()
			require.NotNil(t, entry)
			assert.Equal(t, tt.wantLevel, entry.Level)
			if tt.wantField != "" {
				assert.Equal(t, tt.wantID, entry.Data[tt.wantField])
			}
			assert.NotContains(t, entry.Data["route"], "/7")
		})
	}
}
