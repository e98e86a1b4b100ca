package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name          string
		logLevel      string
		logFormat     string
		isDevelopment bool
		expectedLevel logrus.Level
		expectJSON    bool
	}{
		{
			name:          "production defaults to info json",
			expectedLevel: logrus.InfoLevel,
			expectJSON:    true,
		},
		{
			name:          "development defaults to debug text",
			isDevelopment: true,
			expectedLevel: logrus.DebugLevel,
			expectJSON:    false,
		},
		{
			name:          "development with json format",
			logLevel:      "warn",
			logFormat:     "json",
			isDevelopment: true,
			expectedLevel: logrus.WarnLevel,
			expectJSON:    true,
		},
		{
			name:          "invalid level defaults to info",
			logLevel:      "loud",
			expectedLevel: logrus.InfoLevel,
			expectJSON:    true,
		},
		{
			name:          "case insensitive level",
			logLevel:      "ERROR",
			expectedLevel: logrus.ErrorLevel,
			expectJSON:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", "")
			t.Setenv("LOG_FORMAT", tt.logFormat)
			Logger = nil

			log := InitLogger(tt.logLevel, tt.isDevelopment)

			assert.Equal(t, tt.expectedLevel, log.GetLevel(), "log level mismatch")
			if tt.expectJSON {
				_, ok := log.Formatter.(*logrus.JSONFormatter)
				assert.True(t, ok, "expected JSON formatter")
			} else {
				_, ok := log.Formatter.(*logrus.TextFormatter)
				assert.True(t, ok, "expected text formatter")
			}
		})
	}
}

func TestWithCourseContext(t *testing.T) {
	Logger = nil
	log := InitLogger("debug", false)

	var buf bytes.Buffer
	log.SetOutput(&buf)

	WithCourseContext(42, "Crystal Springs").Info("rating applied")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "output should be valid JSON")

	assert.Equal(t, "rating applied", entry["msg"])
	assert.Equal(t, float64(42), entry["course_id"])
	assert.Equal(t, "Crystal Springs", entry["course_name"])
	assert.Contains(t, entry, "time")
}

func TestWithJobContext(t *testing.T) {
	Logger = nil
	log := InitLogger("info", false)

	var buf bytes.Buffer
	log.SetOutput(&buf)

	WithJobContext("job-1", "12345").Warn("scrape failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "job-1", entry["job_id"])
	assert.Equal(t, "12345", entry["meet_id"])
	assert.Equal(t, "warning", entry["level"])
}

func TestGetLogger(t *testing.T) {
	Logger = nil

	logger1 := GetLogger()
	assert.NotNil(t, logger1)

	logger2 := GetLogger()
	assert.Same(t, logger1, logger2)
}
