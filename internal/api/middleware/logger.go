package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// resourceFields names the log field for the :id segment of each resource.
var resourceFields = map[string]string{
	"athletes":    "athlete_id",
	"courses":     "course_id",
	"meets":       "meet_id",
	"races":       "race_id",
	"schools":     "school_id",
	"scrape-jobs": "job_id",
}

// RequestLogger logs one line per request, tagged with the route template
// and the id of the resource it addressed.
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		status := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"route":     route,
			"status":    status,
			"latency":   time.Since(start),
			"client_ip": c.ClientIP(),
		})
		if field, id := resourceID(route, c.Param("id")); field != "" {
			entry = entry.WithField(field, id)
		}
		if subject, ok := c.Get(ContextAdminSubject); ok {
			entry = entry.WithField("admin", subject)
		}
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			entry.Error("Request failed")
		case status >= 400:
			entry.Warn("Request rejected")
		case route == "/health" || route == "/metrics":
			entry.Debug("Request completed")
		default:
			entry.Info("Request completed")
		}
	}
}

func resourceID(route, id string) (string, string) {
	if id == "" {
		return "", ""
	}
	segments := strings.Split(route, "/")
	for i := 1; i < len(segments); i++ {
		if segments[i] == ":id" {
			return resourceFields[segments[i-1]], id
		}
	}
	return "", ""
}
