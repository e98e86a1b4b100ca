package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/xc-results/internal/anomaly"
	"github.com/stitts-dev/xc-results/internal/importer"
	"github.com/stitts-dev/xc-results/internal/models"
	"github.com/stitts-dev/xc-results/internal/normalize"
	"github.com/stitts-dev/xc-results/internal/services"
	"github.com/stitts-dev/xc-results/pkg/utils"
)

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		utils.SendValidationError(c, "Invalid "+name+" ID", c.Param("id"))
		return 0, false
	}
	return uint(id), true
}

func listParams(c *gin.Context) services.ListParams {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(services.DefaultPerPage)))
	return services.ListParams{Page: page, PerPage: perPage, Search: c.Query("search")}.Normalized()
}

// analysisQuery reads detector options from the query string. Missing values
// fall back to the defaults.
func analysisQuery(c *gin.Context) (services.AnalysisRequest, error) {
	var req services.AnalysisRequest
	var errs []error
	if v := c.Query("min_shared_athletes"); v != "" {
		n, err := strconv.Atoi(v)
		errs = append(errs, err)
		req.MinSharedAthletes = n
	}
	if v := c.Query("outlier_threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		errs = append(errs, err)
		req.OutlierThreshold = f
	}
	if v := c.Query("improvement_sec_per_mile_week"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		errs = append(errs, err)
		req.ImprovementSecPerMileWeek = &f
	}
	if v := c.Query("season_year"); v != "" {
		n, err := strconv.Atoi(v)
		errs = append(errs, err)
		req.SeasonYear = n
	}
	return req, errors.Join(errs...)
}

// sendServiceError maps domain errors onto the response envelope.
func sendServiceError(c *gin.Context, err error, fallback string) {
	sendServiceErrorCode(c, err, utils.ErrCodeInternal, fallback)
}

// sendServiceErrorCode is sendServiceError with the code reported for
// unexpected failures.
func sendServiceErrorCode(c *gin.Context, err error, code, fallback string) {
	var commentErr *services.CommentRequiredError
	switch {
	case errors.As(err, &commentErr):
		utils.SendCommentRequired(c, strings.Join(commentErr.Reasons, "; "))
	case errors.Is(err, utils.ErrNotFound):
		utils.SendNotFound(c, capitalize(err.Error()))
	case errors.Is(err, utils.ErrInvalidInput),
		errors.Is(err, anomaly.ErrInvalidOptions),
		errors.Is(err, anomaly.ErrNoCourses),
		errors.Is(err, normalize.ErrInvalidRating),
		errors.Is(err, importer.ErrInvalidPrefix),
		errors.Is(err, importer.ErrMissingFile),
		errors.Is(err, importer.ErrMissingHeader):
		utils.SendValidationError(c, fallback, err.Error())
	case errors.Is(err, models.ErrInvalidTransition):
		utils.SendConflict(c, err.Error())
	default:
		logrus.WithError(err).WithField("code", code).Error(fallback)
		utils.SendError(c, http.StatusInternalServerError, utils.NewAppError(code, fallback))
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
