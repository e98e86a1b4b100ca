package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/stitts-dev/xc-results/internal/services"
	"github.com/stitts-dev/xc-results/pkg/utils"
)

// PageHandler serves the public result pages.
type PageHandler struct {
	pages *services.PageService
}

func NewPageHandler(pages *services.PageService) *PageHandler {
	return &PageHandler{pages: pages}
}

// ListSchools returns schools, optionally filtered by name
func (h *PageHandler) ListSchools(c *gin.Context) {
	params := listParams(c)
	schools, total, err := h.pages.ListSchools(c.Request.Context(), params)
	if err != nil {
		sendServiceError(c, err, "Failed to fetch schools")
		return
	}
	utils.SendSuccessWithMeta(c, schools, utils.NewMeta(params.Page, params.PerPage, total))
}

func (h *PageHandler) GetSchool(c *gin.Context) {
	id, ok := parseID(c, "school")
	if !ok {
		return
	}
	school, err := h.pages.GetSchool(c.Request.Context(), id)
	if err != nil {
		sendServiceError(c, err, "Failed to fetch school")
		return
	}
	utils.SendSuccess(c, school)
}

// ListCourses returns courses with their venues
func (h *PageHandler) ListCourses(c *gin.Context) {
	params := listParams(c)
	courses, total, err := h.pages.ListCourses(c.Request.Context(), params)
	if err != nil {
		sendServiceError(c, err, "Failed to fetch courses")
		return
	}
	utils.SendSuccessWithMeta(c, courses, utils.NewMeta(params.Page, params.PerPage, total))
}

func (h *PageHandler) GetCourse(c *gin.Context) {
	id, ok := parseID(c, "course")
	if !ok {
		return
	}
	course, err := h.pages.GetCourse(c.Request.Context(), id)
	if err != nil {
		sendServiceError(c, err, "Failed to fetch course")
		return
	}
	utils.SendSuccess(c, course)
}

// GetCoursePerformances returns the fastest results on a course
func (h *PageHandler) GetCoursePerformances(c *gin.Context) {
	id, ok := parseID(c, "course")
	if !ok {
		return
	}

	var filter services.PerformanceFilter
	if v := c.Query("grade"); v != "" {
		grade, err := strconv.Atoi(v)
		if err != nil {
			utils.SendValidationError(c, "Invalid grade", err.Error())
			return
		}
		filter.Grade = grade
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			utils.SendValidationError(c, "Invalid limit", v)
			return
		}
		filter.Limit = limit
	}
	filter.Gender = c.Query("gender")

	performances, err := h.pages.CoursePerformances(c.Request.Context(), id, filter)
	if err != nil {
		sendServiceError(c, err, "Failed to fetch performances")
		return
	}
	utils.SendSuccess(c, performances)
}

// ListMeets returns meets, newest first
func (h *PageHandler) ListMeets(c *gin.Context) {
	params := listParams(c)
	season, _ := strconv.Atoi(c.Query("season_year"))
	meets, total, err := h.pages.ListMeets(c.Request.Context(), params, season)
	if err != nil {
		sendServiceError(c, err, "Failed to fetch meets")
		return
	}
	utils.SendSuccessWithMeta(c, meets, utils.NewMeta(params.Page, params.PerPage, total))
}

func (h *PageHandler) GetMeet(c *gin.Context) {
	id, ok := parseID(c, "meet")
	if !ok {
		return
	}
	meet, err := h.pages.GetMeet(c.Request.Context(), id)
	if err != nil {
		sendServiceError(c, err, "Failed to fetch meet")
		return
	}
	utils.SendSuccess(c, meet)
}

func (h *PageHandler) GetRace(c *gin.Context) {
	id, ok := parseID(c, "race")
	if !ok {
		return
	}
	race, err := h.pages.GetRace(c.Request.Context(), id)
	if err != nil {
		sendServiceError(c, err, "Failed to fetch race")
		return
	}
	utils.SendSuccess(c, race)
}

// GetRaceTeamScores returns team scoring for a race
func (h *PageHandler) GetRaceTeamScores(c *gin.Context) {
	id, ok := parseID(c, "race")
	if !ok {
		return
	}
	scores, err := h.pages.TeamScores(c.Request.Context(), id)
	if err != nil {
		sendServiceError(c, err, "Failed to score race")
		return
	}
	utils.SendSuccess(c, scores)
}

func (h *PageHandler) GetAthlete(c *gin.Context) {
	id, ok := parseID(c, "athlete")
	if !ok {
		return
	}
	athlete, err := h.pages.GetAthlete(c.Request.Context(), id)
	if err != nil {
		sendServiceError(c, err, "Failed to fetch athlete")
		return
	}
	utils.SendSuccess(c, athlete)
}
