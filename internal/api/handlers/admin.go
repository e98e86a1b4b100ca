package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stitts-dev/xc-results/internal/anomaly"
	"github.com/stitts-dev/xc-results/internal/api/middleware"
	"github.com/stitts-dev/xc-results/internal/models"
	"github.com/stitts-dev/xc-results/internal/services"
	"github.com/stitts-dev/xc-results/pkg/utils"
)

// AdminHandler serves the results administrators' endpoints.
type AdminHandler struct {
	imports     *services.ImportService
	analysis    *services.AnalysisService
	calibration *services.CalibrationService
	quality     *services.DataQualityService
	queue       *services.ScrapeQueue
}

func NewAdminHandler(
	imports *services.ImportService,
	analysis *services.AnalysisService,
	calibration *services.CalibrationService,
	quality *services.DataQualityService,
	queue *services.ScrapeQueue,
) *AdminHandler {
	return &AdminHandler{
		imports:     imports,
		analysis:    analysis,
		calibration: calibration,
		quality:     quality,
		queue:       queue,
	}
}

// ImportRequest names the CSV batch to import.
type ImportRequest struct {
	FilePrefix string `json:"file_prefix" binding:"required"`
}

// DifficultyRequest is the body of a rating adjustment.
type DifficultyRequest struct {
	NewRating float64 `json:"new_rating" binding:"required,gt=0"`
	Comment   string  `json:"comment" binding:"max=2000"`
	services.AnalysisRequest
}

// EnqueueRequest asks for one meet to be scraped.
type EnqueueRequest struct {
	MeetAthleticNetID string `json:"meet_athletic_net_id" binding:"required,max=50"`
}

// Import reads the seven CSV files for a prefix and upserts them
func (h *AdminHandler) Import(c *gin.Context) {
	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, "Invalid import request", err.Error())
		return
	}

	summary, err := h.imports.ImportPrefix(c.Request.Context(), req.FilePrefix)
	if err != nil {
		sendServiceErrorCode(c, err, utils.ErrCodeImport, "Import failed")
		return
	}
	utils.SendSuccess(c, summary)
}

// AnalyzeCourses runs the course anomaly detector
func (h *AdminHandler) AnalyzeCourses(c *gin.Context) {
	var req services.AnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.SendValidationError(c, "Invalid analysis request", err.Error())
		return
	}

	report, err := h.analysis.Analyze(c.Request.Context(), req)
	if err != nil {
		sendServiceErrorCode(c, err, utils.ErrCodeAnalysis, "Course analysis failed")
		return
	}
	utils.SendSuccess(c, report)
}

// ExportCourseAnomalies returns the anomaly report as an XLSX workbook
func (h *AdminHandler) ExportCourseAnomalies(c *gin.Context) {
	req, err := analysisQuery(c)
	if err != nil {
		utils.SendValidationError(c, "Invalid analysis parameters", err.Error())
		return
	}

	report, err := h.analysis.Analyze(c.Request.Context(), req)
	if err != nil {
		sendServiceErrorCode(c, err, utils.ErrCodeAnalysis, "Course analysis failed")
		return
	}
	data, err := services.ExportReport(report)
	if err != nil {
		sendServiceError(c, err, "Failed to build workbook")
		return
	}

	filename := fmt.Sprintf("course-anomalies-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, services.XLSXContentType, data)
}

// AdjustDifficulty applies a new difficulty rating to a course
func (h *AdminHandler) AdjustDifficulty(c *gin.Context) {
	id, ok := parseID(c, "course")
	if !ok {
		return
	}
	var req DifficultyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, "Invalid difficulty adjustment", err.Error())
		return
	}

	result, err := h.calibration.ApplyAdjustment(c.Request.Context(), id, services.AdjustmentRequest{
		NewRating: req.NewRating,
		Comment:   req.Comment,
		AppliedBy: middleware.AdminSubject(c),
		Analysis:  req.AnalysisRequest,
	})
	if err != nil {
		sendServiceError(c, err, "Failed to adjust course difficulty")
		return
	}
	utils.SendSuccess(c, result)
}

// GetAdjustments returns a course's rating history
func (h *AdminHandler) GetAdjustments(c *gin.Context) {
	id, ok := parseID(c, "course")
	if !ok {
		return
	}
	history, err := h.calibration.History(c.Request.Context(), id)
	if err != nil {
		sendServiceError(c, err, "Failed to fetch adjustments")
		return
	}
	utils.SendSuccess(c, history)
}

// RecomputeCourses refreshes every course's derived average
func (h *AdminHandler) RecomputeCourses(c *gin.Context) {
	n, err := h.calibration.RecomputeAll(c.Request.Context())
	if err != nil {
		sendServiceError(c, err, "Failed to recompute courses")
		return
	}
	utils.SendSuccess(c, gin.H{"courses_recomputed": n})
}

func (h *AdminHandler) DataQuality(c *gin.Context) {
	report, err := h.quality.Report(c.Request.Context())
	if err != nil {
		sendServiceError(c, err, "Failed to build data quality report")
		return
	}
	utils.SendSuccess(c, report)
}

// EnqueueScrape queues a meet for scraping
func (h *AdminHandler) EnqueueScrape(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, "Invalid scrape request", err.Error())
		return
	}

	job, created, err := h.queue.Enqueue(c.Request.Context(), req.MeetAthleticNetID)
	if err != nil {
		sendServiceError(c, err, "Failed to queue scrape job")
		return
	}
	if created {
		utils.SendCreated(c, job)
		return
	}
	utils.SendSuccess(c, job)
}

func (h *AdminHandler) ListScrapeJobs(c *gin.Context) {
	status := models.ScrapeStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		utils.SendValidationError(c, "Invalid status", string(status))
		return
	}
	jobs, err := h.queue.List(c.Request.Context(), status)
	if err != nil {
		sendServiceError(c, err, "Failed to fetch scrape jobs")
		return
	}
	utils.SendSuccess(c, jobs)
}

func (h *AdminHandler) GetScrapeJob(c *gin.Context) {
	job, err := h.queue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		sendServiceError(c, err, "Failed to fetch scrape job")
		return
	}
	utils.SendSuccess(c, job)
}

func (h *AdminHandler) RetryScrapeJob(c *gin.Context) {
	job, err := h.queue.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		sendServiceError(c, err, "Failed to retry scrape job")
		return
	}
	utils.SendSuccess(c, job)
}

// RunScrapeQueue processes the next pending job now
func (h *AdminHandler) RunScrapeQueue(c *gin.Context) {
	recovered, err := h.queue.RecoverStale(c.Request.Context())
	if err != nil {
		sendServiceError(c, err, "Failed to recover stale scrape jobs")
		return
	}
	job, err := h.queue.ProcessNext(c.Request.Context())
	if err != nil {
		sendServiceError(c, err, "Failed to run scrape job")
		return
	}
	if job == nil {
		utils.SendSuccess(c, gin.H{"processed": false, "recovered": recovered})
		return
	}
	utils.SendSuccess(c, gin.H{"processed": true, "recovered": recovered, "job": job})
}

// DefaultAnalysisOptions exposes the detector defaults to the admin UI.
func (h *AdminHandler) DefaultAnalysisOptions(c *gin.Context) {
	utils.SendSuccess(c, anomaly.DefaultOptions())
}
