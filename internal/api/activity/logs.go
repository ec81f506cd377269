// Package activity implements the audit endpoints: log ingestion and search,
// export with archive merge, analytics, risk indicators, alert rules, review
// status and retention policies.
package activity

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/propty-os/access-engine/internal/access"
	"github.com/propty-os/access-engine/internal/activity"
	"github.com/propty-os/access-engine/internal/apperr"
	"github.com/propty-os/access-engine/internal/archive"
	"github.com/propty-os/access-engine/internal/db/models"
	"github.com/propty-os/access-engine/internal/db/repositories"
	"github.com/propty-os/access-engine/internal/middleware"
)

// Handlers holds the activity endpoints' dependencies.
type Handlers struct {
	logs      *repositories.ActivityRepository
	alerts    *repositories.AlertRepository
	retention *repositories.RetentionRepository
	store     archive.Store
	analytics *activity.AnalyticsService
	risk      *activity.RiskScanner
	recorder  access.Recorder
}

// NewHandlers creates the activity handler set. Optional collaborators may be
// nil in tests; handlers that need them check first.
func NewHandlers(
	logs *repositories.ActivityRepository,
	alerts *repositories.AlertRepository,
	retention *repositories.RetentionRepository,
	store archive.Store,
	analytics *activity.AnalyticsService,
	risk *activity.RiskScanner,
	recorder access.Recorder,
) *Handlers {
	return &Handlers{
		logs:      logs,
		alerts:    alerts,
		retention: retention,
		store:     store,
		analytics: analytics,
		risk:      risk,
		recorder:  recorder,
	}
}

func writeError(c *gin.Context, err error) {
	status, code := apperr.HTTPStatus(err)
	body := gin.H{"error": err.Error(), "code": code}
	if status == http.StatusInternalServerError {
		body["error"] = "Internal error"
	}
	c.JSON(status, body)
}

func pageParams(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("itemsPerPage", "50"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 500 {
		perPage = 50
	}
	return page, perPage
}

func envelope(data interface{}, page, perPage, total int) gin.H {
	totalPages := (total + perPage - 1) / perPage
	if totalPages < 1 {
		totalPages = 1
	}
	return gin.H{
		"data": data,
		"pagination": gin.H{
			"currentPage":  page,
			"totalPages":   totalPages,
			"totalItems":   total,
			"itemsPerPage": perPage,
		},
	}
}

type ingestRequest struct {
	Action     models.ActivityAction  `json:"action" binding:"required"`
	EntityType string                 `json:"entityType" binding:"required"`
	EntityID   *string                `json:"entityId"`
	UserName   *string                `json:"userName"`
	Details    map[string]interface{} `json:"details"`
	Severity   models.Severity        `json:"severity"`
}

// IngestHandler accepts one event from a domain service. Fire-and-forget past
// validation: a 202 means the event was queued, not that it is durable.
// POST /api/v1/companies/:companyId/activity-logs
func (h *Handlers) IngestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, companyID, _, _ := middleware.ActorContext(c)

		var req ingestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "code": "VALIDATION_ERROR"})
			return
		}
		if !models.ValidActivityAction(req.Action) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown action", "code": "VALIDATION_ERROR"})
			return
		}
		if req.Severity == "" {
			req.Severity = models.SeverityLow
		}
		if !models.ValidSeverity(req.Severity) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown severity", "code": "VALIDATION_ERROR"})
			return
		}

		if c.GetBool(middleware.ElevatedKey) {
			if req.Details == nil {
				req.Details = map[string]interface{}{}
			}
			req.Details["elevated"] = true
		}

		ip := c.ClientIP()
		session := c.GetString(middleware.RequestIDKey)
		h.recorder.LogActivity(&models.ActivityLog{
			CompanyID:  companyID,
			UserID:     actorID,
			UserName:   req.UserName,
			Action:     req.Action,
			EntityType: req.EntityType,
			EntityID:   req.EntityID,
			Details:    req.Details,
			Severity:   req.Severity,
			IPAddress:  &ip,
			SessionID:  &session,
		})

		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	}
}

// parseFilters reads the search filter set shared by search and export.
func parseFilters(c *gin.Context) (repositories.ActivityFilters, error) {
	filters := repositories.ActivityFilters{
		Search:          c.Query("search"),
		IncludeArchived: c.Query("includeArchived") == "true",
	}
	if v := c.Query("userId"); v != "" {
		filters.UserID = &v
	}
	if v := c.Query("action"); v != "" {
		action := models.ActivityAction(v)
		if !models.ValidActivityAction(action) {
			return filters, apperr.Validation("action", "unknown action")
		}
		filters.Action = &action
	}
	if v := c.Query("entityType"); v != "" {
		filters.EntityType = &v
	}
	if v := c.Query("severity"); v != "" {
		severity := models.Severity(v)
		if !models.ValidSeverity(severity) {
			return filters, apperr.Validation("severity", "unknown severity")
		}
		filters.Severity = &severity
	}
	if v := c.Query("startDate"); v != "" {
		start, err := parseDate(v)
		if err != nil {
			return filters, apperr.Validation("startDate", "must be RFC3339 or YYYY-MM-DD")
		}
		filters.StartDate = &start
	}
	if v := c.Query("endDate"); v != "" {
		end, err := parseDate(v)
		if err != nil {
			return filters, apperr.Validation("endDate", "must be RFC3339 or YYYY-MM-DD")
		}
		filters.EndDate = &end
	}
	return filters, nil
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

// SearchHandler runs a filtered search and returns the page plus the summary
// whose breakdowns each sum to the filtered total.
// GET /api/v1/companies/:companyId/activity-logs
func (h *Handlers) SearchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, _, _ := middleware.ActorContext(c)
		page, perPage := pageParams(c)

		filters, err := parseFilters(c)
		if err != nil {
			writeError(c, err)
			return
		}

		logs, summary, err := h.logs.Search(c.Request.Context(), companyID, filters, perPage, (page-1)*perPage)
		if err != nil {
			writeError(c, err)
			return
		}

		body := envelope(logs, page, perPage, summary.Total)
		body["summary"] = summary
		c.JSON(http.StatusOK, body)
	}
}

type reviewRequest struct {
	State models.ReviewState `json:"state" binding:"required"`
	Notes *string            `json:"notes"`
}

// ReviewHandler attaches or updates the mutable triage record for one event.
// The event row itself is never touched.
// PATCH /api/v1/companies/:companyId/activity-logs/:id/review
func (h *Handlers) ReviewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, companyID, _, _ := middleware.ActorContext(c)

		var req reviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "code": "VALIDATION_ERROR"})
			return
		}
		if !models.ValidReviewState(req.State) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown review state", "code": "VALIDATION_ERROR"})
			return
		}

		logID := c.Param("id")
		ev, err := h.logs.GetByID(c.Request.Context(), companyID, logID)
		if err != nil {
			writeError(c, err)
			return
		}
		if ev == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Activity log not found", "code": "NOT_FOUND"})
			return
		}

		review := &models.ReviewStatus{
			LogID:      logID,
			CompanyID:  companyID,
			State:      req.State,
			ReviewedBy: &actorID,
			Notes:      req.Notes,
		}
		if err := h.logs.UpsertReview(c.Request.Context(), review); err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"review": review})
	}
}
