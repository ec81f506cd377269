// Package api wires together all HTTP routes for the access engine.
//
// Route grouping philosophy:
//   - Everything business-facing lives under /api/v1/companies/:companyId and
//     requires a bearer token whose company claim matches the path. Tenant
//     scoping is therefore enforced twice: once by the middleware, once by
//     every repository query.
//   - The invitation-accept route is the single unauthenticated business
//     endpoint. The invitee has no token yet; the invitation token itself is
//     the proof of identity.
//   - /health, /ready and /version are unauthenticated operational endpoints.
package api

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/propty-os/access-engine/internal/access"
	"github.com/propty-os/access-engine/internal/activity"
	activityapi "github.com/propty-os/access-engine/internal/api/activity"
	"github.com/propty-os/access-engine/internal/api/members"
	"github.com/propty-os/access-engine/internal/api/roles"
	"github.com/propty-os/access-engine/internal/archive"
	"github.com/propty-os/access-engine/internal/config"
	"github.com/propty-os/access-engine/internal/db/models"
	"github.com/propty-os/access-engine/internal/db/repositories"
	"github.com/propty-os/access-engine/internal/jobs"
	"github.com/propty-os/access-engine/internal/middleware"
)

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	retentionJob *jobs.RetentionJob
	rearmJob     *jobs.AlertRearmJob
	recorder     *activity.Recorder
	edgeLimiter  *middleware.EdgeLimiter
	localLimiter *access.LocalLimiter
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first. The
// recorder is closed last so events emitted by the jobs' final sweeps are still
// flushed.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.retentionJob != nil {
		bg.retentionJob.Stop()
	}
	if bg.rearmJob != nil {
		bg.rearmJob.Stop()
	}
	if bg.edgeLimiter != nil {
		bg.edgeLimiter.Stop()
	}
	if bg.localLimiter != nil {
		bg.localLimiter.Stop()
	}
	if bg.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := bg.recorder.Close(ctx); err != nil {
			slog.Error("activity recorder did not drain", slog.String("error", err.Error()))
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg *config.Config, db *sqlx.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Repositories
	roleRepo := repositories.NewRoleRepository(db)
	memberRepo := repositories.NewMemberRepository(db)
	activityRepo := repositories.NewActivityRepository(db)
	alertRepo := repositories.NewAlertRepository(db)
	retentionRepo := repositories.NewRetentionRepository(db)

	// Archive store for the retention job and export endpoints
	store, err := archive.New(cfg.Archive)
	if err != nil {
		log.Fatalf("Failed to initialize archive store: %v", err)
	}
	log.Printf("Initialized archive backend: %s", cfg.Archive.Backend)

	// Activity pipeline: bounded queue in front of the activity table, with
	// alert evaluation on the consumer side
	evaluator := activity.NewAlertEvaluator(alertRepo, activityRepo, slog.Default())
	recorder := activity.NewRecorder(
		activityRepo,
		evaluator,
		cfg.Activity.QueueSize,
		cfg.Activity.FlushTimeout,
		slog.Default(),
	)

	// Per-actor budget on permission checks. Redis keeps the budget shared
	// across replicas; the local bucket is the single-process fallback.
	var limiter access.CheckLimiter
	var localLimiter *access.LocalLimiter
	if cfg.Access.ChecksPerMinute > 0 {
		if cfg.Redis.Addr != "" {
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			limiter = access.NewRedisLimiter(client, cfg.Access.ChecksPerMinute)
			log.Printf("Permission check limiter: redis (%s)", cfg.Redis.Addr)
		} else {
			localLimiter = access.NewLocalLimiter(cfg.Access.ChecksPerMinute)
			limiter = localLimiter
			log.Println("Permission check limiter: in-process (no redis configured)")
		}
	}

	engine := access.NewEngine(roleRepo, recorder, limiter, cfg.Access.SensitiveModuleSet(), cfg.Access.DenyTraceSeveritySet(), slog.Default())

	analytics := activity.NewAnalyticsService(activityRepo)
	risk := activity.NewRiskScanner(activityRepo, alertRepo, cfg.Access.SensitiveModules, slog.Default())

	// Background jobs
	retentionJob := jobs.NewRetentionJob(retentionRepo, activityRepo, store, cfg.Activity.RetentionCron, slog.Default())
	if err := retentionJob.Start(); err != nil {
		log.Fatalf("Failed to start retention job: %v", err)
	}
	log.Printf("Retention job started (schedule %q)", cfg.Activity.RetentionCron)

	rearmJob := jobs.NewAlertRearmJob(alertRepo, cfg.Activity.AlertRearmInterval, slog.Default())
	rearmJob.Start()
	log.Printf("Alert re-arm sweep started (every %s)", cfg.Activity.AlertRearmInterval)

	// Handlers
	rolesHandlers := roles.NewHandlers(roleRepo, recorder)
	memberHandlers := members.NewHandlers(memberRepo, recorder)
	activityHandlers := activityapi.NewHandlers(activityRepo, alertRepo, retentionRepo, store, analytics, risk, recorder)
	accessHandlers := NewAccessHandlers(engine)

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeaders())

	var edgeLimiter *middleware.EdgeLimiter
	if cfg.Security.RateLimiting.Enabled {
		edgeLimiter = middleware.NewEdgeLimiter(middleware.EdgeLimiterConfigFrom(cfg.Security.RateLimiting))
	}

	// Operational endpoints
	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db))
	router.GET("/version", versionHandler())

	api := router.Group("/api/v1")

	// Invitation acceptance is pre-authentication: the invitee proves identity
	// with the invitation token, not a bearer token. IP-keyed rate limiting
	// still applies.
	accept := []gin.HandlerFunc{}
	if edgeLimiter != nil {
		accept = append(accept, middleware.EdgeRateLimit(edgeLimiter))
	}
	accept = append(accept, memberHandlers.AcceptHandler())
	api.POST("/companies/:companyId/members/:id/accept", accept...)

	authed := api.Group("/companies/:companyId")
	authed.Use(middleware.AuthMiddleware())
	authed.Use(middleware.RequireCompanyParam())
	if edgeLimiter != nil {
		// After AuthMiddleware so buckets key on the actor, not the IP
		authed.Use(middleware.EdgeRateLimit(edgeLimiter))
	}

	settingsView := middleware.RequirePermission(engine, models.ModuleSettings, models.ActionView)
	settingsCreate := middleware.RequirePermission(engine, models.ModuleSettings, models.ActionCreate)
	settingsEdit := middleware.RequirePermission(engine, models.ModuleSettings, models.ActionEdit)
	settingsDelete := middleware.RequirePermission(engine, models.ModuleSettings, models.ActionDelete)
	reportsView := middleware.RequirePermission(engine, models.ModuleReports, models.ActionView)
	reportsCreate := middleware.RequirePermission(engine, models.ModuleReports, models.ActionCreate)
	reportsEdit := middleware.RequirePermission(engine, models.ModuleReports, models.ActionEdit)

	// Role management
	rolesGroup := authed.Group("/roles")
	{
		rolesGroup.GET("", settingsView, rolesHandlers.ListHandler())
		rolesGroup.POST("", settingsCreate, rolesHandlers.CreateHandler())
		rolesGroup.POST("/initialize-defaults", settingsCreate, rolesHandlers.InitializeDefaultsHandler())
		rolesGroup.GET("/export", settingsView, rolesHandlers.ExportHandler())
		rolesGroup.GET("/:id", settingsView, rolesHandlers.GetHandler())
		rolesGroup.PATCH("/:id", settingsEdit, rolesHandlers.UpdateHandler())
		rolesGroup.DELETE("/:id", settingsDelete, rolesHandlers.DeleteHandler())
		rolesGroup.PATCH("/:id/permissions", settingsEdit, rolesHandlers.MergePermissionsHandler())
		rolesGroup.POST("/:id/duplicate", settingsCreate, rolesHandlers.DuplicateHandler())
		rolesGroup.GET("/:id/usage", settingsView, rolesHandlers.UsageHandler())
	}

	// Team membership
	membersGroup := authed.Group("/members")
	{
		membersGroup.GET("", settingsView, memberHandlers.ListHandler())
		membersGroup.POST("/invite", settingsCreate, memberHandlers.InviteHandler())
		membersGroup.POST("/bulk", settingsEdit, memberHandlers.BulkHandler())
		membersGroup.GET("/:id", settingsView, memberHandlers.GetHandler())
		membersGroup.DELETE("/:id", settingsDelete, memberHandlers.DeleteHandler())
		membersGroup.POST("/:id/resend", settingsEdit, memberHandlers.ResendHandler())
		membersGroup.PATCH("/:id/status", settingsEdit, memberHandlers.UpdateStatusHandler())
		membersGroup.POST("/:id/role", settingsEdit, memberHandlers.ChangeRoleHandler())
		membersGroup.GET("/:id/role-history", settingsView, memberHandlers.RoleHistoryHandler())
	}

	// Activity log and analytics
	logsGroup := authed.Group("/activity-logs")
	{
		logsGroup.POST("", reportsCreate, activityHandlers.IngestHandler())
		logsGroup.GET("", reportsView, activityHandlers.SearchHandler())
		logsGroup.GET("/export", reportsView, activityHandlers.ExportHandler())
		logsGroup.GET("/analytics", reportsView, activityHandlers.AnalyticsHandler())
		logsGroup.GET("/risk-indicators", reportsView, activityHandlers.RiskIndicatorsHandler())
		logsGroup.POST("/risk-indicators/:indicatorId/acknowledge", reportsEdit, activityHandlers.AcknowledgeRiskHandler())
		logsGroup.PATCH("/:id/review", reportsEdit, activityHandlers.ReviewHandler())
	}

	// Alert and retention configuration is settings territory, not reports
	alertsGroup := authed.Group("/activity-alerts")
	{
		alertsGroup.GET("", settingsView, activityHandlers.ListAlertsHandler())
		alertsGroup.POST("", settingsCreate, activityHandlers.CreateAlertHandler())
		alertsGroup.PATCH("/:id", settingsEdit, activityHandlers.UpdateAlertHandler())
		alertsGroup.DELETE("/:id", settingsDelete, activityHandlers.DeleteAlertHandler())
	}

	retentionGroup := authed.Group("/retention-policies")
	{
		retentionGroup.GET("", settingsView, activityHandlers.ListPoliciesHandler())
		retentionGroup.POST("", settingsCreate, activityHandlers.CreatePolicyHandler())
		retentionGroup.PATCH("/:id", settingsEdit, activityHandlers.UpdatePolicyHandler())
		retentionGroup.DELETE("/:id", settingsDelete, activityHandlers.DeletePolicyHandler())
	}

	// Permission introspection needs no gate: any authenticated actor may ask
	// what it can do
	accessGroup := authed.Group("/access")
	{
		accessGroup.POST("/validate", accessHandlers.ValidateHandler())
		accessGroup.GET("/my-permissions", accessHandlers.MyPermissionsHandler())
		accessGroup.GET("/accessible-modules", accessHandlers.AccessibleModulesHandler())
	}

	bg := &BackgroundServices{
		retentionJob: retentionJob,
		rearmJob:     rearmJob,
		recorder:     recorder,
		edgeLimiter:  edgeLimiter,
		localLimiter: localLimiter,
	}
	return router, bg
}

// healthCheckHandler reports process liveness plus database reachability.
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns the readiness status of the service. Kept separate
// from /health so orchestration can distinguish "restart me" from "stop
// routing to me".
func readinessHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
