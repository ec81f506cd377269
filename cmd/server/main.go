// Package main is the entry point for the access engine server binary.
// It dispatches three subcommands, serve, migrate, and version, via a simple
// switch on os.Args so the binary's full CLI surface is readable in one place
// without requiring a cobra dependency. The serve command runs auto-migration on
// startup so freshly deployed containers never need a separate migration step.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/propty-os/access-engine/internal/api"
	"github.com/propty-os/access-engine/internal/auth"
	"github.com/propty-os/access-engine/internal/config"
	"github.com/propty-os/access-engine/internal/db"
	"github.com/propty-os/access-engine/internal/db/models"
	"github.com/propty-os/access-engine/internal/db/repositories"
	"github.com/propty-os/access-engine/internal/telemetry"
)

const (
	version = "0.1.0"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	// Parse command from args
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Execute command
	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "version":
		fmt.Printf("Access Engine v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

func serve(cfg *config.Config) error {
	// Initialise structured logger as early as possible so all subsequent log output
	// uses the configured format (json / text) and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	// Set Gin mode
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Validate JWT secret configuration (fails in production if not set)
	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}
	log.Println("JWT secret validated successfully")

	// Debug: Print database configuration (mask password)
	maskedPassword := "****"
	if cfg.Database.Password != "" {
		maskedPassword = cfg.Database.Password[:1] + "****"
	}
	log.Printf("Database config: host=%s, port=%d, user=%s, password=%s, dbname=%s, sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User, maskedPassword,
		cfg.Database.Name, cfg.Database.SSLMode)

	// Connect to database
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	log.Println("Connected to database successfully")

	// Export DB pool statistics to Prometheus
	poolGaugeStop := make(chan struct{})
	defer close(poolGaugeStop)
	telemetry.StartDBPoolGauge(database.DB, 15*time.Second, poolGaugeStop)

	// Run migrations automatically on startup
	log.Println("Running database migrations...")
	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Println("Database migrations completed successfully")

	// First-run bootstrap: default roles plus an invited owner admin for the
	// configured company
	if cfg.Bootstrap.Enabled {
		if err := bootstrap(cfg, database); err != nil {
			log.Printf("Warning: bootstrap failed: %v", err)
		}
	}

	// Start Prometheus metrics endpoint on a dedicated port so it is not reachable
	// through the public API ingress path.
	if cfg.Telemetry.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	// Create router
	router, bgServices := api.NewRouter(cfg, database)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on %s", cfg.Server.GetAddress())
		log.Printf("Base URL: %s", cfg.Server.BaseURL)
		log.Println("Server is ready to accept connections")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Stop background jobs and drain the activity queue
	bgServices.Shutdown()

	log.Println("Server stopped gracefully")
	return nil
}

// bootstrap seeds the configured company with the default role set and, when
// no member with the configured admin email exists yet, invites an admin whose
// invitation token is the configured password (stored bcrypt-hashed, like any
// other invitation).
func bootstrap(cfg *config.Config, database *sqlx.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	roleRepo := repositories.NewRoleRepository(database)
	memberRepo := repositories.NewMemberRepository(database)

	defaults, err := roleRepo.InitializeDefaults(ctx, cfg.Bootstrap.CompanyID)
	if err != nil {
		return fmt.Errorf("initialize default roles: %w", err)
	}
	log.Printf("Bootstrap: %d default roles present for company %s", len(defaults), cfg.Bootstrap.CompanyID)

	var adminRole *models.Role
	for _, role := range defaults {
		if role.Level == models.RoleLevelAdmin {
			adminRole = role
			break
		}
	}
	if adminRole == nil {
		return fmt.Errorf("no admin-level default role after initialization")
	}

	existing, err := memberRepo.GetByEmail(ctx, cfg.Bootstrap.CompanyID, cfg.Bootstrap.AdminEmail)
	if err != nil {
		return fmt.Errorf("look up bootstrap admin: %w", err)
	}
	if existing != nil {
		log.Printf("Bootstrap: admin %s already exists, skipping", cfg.Bootstrap.AdminEmail)
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Bootstrap.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash bootstrap credential: %w", err)
	}
	tokenHash := string(hash)
	expires := time.Now().Add(7 * 24 * time.Hour)

	admin := &models.TeamMember{
		CompanyID:       cfg.Bootstrap.CompanyID,
		FirstName:       "Owner",
		LastName:        "Admin",
		Email:           cfg.Bootstrap.AdminEmail,
		RoleID:          adminRole.ID,
		InviteTokenHash: &tokenHash,
		InviteExpiresAt: &expires,
	}
	if err := memberRepo.Invite(ctx, admin); err != nil {
		return fmt.Errorf("invite bootstrap admin: %w", err)
	}

	log.Printf("Bootstrap: invited admin %s; accept with the configured bootstrap password as the invitation token", cfg.Bootstrap.AdminEmail)
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration %s failed: %w", direction, err)
	}

	log.Printf("Migration %s completed successfully", direction)
	return nil
}
