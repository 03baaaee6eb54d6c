package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/macantine_backend/config"
	"github.com/mmdatafocus/macantine_backend/geocoding"
	"github.com/mmdatafocus/macantine_backend/metrics"
	"github.com/mmdatafocus/macantine_backend/middlewares"
	"github.com/mmdatafocus/macantine_backend/models"
	"github.com/mmdatafocus/macantine_backend/workflow"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// dependenciesReady reports whether the DB is connected. Redis is optional:
// caching and import locks degrade without it.
func dependenciesReady() bool {
	return config.GetDB() != nil
}

func corsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if config.IsProduction() {
		if allowedOrigins == "" {
			// deny all if not configured in production
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PATCH", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", "x-correlation-id")
	corsConfig.AllowCredentials = true
	return corsConfig
}

// newRouter builds the HTTP API. ready gates every route but /healthz and /metrics.
func newRouter(logger *logrus.Logger, ready func() bool) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		switch c.Request.URL.Path {
		case "/healthz":
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		case "/metrics":
			c.Next()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if !ready() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.Use(cors.New(corsConfig()))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if config.RateLimitEnabled() {
		r.Use(NewRateLimiterFromEnv().RateLimitMiddleware)
	}

	r.Use(middlewares.SessionMiddleware())
	r.Use(middlewares.AuthMiddleware())
	r.Use(middlewares.RequestLogger(logger))
	r.Use(gin.Recovery())

	// public
	r.GET("/canteenStatistics", canteenStatisticsHandler())
	r.GET("/canteenStatistics/export", canteenStatisticsExportHandler())
	r.GET("/canteenLocations", canteenLocationsHandler())
	r.GET("/publishedCanteens", publishedCanteensHandler())
	r.GET("/publishedCanteens/:id", publishedCanteenHandler())

	// managers
	auth := r.Group("/", middlewares.RequireUser())
	auth.POST("/teledeclarations", createTeledeclarationHandler())
	auth.POST("/teledeclarations/:id/cancel", cancelTeledeclarationHandler())
	auth.GET("/teledeclarations/:id/pdf", teledeclarationProofHandler())
	auth.POST("/importDiagnostics", importDiagnosticsHandler(models.NewDiagnosticImporter(geocoding.NewClient())))
	auth.POST("/importPurchases", importPurchasesHandler(models.NewPurchaseImporter()))
	auth.POST("/canteens/:canteenId/diagnostics", createDiagnosticHandler())
	auth.PATCH("/canteens/:canteenId/diagnostics/:id", updateDiagnosticHandler())

	// Ops tooling (staff only): inspect and replay outbox messages.
	ops := r.Group("/internal/ops/outbox", middlewares.RequireUser(), requireStaff())
	ops.GET("/status/:referenceType/:referenceId", outboxStatusHandler())
	ops.POST("/requeue/:referenceType/:referenceId", outboxRequeueHandler())
	ops.POST("/replay", outboxReplayHandler())

	r.NoRoute(customNotFoundHandler)
	return r
}

func main() {
	port := os.Getenv("API_PORT_2")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()
	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: newRouter(logger, dependenciesReady),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running it as a separate job instead.
	if !config.MigrationsSkipped() {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	// Outbox dispatcher publishes declaration and import events after commit.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	if config.PubSubEnabled() {
		go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)
	} else {
		logger.WithFields(logrus.Fields{"field": "outbox"}).Warn("pubsub not configured; outbox messages stay PENDING")
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on port ", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	config.ClosePubSub()
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
