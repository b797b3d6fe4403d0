// internal/router/router.go
package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/javajoker/license-backend/internal/config"
	"github.com/javajoker/license-backend/internal/handlers"
	"github.com/javajoker/license-backend/internal/metrics"
	"github.com/javajoker/license-backend/internal/middleware"
	"github.com/javajoker/license-backend/internal/services"
	"github.com/javajoker/license-backend/internal/utils"
)

// Options carries what the router needs. DB and Gatherer are optional; without
// a DB the admin routes and the audit trail are not mounted.
type Options struct {
	Config   *config.Config
	Services *services.Services
	DB       *gorm.DB
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   *logrus.Logger
}

// Initialize builds the engine. ctx bounds background maintenance such as
// rate limiter eviction.
func Initialize(ctx context.Context, opts Options) *gin.Engine {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	// Initialize handlers
	licenseHandler := handlers.NewLicenseHandler(opts.Services)
	verificationHandler := handlers.NewVerificationHandler(opts.Services)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)
	utils.SetJWTIssuer(cfg.JWT.Issuer)

	publicLimiter := middleware.NewRateLimiter(rate.Limit(cfg.License.PublicRateLimit), cfg.License.PublicRateBurst)
	go publicLimiter.Run(ctx, time.Minute)

	// Initialize Gin router
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.WithError(err).Warn("Invalid trusted proxies, forwarded headers ignored")
		_ = r.SetTrustedProxies(nil)
	}

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(logger))
	r.Use(cors.New(corsConfig(cfg)))
	r.Use(middleware.I18nMiddleware())
	r.Use(middleware.Metrics(opts.Metrics))
	r.Use(middleware.RequestTimeout(cfg.License.RequestTimeout))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		body := gin.H{"status": "healthy", "version": "1.0.0"}
		if opts.DB != nil {
			if sqlDB, err := opts.DB.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}
		c.JSON(status, body)
	})

	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Client-facing verification routes (public)
		public := v1.Group("")
		public.Use(publicLimiter.Middleware())
		{
			public.POST("/validate", verificationHandler.Validate)
			public.POST("/activate", verificationHandler.Activate)
			public.POST("/features/check", verificationHandler.CheckFeature)
			public.POST("/features/usage", verificationHandler.RecordUsage)
		}

		// License management routes
		licenses := v1.Group("/licenses")
		licenses.Use(middleware.AuthRequired())
		if opts.DB != nil {
			licenses.Use(middleware.AuditLogMiddleware(opts.DB, logger))
		}
		{
			licenses.POST("", licenseHandler.CreateLicense)
			licenses.POST("/bulk", licenseHandler.BulkCreateLicenses)
			licenses.GET("", licenseHandler.ListLicenses)
			licenses.POST("/transfer", licenseHandler.TransferByKey)
			licenses.GET("/:id", licenseHandler.GetLicense)
			licenses.PATCH("/:id", licenseHandler.UpdateLicense)
			licenses.POST("/:id/revoke", licenseHandler.RevokeLicense)
			licenses.POST("/:id/transfer", licenseHandler.TransferLicense)
			licenses.GET("/:id/analytics", licenseHandler.GetAnalytics)
			licenses.POST("/:id/actions/:action", licenseHandler.ApplyAction)
			licenses.POST("/:id/features/:feature/:action", licenseHandler.SetFeatureAccess)
		}

		// Admin routes
		if opts.DB != nil && opts.Services.Admin != nil {
			adminHandler := handlers.NewAdminHandler(opts.Services.Admin)

			admin := v1.Group("/admin")
			admin.Use(middleware.AuthRequired(), middleware.AdminRequired())
			admin.Use(middleware.AuditLogMiddleware(opts.DB, logger))
			{
				admin.GET("/dashboard/stats", adminHandler.GetDashboardStats)
				admin.GET("/licenses", adminHandler.GetLicenses)
				admin.GET("/audit-logs", adminHandler.GetAuditLogs)
				admin.GET("/notifications", adminHandler.GetNotifications)
				admin.PUT("/notifications/:id/read", adminHandler.MarkNotificationRead)
			}
		}
	}

	return r
}

func corsConfig(cfg *config.Config) cors.Config {
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "Accept-Language", "X-Request-ID")
	corsCfg.ExposeHeaders = []string{"Retry-After", "X-Request-ID", "X-Total-Count", "X-Page", "X-Per-Page"}
	if cfg.Environment == "production" && cfg.Frontend.BaseURL != "" {
		corsCfg.AllowOrigins = []string{cfg.Frontend.BaseURL}
	} else {
		corsCfg.AllowAllOrigins = true
	}
	return corsCfg
}
