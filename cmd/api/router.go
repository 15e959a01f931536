package main

import (
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/sjperalta/cropcoef-api/internal/config"
	"github.com/sjperalta/cropcoef-api/internal/handlers"
	"github.com/sjperalta/cropcoef-api/internal/middleware"
)

func setupRouter(h *handlers.Handlers, cfg *config.Config) *gin.Engine {
	router := gin.New()

	if cfg.SentryDSN != "" {
		router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	router.Use(gin.Recovery())
	if cfg.OTelEnabled {
		router.Use(otelgin.Middleware(cfg.OTelServiceLabel))
	}
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	v1 := router.Group("/api/v1")
	{
		// Health check (public)
		v1.GET("/health", h.Health.Index)

		protected := v1.Group("")
		protected.Use(middleware.Auth(cfg.JWTSecret), middleware.OperationTimeout(cfg.OperationTimeout))
		{
			// Any authenticated actor may submit, edit and read
			protected.POST("/proposals", h.Proposal.Create)
			protected.GET("/proposals/:id", h.Proposal.Show)
			protected.PATCH("/proposals/:id", h.Proposal.Update)
			protected.GET("/proposals/:id/history", h.Proposal.History)
			protected.GET("/proposals/:id/history.xlsx", h.Proposal.HistoryXLSX)
			protected.GET("/proposals/:id/history.pdf", h.Proposal.HistoryPDF)
			protected.GET("/proposals/:id/history/:entry_id/state", h.Proposal.State)

			// Decisions are reserved to reviewers
			reviewer := protected.Group("")
			reviewer.Use(middleware.RequireReviewer())
			{
				reviewer.POST("/proposals/:id/approve", h.Proposal.Approve)
				reviewer.POST("/proposals/:id/reject", h.Proposal.Reject)
				reviewer.POST("/proposals/:id/revert", h.Proposal.Revert)
				reviewer.DELETE("/proposals/:id", h.Proposal.Delete)
				reviewer.GET("/jobs/status", h.Job.Status)
			}
		}
	}

	return router
}
