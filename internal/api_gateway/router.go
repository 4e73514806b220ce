package api_gateway

import (
	"log/slog"

	"github.com/escrow-invite-ledger/internal/api_gateway/handler"
	"github.com/escrow-invite-ledger/internal/api_gateway/middleware"
	"github.com/escrow-invite-ledger/internal/platform/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRouter configures API routes and middleware for the application
func setupRouter(
	logger *slog.Logger,
	r *gin.Engine,
	accountHandler *handler.AccountHandler,
	transferHandler *handler.TransferHandler,
	tokens middleware.TokenParser,
	limiter middleware.Limiter,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
	probes map[string]Probe,
) {
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics(m))

	// API v1 endpoints
	v1 := r.Group("/api/v1")
	{
		// Registration is the only unauthenticated call
		v1.POST("/accounts", accountHandler.Create)

		authed := v1.Group("", middleware.Auth(tokens, logger))

		accounts := authed.Group("/accounts")
		{
			accounts.GET("/:id", accountHandler.GetByID)
			accounts.GET("/:id/entries", accountHandler.History)
		}

		transfers := authed.Group("/transfers")
		{
			transfers.POST("", transferHandler.Create)
			transfers.GET("/sent", transferHandler.ListSent)
			transfers.GET("/received", transferHandler.ListReceived)
			transfers.POST("/open", transferHandler.OpenByToken)
			transfers.GET("/:id", transferHandler.Get)
			transfers.GET("/:id/entries", transferHandler.Entries)
			transfers.POST("/:id/open", transferHandler.Open)

			// Token guessing is bounded per account
			limited := transfers.Group("", middleware.RateLimit(limiter, m, logger))
			limited.POST("/accept", transferHandler.Accept)
			limited.POST("/decline", transferHandler.DeclineByToken)
			limited.POST("/:id/decline", transferHandler.Decline)
		}
	}

	r.GET("/health", healthHandler(probes))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
