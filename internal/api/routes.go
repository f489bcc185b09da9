package api

import (
	"log"

	"github.com/chessdao/backend/internal/accounts"
	"github.com/chessdao/backend/internal/admin"
	"github.com/chessdao/backend/internal/api/handlers"
	"github.com/chessdao/backend/internal/config"
	"github.com/chessdao/backend/internal/dispatch"
	"github.com/chessdao/backend/internal/escrow"
	"github.com/chessdao/backend/internal/exchange"
	"github.com/chessdao/backend/internal/middleware"
	"github.com/chessdao/backend/internal/ws"
	"github.com/gin-gonic/gin"
)

// Deps are the services the HTTP layer serves
type Deps struct {
	Config     *config.Config
	Escrow     *escrow.Service
	Exchange   *exchange.Service
	Ledger     *accounts.Ledger
	Dispatcher *dispatch.Dispatcher
	Hub        *ws.Hub
	// Admin is nil when no database is configured; admin routes are then not mounted
	Admin handlers.AdminBackend
}

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, d Deps) {
	cfg := d.Config
	router.Use(middleware.CORSMiddleware(cfg))

	if cfg.Environment != "production" {
		router.Use(func(c *gin.Context) {
			c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
			c.Next()
		})
	}

	router.GET("/health", handlers.HealthCheck(cfg.LedgerBackend))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck(cfg.LedgerBackend))
		v1.GET("/swap/rates", handlers.SwapRates(d.Exchange))
		v1.GET("/swap/quote", handlers.SwapQuote(d.Exchange))

		// Spectator stream, read-only
		v1.GET("/games/:id/ws", middleware.WebSocketCORSCheck(cfg), ws.HandleGameStream(d.Hub, d.Escrow.Get))

		// Results reported by the chess-rules layer
		v1.POST("/games/:id/resolve", handlers.RefereeMiddleware(cfg), handlers.ResolveGame(d.Dispatcher))

		authed := v1.Group("", handlers.AuthMiddleware(cfg))
		{
			authed.POST("/games", handlers.CreateGame(d.Dispatcher))
			authed.GET("/games", handlers.ListGames(d.Escrow))
			authed.GET("/games/open", handlers.ListOpenGames(d.Escrow))
			authed.GET("/games/:id", handlers.GetGame(d.Escrow))
			authed.POST("/games/:id/join", handlers.JoinGame(d.Dispatcher))
			authed.POST("/games/:id/cancel", handlers.CancelGame(d.Dispatcher))
			authed.POST("/games/:id/timeout-claim", handlers.ClaimTimeout(d.Dispatcher))

			authed.GET("/balance", handlers.GetBalance(d.Ledger, d.Exchange))
			authed.POST("/swap", handlers.Swap(d.Dispatcher))
			authed.GET("/swap/history", handlers.SwapHistory(d.Exchange))
		}

		if d.Admin == nil {
			log.Println("[API] No admin directory configured, admin routes disabled")
			return
		}
		adm := v1.Group("/admin")
		{
			adm.POST("/reconcile", handlers.AdminMiddleware(d.Admin, admin.RoleOperator), handlers.AdminReconcile(d.Admin, d.Escrow, d.Exchange))
			adm.POST("/deposit", handlers.AdminMiddleware(d.Admin, admin.RoleOperator), handlers.AdminDeposit(d.Admin, d.Ledger))
			adm.GET("/audit", handlers.AdminMiddleware(d.Admin, admin.RoleOperator, admin.RoleAuditor), handlers.AdminAuditLogs(d.Admin))
		}
	}
}
