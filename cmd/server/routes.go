package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custody.backend/internal/interfaces/http/handlers"
	"custody.backend/internal/interfaces/http/middleware"
	"custody.backend/pkg/jwt"
)

type routeDeps struct {
	walletHandler     *handlers.WalletHandler
	depositHandler    *handlers.DepositHandler
	withdrawalHandler *handlers.WithdrawalHandler
	poolHandler       *handlers.PoolHandler
	adminHandler      *handlers.AdminHandler
}

func newRouter(d routeDeps, tokens *jwt.JWTService) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggerMiddleware())

	applyCORSMiddleware(r)
	registerHealthRoute(r)
	registerAPIV1Routes(r, d, middleware.AuthMiddleware(tokens))
	return r
}

func registerAPIV1Routes(r *gin.Engine, d routeDeps, auth gin.HandlerFunc) {
	v1 := r.Group("/api/v1")
	v1.Use(auth)
	{
		wallet := v1.Group("/wallet")
		{
			wallet.POST("", d.walletHandler.EnsureWallet)
			wallet.GET("", d.walletHandler.GetWallet)
			wallet.GET("/ledger", d.walletHandler.ListLedger)
			wallet.PUT("/tx-password", d.walletHandler.SetTxPassword)
		}

		deposits := v1.Group("/deposits")
		{
			deposits.POST("", d.depositHandler.CreateOrder)
			deposits.GET("/:id", d.depositHandler.GetOrder)
		}

		v1.POST("/withdrawals", middleware.IdempotencyMiddleware(), d.withdrawalHandler.Withdraw)

		pools := v1.Group("/pools")
		{
			pools.POST("", d.poolHandler.CreatePool)
			pools.GET("/:id", d.poolHandler.GetPool)
			pools.POST("/:id/fund", middleware.IdempotencyMiddleware(), d.poolHandler.Fund)
			pools.POST("/:id/distribute", d.poolHandler.MarkDistributed)
			pools.POST("/:id/claim", d.poolHandler.Claim)
			pools.POST("/:id/refund", d.poolHandler.Refund)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.RequireAdmin())
		{
			admin.GET("/flags", d.adminHandler.ListFlags)
			admin.PUT("/flags/:key", d.adminHandler.SetFlag)
			admin.POST("/reconcile", d.adminHandler.Reconcile)
		}
	}
}

func registerHealthRoute(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func applyCORSMiddleware(r *gin.Engine) {
	r.Use(func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			origin = "*"
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Vary", "Origin")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
}
