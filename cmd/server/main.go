package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"custody.backend/internal/app"
	"custody.backend/internal/config"
	"custody.backend/internal/infrastructure/datasources/postgres"
	"custody.backend/internal/infrastructure/jobs"
	"custody.backend/internal/infrastructure/models"
	"custody.backend/internal/interfaces/http/handlers"
	"custody.backend/internal/usecases"
	"custody.backend/pkg/crypto"
	"custody.backend/pkg/jwt"
	"custody.backend/pkg/logger"
	"custody.backend/pkg/redis"
)

const settlementLeaseKey = "custody:lease:settlement"

var (
	loadDotenv = godotenv.Load
	loadCfg    = config.Load
	initLog    = logger.Init
	initRedis  = redis.Init
	openDB     = postgres.NewConnection
	runServer  = func(srv *http.Server) error { return srv.ListenAndServe() }
)

func main() {
	if err := runMainProcess(); err != nil {
		log.Fatal(err)
	}
}

func runMainProcess() error {
	envErr := loadDotenv()

	cfg := loadCfg()

	initLog(cfg.Server.Env)
	ctx := context.Background()
	if envErr != nil {
		logger.Info(ctx, "No .env file found, using environment variables")
	}
	logger.Info(ctx, "Logger initialized", zap.String("env", cfg.Server.Env))

	if err := initRedis(cfg.Redis.URL, cfg.Redis.PASSWORD); err != nil {
		logger.Error(ctx, "Failed to initialize Redis", zap.Error(err))
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	logger.Info(ctx, "Redis initialized")

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := openDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(models.All()...); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
		logger.Info(ctx, "Schema migrated")
	}

	vault, err := crypto.NewKeyVault(cfg.Security.KeyEncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize key vault: %w", err)
	}

	clientFactory, chain, err := app.DialChain(cfg)
	if err != nil {
		return err
	}
	defer clientFactory.Close()

	svc := buildApp(cfg, db, chain, vault)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	settlementJob := jobs.NewSettlementJob(svc.Deposits, svc.Withdrawals, svc.Reconciler,
		redis.NewLease(redis.GetClient(), settlementLeaseKey, 2*cfg.Settlement.SchedulerInterval),
		cfg.Settlement.SchedulerInterval)
	poolJob := jobs.NewPoolExpiryJob(svc.Pools, time.Minute)
	go settlementJob.Start(ctx)
	go poolJob.Start(ctx)

	r := newRouter(svc.routes, jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpiry))
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info(ctx, "Shutting down server")
		settlementJob.Stop()
		poolJob.Stop()
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error(ctx, "Server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info(ctx, "Custody backend starting", zap.String("port", cfg.Server.Port))
	if err := runServer(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

type application struct {
	*app.Container
	routes routeDeps
}

// buildApp wires the services and their HTTP handlers around one chain gateway.
func buildApp(cfg *config.Config, db *gorm.DB, chain usecases.ChainGateway, vault usecases.KeyVault) *application {
	c := app.New(cfg, db, chain, vault)
	return &application{
		Container: c,
		routes: routeDeps{
			walletHandler:     handlers.NewWalletHandler(c.Wallets, c.Ledger),
			depositHandler:    handlers.NewDepositHandler(c.Deposits),
			withdrawalHandler: handlers.NewWithdrawalHandler(c.Withdrawals),
			poolHandler:       handlers.NewPoolHandler(c.Pools),
			adminHandler:      handlers.NewAdminHandler(c.Flags, c.Reconciler),
		},
	}
}
