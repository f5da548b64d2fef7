package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"go.uber.org/zap"

	"github.com/loomline/loomline-engine/pkg/config"
	"github.com/loomline/loomline-engine/pkg/database"
	"github.com/loomline/loomline-engine/pkg/events"
	"github.com/loomline/loomline-engine/pkg/handlers"
	"github.com/loomline/loomline-engine/pkg/middleware"
	"github.com/loomline/loomline-engine/pkg/repositories"
	"github.com/loomline/loomline-engine/pkg/seed"
	"github.com/loomline/loomline-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Env == "local" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("port", cfg.Port),
		zap.String("database", cfg.Database.Database))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:             cfg.Database.URL(),
		MaxConnections:  cfg.Database.MaxConnections,
		MaxConnLifetime: time.Duration(cfg.Database.ConnLifetimeMinutes) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.Database.ConnIdleMinutes) * time.Minute,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	migrationDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = migrationDB.Close()

	if cfg.Database.SeedRolesPath != "" {
		roles, err := seed.LoadRoles(cfg.Database.SeedRolesPath)
		if err != nil {
			logger.Fatal("Failed to load role fixture", zap.Error(err))
		}
		if err := seed.Apply(ctx, db.Pool, roles); err != nil {
			logger.Fatal("Failed to apply role fixture", zap.Error(err))
		}
		logger.Info("Role catalog fixture applied",
			zap.String("path", cfg.Database.SeedRolesPath),
			zap.Int("roles", len(roles)))
	}

	lotRepo := repositories.NewLotRepository()
	supplierRepo := repositories.NewSupplierRepository()
	roleRepo := repositories.NewRoleRepository()
	factoryRepo := repositories.NewFactoryRepository()
	approvalRepo := repositories.NewApprovalRepository()

	sink := events.NewLogSink(logger)
	lockTimeout := time.Duration(cfg.Engine.LockTimeoutMS) * time.Millisecond

	supplyChainService := services.NewSupplyChainService(&services.SupplyChainServiceDeps{
		LotRepo:      lotRepo,
		SupplierRepo: supplierRepo,
		RoleRepo:     roleRepo,
		FactoryRepo:  factoryRepo,
		Sink:         sink,
		Logger:       logger,
		LockTimeout:  lockTimeout,
	})
	lotService := services.NewLotService(&services.LotServiceDeps{
		LotRepo:      lotRepo,
		ApprovalRepo: approvalRepo,
		Sink:         sink,
		Logger:       logger,
		LockTimeout:  lockTimeout,
	})

	clientMiddleware := middleware.NewClient(database.NewClientScopeProvider(db), logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg).RegisterRoutes(mux)
	handlers.NewLotsHandler(lotService, supplyChainService, logger).RegisterRoutes(mux, clientMiddleware)
	handlers.NewRolesHandler(roleRepo, logger).RegisterRoutes(mux, clientMiddleware)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting loomline-engine", zap.String("addr", addr), zap.String("version", cfg.Version))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}
