package main

import (
	"context"
	"fmt"
	"log"

	"biblioteca-api/core"
)

func main() {
	cfg := core.Load()
	ctx := context.Background()

	logCloser, err := core.SetupLogging(cfg, "api.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	if cfg.TokenSecret == "" {
		log.Fatalf("TOKEN_SECRET must be configured")
	}

	db, err := core.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	if err := core.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}

	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer redisClient.Close()

	covers, err := core.NewCoverStorage(cfg.UploadDir)
	if err != nil {
		log.Fatalf("failed to prepare upload dir: %v", err)
	}

	userRepo := core.NewPgUserRepository(db)
	authService := core.NewRepositoryAuthService(userRepo)
	tokens := core.NewTokenService(cfg.TokenSecret, cfg.TokenTTL)
	metrics := core.NewMetricsService(redisClient)
	books := core.NewCatalogService(core.NewPgBookRepository(db), covers, metrics)

	if err := core.BootstrapAdmin(ctx, userRepo, cfg); err != nil {
		log.Fatalf("bootstrap admin failed: %v", err)
	}

	router := core.NewRouter(cfg, tokens, authService, userRepo, db, books, covers, metrics)

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Printf("starting api server on %s", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
