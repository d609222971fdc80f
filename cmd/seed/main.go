package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/vidshare/backend/internal/apperror"
	"github.com/vidshare/backend/internal/config"
	"github.com/vidshare/backend/internal/database"
	"github.com/vidshare/backend/internal/repository"
	"github.com/vidshare/backend/internal/service"
	"github.com/vidshare/backend/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logger.Init(!cfg.IsProduction()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	creatorUsername := os.Getenv("CREATOR_USERNAME")
	creatorPassword := os.Getenv("CREATOR_PASSWORD")
	if creatorUsername == "" || creatorPassword == "" {
		logger.Log.Fatal("Missing environment variables: CREATOR_USERNAME, CREATOR_PASSWORD")
	}

	db, err := database.Connect(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to connect database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		logger.Log.Fatal("Failed to migrate database", zap.Error(err))
	}

	authService := service.NewAuthService(repository.NewUserRepository(db), cfg.JWTSecret, cfg.JWTExpiry, cfg.StoreTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	creator, err := authService.RegisterCreator(ctx, creatorUsername, creatorPassword)
	if err != nil {
		if apperror.KindOf(err) == apperror.KindConflict {
			logger.Log.Info("Creator already exists", zap.String("username", creatorUsername))
			return
		}
		logger.Log.Fatal("Failed to create creator", zap.Error(err))
	}

	logger.Log.Info("Creator created",
		zap.String("id", creator.ID),
		zap.String("username", creator.Username),
	)
}
