package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/vidshare/backend/internal/broker"
	"github.com/vidshare/backend/internal/config"
	"github.com/vidshare/backend/internal/database"
	"github.com/vidshare/backend/internal/handler"
	"github.com/vidshare/backend/internal/journal"
	"github.com/vidshare/backend/internal/middleware"
	"github.com/vidshare/backend/internal/repository"
	"github.com/vidshare/backend/internal/router"
	"github.com/vidshare/backend/internal/service"
	"github.com/vidshare/backend/internal/storage"
	"github.com/vidshare/backend/pkg/logger"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(!cfg.IsProduction()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if cfg.UsingDefaultSecret {
		logger.Log.Warn("JWT_SECRET is not set, using an insecure development secret")
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to connect database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		logger.Log.Fatal("Failed to migrate database", zap.Error(err))
	}

	orphans, err := journal.Open(cfg.JournalPath)
	if err != nil {
		logger.Log.Fatal("Failed to open orphan journal", zap.Error(err))
	}
	defer orphans.Close()

	objects, err := storage.NewS3Store(storage.S3ConfigFrom(cfg))
	if err != nil {
		logger.Log.Fatal("Failed to initialize object store", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Log.Fatal("Invalid REDIS_URL", zap.Error(err))
		}
		redisClient = redis.NewClient(opt)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Log.Warn("Redis is not reachable, rate limiting fails open", zap.Error(err))
		}
	}

	events := newEventBroker(ctx, cfg)
	defer events.Close()

	// Repositories
	userRepo := repository.NewUserRepository(db)
	videoRepo := repository.NewVideoRepository(db)
	commentRepo := repository.NewCommentRepository(db)

	// Services
	authService := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTExpiry, cfg.StoreTimeout)
	videoService := service.NewVideoService(videoRepo, objects, orphans, events, service.VideoServiceConfig{
		StoreTimeout:   cfg.StoreTimeout,
		ListLimit:      cfg.VideoListLimit,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	commentService := service.NewCommentService(commentRepo, videoRepo, events, service.CommentServiceConfig{
		StoreTimeout: cfg.StoreTimeout,
		RequireVideo: cfg.CommentsRequireVideo,
	})

	// Objects left behind by earlier failed uploads
	if resolved, err := videoService.RetryCompensations(ctx); err != nil {
		logger.Log.Error("Orphan compensation retry failed", zap.Error(err))
	} else if resolved > 0 {
		logger.Log.Info("Resolved orphaned objects", zap.Int("count", resolved))
	}

	// Handlers
	streams := handler.NewCommentStreamHandler(commentService, cfg.CORSAllowedOrigins)
	handlers := router.Handlers{
		Auth:    handler.NewAuthHandler(authService),
		Video:   handler.NewVideoHandler(videoService),
		Comment: handler.NewCommentHandler(commentService),
		Stream:  streams,
		Health:  handler.NewHealthHandler(db, streams),
	}

	opts := router.Options{
		Verifier:             authService,
		CORSAllowedOrigins:   cfg.CORSAllowedOrigins,
		UploadRequireCreator: cfg.UploadRequireCreator,
		IsProduction:         cfg.IsProduction(),
		MaxMultipartMemory:   32 << 20,
		MaxUploadBytes:       cfg.MaxUploadBytes,
	}
	if redisClient != nil && cfg.RateLimitMaxRequests > 0 {
		opts.RateLimiter = middleware.NewRateLimiter(redisClient, middleware.RateLimiterConfig{
			MaxRequests: cfg.RateLimitMaxRequests,
			Window:      cfg.RateLimitWindow,
		})
	}

	srv := &http.Server{
		Addr:              cfg.ServerPort,
		Handler:           router.New(handlers, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Log.Info("Server starting",
			zap.String("addr", cfg.ServerPort),
			zap.String("environment", cfg.Environment),
			zap.String("broker", cfg.Broker),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Log.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Graceful shutdown failed", zap.Error(err))
	}
}

// newEventBroker picks the live comment transport. Any failure degrades to
// broker.Noop, which keeps uploads and comments working without live fan-out.
// The redis broker dials its own client so subscriptions never starve the
// rate limiter's pool.
func newEventBroker(ctx context.Context, cfg *config.Config) broker.EventBroker {
	switch cfg.Broker {
	case "redis":
		if cfg.RedisURL == "" {
			logger.Log.Warn("BROKER=redis but REDIS_URL is empty, live comments disabled")
			return broker.Noop{}
		}
		b, err := broker.NewRedisBrokerFromURL(ctx, cfg.RedisURL)
		if err != nil {
			logger.Log.Warn("Redis broker unavailable, live comments disabled", zap.Error(err))
			return broker.Noop{}
		}
		return b

	case "amqp":
		b, err := broker.NewAMQPBroker(cfg.AMQPURL)
		if err != nil {
			logger.Log.Warn("AMQP broker unavailable, live comments disabled", zap.Error(err))
			return broker.Noop{}
		}
		return b
	}

	return broker.Noop{}
}
