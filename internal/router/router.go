package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/vidshare/backend/internal/handler"
	"github.com/vidshare/backend/internal/middleware"
	"github.com/vidshare/backend/internal/models"
)

type Handlers struct {
	Auth    *handler.AuthHandler
	Video   *handler.VideoHandler
	Comment *handler.CommentHandler
	Stream  *handler.CommentStreamHandler
	Health  *handler.HealthHandler
}

const (
	// DefaultJSONBodyBytes caps the small JSON routes (auth, comments).
	DefaultJSONBodyBytes int64 = 1 << 20

	// uploadFieldAllowance covers the non-video fields of an upload body.
	uploadFieldAllowance int64 = 64 << 10
)

type Options struct {
	Verifier             middleware.TokenVerifier
	RateLimiter          *middleware.RateLimiter // nil disables rate limiting
	CORSAllowedOrigins   []string
	UploadRequireCreator bool
	IsProduction         bool
	MaxMultipartMemory   int64
	MaxUploadBytes       int64 // raw video cap; 0 leaves upload bodies unbounded
	MaxJSONBodyBytes     int64 // 0 means DefaultJSONBodyBytes
}

// UploadBodyLimit is the largest upload request accepted for a raw video cap.
// Base64 inflates the video by 4/3, so the JSON form is the larger of the two.
func UploadBodyLimit(maxUploadBytes int64) int64 {
	if maxUploadBytes <= 0 {
		return 0
	}
	return maxUploadBytes/3*4 + 4 + uploadFieldAllowance
}

// New wires middleware and routes.
func New(h Handlers, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger())
	r.Use(middleware.Recovery())
	r.Use(cors.New(corsConfig(opts.CORSAllowedOrigins)))
	r.Use(middleware.SecurityHeadersMiddleware())
	r.Use(middleware.HSTSMiddleware(opts.IsProduction))

	if opts.MaxMultipartMemory > 0 {
		r.MaxMultipartMemory = opts.MaxMultipartMemory
	}

	r.GET("/healthz", h.Health.Healthz)

	api := r.Group("/api")
	if opts.RateLimiter != nil {
		api.Use(opts.RateLimiter.Middleware())
	}

	jsonLimit := opts.MaxJSONBodyBytes
	if jsonLimit <= 0 {
		jsonLimit = DefaultJSONBodyBytes
	}
	jsonBody := middleware.BodyLimit(jsonLimit)
	uploadBody := middleware.BodyLimit(UploadBodyLimit(opts.MaxUploadBytes))

	// Public routes
	api.POST("/register", jsonBody, h.Auth.Register)
	api.POST("/login", jsonBody, h.Auth.Login)
	api.POST("/register-creator", jsonBody, h.Auth.RegisterCreator)
	api.GET("/videos", h.Video.List)
	api.GET("/comments/:videoId", h.Comment.List)
	api.POST("/comments", jsonBody, h.Comment.Post)
	api.GET("/videos/:videoId/comments/live", h.Stream.Stream)

	// Protected routes (require JWT)
	api.GET("/protected", middleware.RequireAuth(opts.Verifier), h.Auth.Protected)

	if opts.UploadRequireCreator {
		api.POST("/upload",
			middleware.RequireAuth(opts.Verifier),
			middleware.RequireRole(models.RoleCreator),
			uploadBody,
			h.Video.Upload,
		)
	} else {
		api.POST("/upload", middleware.OptionalAuth(opts.Verifier), uploadBody, h.Video.Upload)
	}

	return r
}

func corsConfig(allowed []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}

	for _, origin := range allowed {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}

	if len(allowed) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = allowed
	cfg.AllowCredentials = true
	return cfg
}
