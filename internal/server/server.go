// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	_ "framez/docs" // swagger docs
	"framez/internal/blob"
	"framez/internal/bootstrap"
	"framez/internal/config"
	"framez/internal/featureflags"
	"framez/internal/livequery"
	"framez/internal/middleware"
	"framez/internal/models"
	"framez/internal/notifications"
	"framez/internal/observability"
	"framez/internal/repository"
	"framez/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	userRepo       repository.UserRepository
	postRepo       repository.PostRepository
	commentRepo    repository.CommentRepository
	bus            notifications.Bus
	store          blob.ObjectStorage
	engine         *livequery.Engine
	hub            *notifications.Hub
	featureFlags   *featureflags.Manager
	authService    *service.AuthService
	postService    *service.PostService
	mediaService   *service.MediaService
}

// Deps are the connected dependencies a Server runs on. Bus defaults to the
// in-process bus and Store may be nil when media uploads are disabled.
type Deps struct {
	DB    *gorm.DB
	Redis *redis.Client
	Bus   notifications.Bus
	Store blob.ObjectStorage
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	rt, err := bootstrap.InitRuntime(context.Background(), cfg, bootstrap.Options{SeedDemo: cfg.SeedDemo})
	if err != nil {
		return nil, err
	}
	return NewServerWithDeps(cfg, Deps{DB: rt.DB, Redis: rt.Redis, Bus: rt.Bus, Store: rt.Store})
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis and optionally
// performs explicit seeding. The live query engine is subscribed to the bus
// before it returns.
func NewServerWithDeps(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.DB == nil {
		return nil, errors.New("database is required")
	}
	bus := deps.Bus
	if bus == nil {
		bus = notifications.NewLocalBus()
	}

	ctx, cancel := context.WithCancel(context.Background())
	server := &Server{
		config:         cfg,
		db:             deps.DB,
		redis:          deps.Redis,
		promMiddleware: middleware.InitMetrics("framez-api"),
		shutdownCtx:    ctx,
		shutdownFn:     cancel,
		userRepo:       repository.NewUserRepository(deps.DB),
		postRepo:       repository.NewPostRepository(deps.DB),
		commentRepo:    repository.NewCommentRepository(deps.DB),
		bus:            bus,
		store:          deps.Store,
		hub:            notifications.NewHub(),
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
	}

	server.authService = service.NewAuthService(server.userRepo, cfg.JWTSecret)

	var cleaner service.MediaCleaner
	if deps.Store != nil {
		server.mediaService = service.NewMediaService(deps.Store, server.featureFlags, cfg.PublicBaseURL, cfg.MaxUploadBytes())
		cleaner = server.mediaService
	}
	server.postService = service.NewPostService(server.postRepo, server.commentRepo, server.userRepo, bus, cleaner)

	server.engine = livequery.NewEngine(server.postService)
	if err := server.engine.Start(ctx, bus); err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe live queries to %s bus: %w", bus.Name(), err)
	}

	return server, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	app.Use(middleware.TracingMiddleware())

	// Context Middleware to propagate Request ID and User ID
	app.Use(middleware.ContextMiddleware())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers. Media is fetched cross-origin by the mobile client.
	app.Use(helmet.New(helmet.Config{
		CrossOriginResourcePolicy: "cross-origin",
	}))

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// CORS middleware should run before middlewares that can short-circuit (e.g. limiter)
	// so browser clients still receive CORS headers on error responses.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:8081,http://localhost:19006"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		ExposeHeaders:    "X-Trace-ID",
		MaxAge:           86400, // 24 hours
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		// Never rate-limit preflight requests; they should be handled by CORS.
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	// Swagger documentation
	app.Get("/swagger/*", swagger.HandlerDefault)

	requireAuth := middleware.AuthRequired(s.authService)
	optionalAuth := middleware.OptionalAuth(s.authService)

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/signup", middleware.RateLimit(
		s.redis, 3, 10*time.Minute, "signup"), s.Signup)
	auth.Post("/login", middleware.RateLimit(
		s.redis, 10, 5*time.Minute, "login"), s.Login)
	auth.Post("/logout", requireAuth, s.Logout)
	auth.Get("/me", requireAuth, s.Me)
	auth.Patch("/profile", requireAuth, s.UpdateProfile)

	api.Get("/feature-flags", optionalAuth, s.GetFeatureFlags)

	// Public post routes
	posts := api.Group("/posts")
	posts.Get("/", s.GetPosts)
	posts.Get("/:id", s.GetPost)
	api.Get("/users/:id/posts", s.GetUserPosts)

	// Protected post routes
	posts.Post("/", requireAuth, middleware.RateLimit(
		s.redis, 10, time.Minute, "create_post"), s.CreatePost)
	// Define specific /:id/:resource routes BEFORE generic /:id route
	posts.Put("/:id/likes", requireAuth, s.LikePost)
	posts.Delete("/:id/likes", requireAuth, s.UnlikePost)
	posts.Post("/:id/comments", requireAuth, middleware.RateLimit(
		s.redis, 30, time.Minute, "create_comment"), s.CreateComment)
	posts.Patch("/:id", requireAuth, s.EditPost)
	posts.Delete("/:id", requireAuth, s.DeletePost)

	// Media
	api.Put("/media/*", requireAuth, middleware.RateLimit(
		s.redis, 20, time.Minute, "upload"), s.UploadMedia)
	app.Get("/media/*", s.GetMedia)

	// Live query websocket. Anonymous viewers are admitted per feature flag.
	ws := api.Group("/ws", optionalAuth)
	ws.Get("/posts", s.FeedStreamHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	// Redis only backs caching, revocation and rate limits, so it is reported but optional.
	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"version": "1.0.0",
		"status":  overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
			"bus":      s.bus.Name(),
		},
		"liveQueries": s.engine.Subscriptions(),
		"time":        time.Now(),
	})
}

// App builds the Fiber app with middleware and routes. Start serves it; tests
// drive it through app.Test.
func (s *Server) App() *fiber.App {
	bodyLimit := 4 * 1024 * 1024
	if s.config.MaxUploadMB > 0 {
		bodyLimit = int(s.config.MaxUploadBytes()) + 1024*1024
	}

	app := fiber.New(fiber.Config{
		AppName:      "Framez API",
		BodyLimit:    bodyLimit,
		ErrorHandler: errorHandler,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
	}
	observability.GlobalLogger.ErrorContext(c.UserContext(), "unhandled request error", "error", err.Error())
	return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
}

// Start starts the server
func (s *Server) Start() error {
	s.app = s.App()

	log.Printf("Server starting on port %s...", s.config.Port)
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Cancel the server-scoped context to stop bus subscriptions
	if s.shutdownFn != nil {
		s.shutdownFn()
	}
	s.engine.Close()

	// Shutdown the HTTP/WS server
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}

	// Close WebSocket connections gracefully
	if err := s.hub.Shutdown(ctx); err != nil {
		log.Printf("error shutting down %s: %v", s.hub.Name(), err)
	}

	if err := s.bus.Close(); err != nil {
		log.Printf("error closing %s bus: %v", s.bus.Name(), err)
	}

	// Close database connection
	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Printf("error closing sql DB: %v", cerr)
		}
	}

	// Close Redis connection
	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			log.Printf("error closing redis: %v", rerr)
		}
	}

	log.Println("Server shutdown complete")
	return nil
}
