package main

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/campaignops/api/internal/auth"
	"github.com/campaignops/api/internal/client"
	"github.com/campaignops/api/internal/config"
	"github.com/campaignops/api/internal/effects"
	"github.com/campaignops/api/internal/handler"
	"github.com/campaignops/api/internal/middleware"
	"github.com/campaignops/api/internal/service"
	ws "github.com/campaignops/api/internal/websocket"
	"github.com/campaignops/api/internal/worker"
)

// @title          Campaign Ops API
// @version        1.0
// @description    Backend API for campaign operations: contact enrichment, clip extraction, campaign posts and ad conversion.
// @host           localhost:8000
// @BasePath       /
// @schemes        http https
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
// @description    Enter your bearer token in the format **Bearer &lt;token&gt;**
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("redis not available", zap.Error(err))
	}

	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	validate := validator.New()

	// External clients
	groqClient := client.NewGroqClient(&cfg.Groq, log.Named("groq"))

	var storage client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Warn("R2 client not initialized", zap.Error(err))
		} else {
			storage = r2Client
		}
	}
	memoryStorage := storage == nil
	if memoryStorage {
		log.Info("R2 storage not configured, keeping files in memory")
		storage = client.NewMemoryStorage(publicBaseURL(cfg) + "/files")
	}

	// Optional external IdP; falls back to legacy JWT
	var jwksVerifier *auth.JWKSVerifier
	if cfg.OIDC.Issuer != "" {
		var err error
		jwksVerifier, err = auth.NewJWKSVerifier(&cfg.OIDC)
		if err != nil {
			log.Warn("JWKS verifier not initialized", zap.Error(err))
		}
	}

	hub := ws.NewHub(log.Named("hub"))
	compositor := effects.NewCompositor(cfg.Effects.BaseURL)

	// Services
	jobService := service.NewJobService(redisClient, asynqClient, log.Named("jobs"))
	uploadService := service.NewUploadService(storage, log.Named("uploads"))
	campaignService := service.NewCampaignService(redisClient, jobService, log.Named("campaigns"))
	exportService := service.NewExportService(jobService, uploadService, log.Named("exports"))
	mergeService := service.NewMergeService(campaignService, uploadService, cfg.Merge, log.Named("merge"))
	captionService := service.NewCaptionService(groqClient, campaignService)

	hub.SetSnapshot(jobService.GetJob)

	// Handlers
	jobHandler := handler.NewJobHandler(jobService, uploadService, exportService, validate, log.Named("jobs"))
	campaignHandler := handler.NewCampaignHandler(campaignService, validate)
	mergeHandler := handler.NewMergeHandler(mergeService, validate)
	effectsHandler := handler.NewEffectsHandler(compositor, validate)
	captionHandler := handler.NewCaptionHandler(captionService, validate)
	fileHandler := handler.NewFileHandler(uploadService)

	var identify middleware.Identify
	if cfg.Gateway.Enabled {
		log.Info("gateway mode enabled, using header-based auth")
		identify = middleware.GatewayHeaders()
	} else {
		var checks []middleware.TokenCheck
		if jwksVerifier != nil {
			checks = append(checks, middleware.OIDCToken(jwksVerifier))
		}
		if cfg.JWT.Secret != "" {
			checks = append(checks, middleware.LegacyToken(cfg.JWT.Secret))
		}
		identify = middleware.BearerToken(checks...)
	}
	requireUser := middleware.RequireUser(identify)
	rateLimiter := middleware.NewRateLimiter(redisClient, log.Named("ratelimit"))

	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		BodyLimit:             500 * 1024 * 1024, // 500MB, video uploads
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"groq":  groqClient.IsConfigured(),
				"r2":    !memoryStorage,
				"redis": redisClient.Ping(c.UserContext()).Err() == nil,
				"auth":  jwksVerifier != nil || cfg.JWT.Secret != "",
			},
		})
	})

	if memoryStorage {
		app.Get("/files/*", fileHandler.Get)
	}

	api := app.Group("/api", requireUser)

	jobs := api.Group("/jobs")
	jobs.Post("/", rateLimiter.JobsLimit(cfg.RateLimit.JobsPerHour), jobHandler.Submit)
	jobs.Get("/", jobHandler.List)
	jobs.Get("/:jobId", jobHandler.Status)
	jobs.Delete("/:jobId", jobHandler.Dismiss)
	jobs.Get("/:jobId/export", rateLimiter.ExportLimit(cfg.RateLimit.ExportPerHour), jobHandler.Export)

	campaigns := api.Group("/campaigns", rateLimiter.CampaignsLimit(cfg.RateLimit.CampaignsPerMin))
	campaigns.Post("/", campaignHandler.Create)
	campaigns.Get("/", campaignHandler.List)
	campaigns.Get("/:id", campaignHandler.Get)
	campaigns.Post("/:id/jobs/:jobId", campaignHandler.AttachJob)

	mergeRoutes := api.Group("/merge")
	mergeRoutes.Post("/preview", mergeHandler.Preview)
	mergeRoutes.Post("/export", rateLimiter.ExportLimit(cfg.RateLimit.ExportPerHour), mergeHandler.Export)

	api.Post("/effects/compose", effectsHandler.Compose)
	api.Post("/captions/generate", rateLimiter.CaptionsLimit(cfg.RateLimit.CaptionsPerMin), captionHandler.Generate)

	// WebSocket routes
	app.Use("/ws", requireUser, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("jobId"))
	}))

	srv := newWorkerServer(cfg, redisOpt, log)
	mux := asynq.NewServeMux()
	jobWorker := worker.NewJobWorker(jobService, uploadService, captionService, compositor, hub, cfg.Worker.StepDelay, log.Named("worker"))
	mux.HandleFunc(service.TaskTypeJob, jobWorker.ProcessTask)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		if err := srv.Start(mux); err != nil {
			return err
		}
		<-gctx.Done()
		srv.Shutdown()
		return nil
	})

	g.Go(func() error {
		addr := ":" + cfg.Server.Port
		log.Info("server starting", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	return g.Wait()
}

func newWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, log *zap.Logger) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues:      service.Queues(),
		LogLevel:    asynqLogLevel,
		Logger:      log.Named("asynq").Sugar(),
	})
}

func publicBaseURL(cfg *config.Config) string {
	if cfg.Server.ApiDomain != "" {
		return "https://" + cfg.Server.ApiDomain
	}
	return "http://localhost:" + cfg.Server.Port
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
