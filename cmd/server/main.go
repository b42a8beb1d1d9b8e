package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/studio/internal/auth"
	"github.com/makeasinger/studio/internal/billing"
	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/handler"
	"github.com/makeasinger/studio/internal/logger"
	"github.com/makeasinger/studio/internal/middleware"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/orchestrator"
	"github.com/makeasinger/studio/internal/service"
	"github.com/makeasinger/studio/internal/store"
	"github.com/makeasinger/studio/internal/worker"
	ws "github.com/makeasinger/studio/internal/websocket"
	"github.com/makeasinger/studio/pkg/response"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("", "info")
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New(cfg.Server.Env, cfg.Server.LogLevel)

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Snapshots, leases and rate limits live in Redis; without it they fall
	// back to process memory and jobs survive only reloads of the client.
	ctx := context.Background()
	redisUp := redisClient.Ping(ctx).Err() == nil
	var kv store.KV
	if redisUp {
		kv = store.NewRedisKV(redisClient)
	} else {
		log.Warn().Str("addr", cfg.Redis.Addr).Msg("redis not available, using in-memory session store")
		kv = store.NewMemoryKV()
	}
	defer kv.Close()

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub(logger.Component(log, "hub"))
	go hub.Run()

	// Initialize external clients
	sunoClient := client.NewSunoClient(&cfg.Suno, logger.Component(log, "suno"))
	imageClient := client.NewMediaClient(model.ProviderImage, &cfg.Image, logger.Component(log, "image"))
	videoClient := client.NewMediaClient(model.ProviderVideo, &cfg.Video, logger.Component(log, "video"))
	registry := client.NewRegistry(sunoClient, imageClient, videoClient)

	groqClient := client.NewGroqClient(&cfg.Groq, logger.Component(log, "groq"))
	creditsClient := client.NewCreditsClient(&cfg.Credits, logger.Component(log, "credits"))
	prober := client.NewHTTPProber(10*time.Second, logger.Component(log, "readiness"))

	credits := service.StaticCreditsSource(cfg.Credits.DevBalance)
	if creditsClient.IsConfigured() {
		credits = creditsClient.ForUser
	} else {
		log.Info().Int("balance", cfg.Credits.DevBalance).Msg("credits service not configured, using fixed dev balance")
	}

	// Initialize R2 client (optional - archiving is skipped if not configured)
	var assets client.AssetStore
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Warn().Err(err).Msg("R2 client not initialized")
		} else {
			assets = r2Client
		}
	} else {
		log.Info().Msg("R2 storage not configured, assets will not be archived")
	}

	// Initialize Zitadel JWKS verifier (optional - falls back to legacy JWT)
	var jwks auth.TokenVerifier
	if cfg.Zitadel.Issuer != "" {
		v, err := auth.NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			log.Warn().Err(err).Msg("JWKS verifier not initialized")
		} else {
			defer v.Close()
			jwks = v
		}
	}
	verifier := auth.NewSessionVerifier(jwks, cfg.JWT.Secret)

	// Initialize services
	archiveEnabled := redisUp && assets != nil
	var archiver service.Archiver
	if archiveEnabled {
		asynqClient := asynq.NewClient(redisOpt)
		defer asynqClient.Close()
		archiver = service.NewAsynqArchiver(asynqClient)
	}

	gate := billing.NewGate(billing.NewEstimatorFromConfig(&cfg.Pricing), cfg.Credits.PurchaseURL, logger.Component(log, "admission"))
	snapshots := store.NewSnapshotStore(kv, cfg.Orchestrator.Namespace, cfg.Orchestrator.SnapshotTTL, cfg.Orchestrator.LeaseTTL, logger.Component(log, "snapshots"))

	generationService := service.NewGenerationService(service.GenerationDeps{
		Snapshots: snapshots,
		Providers: registry,
		Gate:      gate,
		Credits:   credits,
		Prober:    prober,
		Config:    orchestrator.ConfigFrom(&cfg.Orchestrator),
		Publisher: hub,
		Archiver:  archiver,
		Log:       log,
	})
	assistantService := service.NewAssistantService(groqClient, generationService, log)

	// Jobs persisted by a previous process keep being polled without
	// waiting for their user to reconnect.
	resumed, err := generationService.ResumeAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to resume persisted generations")
	} else if resumed > 0 {
		log.Info().Int("count", resumed).Msg("resumed persisted generations")
	}

	// Initialize middleware
	var apiAuth, socketAuth fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		log.Info().Msg("gateway mode enabled, using header-based auth")
		apiAuth = middleware.GatewayAuthMiddleware()
		socketAuth = apiAuth
	} else {
		authMiddleware := middleware.NewAuthMiddleware(verifier)
		apiAuth = authMiddleware.Authenticate()
		socketAuth = authMiddleware.AuthenticateSocket()
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
	}
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	handler.Mount(app, handler.Routes{
		Health: handler.NewHealthHandler(registry.Configured, map[string]bool{
			"redis":     redisUp,
			"assistant": groqClient.IsConfigured(),
			"credits":   creditsClient.IsConfigured(),
			"archive":   archiveEnabled,
			"auth":      verifier.Configured() || cfg.Gateway.Enabled,
		}),
		Auth:            handler.NewAuthHandler(verifier),
		Generation:      handler.NewGenerationHandler(generationService, validate, cfg.Credits.PurchaseURL),
		Assistant:       handler.NewAssistantHandler(assistantService, validate, cfg.Credits.PurchaseURL),
		Socket:          handler.NewSocketHandler(hub, generationService),
		APIAuth:         apiAuth,
		SocketAuth:      socketAuth,
		Limiter:         middleware.NewRateLimiter(kv, logger.Component(log, "ratelimit")),
		GeneratePerHour: cfg.RateLimit.GeneratePerHour,
		AssistantPerMin: cfg.RateLimit.AssistantPerMin,
	})

	// Start Asynq worker server
	var workerServer *asynq.Server
	if archiveEnabled {
		workerServer = newWorkerServer(cfg, redisOpt)
		archiveWorker := worker.NewArchiveWorker(assets, hub, log)
		mux := asynq.NewServeMux()
		mux.HandleFunc(model.TaskTypeArchive, archiveWorker.ProcessTask)
		if err := workerServer.Start(mux); err != nil {
			log.Error().Err(err).Msg("asynq worker error")
			workerServer = nil
		}
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")
		generationService.Close()
		if workerServer != nil {
			workerServer.Shutdown()
		}
		hub.Stop()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func newWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 4,
		Queues: map[string]int{
			service.ArchiveQueue: 1,
		},
		LogLevel: asynqLogLevel,
	})
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
