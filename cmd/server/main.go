// Package main runs the live session platform HTTP server with graceful
// shutdown and an in-process background worker.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/classlive/backend/config"
	"github.com/classlive/backend/internal/auth"
	"github.com/classlive/backend/internal/enrollment"
	"github.com/classlive/backend/internal/metrics"
	"github.com/classlive/backend/internal/middleware"
	"github.com/classlive/backend/internal/models"
	"github.com/classlive/backend/internal/notifications"
	"github.com/classlive/backend/internal/provider"
	"github.com/classlive/backend/internal/recordingsync"
	"github.com/classlive/backend/internal/sessions"
	"github.com/classlive/backend/internal/webhooks"
	"github.com/classlive/backend/internal/worker"
	"github.com/classlive/backend/pkg/crypto"
	"github.com/classlive/backend/pkg/database"
	"github.com/classlive/backend/pkg/queue"
	"github.com/classlive/backend/pkg/redis"
	"github.com/classlive/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	encKey := cfg.Crypto.EncryptionKey
	if encKey == "" {
		// Mock mode without a provisioned key; encrypted values do not
		// survive a restart.
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			logger.Fatal("generate encryption key", zap.Error(err))
		}
		encKey = hex.EncodeToString(buf)
		logger.Warn("ENCRYPTION_KEY not set, using ephemeral key")
	}
	encryptor, err := crypto.New(encKey)
	if err != nil {
		logger.Fatal("encryption key", zap.Error(err))
	}

	var providerClient provider.Client
	if cfg.Provider.Mock {
		providerClient = provider.NewMockClient()
		logger.Info("using mock video provider")
	} else {
		providerClient = provider.NewRESTClient(provider.Config{
			AccountID:    cfg.Provider.AccountID,
			ClientID:     cfg.Provider.ClientID,
			ClientSecret: cfg.Provider.ClientSecret,
			BaseURL:      cfg.Provider.BaseURL,
			AuthURL:      cfg.Provider.AuthURL,
		}, provider.NewRateLimitQueue(logger), logger)
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	jobQueue := queue.NewQueue(rdb.Client, logger)

	sessionStore := sessions.NewStore(pool)
	sessionCache := sessions.NewRedisCache(rdb.Client, logger)
	enrollRepo := enrollment.NewRepository(pool)
	notifRepo := notifications.NewRepository(pool)
	notifier := notifications.NewLogDispatcher(notifRepo, logger)

	transient := metrics.NewRedisStore(rdb.Client)
	aggregator := metrics.NewAggregator(transient, sessionStore, logger)

	signer := sessions.NewSigner(cfg.SDK.Key, cfg.SDK.Secret, time.Duration(cfg.SDK.TokenTTLSecs)*time.Second)
	controller := sessions.NewController(
		sessionStore, sessionCache, providerClient, authRepo, enrollRepo,
		notifier, aggregator, jobQueue, encryptor, signer, logger)
	sessionHandler := sessions.NewHandler(controller)

	webhookValidator := webhooks.NewValidator(cfg.Webhook.Secret)
	webhookHandler := webhooks.NewHandler(webhookValidator, sessionStore, jobQueue, logger)

	syncer := recordingsync.NewSyncer(sessionStore, providerClient, jobQueue, logger)
	processor := worker.NewProcessor(jobQueue, controller, syncer, aggregator, sessionStore, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Webhooks (no JWT; signature verified in the handler when configured)
	router.POST("/webhooks/provider", webhookHandler.Receive)

	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		manage := middleware.RequireRole(models.RoleOrganization, models.RoleAdmin)
		lifecycle := middleware.RequireRole(models.RoleInstructor, models.RoleOrganization, models.RoleAdmin)

		api.POST("/sessions", manage, sessionHandler.Create)
		api.GET("/sessions", sessionHandler.List)
		api.GET("/sessions/:id", sessionHandler.Get)
		api.GET("/sessions/:id/status", sessionHandler.Status)
		api.POST("/sessions/:id/start", lifecycle, sessionHandler.Start)
		api.POST("/sessions/:id/end", lifecycle, sessionHandler.End)
		api.PATCH("/sessions/:id", manage, sessionHandler.Update)
		api.DELETE("/sessions/:id", manage, sessionHandler.Cancel)
		api.POST("/sessions/:id/notify", lifecycle, sessionHandler.Notify)
		api.GET("/sessions/:id/recording", sessionHandler.RecordingStatus)
		api.GET("/sessions/:id/recording/play", sessionHandler.Playback)
		api.POST("/sessions/:id/join", sessionHandler.Join)
		api.POST("/sessions/:id/leave", sessionHandler.Leave)
		api.GET("/sessions/:id/sdk-config", sessionHandler.SDKConfig)
		api.GET("/recordings", sessionHandler.ListRecordings)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// In-process worker; a dedicated worker binary can run alongside for
	// heavier deployments.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go processor.Run(workerCtx)
	logger.Info("session worker started")

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
