// Package main runs the background job worker (audience enrollment,
// notification fan-out, recording sync, metrics finalization).
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/classlive/backend/config"
	"github.com/classlive/backend/internal/auth"
	"github.com/classlive/backend/internal/enrollment"
	"github.com/classlive/backend/internal/metrics"
	"github.com/classlive/backend/internal/notifications"
	"github.com/classlive/backend/internal/provider"
	"github.com/classlive/backend/internal/recordingsync"
	"github.com/classlive/backend/internal/sessions"
	"github.com/classlive/backend/internal/worker"
	"github.com/classlive/backend/pkg/crypto"
	"github.com/classlive/backend/pkg/database"
	"github.com/classlive/backend/pkg/queue"
	"github.com/classlive/backend/pkg/redis"
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

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	encKey := cfg.Crypto.EncryptionKey
	if encKey == "" {
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
	} else {
		providerClient = provider.NewRESTClient(provider.Config{
			AccountID:    cfg.Provider.AccountID,
			ClientID:     cfg.Provider.ClientID,
			ClientSecret: cfg.Provider.ClientSecret,
			BaseURL:      cfg.Provider.BaseURL,
			AuthURL:      cfg.Provider.AuthURL,
		}, provider.NewRateLimitQueue(logger), logger)
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)
	sessionStore := sessions.NewStore(pool)
	sessionCache := sessions.NewRedisCache(rdb.Client, logger)
	authRepo := auth.NewRepository(pool)
	enrollRepo := enrollment.NewRepository(pool)
	notifRepo := notifications.NewRepository(pool)
	notifier := notifications.NewLogDispatcher(notifRepo, logger)

	transient := metrics.NewRedisStore(rdb.Client)
	aggregator := metrics.NewAggregator(transient, sessionStore, logger)

	signer := sessions.NewSigner(cfg.SDK.Key, cfg.SDK.Secret, time.Duration(cfg.SDK.TokenTTLSecs)*time.Second)
	controller := sessions.NewController(
		sessionStore, sessionCache, providerClient, authRepo, enrollRepo,
		notifier, aggregator, jobQueue, encryptor, signer, logger)

	syncer := recordingsync.NewSyncer(sessionStore, providerClient, jobQueue, logger)
	processor := worker.NewProcessor(jobQueue, controller, syncer, aggregator, sessionStore, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
