package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"mathgamified/internal/app"
	"mathgamified/internal/config"
	"mathgamified/internal/docstore"
	"mathgamified/internal/events"
	"mathgamified/internal/identity"
	"mathgamified/internal/media"
	"mathgamified/internal/presence"
	"mathgamified/internal/server"
	"mathgamified/internal/util"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	heartbeat, err := config.ParseHeartbeatInterval(cfg.HeartbeatInterval)
	if err != nil {
		log.Fatalf("failed to parse heartbeat interval: %v", err)
	}
	idleTimeout, err := config.ParseSessionIdleTimeout(cfg.SessionIdleTimeout)
	if err != nil {
		log.Fatalf("failed to parse session idle timeout: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	docs, err := docstore.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init document store: %v", err)
	}

	provider := identity.NewClient(cfg.IdentityBaseURL, cfg.IdentityAPIKey)

	var cache *presence.Cache
	if cfg.RedisAddr != "" {
		cache = presence.NewCache(cfg.RedisAddr, cfg.RedisPassword, 2*heartbeat)
	}

	var screenshots *media.Screenshots
	if cfg.ScreenshotEndpoint != "" {
		screenshots, err = media.NewScreenshots(cfg.ScreenshotEndpoint,
			cfg.ScreenshotAccessKey, cfg.ScreenshotSecretKey,
			cfg.ScreenshotBucket, cfg.ScreenshotUseSSL)
		if err != nil {
			log.Fatalf("failed to init screenshot storage: %v", err)
		}
	}

	var publisher *events.Publisher
	if cfg.AMQPURL != "" {
		publisher, err = events.NewPublisher(cfg.AMQPURL, "dashboard.activity", logger)
		if err != nil {
			log.Fatalf("failed to init event publisher: %v", err)
		}
		defer publisher.Close()
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	appCore, err := app.New(app.Config{
		Docs:              docs,
		Provider:          provider,
		PresenceCache:     cache,
		Screenshots:       screenshots,
		Events:            publisher,
		Logger:            logger,
		HeartbeatInterval: heartbeat,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		RedisAddr:                  cfg.RedisAddr,
		RedisPassword:              cfg.RedisPassword,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		RegisterRateLimitPerMinute: cfg.RegisterRateLimitPerMinute,
		SessionIdleTimeout:         idleTimeout,
		TrustedProxies:             trusted,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go httpServer.SweepIdleSessions(ctx, time.Minute)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("dashboard server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
