package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/nazuninha/wabot/internal/bot"
	"github.com/nazuninha/wabot/internal/config"
	"github.com/nazuninha/wabot/internal/crypto"
	"github.com/nazuninha/wabot/internal/logging"
	"github.com/nazuninha/wabot/internal/redis"
	"github.com/nazuninha/wabot/internal/server"
	"github.com/nazuninha/wabot/internal/websocket"
	"github.com/nazuninha/wabot/internal/whatsapp"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(cfg *config.Config) *redis.Client {
	client, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func setupCodec(cfg *config.Config) crypto.Codec {
	if cfg.CredentialKey == "" {
		return crypto.PlainCodec{}
	}
	codec, err := crypto.NewGCMCodec(cfg.CredentialKey)
	if err != nil {
		slog.Error("Failed to create credential codec", "error", err)
		os.Exit(1)
	}
	return codec
}

func setupTransport(cfg *config.Config) *whatsapp.Transport {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	transport, err := whatsapp.NewTransport(ctx, cfg.WhatsAppDB)
	if err != nil {
		slog.Error("Failed to open device store", "error", err)
		os.Exit(1)
	}
	return transport
}

func runGracefulShutdown(srv *server.Server, registry *bot.Registry, hub *websocket.Hub, cancelListener context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Disconnect sessions with auto-reconnect left intact so the next
		// boot restores them.
		registry.Shutdown(shutdownCtx)
		hub.Stop()
		cancelListener()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	redisClient := setupRedis(cfg)
	defer func() { _ = redisClient.Close() }()

	sessionStore := redis.NewSessionStore(redisClient)
	settingsStore := redis.NewSettingsStore(redisClient)
	credentialStore := redis.NewCredentialStore(redisClient, setupCodec(cfg))

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelBoot()

	notify := func(ctx context.Context) error {
		return redis.PublishSettingsUpdate(ctx, redisClient)
	}
	settingsSvc, err := bot.NewSettingsService(bootCtx, settingsStore, clock, notify)
	if err != nil {
		slog.Error("Failed to initialize settings", "error", err)
		os.Exit(1)
	}

	// Start blocks until its context is cancelled, so it runs on its own
	// goroutine for the life of the process.
	listenerCtx, cancelListener := context.WithCancel(context.Background())
	listener := redis.NewSettingsListener(redisClient, settingsSvc.Reload)
	go listener.Start(listenerCtx)

	registry := bot.NewRegistry(bot.RegistryOptions{
		Store:       sessionStore,
		Credentials: credentialStore,
		Transport:   setupTransport(cfg),
		EncodeQR:    whatsapp.EncodeQR,
		Settings:    settingsSvc,
		Clock:       clock,
		Policy: bot.ReconnectPolicy{
			Base:        cfg.ReconnectBase,
			Cap:         cfg.ReconnectCap,
			MaxAttempts: cfg.ReconnectMaxAttempts,
			QRWindow:    cfg.QRWindow,
		},
		SendRate:  rate.Limit(cfg.SendRate),
		SendBurst: cfg.SendBurst,
	})

	snapshot := func() ([]byte, error) {
		return json.Marshal(server.StatusUpdate{
			Type:     "status",
			Sessions: registry.ListSessions(),
			Stats:    registry.Stats(),
		})
	}
	hub := websocket.NewHub(snapshot, clock)
	registry.SetOnChange(func() {
		hub.Broadcast(server.StatusUpdate{
			Type:     "status",
			Sessions: registry.ListSessions(),
			Stats:    registry.Stats(),
		})
	})

	if err := registry.Restore(bootCtx); err != nil {
		slog.Error("Failed to restore sessions", "error", err)
		os.Exit(1)
	}

	srv := server.NewServer(cfg, registry, settingsSvc, hub, redisClient)

	done := runGracefulShutdown(srv, registry, hub, cancelListener)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
