package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adpulse/assistant-gateway/internal/api"
	"github.com/adpulse/assistant-gateway/internal/assistant"
	"github.com/adpulse/assistant-gateway/internal/config"
	"github.com/adpulse/assistant-gateway/internal/logger"
	"github.com/adpulse/assistant-gateway/internal/provider"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	instanceID := logger.GetInstanceID()

	log.Info("setting gin mode", slog.String("mode", cfg.GinMode))
	gin.SetMode(cfg.GinMode)

	// NATS is optional: without it the service runs single-instance and stop
	// requests only reach sessions owned by this process.
	var nc *nats.Conn
	if cfg.NatsURL != "" {
		conn, err := nats.Connect(cfg.NatsURL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			log.Error("failed to connect to NATS", slog.String("error", err.Error()))
			os.Exit(1)
		}
		nc = conn
		defer nc.Close()
		log.Info("connected to NATS", slog.String("url", cfg.NatsURL))
	} else {
		log.Warn("NATS_URL not set, running in single-instance mode")
	}

	hubs := api.NewHubRegistry(log)
	providerClient := provider.NewClient(cfg, log)

	manager, err := assistant.NewManager(assistant.ManagerOptions{
		Opener:          providerClient,
		ObserverFactory: hubs.ObserverFor,
		OnRemove:        hubs.Remove,
		IdleTTL:         cfg.ConversationIdleTTL,
		SweepSpec:       cfg.ConversationSweepSpec,
		Logger:          log,
	})
	if err != nil {
		log.Error("failed to initialize conversation manager", slog.String("error", err.Error()))
		os.Exit(1)
	}

	distributed := assistant.NewDistributedCancelService(nc, manager, log, instanceID)
	if distributed != nil {
		if err := distributed.Start(); err != nil {
			log.Error("failed to start distributed cancel service", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	handler := api.NewHandler(manager, hubs, distributed, log)
	router := api.NewRouter(handler, cfg.CORSAllowedOrigins, log)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("starting server", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if distributed != nil {
		if err := distributed.Stop(); err != nil {
			log.Warn("distributed cancel service shutdown failed", slog.String("error", err.Error()))
		}
	}

	if err := manager.Shutdown(ctx); err != nil {
		log.Warn("conversation manager shutdown incomplete", slog.String("error", err.Error()))
	}

	hubs.Close()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("server exited")
}
