package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mossy-p/mesh-signaling/config"
	"github.com/mossy-p/mesh-signaling/internal/events"
	"github.com/mossy-p/mesh-signaling/internal/handlers"
	"github.com/mossy-p/mesh-signaling/internal/logging"
	"github.com/mossy-p/mesh-signaling/internal/metrics"
	"github.com/mossy-p/mesh-signaling/internal/redis"
	"github.com/mossy-p/mesh-signaling/internal/registry"
	"github.com/mossy-p/mesh-signaling/internal/signaling"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg := config.Load()
	logger := logging.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)
	observers := []signaling.RoomObserver{m}

	// Redis presence mirror (optional)
	if cfg.Redis.Host != "" {
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			logger.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		logger.Info("Redis connection established", "host", cfg.Redis.Host)

		presence := redis.NewPresence(client, cfg.Redis.TTL, logger)
		go presence.Run(ctx)
		observers = append(observers, presence)
	}

	// Room event publishing (optional)
	if cfg.AMQP.URL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		publisher, err := events.Connect(dialCtx, cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		cancel()
		if err != nil {
			logger.Error("Failed to connect to RabbitMQ", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		logger.Info("RabbitMQ connection established", "exchange", cfg.AMQP.Exchange)

		go publisher.Run(ctx)
		observers = append(observers, publisher)
	}

	hub := signaling.NewHub(registry.New(), signaling.Options{
		Logger:        logger,
		SendQueueSize: cfg.SendQueueSize,
		Observers:     observers,
		Recorder:      m,
	})
	go hub.Run(ctx)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
		Hub:            hub,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting mesh signaling server", "port", cfg.Port, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Failed to start server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Graceful shutdown failed", "error", err)
	}
}
