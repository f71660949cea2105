package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	log "github.com/sirupsen/logrus"
	"log/slog"

	"eventlink/pkg/config"
	"eventlink/pkg/manager"
	"eventlink/pkg/router"
	"eventlink/pkg/websocket"
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		DisableTimestamp:       false,
		FullTimestamp:          true,
		TimestampFormat:        "2006-01-02 15:04:05",
		DisableLevelTruncation: true,
		QuoteEmptyFields:       false,
		DisableQuote:           true,
		ForceColors:            true,
	})

	log.SetLevel(log.DebugLevel)

	tintOptions := &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02 15:04:05",
		AddSource:  true,
	}

	handler := tint.NewHandler(os.Stdout, tintOptions)
	logger := slog.New(handler)

	slog.SetDefault(logger)
}

func main() {
	configPath := flag.String("config", "", "path to JSON config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := manager.InitDatabase(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}

	presenceStore := manager.CreatePresenceStore(db, slog.Default())

	var offlineQueue *manager.OfflineQueue
	var notifier websocket.OfflineNotifier
	if cfg.AMQPURI != "" {
		offlineQueue, err = manager.CreateOfflineQueue(cfg.AMQPURI, cfg.AMQPQueue, slog.Default())
		if err != nil {
			log.Fatalf("failed to connect to RabbitMQ: %v", err)
		}
		defer func() {
			if err := offlineQueue.Close(); err != nil {
				slog.Error("failed to close offline queue", "error", err)
			}
		}()
		notifier = offlineQueue
	} else {
		slog.Warn("no AMQP URI configured, offline notifications disabled")
	}

	relay := websocket.CreateRelay(slog.Default(), cfg.Heartbeat(), presenceStore, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx)

	r := router.SetupRouter(db, relay, slog.Default())

	srv := &http.Server{
		Addr:    cfg.Port,
		Handler: r,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}
}
