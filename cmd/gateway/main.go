// The gateway binary accepts event emissions and enqueues them for the
// dispatcher.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/R3E-Network/integration_layer/applications/gateway"
	"github.com/R3E-Network/integration_layer/domain/event"
	"github.com/R3E-Network/integration_layer/infrastructure/config"
	"github.com/R3E-Network/integration_layer/infrastructure/queue"
	"github.com/R3E-Network/integration_layer/infrastructure/storage"
	"github.com/R3E-Network/integration_layer/pkg/logger"
)

func main() {
	log := logger.NewFromEnv("gateway")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("could not load config")
	}
	password, err := cfg.AccessKeyPassword()
	if err != nil {
		log.WithError(err).Fatal("invalid access key password")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.DatabaseURL))
	if err != nil {
		log.WithError(err).Fatal("could not connect to database")
	}
	defer func() { _ = client.Disconnect(context.Background()) }()
	db := client.Database(cfg.DatabaseName)

	eventQueue, err := queue.New(ctx, queue.Config{RedisURL: cfg.RedisURL, QueueName: cfg.QueueName})
	if err != nil {
		log.WithError(err).Fatal("could not connect to queue")
	}
	defer func() { _ = eventQueue.Close() }()

	g := &gateway.Gateway{
		Password:     password,
		SecretHeader: "x-buildable-secret",
		Events:       storage.NewStore[event.Event](db, storage.Events),
		Queue:        eventQueue,
		Log:          log,
	}

	httpServer := &http.Server{
		Addr:    cfg.GatewayAddress,
		Handler: g.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.WithField("address", cfg.GatewayAddress).Info("gateway listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server failed")
	}
}
