// The eventcore binary runs the event pipeline dispatcher.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/R3E-Network/integration_layer/applications/eventcore"
	"github.com/R3E-Network/integration_layer/domain/connection"
	"github.com/R3E-Network/integration_layer/domain/contexts"
	"github.com/R3E-Network/integration_layer/domain/event"
	"github.com/R3E-Network/integration_layer/domain/pipeline"
	"github.com/R3E-Network/integration_layer/domain/secret"
	"github.com/R3E-Network/integration_layer/domain/unified"
	"github.com/R3E-Network/integration_layer/infrastructure/cache"
	"github.com/R3E-Network/integration_layer/infrastructure/config"
	"github.com/R3E-Network/integration_layer/infrastructure/crypto"
	"github.com/R3E-Network/integration_layer/infrastructure/jsruntime"
	"github.com/R3E-Network/integration_layer/infrastructure/queue"
	"github.com/R3E-Network/integration_layer/infrastructure/ratelimit"
	"github.com/R3E-Network/integration_layer/infrastructure/secrets"
	"github.com/R3E-Network/integration_layer/infrastructure/storage"
	"github.com/R3E-Network/integration_layer/pkg/logger"

	"github.com/redis/go-redis/v9"
)

func main() {
	log := logger.NewFromEnv("eventcore")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("could not load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.DatabaseURL))
	if err != nil {
		log.WithError(err).Fatal("could not connect to database")
	}
	defer func() { _ = client.Disconnect(context.Background()) }()
	db := client.Database(cfg.DatabaseName)
	contextDB := client.Database(cfg.ContextDatabase)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.WithError(err).Fatal("could not parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()

	eventQueue := queue.NewWithClient(redisClient, cfg.QueueName)

	localCrypto, err := crypto.NewLocalCrypto([]byte(cfg.Secret))
	if err != nil {
		log.WithError(err).Fatal("could not build crypto")
	}

	caches := cache.NewCaches(cache.CachesConfig{
		Connections: cache.Config{TTL: cfg.Cache.TTL, MaxSize: cfg.Cache.Size},
		Secrets:     cache.Config{TTL: cfg.Cache.TTL, MaxSize: cfg.Cache.Size},
	})
	secretStore := secrets.NewDocumentStore(storage.NewStore[secret.Secret](db, storage.Secrets), localCrypto)

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	engine := unified.NewEngine(unified.Options{
		ModelDefinitions:  storage.NewStore[connection.ModelDefinition](db, storage.ConnectionModelDefinitions),
		OAuthDefinitions:  storage.NewStore[connection.OAuthDefinition](db, storage.ConnectionOAuthDefinitions),
		Connections:       storage.NewStore[connection.Connection](db, storage.Connections),
		Secrets:           secretStore,
		Caches:            caches,
		JS:                jsruntime.New(cfg.ScriptTimeout),
		Client:            httpClient,
		Logger:            log,
		Timeout:           cfg.HTTPTimeout,
		OAuthSafetyMargin: cfg.OAuthSafetyGap,
	})

	control := &eventcore.MongoControlDataStore{
		Connections:  storage.NewStore[connection.Connection](db, storage.Connections),
		EventAccess:  storage.NewStore[event.Access](db, storage.EventAccess),
		Pipelines:    storage.NewStore[pipeline.Pipeline](db, storage.Pipelines),
		Transactions: storage.NewStore[contexts.Transaction](db, storage.EventTransactions),
		Caches:       caches,
		Engine:       engine,
		Client:       httpClient,
	}
	contextStore := eventcore.NewMongoContextStore(storage.NewStore[eventcore.ContextRecord](contextDB, storage.PipelineContexts))
	eventStore := eventcore.NewMongoEventStore(storage.NewStore[event.Event](db, storage.Events))

	handler := &eventcore.EventHandler{
		Queue:      eventQueue,
		Throughput: ratelimit.NewThroughput(redisClient, cfg.EventThroughputKey),
		Control:    control,
		Contexts:   contextStore,
		Log:        log,
	}
	dispatcher := &eventcore.Dispatcher{
		Contexts:       contextStore,
		Events:         eventStore,
		Control:        control,
		JS:             jsruntime.New(cfg.ScriptTimeout),
		Log:            log,
		MaxRetries:     cfg.DestinationRetries,
		InitialBackoff: cfg.DestinationBackoff,
	}

	runner := &eventcore.Runner{
		Handler:     handler,
		Dispatcher:  dispatcher,
		Concurrency: cfg.DispatcherConcurrency,
		Grace:       cfg.ShutdownGrace,
	}

	log.Info("listening for events on the queue")
	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		log.WithError(err).Fatal("dispatcher failed")
	}
}
