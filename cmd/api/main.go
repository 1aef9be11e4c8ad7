// The api binary serves the unified and passthrough dispatch surface.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/R3E-Network/integration_layer/applications/httpapi"
	"github.com/R3E-Network/integration_layer/domain/connection"
	"github.com/R3E-Network/integration_layer/domain/event"
	"github.com/R3E-Network/integration_layer/domain/secret"
	"github.com/R3E-Network/integration_layer/domain/unified"
	"github.com/R3E-Network/integration_layer/infrastructure/cache"
	"github.com/R3E-Network/integration_layer/infrastructure/config"
	"github.com/R3E-Network/integration_layer/infrastructure/crypto"
	"github.com/R3E-Network/integration_layer/infrastructure/jsruntime"
	"github.com/R3E-Network/integration_layer/infrastructure/metrics"
	"github.com/R3E-Network/integration_layer/infrastructure/middleware"
	"github.com/R3E-Network/integration_layer/infrastructure/queue"
	"github.com/R3E-Network/integration_layer/infrastructure/ratelimit"
	"github.com/R3E-Network/integration_layer/infrastructure/secrets"
	"github.com/R3E-Network/integration_layer/infrastructure/storage"
	"github.com/R3E-Network/integration_layer/pkg/logger"
)

func main() {
	log := logger.NewFromEnv("api")

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

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.WithError(err).Fatal("could not parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()

	localCrypto, err := crypto.NewLocalCrypto([]byte(cfg.Secret))
	if err != nil {
		log.WithError(err).Fatal("could not build crypto")
	}

	caches := cache.NewCaches(cache.CachesConfig{
		EventAccess:      cache.Config{TTL: cfg.Cache.TTL, MaxSize: cfg.Cache.Size},
		Connections:      cache.Config{TTL: cfg.Cache.TTL, MaxSize: cfg.Cache.Size},
		Secrets:          cache.Config{TTL: cfg.Cache.TTL, MaxSize: cfg.Cache.Size},
		ModelDefinitions: cache.Config{TTL: cfg.Cache.TTL, MaxSize: cfg.Cache.Size},
		OAuthDefinitions: cache.Config{TTL: cfg.Cache.TTL, MaxSize: cfg.Cache.Size},
	})

	secretStore := secrets.NewDocumentStore(storage.NewStore[secret.Secret](db, storage.Secrets), localCrypto)
	systemStats := storage.NewStore[bson.M](db, storage.SystemStats)

	registry := prometheus.NewRegistry()
	emitter := metrics.NewEmitter(systemStats, log, cfg.MetricsBuffer, registry)
	go emitter.Run(ctx)

	engine := unified.NewEngine(unified.Options{
		ModelDefinitions:  storage.NewStore[connection.ModelDefinition](db, storage.ConnectionModelDefinitions),
		OAuthDefinitions:  storage.NewStore[connection.OAuthDefinition](db, storage.ConnectionOAuthDefinitions),
		Connections:       storage.NewStore[connection.Connection](db, storage.Connections),
		Secrets:           secretStore,
		Caches:            caches,
		JS:                jsruntime.New(cfg.ScriptTimeout),
		Client:            ratelimit.NewRateLimitedClient(&http.Client{Timeout: cfg.HTTPTimeout}, cfg.OutboundRPS, cfg.OutboundBurst),
		Logger:            log,
		Timeout:           cfg.HTTPTimeout,
		OAuthSafetyMargin: cfg.OAuthSafetyGap,
	})

	password, err := cfg.AccessKeyPassword()
	if err != nil {
		log.WithError(err).Fatal("invalid access key password")
	}

	server := &httpapi.Server{
		Headers:     cfg.Headers,
		EventAccess: storage.NewStore[event.Access](db, storage.EventAccess),
		Connections: storage.NewStore[connection.Connection](db, storage.Connections),
		Caches:      caches,
		Engine:      engine,
		Throughput:  ratelimit.NewThroughput(redisClient, cfg.APIThroughputKey),
		Metrics:     emitter,
		Log:         log,
		Password:    password,
		Events:      storage.NewStore[event.Event](db, storage.Events),
		EventQueue:  queue.NewWithClient(redisClient, cfg.QueueName),
	}

	go serveMetrics(cfg.MetricsAddress, cfg.JWTSecret, registry, log)

	httpServer := &http.Server{
		Addr:    cfg.ServerAddress,
		Handler: server.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.WithField("address", cfg.ServerAddress).Info("api listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server failed")
	}
}

func serveMetrics(address, jwtSecret string, registry *prometheus.Registry, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", middleware.AdminAuth(jwtSecret, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	if err := http.ListenAndServe(address, mux); err != nil {
		log.WithError(err).Warn("metrics endpoint failed")
	}
}
