package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/fjod/go_sales/internal/cache"
	"github.com/fjod/go_sales/internal/config"
	h "github.com/fjod/go_sales/internal/http"
	"github.com/fjod/go_sales/internal/logger"
	"github.com/fjod/go_sales/internal/publisher"
	"github.com/fjod/go_sales/internal/repository"
	"github.com/fjod/go_sales/internal/service"
	"github.com/fjod/go_sales/internal/store"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Logger, cfg.IsDevelopment())
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	totals := openCache(ctx, cfg, log)

	svc := h.Services{
		Catalog:   service.NewCatalog(st, log),
		Orders:    service.NewOrders(st, totals, log),
		Lifecycle: service.NewOrderLifecycle(st, log),
	}

	if len(cfg.Kafka.Brokers) > 0 {
		poller := publisher.NewOutboxPoller(st, publisher.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			PollInterval: cfg.Kafka.PollInterval,
			BatchSize:    cfg.Kafka.BatchSize,
		}, log)
		defer poller.Close()
		go poller.Run(ctx)
		log.Info("outbox poller started", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	} else {
		log.Warn("KAFKA_BROKERS not set, outbox events will not be published")
	}

	router := h.NewRouter(svc, h.RouterConfig{
		RequestTimeout:     cfg.Server.RequestTimeout,
		MaxRequestBodySize: cfg.Server.MaxRequestBodySize,
	}, log)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.HTTPPort,
		Handler:      otelhttp.NewHandler(router, "sales-api"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("sales api starting", zap.String("addr", srv.Addr), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
		os.Exit(1)
	}

	log.Info("server exited")
}

func openStore(cfg *config.Config, log *zap.Logger) (store.Store, error) {
	if cfg.Store.Driver == config.StoreDriverMemory {
		log.Warn("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), nil
	}

	creds := &repository.Credentials{
		Host:              cfg.Postgres.Host,
		Port:              cfg.Postgres.Port,
		User:              cfg.Postgres.User,
		Password:          cfg.Postgres.Password,
		DBName:            cfg.Postgres.DBName,
		MigrationsDirPath: cfg.Postgres.MigrationsDirPath,
		MaxOpenConns:      cfg.Postgres.MaxOpenConns,
		MaxIdleConns:      cfg.Postgres.MaxIdleConns,
	}

	repo, err := repository.NewRepository(creds, log)
	if err != nil {
		return nil, err
	}
	if err := repo.RunMigrations(creds); err != nil {
		repo.Close()
		return nil, err
	}
	log.Info("database migrations completed")
	return repo, nil
}

// openCache connects to redis when configured. Without redis the totals are
// computed on every request.
func openCache(ctx context.Context, cfg *config.Config, log *zap.Logger) cache.TotalsCache {
	if cfg.Redis.Addr == "" {
		log.Warn("REDIS_ADDR not set, totals cache disabled")
		return cache.NopCache{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis ping failed, totals cache disabled", zap.Error(err))
		client.Close()
		return cache.NopCache{}
	}
	log.Info("redis ping succeeded", zap.String("addr", cfg.Redis.Addr))
	return cache.NewRedisCache(client, cfg.Redis.TotalsTTL)
}
