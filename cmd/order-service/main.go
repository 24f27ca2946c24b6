package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"expvar"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"qrfood/order-service/internal/broker"
	"qrfood/order-service/internal/config"
	"qrfood/order-service/internal/httpapi"
	"qrfood/order-service/internal/hub"
	"qrfood/order-service/internal/queue"
	"qrfood/order-service/internal/relay"
	"qrfood/order-service/internal/store"
	"qrfood/order-service/internal/store/memory"
	"qrfood/order-service/internal/store/postgres"
	"qrfood/order-service/internal/store/rediscounter"
	"qrfood/order-service/internal/telemetry"
	"qrfood/order-service/internal/ticket"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gopkg.in/natefinch/lumberjack.v2"
)

var version = "dev"

// backend is everything the service needs from a store implementation.
type backend interface {
	store.CounterStore
	store.OrderStore
	store.SettingsStore
	store.SessionStore
	store.EventStore
	rediscounter.Mirror
}

func main() {
	cfg := config.Load()
	configureLogging(cfg)
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	shutdownTelemetry := telemetry.Setup("order-service", version)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	st, closeStore, err := openBackend(context.Background(), cfg)
	if err != nil {
		logrus.WithError(err).Fatal("store connect")
	}
	defer closeStore()

	counter, closeCounter, err := openCounter(context.Background(), cfg, st)
	if err != nil {
		logrus.WithError(err).Fatal("counter connect")
	}
	defer closeCounter()

	secret, generated := queueSecret(cfg.QueueSecret)
	if generated {
		logrus.Warn("QUEUE_SECRET not set; using a random secret, tickets will not survive a restart")
	}
	codec := queue.NewCodec(secret, cfg.QueuePrefix)
	tickets := ticket.NewService(st, st, queue.NewAllocator(counter), codec, ticket.Options{
		BaseURL: cfg.PublicBaseURL,
	})
	if cfg.AdminPasswordHash == "" {
		logrus.Warn("ADMIN_PASSWORD_HASH not set; admin login is disabled")
	}
	handler := httpapi.NewHandler(tickets, httpapi.NewAuthenticator(cfg.AdminPasswordHash, st, cfg.SessionTTL))
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:     cfg.RateLimitPerMinute,
		IPBurst:         cfg.RateLimitBurst,
		TicketPerMinute: cfg.TicketRateLimitPerMinute,
		TicketBurst:     cfg.TicketRateLimitBurst,
		TrustProxy:      cfg.TrustProxy,
	})

	h := hub.New()
	expvar.Publish("realtime_clients", expvar.Func(func() interface{} { return h.Len() }))
	publishers := []relay.Publisher{relay.NewHubPublisher(h)}
	if cfg.AMQPURL != "" {
		publisher, err := broker.Dial(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logrus.WithError(err).Fatal("amqp connect")
		}
		defer publisher.Close()
		publishers = append(publishers, publisher)
	}
	events := relay.New(st, relay.Options{
		BatchSize: cfg.OutboxBatchSize,
		Lease:     cfg.OutboxLease,
		Label:     codec.Format,
	}, publishers...)

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/realtime/", httpapi.RealtimeHandler(h, codec))
	mux.Handle("/", httpapi.AuthMiddleware(st, httpapi.AdminOnly(handler.Routes())))

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "order-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.WithFields(logrus.Fields{
			"addr":    server.Addr,
			"store":   cfg.StoreBackend,
			"counter": cfg.CounterBackend,
		}).Info("order-service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("server error")
		}
	}()

	ctx, stopLoops := context.WithCancel(context.Background())
	defer stopLoops()

	go runEvery(ctx, cfg.OutboxPollInterval, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, err := events.RunOnce(ctx); err != nil {
			logrus.WithError(err).Warn("outbox relay error")
		}
	})

	if cfg.OutboxRetention > 0 {
		go runEvery(ctx, cfg.PurgeInterval, func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			count, err := events.PurgePublished(ctx, cfg.OutboxRetention)
			if err != nil {
				logrus.WithError(err).Warn("outbox purge error")
				return
			}
			if count > 0 {
				logrus.WithField("count", count).Debug("purged published outbox events")
			}
		})
	}

	if cfg.OrderRetention > 0 {
		go runEvery(ctx, cfg.PurgeInterval, func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			count, err := tickets.PurgeExpired(ctx, cfg.OrderRetention)
			if err != nil {
				logrus.WithError(err).Warn("order purge error")
				return
			}
			if count > 0 {
				logrus.WithField("count", count).Info("purged expired orders")
			}
		})
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	stopLoops()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("shutdown error")
	}
}

func configureLogging(cfg config.Config) {
	if cfg.LogJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithField("level", cfg.LogLevel).Warn("unknown LOG_LEVEL, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.LogFile != "" {
		logrus.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogFileMaxSizeMB,
			MaxBackups: cfg.LogFileMaxBackups,
			Compress:   true,
		}))
	}
}

func openBackend(ctx context.Context, cfg config.Config) (backend, func(), error) {
	if cfg.StoreBackend == config.BackendMemory {
		logrus.Warn("using in-memory store; orders are lost on restart")
		return memory.NewStore(memory.DefaultSettings()), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("db connect: %w", err)
	}
	return postgres.NewStore(pool), pool.Close, nil
}

// openCounter returns the queue counter. A fresh redis key is seeded from
// the settings row so switching backends does not restart numbering, and the
// row then follows every increment.
func openCounter(ctx context.Context, cfg config.Config, st backend) (store.CounterStore, func(), error) {
	if cfg.CounterBackend != config.BackendRedis {
		return st, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	counter := rediscounter.NewCounter(client, cfg.RedisCounterKey, st)

	settings, err := st.GetSettings(ctx)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("load settings: %w", err)
	}
	seeded, err := counter.Seed(ctx, settings.QueueCounter)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("seed counter: %w", err)
	}
	if seeded {
		logrus.WithField("queue_counter", settings.QueueCounter).Info("seeded redis queue counter")
	}
	return counter, func() { _ = client.Close() }, nil
}

// queueSecret reports whether the returned secret was generated.
func queueSecret(configured string) (string, bool) {
	if configured != "" {
		return configured, false
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		logrus.WithError(err).Fatal("generate queue secret")
	}
	return hex.EncodeToString(buf), true
}

// runEvery calls fn on every tick until ctx is done. A tick that arrives
// while fn is still running is skipped.
func runEvery(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	if interval <= 0 {
		interval = time.Second
	}
	var running int32
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !atomic.CompareAndSwapInt32(&running, 0, 1) {
				continue
			}
			go func() {
				defer atomic.StoreInt32(&running, 0)
				fn(ctx)
			}()
		}
	}
}
