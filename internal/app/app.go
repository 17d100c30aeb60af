package app

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	platformlogging "github.com/withrein/store-app/platform/logging"
	platformobservability "github.com/withrein/store-app/platform/observability"
	platformshutdown "github.com/withrein/store-app/platform/shutdown"

	httpapi "github.com/withrein/store-app/internal/api/http"
	"github.com/withrein/store-app/internal/config"
	eventkafka "github.com/withrein/store-app/internal/event/kafka"
	"github.com/withrein/store-app/internal/gateway"
	"github.com/withrein/store-app/internal/monitor"
	"github.com/withrein/store-app/internal/repository/memory"
	"github.com/withrein/store-app/internal/service"
	"github.com/withrein/store-app/internal/webhook"
)

// App содержит все зависимости для запуска и корректного shutdown сервиса
type App struct {
	logger      *zap.Logger
	httpServer  *http.Server
	shutdownMgr *platformshutdown.Manager
	readiness   func() bool
	wg          sync.WaitGroup
}

// Build создаёт и настраивает все зависимости платёжного сервиса
func Build(cfg config.Config) (*App, error) {
	const op = "app.Build"

	logger, err := platformlogging.New(platformlogging.Config{
		ServiceName: "store-app",
		Env:         string(cfg.AppEnv),
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("op", op))
	logger.Info("Building payment service",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("qpay_mode", string(cfg.QPayMode)),
	)

	shutdownMgr := platformshutdown.New(cfg.ShutdownTimeout, logger)

	// OpenTelemetry (noop при OTEL_ENABLED=false)
	otelShutdown, err := platformobservability.Init(context.Background(), platformobservability.Config{
		Enabled:               cfg.OtelEnabled,
		OTLPEndpoint:          cfg.OtelEndpoint,
		SamplingRatio:         cfg.OtelSamplingRatio,
		ServiceName:           "store-app",
		DeploymentEnvironment: string(cfg.AppEnv),
	})
	if err != nil {
		return nil, err
	}
	shutdownMgr.Add("otel", otelShutdown)

	// Хранилище инвойсов: состояние живёт только в процессе
	repo := memory.NewMemoryRepository()

	// Платёжный шлюз: в mock-режиме — встроенный fake, иначе QPay merchant API
	var gatewayClient gateway.Client
	var recorder webhook.PaymentRecorder
	if cfg.QPayMode == config.ModeMock {
		fake := gateway.NewFakeClient(logger)
		if err := fake.LoadFixtures(cfg.QPayMockFile); err != nil {
			return nil, err
		}
		gatewayClient = fake
		recorder = fake
		logger.Info("Using mock payment gateway", zap.String("fixtures", cfg.QPayMockFile))
	} else {
		gatewayClient = gateway.NewQPayClient(logger, gateway.QPayConfig{
			BaseURL:     cfg.QPayURL,
			Username:    cfg.QPayUsername,
			Password:    cfg.QPayPassword,
			InvoiceCode: cfg.QPayTemplate,
			CallbackURL: cfg.QPayCallbackURL,
		})
		logger.Info("Using QPay gateway", zap.String("base_url", cfg.QPayURL))
	}

	// Монитор оплаты: poll + expiry на каждый созданный инвойс
	monitorMgr := monitor.NewManager(logger, gatewayClient, monitor.Config{
		PollInterval: cfg.PaymentPollInterval,
		Timeout:      cfg.PaymentTimeout,
	})
	shutdownMgr.Add("payment_monitors", monitorMgr.StopAll)

	// Публикация событий инвойса в Kafka (noop при KAFKA_ENABLED=false)
	var events service.InvoiceEventPublisher = eventkafka.NoopInvoiceEventPublisher{}
	if cfg.KafkaEnabled {
		publisher := eventkafka.NewKafkaInvoiceEventPublisher(logger, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		events = publisher
		shutdownMgr.Add("kafka_writer", platformshutdown.CloseWriter(publisher))
		logger.Info("Kafka invoice events enabled", zap.String("topic", cfg.Kafka.Topic))
	}

	svc := service.NewInvoiceService(logger, repo, gatewayClient, monitorMgr, events, cfg.PaymentTimeout)

	// Дедупликация webhook-ов: Redis, если настроен, иначе in-memory
	var dedupStore webhook.ProcessedWebhookStore
	readiness := func() bool { return true }
	if cfg.WebhookDedupRedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.WebhookDedupRedisAddr})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			return nil, err
		}
		dedupStore = webhook.NewRedisStore(redisClient)
		shutdownMgr.Add("redis", platformshutdown.CloseWriter(redisClient))
		readiness = func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Ping(ctx).Err() == nil
		}
		logger.Info("Webhook dedup store: redis", zap.String("addr", cfg.WebhookDedupRedisAddr))
	} else {
		dedupStore = webhook.NewMemoryStore()
		logger.Info("Webhook dedup store: in-memory")
	}

	processor := webhook.NewProcessor(logger, dedupStore, svc, recorder, webhook.Config{
		Secret:   cfg.QPayWebhookSecret,
		DedupTTL: cfg.WebhookDedupTTL,
	})

	handler := httpapi.NewHandler(logger, svc, processor)
	router := httpapi.NewRouter(handler, readiness, logger)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	shutdownMgr.Add("http_server", platformshutdown.ShutdownHTTPServer(httpServer))

	return &App{
		logger:      logger,
		httpServer:  httpServer,
		shutdownMgr: shutdownMgr,
		readiness:   readiness,
	}, nil
}

// Run запускает сервис и блокируется до получения сигнала shutdown
func (a *App) Run() error {
	defer platformlogging.Sync(a.logger)

	a.logger.Info("Starting payment service", zap.String("addr", a.httpServer.Addr))
	a.logger.Info("Health check available", zap.String("url", "http://"+a.httpServer.Addr+"/health"))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	a.shutdownMgr.Wait()

	a.wg.Wait()
	a.logger.Info("Payment service stopped")
	return nil
}
