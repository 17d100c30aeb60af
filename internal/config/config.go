package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	platformkafka "github.com/withrein/store-app/platform/kafka"
)

// Env представляет окружение приложения
type Env string

const (
	// EnvLocal - локальное окружение (для разработки на хосте)
	EnvLocal Env = "local"
	// EnvDocker - Docker окружение (для запуска в контейнерах)
	EnvDocker Env = "docker"
)

// QPayMode определяет, с каким шлюзом работает сервис
type QPayMode string

const (
	// ModeProduction - боевой QPay merchant API
	ModeProduction QPayMode = "production"
	// ModeSandbox - тестовый контур QPay
	ModeSandbox QPayMode = "sandbox"
	// ModeMock - встроенный fake-шлюз без внешних вызовов
	ModeMock QPayMode = "mock"
)

// Config содержит конфигурацию платёжного сервиса
type Config struct {
	AppEnv          Env
	HTTPAddr        string
	ShutdownTimeout time.Duration

	QPayMode          QPayMode
	QPayURL           string
	QPayUsername      string
	QPayPassword      string
	QPayTemplate      string
	QPayCallbackURL   string
	QPayWebhookSecret string
	QPayMockFile      string

	PaymentPollInterval time.Duration
	PaymentTimeout      time.Duration

	WebhookDedupTTL       time.Duration
	WebhookDedupRedisAddr string

	KafkaEnabled bool
	Kafka        platformkafka.Config

	OtelEnabled       bool
	OtelEndpoint      string
	OtelSamplingRatio float64

	LogLevel  string
	LogFormat string
}

// Load загружает конфигурацию из переменных окружения.
// Читает APP_ENV и устанавливает дефолты в зависимости от окружения.
func Load() (Config, error) {
	cfg := Config{}

	appEnvStr := getString("APP_ENV", string(EnvLocal))
	appEnv := Env(appEnvStr)
	if appEnv != EnvLocal && appEnv != EnvDocker {
		return Config{}, fmt.Errorf("invalid APP_ENV: %s (must be 'local' or 'docker')", appEnvStr)
	}
	cfg.AppEnv = appEnv

	if cfg.AppEnv == EnvLocal {
		cfg.HTTPAddr = getString("HTTP_ADDR", "127.0.0.1:3000")
	} else {
		cfg.HTTPAddr = getString("HTTP_ADDR", "0.0.0.0:3000")
	}

	var err error
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", "10s"); err != nil {
		return Config{}, err
	}

	mode := QPayMode(getString("QPAY_MODE", string(ModeMock)))
	switch mode {
	case ModeProduction, ModeSandbox, ModeMock:
	default:
		return Config{}, fmt.Errorf("invalid QPAY_MODE: %s (must be 'production', 'sandbox' or 'mock')", mode)
	}
	cfg.QPayMode = mode

	// База выбирается по режиму: боевой и sandbox контуры живут на разных хостах
	if mode == ModeProduction {
		cfg.QPayURL = getString("QPAY_URL", "https://merchant.qpay.mn/v2")
	} else {
		cfg.QPayURL = getString("QPAY_TEST_URL", "https://merchant-sandbox.qpay.mn/v2")
	}

	cfg.QPayUsername = getString("QPAY_USERNAME", "TEST_MERCHANT")
	cfg.QPayPassword = getString("QPAY_PASSWORD", "")
	cfg.QPayTemplate = getString("QPAY_TEMPLATE", "TEST_INVOICE")
	cfg.QPayCallbackURL = getString("QPAY_CALLBACK_URL", "http://localhost:3000/qpay/callback")
	cfg.QPayWebhookSecret = getString("QPAY_WEBHOOK_SECRET", "")
	cfg.QPayMockFile = getString("QPAY_MOCK_FILE", "mock.json")

	if cfg.PaymentPollInterval, err = getDuration("PAYMENT_POLL_INTERVAL", "3s"); err != nil {
		return Config{}, err
	}
	if cfg.PaymentTimeout, err = getDuration("PAYMENT_TIMEOUT", "60s"); err != nil {
		return Config{}, err
	}

	if cfg.WebhookDedupTTL, err = getDuration("WEBHOOK_DEDUP_TTL", "24h"); err != nil {
		return Config{}, err
	}
	cfg.WebhookDedupRedisAddr = getString("WEBHOOK_DEDUP_REDIS_ADDR", "")

	if cfg.KafkaEnabled, err = getBool("KAFKA_ENABLED", false); err != nil {
		return Config{}, err
	}
	if err := platformkafka.LoadEnv(&cfg.Kafka); err != nil {
		return Config{}, fmt.Errorf("load kafka config: %w", err)
	}

	if cfg.OtelEnabled, err = getBool("OTEL_ENABLED", false); err != nil {
		return Config{}, err
	}
	if cfg.AppEnv == EnvLocal {
		cfg.OtelEndpoint = getString("OTEL_ENDPOINT", "127.0.0.1:4317")
	} else {
		cfg.OtelEndpoint = getString("OTEL_ENDPOINT", "otel-collector:4317")
	}
	if cfg.OtelSamplingRatio, err = getFloat("OTEL_SAMPLING_RATIO", 1.0); err != nil {
		return Config{}, err
	}

	cfg.LogLevel = getString("LOG_LEVEL", "info")
	cfg.LogFormat = getString("LOG_FORMAT", "")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate проверяет корректность конфигурации
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR is required")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}
	if c.PaymentPollInterval <= 0 {
		return fmt.Errorf("PAYMENT_POLL_INTERVAL must be positive")
	}
	if c.PaymentTimeout <= c.PaymentPollInterval {
		return fmt.Errorf("PAYMENT_TIMEOUT must be greater than PAYMENT_POLL_INTERVAL")
	}
	if c.WebhookDedupTTL <= 0 {
		return fmt.Errorf("WEBHOOK_DEDUP_TTL must be positive")
	}
	if c.QPayMode != ModeMock {
		if c.QPayURL == "" {
			return fmt.Errorf("QPAY_URL is required for mode %s", c.QPayMode)
		}
		if c.QPayUsername == "" || c.QPayPassword == "" {
			return fmt.Errorf("QPAY_USERNAME and QPAY_PASSWORD are required for mode %s", c.QPayMode)
		}
	}
	if c.KafkaEnabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	}
	if c.OtelSamplingRatio < 0 || c.OtelSamplingRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATIO must be in [0, 1]")
	}
	return nil
}

// Log выводит конфигурацию в лог. Секреты маскируются.
func (c Config) Log() {
	log.Printf("Config loaded:")
	log.Printf("  APP_ENV: %s", c.AppEnv)
	log.Printf("  HTTP_ADDR: %s", c.HTTPAddr)
	log.Printf("  SHUTDOWN_TIMEOUT: %s", c.ShutdownTimeout)
	log.Printf("  QPAY_MODE: %s", c.QPayMode)
	log.Printf("  QPAY_URL: %s", c.QPayURL)
	log.Printf("  QPAY_USERNAME: %s", c.QPayUsername)
	log.Printf("  QPAY_PASSWORD: %s", mask(c.QPayPassword))
	log.Printf("  QPAY_TEMPLATE: %s", c.QPayTemplate)
	log.Printf("  QPAY_CALLBACK_URL: %s", c.QPayCallbackURL)
	log.Printf("  QPAY_WEBHOOK_SECRET: %s", mask(c.QPayWebhookSecret))
	log.Printf("  PAYMENT_POLL_INTERVAL: %s", c.PaymentPollInterval)
	log.Printf("  PAYMENT_TIMEOUT: %s", c.PaymentTimeout)
	log.Printf("  WEBHOOK_DEDUP_TTL: %s", c.WebhookDedupTTL)
	log.Printf("  WEBHOOK_DEDUP_REDIS_ADDR: %s", c.WebhookDedupRedisAddr)
	log.Printf("  KAFKA_ENABLED: %v", c.KafkaEnabled)
	log.Printf("  KAFKA_BROKERS: %v", c.Kafka.Brokers)
	log.Printf("  KAFKA_INVOICE_EVENTS_TOPIC: %s", c.Kafka.Topic)
	log.Printf("  OTEL_ENABLED: %v", c.OtelEnabled)
	log.Printf("  OTEL_ENDPOINT: %s", c.OtelEndpoint)
	log.Printf("  OTEL_SAMPLING_RATIO: %v", c.OtelSamplingRatio)
	log.Printf("  LOG_LEVEL: %s", c.LogLevel)
}

// mask скрывает секрет, оставляя только признак его наличия
func mask(secret string) string {
	if secret == "" {
		return "(empty)"
	}
	return "****"
}

// getString читает переменную окружения или возвращает дефолт
func getString(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getBool читает булеву переменную окружения
func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

// getDuration читает duration-переменную окружения
func getDuration(key, defaultValue string) (time.Duration, error) {
	value := getString(key, defaultValue)
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

// getFloat читает float-переменную окружения
func getFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}
