package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvLocal, cfg.AppEnv)
	assert.Equal(t, "127.0.0.1:3000", cfg.HTTPAddr)
	assert.Equal(t, ModeMock, cfg.QPayMode)
	assert.Equal(t, 3*time.Second, cfg.PaymentPollInterval)
	assert.Equal(t, 60*time.Second, cfg.PaymentTimeout)
	assert.Equal(t, 24*time.Hour, cfg.WebhookDedupTTL)
	assert.False(t, cfg.KafkaEnabled)
	assert.Equal(t, "invoice.events", cfg.Kafka.Topic)
}

func TestLoad_DockerDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "docker")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:3000", cfg.HTTPAddr)
	assert.Equal(t, "otel-collector:4317", cfg.OtelEndpoint)
}

func TestLoad_InvalidAppEnv(t *testing.T) {
	t.Setenv("APP_ENV", "staging")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_InvalidMode(t *testing.T) {
	t.Setenv("QPAY_MODE", "dry-run")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_ProductionRequiresCredentials(t *testing.T) {
	t.Setenv("QPAY_MODE", "production")
	t.Setenv("QPAY_USERNAME", "MERCHANT")
	t.Setenv("QPAY_PASSWORD", "")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("QPAY_PASSWORD", "secret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://merchant.qpay.mn/v2", cfg.QPayURL)
}

func TestLoad_SandboxUsesTestURL(t *testing.T) {
	t.Setenv("QPAY_MODE", "sandbox")
	t.Setenv("QPAY_USERNAME", "MERCHANT")
	t.Setenv("QPAY_PASSWORD", "secret")
	t.Setenv("QPAY_TEST_URL", "https://sandbox.example/v2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://sandbox.example/v2", cfg.QPayURL)
}

func TestLoad_KafkaEnabledRequiresBrokers(t *testing.T) {
	t.Setenv("KAFKA_ENABLED", "true")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("KAFKA_BROKERS", "localhost:9092,localhost:9093")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9092", "localhost:9093"}, cfg.Kafka.Brokers)
}

func TestLoad_InvalidBoolIsRejected(t *testing.T) {
	t.Setenv("KAFKA_ENABLED", "yes!")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_ENABLED")
}

func TestLoad_TimeoutMustExceedPollInterval(t *testing.T) {
	t.Setenv("PAYMENT_POLL_INTERVAL", "10s")
	t.Setenv("PAYMENT_TIMEOUT", "5s")

	_, err := Load()
	require.Error(t, err)
}
