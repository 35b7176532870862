package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFrom(t *testing.T, environ map[string]string) (*Config, error) {
	t.Helper()
	return LoadWithOptions(env.Options{Environment: environ})
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadFrom(t, map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, TransportAMQP, cfg.Broker.Transport)
	assert.Equal(t, "order_events", cfg.Broker.Exchange)
	assert.Equal(t, "notification_queue", cfg.Broker.Queue)
	assert.Equal(t, "order.created", cfg.Broker.RoutingKey)
	assert.Equal(t, 1, cfg.Broker.Prefetch)
	assert.True(t, cfg.Broker.PublisherConfirms)

	assert.Equal(t, "drop", cfg.Policy.Mode)

	assert.Equal(t, "smtp.sendgrid.net", cfg.SMTP.Server)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, "apikey", cfg.SMTP.Username)
	assert.Equal(t, "noreply@bookstore.com", cfg.SMTP.FromEmail)
	assert.Equal(t, "Book Store Notifications", cfg.SMTP.FromName)
	assert.Zero(t, cfg.SMTP.SendTimeout)

	assert.Equal(t, "postgres", cfg.Service.OrderStore)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.APIAddr())
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := loadFrom(t, map[string]string{
		"SMTP_SERVER":                 "mail.internal",
		"SMTP_PORT":                   "2525",
		"SMTP_PASSWORD":               "secret",
		"SMTP_SEND_TIMEOUT":           "15s",
		"FROM_EMAIL":                  "orders@bookstore.test",
		"BROKER_TRANSPORT":            "kafka",
		"BROKER_KAFKA_BROKERS":        "k1:9092,k2:9092",
		"FAILURE_POLICY":              "retry",
		"FAILURE_MAX_ATTEMPTS":        "5",
		"REDIS_ADDR":                  "localhost:6379",
		"LOG_LEVEL":                   "DEBUG",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "collector:4317",
	})
	require.NoError(t, err)

	assert.Equal(t, "mail.internal", cfg.SMTP.Server)
	assert.Equal(t, 2525, cfg.SMTP.Port)
	assert.Equal(t, "secret", cfg.SMTP.Password)
	assert.Equal(t, 15*time.Second, cfg.SMTP.SendTimeout)
	assert.Equal(t, "orders@bookstore.test", cfg.SMTP.FromEmail)
	assert.Equal(t, TransportKafka, cfg.Broker.Transport)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Broker.KafkaBrokers)
	assert.Equal(t, "retry", cfg.Policy.Mode)
	assert.Equal(t, 5, cfg.Policy.MaxAttempts)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "debug", cfg.Service.LogLevel)
	assert.Equal(t, "collector:4317", cfg.Telemetry.ExporterEndpoint)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		environ map[string]string
	}{
		{name: "unknown policy", environ: map[string]string{"FAILURE_POLICY": "requeue_forever"}},
		{name: "unknown transport", environ: map[string]string{"BROKER_TRANSPORT": "nats"}},
		{name: "zero prefetch", environ: map[string]string{"BROKER_PREFETCH": "0"}},
		{name: "prefetch above one", environ: map[string]string{"BROKER_PREFETCH": "5"}},
		{name: "wildcard routing key", environ: map[string]string{"BROKER_ROUTING_KEY": "order.*"}},
		{name: "sampling above one", environ: map[string]string{"OTEL_SAMPLING_RATIO": "1.5"}},
		{name: "malformed port", environ: map[string]string{"SMTP_PORT": "not-a-port"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadFrom(t, tt.environ)
			assert.Error(t, err)
		})
	}
}

func TestPostgresConnString(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: "5432", User: "u", Password: "p", DB: "orders", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/orders?sslmode=disable", p.ConnString())

	p.DSN = "postgres://override"
	assert.Equal(t, "postgres://override", p.ConnString())
}
