package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"CANCEL_GRACE_WINDOW", "SERVICE_TOKEN_TTL", "REQUIRE_SERVICE_AUTH", "KAFKA_BROKERS"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	assert.Equal(t, 10*time.Minute, cfg.CancelGraceWindow)
	assert.Equal(t, 5*time.Minute, cfg.ServiceTokenTTL)
	assert.False(t, cfg.RequireServiceAuth)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CANCEL_GRACE_WINDOW", "1m")
	t.Setenv("REQUIRE_SERVICE_AUTH", "true")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("ORDER_EVENTS_WORKERS", "not-a-number")

	cfg := Load()

	assert.Equal(t, time.Minute, cfg.CancelGraceWindow)
	assert.True(t, cfg.RequireServiceAuth)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 4, cfg.OrderEventsWorkers)
}
