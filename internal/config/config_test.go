package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 24*time.Hour, cfg.TicketTTL)
	assert.Equal(t, "Asia/Shanghai", cfg.Location.String())
}

func TestLoad_Durations(t *testing.T) {
	t.Setenv("SWEEP_INTERVAL", "5s")
	t.Setenv("TICKET_TTL", "12h")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.SweepInterval)
	assert.Equal(t, 12*time.Hour, cfg.TicketTTL)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"RESERVE_RATE_LIMIT": "0",
		"SWEEP_INTERVAL":     "soon",
		"ACTIVITY_TZ":        "Mars/Olympus",
		"SWEEP_BATCH":        "-1",
	}
	for env, val := range cases {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
