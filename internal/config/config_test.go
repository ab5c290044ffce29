package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOneShot(t *testing.T) {
	cfg := DefaultConfig()

	cfg.Interval = 0
	assert.True(t, cfg.OneShot())

	// A negative interval is one-shot too; it must never reach a ticker.
	cfg.Interval = -5 * time.Minute
	assert.True(t, cfg.OneShot())

	cfg.Interval = 30 * time.Minute
	assert.False(t, cfg.OneShot())
}

func TestGetEnvString(t *testing.T) {
	t.Setenv("FBHARVEST_TEST_STR", "from-env")
	assert.Equal(t, "from-env", GetEnvString("FBHARVEST_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", GetEnvString("FBHARVEST_TEST_STR_MISSING", "fallback"))
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("FBHARVEST_TEST_INT", "42")
	assert.Equal(t, 42, GetEnvInt("FBHARVEST_TEST_INT", 7))

	t.Setenv("FBHARVEST_TEST_INT", "not-a-number")
	assert.Equal(t, 7, GetEnvInt("FBHARVEST_TEST_INT", 7))

	assert.Equal(t, 7, GetEnvInt("FBHARVEST_TEST_INT_MISSING", 7))
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("FBHARVEST_TEST_DUR", "90s")
	assert.Equal(t, 90*time.Second, GetEnvDuration("FBHARVEST_TEST_DUR", time.Minute))

	// Bare integers are minutes.
	t.Setenv("FBHARVEST_TEST_DUR", "15")
	assert.Equal(t, 15*time.Minute, GetEnvDuration("FBHARVEST_TEST_DUR", time.Minute))

	t.Setenv("FBHARVEST_TEST_DUR", "soon")
	assert.Equal(t, time.Minute, GetEnvDuration("FBHARVEST_TEST_DUR", time.Minute))

	assert.Equal(t, time.Minute, GetEnvDuration("FBHARVEST_TEST_DUR_MISSING", time.Minute))
}

func TestListenAddr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServerHost = "127.0.0.1"
	cfg.ServerPort = 9090
	assert.Equal(t, "127.0.0.1:9090", cfg.ListenAddr())
}
