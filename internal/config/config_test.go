package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"GATEWAY_ADDR", "ENV", "GATEWAY_RATE_LIMIT_RPM", "GATEWAY_MAX_BODY_BYTES"} {
		os.Unsetenv(k)
	}

	cfg := Load()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 100, cfg.RateLimitRPM)
	assert.Equal(t, int64(10*1024), cfg.MaxBodyBytes)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	os.Setenv("GATEWAY_ADDR", ":9090")
	os.Setenv("ENV", "production")
	os.Setenv("GATEWAY_RATE_LIMIT_RPM", "250")
	defer func() {
		os.Unsetenv("GATEWAY_ADDR")
		os.Unsetenv("ENV")
		os.Unsetenv("GATEWAY_RATE_LIMIT_RPM")
	}()

	cfg := Load()

	assert.Equal(t, ":9090", cfg.Addr)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 250, cfg.RateLimitRPM)
}
