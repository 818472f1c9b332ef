package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		envValue   string
		defaultVal string
		expected   string
	}{
		{"uses env value", "hello", "default", "hello"},
		{"uses default when empty", "", "default", "default"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("TEST_VAR", tc.envValue)
			assert.Equal(t, tc.expected, getEnvOrDefault("TEST_VAR", tc.defaultVal))
		})
	}
}

func TestGetEnvAsIntOrDefault(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected int
	}{
		{"parses integer", "42", 42},
		{"uses default for empty", "", 10},
		{"uses default for non-numeric", "abc", 10},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("TEST_INT", tc.envValue)
			assert.Equal(t, tc.expected, getEnvAsIntOrDefault("TEST_INT", 10))
		})
	}
}

func TestGetEnvAsDurationOrDefault(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected time.Duration
	}{
		{"parses duration", "1500ms", 1500 * time.Millisecond},
		{"parses bare milliseconds", "30000", 30 * time.Second},
		{"uses default for empty", "", time.Second},
		{"uses default for garbage", "soon", time.Second},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tc.envValue)
			assert.Equal(t, tc.expected, getEnvAsDurationOrDefault("TEST_DURATION", time.Second))
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "JWT_SECRET", "CODE_SAVE_DEBOUNCE", "CODE_SAVE_MAX_WAIT", "STORE_TIMEOUT"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, devJWTSecret, cfg.JWTSecret)
	assert.Equal(t, 2*time.Second, cfg.CodeSaveDebounce)
	assert.Equal(t, 30*time.Second, cfg.CodeSaveMaxWait)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
}

func TestLoadRequiresSecretInProduction(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "s3cret", cfg.JWTSecret)
}

func TestLoadRejectsInvertedSaveWindow(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("CODE_SAVE_DEBOUNCE", "10s")
	t.Setenv("CODE_SAVE_MAX_WAIT", "5s")

	_, err := Load()
	assert.Error(t, err)
}
