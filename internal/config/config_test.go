package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite:file::memory:")
	t.Setenv("CORS_ALLOWED_ORIGINS", " http://a.test , ,http://b.test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "ezywork.problems", cfg.NATSSubject)
	assert.Equal(t, 64, cfg.SubscriberBuffer)
	assert.Equal(t, 25*time.Second, cfg.StreamHeartbeat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.JWTSecret)
	assert.False(t, cfg.CORSAllowCredentials)
}

func TestLoadCORSCredentials(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite:file::memory:")
	t.Setenv("CORS_ALLOW_CREDENTIALS", "1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.CORSAllowCredentials)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"SUBSCRIBER_BUFFER":      "0",
		"STREAM_HEARTBEAT":       "soon",
		"LOG_LEVEL":              "loud",
		"LOG_FORMAT":             "xml",
		"CORS_ALLOW_CREDENTIALS": "sometimes",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "sqlite:file::memory:")
			t.Setenv(key, val)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}
