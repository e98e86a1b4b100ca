package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV", "development")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 500, cfg.ImportBatchSize)
	assert.Equal(t, 3, cfg.ScrapeMaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 15*time.Second, cfg.ExternalAPITimeout)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:3000"}, cfg.CorsOrigins)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("ADMIN_JWT_SECRET", "s3cret")
	t.Setenv("IMPORT_BATCH_SIZE", "250")
	t.Setenv("CORS_ORIGINS", "https://xc.example.com, https://admin.example.com")
	t.Setenv("REFERENCE_COURSE_ID", "7")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 250, cfg.ImportBatchSize)
	assert.Equal(t, uint(7), cfg.ReferenceCourseID)
	assert.Equal(t, []string{"https://xc.example.com", "https://admin.example.com"}, cfg.CorsOrigins)
}

func TestLoadConfigRejectsInvalidBatchSize(t *testing.T) {
	t.Setenv("IMPORT_BATCH_SIZE", "0")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IMPORT_BATCH_SIZE")
}

func TestLoadConfigRequiresAdminSecretInProduction(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("ADMIN_JWT_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_JWT_SECRET")

	t.Setenv("ENV", "development")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.AdminJWTSecret)
}

func TestScrapeIntervalDuration(t *testing.T) {
	tests := []struct {
		name     string
		interval string
		expected time.Duration
	}{
		{name: "valid duration", interval: "30s", expected: 30 * time.Second},
		{name: "invalid falls back", interval: "soon", expected: time.Minute},
		{name: "negative falls back", interval: "-5s", expected: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{ScrapeInterval: tt.interval}
			assert.Equal(t, tt.expected, cfg.ScrapeIntervalDuration())
		})
	}
}
