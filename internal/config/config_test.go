package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MINIO_ACCESS_KEY_ID", "minio")
	t.Setenv("MINIO_SECRET_ACCESS_KEY", "minio-secret")
	t.Setenv("JWT_PRIVATE_KEY_PATH", "/keys/private.pem")
	t.Setenv("JWT_PUBLIC_KEY_PATH", "/keys/public.pem")
	t.Setenv("GEMINI_API_KEY", "test-key")
}

func TestLoadAppliesDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, 30*time.Second, cfg.AI.Timeout)
	assert.True(t, cfg.Milestones.AllowResubmitAfterReject)
	assert.Equal(t, 9091, cfg.Worker.MetricsPort)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoadReadsEnvironment(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("API_PORT", "9000")
	t.Setenv("CORS_ORIGIN", "https://a.example, https://b.example ,")
	t.Setenv("AI_TIMEOUT", "5s")
	t.Setenv("MILESTONES_ALLOW_RESUBMIT_AFTER_REJECT", "false")
	t.Setenv("CLAMD_ADDR", "tcp://clamav:3310")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.API.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.API.AllowedOrigins())
	assert.Equal(t, 5*time.Second, cfg.AI.Timeout)
	assert.False(t, cfg.Milestones.AllowResubmitAfterReject)
	assert.Equal(t, "tcp://clamav:3310", cfg.Clamd.Addr)
}

func TestLoadRequiresSecrets(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GEMINI_API_KEY", "")

	_, err := Load()
	assert.ErrorContains(t, err, "gemini api key")
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Name: "n", User: "u", Password: "p", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", d.DSN())
}
