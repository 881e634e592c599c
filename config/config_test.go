package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PENDING_TABLE", "")
	t.Setenv("INGEST_WORKERS", "")
	t.Setenv("TRANSCODE_TIMEOUT_SEC", "")
	t.Setenv("WORKER_METRICS_PORT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9091", cfg.Ingest.MetricsPort)
	assert.Equal(t, "pending_recordings", cfg.Database.PendingTable)
	assert.Equal(t, "recording_summaries", cfg.Database.SummaryTable)
	assert.Equal(t, 2, cfg.Ingest.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Ingest.TranscodeTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PENDING_TABLE", "pending_v2")
	t.Setenv("INGEST_WORKERS", "4")
	t.Setenv("TRANSCODE_TIMEOUT_SEC", "90")
	t.Setenv("SECURE_COOKIE", "true")
	t.Setenv("WORKER_METRICS_PORT", "9200")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9200", cfg.Ingest.MetricsPort)
	assert.Equal(t, "pending_v2", cfg.Database.PendingTable)
	assert.Equal(t, 4, cfg.Ingest.Workers)
	assert.Equal(t, 90*time.Second, cfg.Ingest.TranscodeTimeout)
	assert.True(t, cfg.Auth.SecureCookies())
}

func TestLoadRejectsUnsafeTableName(t *testing.T) {
	t.Setenv("SUMMARY_TABLE", "summaries; DROP TABLE users")

	_, err := Load()
	assert.Error(t, err)
}

func TestSecureCookiesFromURL(t *testing.T) {
	assert.False(t, AuthConfig{NextAuthURL: "http://localhost:3000"}.SecureCookies())
	assert.True(t, AuthConfig{NextAuthURL: "https://codereplay.example"}.SecureCookies())
	assert.False(t, AuthConfig{}.SecureCookies())
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "cr", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/cr?sslmode=disable", c.DSN())
	c.URL = "postgres://elsewhere/cr"
	assert.Equal(t, "postgres://elsewhere/cr", c.DSN())
}
