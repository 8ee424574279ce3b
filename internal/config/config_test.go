package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("DB_ADAPTER", "memory")

	c, err := New()
	require.NoError(t, err)

	assert.Equal(t, "local", c.Env)
	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, 15*time.Minute, c.AccessTTL)
	assert.Equal(t, 14*24*time.Hour, c.RefreshTTL)
	assert.True(t, c.RevokeSessionsOnPasswordChange)
	assert.Equal(t, time.Hour, c.TokenPurgeInterval)
}

func TestNew_PostgresDSNFromParts(t *testing.T) {
	t.Setenv("DB_ADAPTER", "postgres")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "auth")

	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, "host=db port=5432 user=u dbname=auth sslmode=disable password=p", c.PostgresDSN)
}

func TestNew_ProductionSecret(t *testing.T) {
	t.Setenv("DB_ADAPTER", "memory")
	t.Setenv("ENV", "prod")

	t.Setenv("JWT_SECRET", "change-me")
	_, err := New()
	require.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "short")
	_, err = New()
	require.ErrorContains(t, err, "at least 32 bytes")

	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	_, err = New()
	require.NoError(t, err)
}

func TestNew_Rejections(t *testing.T) {
	t.Setenv("DB_ADAPTER", "cassandra")
	_, err := New()
	require.ErrorContains(t, err, "unsupported DB_ADAPTER")

	t.Setenv("DB_ADAPTER", "memory")
	t.Setenv("PORT", "http")
	_, err = New()
	require.ErrorContains(t, err, "invalid PORT")

	t.Setenv("PORT", "8080")
	t.Setenv("ACCESS_TOKEN_TTL", "24h")
	t.Setenv("REFRESH_TOKEN_TTL", "1h")
	_, err = New()
	require.ErrorContains(t, err, "shorter")
}

func TestLoad_YAMLWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
env: dev
db_adapter: sqlite
sqlite_file: /tmp/auth.db
access_token_ttl: 5m
cors_allowed_origins: ["https://a.example.com"]
`), 0o600))
	t.Setenv("PORT", "9090")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "dev", c.Env)
	assert.Equal(t, "sqlite", c.DBAdapter)
	assert.Equal(t, "/tmp/auth.db", c.SQLiteFile)
	assert.Equal(t, 5*time.Minute, c.AccessTTL)
	assert.Equal(t, "9090", c.Port)
	assert.Equal(t, []string{"https://a.example.com"}, c.CORSOrigins)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadEdge_DefaultRoutes(t *testing.T) {
	t.Setenv("IDENTITY_URL", "http://identity:8080")

	c, err := LoadEdge("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRoutes(), c.Routes)
	assert.Equal(t, 2*time.Second, c.VerifierTimeout)

	u, err := c.UpstreamURL(UpstreamIdentity)
	require.NoError(t, err)
	assert.Equal(t, "identity:8080", u.Host)

	for _, r := range c.Routes {
		assert.NotContains(t, r.Path, "validate-token")
	}
}

func TestLoadEdge_YAMLRoutes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
routes:
  - path: /api/v1/reports
    prefix: true
    upstream: http://reports:9000
    protected: true
`), 0o600))

	c, err := LoadEdge(path)
	require.NoError(t, err)
	require.Len(t, c.Routes, 1)
	assert.True(t, c.Routes[0].Protected)
	assert.True(t, c.Routes[0].Prefix)
}

func TestLoadEdge_BadUpstream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
routes:
  - path: /x
    upstream: not-a-url
`), 0o600))

	_, err := LoadEdge(path)
	require.ErrorContains(t, err, "route 0")
}
