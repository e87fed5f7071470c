package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("CONFIG_PATH", writeFile(t, "api.yaml", `
server_addr: ":9000"
token_ttl_hours: 2
typing_timeout_sec: 5
cors_allowed_origins: "https://a.example, https://b.example"
`))
	t.Setenv("DATABASE_CONFIG_PATH", writeFile(t, "database.yaml", `
database_url: "postgres://from-yaml/chat"
db_max_connections: 7
`))
	t.Setenv("SERVER_ADDR", ":9100")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("PUSH_SERVICE_URL", "")
	t.Setenv("PUSH_VAPID_PUBLIC_KEY", "")

	cfg := Load()
	assert.Equal(t, ":9100", cfg.ServerAddr, "env wins over yaml")
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 5*time.Second, cfg.TypingTimeout)
	assert.Equal(t, 10*time.Second, cfg.TypingSweep)
	assert.Equal(t, "postgres://from-yaml/chat", cfg.DatabaseURL())
	assert.Equal(t, 7, cfg.DBMaxConnections())
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins())
	assert.Empty(t, cfg.PushVAPIDPublicKey)
}

func TestAllowedOrigins(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{raw: "", want: []string{"*"}},
		{raw: "*", want: []string{"*"}},
		{raw: "https://x.example", want: []string{"https://x.example"}},
		{raw: " https://x.example ,, https://y.example ", want: []string{"https://x.example", "https://y.example"}},
	}
	for _, tt := range tests {
		cfg := &Config{CORSAllowedOrigins: tt.raw}
		assert.Equal(t, tt.want, cfg.AllowedOrigins(), "raw=%q", tt.raw)
	}
}

func TestValidate(t *testing.T) {
	dev := &Config{JWTSecret: DevJWTSecret, Database: DatabaseConfig{URL: DevDatabaseURL}}
	assert.NoError(t, dev.Validate(), "development allows dev defaults")

	prod := &Config{Production: true, JWTSecret: DevJWTSecret, Database: DatabaseConfig{URL: "postgres://db/chat"}}
	assert.ErrorIs(t, prod.Validate(), ErrDevSecret)

	prod.JWTSecret = "real-secret"
	prod.Database.URL = DevDatabaseURL
	assert.ErrorIs(t, prod.Validate(), ErrDevDatabase)

	prod.Database.URL = "postgres://db/chat"
	assert.NoError(t, prod.Validate())
}

func TestLoadPush_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("SERVER_ADDR", "")
	t.Setenv("VAPID_SUBSCRIBER", "")
	t.Setenv("INTERNAL_SECRET", "shared")

	cfg := LoadPush()
	assert.Equal(t, ":8082", cfg.ServerAddr)
	assert.Equal(t, "chatline-push", cfg.VAPIDSubscriber)
	assert.Equal(t, "shared", cfg.InternalSecret)
}
