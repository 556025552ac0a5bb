package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseVars() map[string]string {
	return map[string]string{
		"WP_ACCESS_TOKEN":      "prod-token",
		"WP_PHONE_ID":          "106540352242922",
		"WEBHOOK_VERIFY_TOKEN": "verify",
		"OPENAI_API_KEY":       "sk-test",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(baseVars())
	require.NoError(t, err)

	assert.Equal(t, EnvProduction, cfg.AppEnv)
	assert.Equal(t, "v21.0", cfg.APIVersion)
	assert.Equal(t, "https://graph.facebook.com/", cfg.WPBaseURL)
	assert.Equal(t, MessagingCloud, cfg.MessagingBackend)
	assert.Equal(t, "openai", cfg.AIProvider)
	assert.Equal(t, 20, cfg.AIHistoryCap)
	assert.Equal(t, 30*time.Second, cfg.AITimeout)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 10*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 30*time.Second, cfg.LockLease)
	assert.Equal(t, DefaultStateDir, cfg.StateDir)
	assert.Equal(t, ":8080", cfg.APIAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.False(t, cfg.DedupEnabled)
	assert.NoError(t, cfg.Validate())
}

func TestCredentialSetSelection(t *testing.T) {
	vars := baseVars()
	vars["TEST_WP_ACCESS_TOKEN"] = "test-token"
	vars["TEST_WP_PHONE_ID"] = "999"
	vars["TEST_WEBHOOK_VERIFY_TOKEN"] = "test-verify"

	cfg, err := LoadFrom(vars)
	require.NoError(t, err)
	assert.Equal(t, "prod-token", cfg.Active().WPAccessToken)

	vars["APP_ENV"] = "TEST"
	cfg, err = LoadFrom(vars)
	require.NoError(t, err)
	assert.True(t, cfg.IsTest())
	assert.Equal(t, "test-token", cfg.Active().WPAccessToken)
	assert.Equal(t, "999", cfg.Active().WPPhoneID)
	assert.NoError(t, cfg.Validate())
}

func TestValidateTestSetMissingCredentials(t *testing.T) {
	vars := baseVars()
	vars["APP_ENV"] = "test"
	cfg, err := LoadFrom(vars)
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEST_WP_ACCESS_TOKEN")
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		set  map[string]string
		want string
	}{
		{"unknown env", map[string]string{"APP_ENV": "staging"}, "APP_ENV"},
		{"unknown backend", map[string]string{"MESSAGING_BACKEND": "telegram"}, "MESSAGING_BACKEND"},
		{"twilio without creds", map[string]string{"MESSAGING_BACKEND": "twilio"}, "TWILIO_ACCOUNT_SID"},
		{"unknown provider", map[string]string{"AI_PROVIDER": "llama"}, "AI_PROVIDER"},
		{"provider without key", map[string]string{"AI_PROVIDER": "gemini"}, "AI_PROVIDER=gemini"},
		{"odd history cap", map[string]string{"AI_HISTORY_CAP": "7"}, "AI_HISTORY_CAP"},
		{"zero history cap", map[string]string{"AI_HISTORY_CAP": "0"}, "AI_HISTORY_CAP"},
		{"redis without target", map[string]string{"SESSION_STORE": "redis"}, "REDIS_URL"},
		{"postgres without url", map[string]string{"SESSION_STORE": "postgres"}, "DATABASE_URL"},
		{"unknown store", map[string]string{"SESSION_STORE": "mongo"}, "SESSION_STORE"},
		{"half airtable", map[string]string{"AIRTABLE_API_KEY": "key"}, "AIRTABLE_BASE_ID"},
		{"bad log level", map[string]string{"LOG_LEVEL": "trace"}, "LOG_LEVEL"},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}, "LOG_FORMAT"},
		{"bad sweep schedule", map[string]string{"SESSION_SWEEP_SCHEDULE": "every tuesday"}, "SESSION_SWEEP_SCHEDULE"},
		{"zero lock lease", map[string]string{"SESSION_LOCK_LEASE": "0s"}, "SESSION_LOCK_LEASE"},
		{"zero sweep interval", map[string]string{"SESSION_SWEEP_INTERVAL": "0s"}, "SESSION_SWEEP_INTERVAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := baseVars()
			for k, v := range tt.set {
				vars[k] = v
			}
			cfg, err := LoadFrom(vars)
			require.NoError(t, err)
			err = cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "error %q should mention %q", err, tt.want)
		})
	}
}

func TestValidateLinkedNeedsNoProviderCredentials(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"MESSAGING_BACKEND": "linked", "ANTHROPIC_API_KEY": "k", "AI_PROVIDER": "Anthropic"})
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "k", cfg.AIKey())
}

func TestRedisAddr(t *testing.T) {
	vars := baseVars()
	vars["REDIS_HOST"] = "cache"
	vars["SESSION_STORE"] = "redis"
	cfg, err := LoadFrom(vars)
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", cfg.RedisAddr())
	assert.NoError(t, cfg.Validate())

	cfg.RedisHost = ""
	assert.Empty(t, cfg.RedisAddr())
}

func TestSQLitePath(t *testing.T) {
	vars := baseVars()
	vars["FLOWDESK_STATE_DIR"] = "/tmp/flowdesk"
	cfg, err := LoadFrom(vars)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/flowdesk/flowdesk.db", cfg.SQLitePath())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	vars := baseVars()
	vars["AI_TIMEOUT"] = "soon"
	_, err := LoadFrom(vars)
	assert.Error(t, err)
}

func TestSweepExpr(t *testing.T) {
	cfg, err := LoadFrom(baseVars())
	require.NoError(t, err)
	assert.Equal(t, "@every 10m0s", cfg.SweepExpr())

	vars := baseVars()
	vars["SESSION_SWEEP_SCHEDULE"] = "*/15 * * * *"
	cfg, err = LoadFrom(vars)
	require.NoError(t, err)
	assert.Equal(t, "*/15 * * * *", cfg.SweepExpr())
	assert.NoError(t, cfg.Validate())
}
