package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
	// Keep a developer's .env out of the test.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("USE_MOCK_AI", "true")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.IsDev())
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.True(t, cfg.UseMockAI)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAIChatModel)
	assert.Equal(t, "whisper-1", cfg.OpenAITranscribeModel)
	assert.InDelta(t, 0.3, cfg.ExtractionTemperature, 0.0001)
	assert.Equal(t, "en-US", cfg.SpeechLanguage)
	assert.Equal(t, 3, cfg.HistoryLimit)
	assert.Equal(t, int64(25<<20), cfg.MaxAudioBytes)
	assert.Equal(t, "clinical_notes", cfg.NotifyChannel)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/var/lib/carejournal/data.db")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("HISTORY_LIMIT", "5")
	t.Setenv("ENV", "production")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "/var/lib/carejournal/data.db", cfg.SQLitePath)
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	assert.Equal(t, 5, cfg.HistoryLimit)
	assert.False(t, cfg.IsDev())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoad_PostgresNeedsURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("USE_MOCK_AI", "true")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			StoreDriver:   "memory",
			OpenAIAPIKey:  "sk-test",
			OpenAIAPIType: "openai",
			HistoryLimit:  3,
			MaxAudioBytes: 1024,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown driver", func(c *Config) { c.StoreDriver = "mongo" }, "STORE_DRIVER"},
		{"missing api key", func(c *Config) { c.OpenAIAPIKey = "" }, "OPENAI_API_KEY"},
		{"mock needs no key", func(c *Config) { c.OpenAIAPIKey = ""; c.UseMockAI = true }, ""},
		{"bad api type", func(c *Config) { c.OpenAIAPIType = "anthropic" }, "OPENAI_API_TYPE"},
		{"azure needs base url", func(c *Config) { c.OpenAIAPIType = "azure" }, "OPENAI_BASE_URL"},
		{"zero history", func(c *Config) { c.HistoryLimit = 0 }, "HISTORY_LIMIT"},
		{"zero audio limit", func(c *Config) { c.MaxAudioBytes = 0 }, "MAX_AUDIO_BYTES"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
