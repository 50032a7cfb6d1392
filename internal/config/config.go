package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string   `mapstructure:"PORT"`
	Env                   string   `mapstructure:"ENV"`
	StoreDriver           string   `mapstructure:"STORE_DRIVER"`
	DatabaseURL           string   `mapstructure:"DATABASE_URL"`
	SQLitePath            string   `mapstructure:"SQLITE_PATH"`
	DBMaxOpenConns        int      `mapstructure:"DB_MAX_OPEN_CONNS"`
	UseMockAI             bool     `mapstructure:"USE_MOCK_AI"`
	OpenAIAPIKey          string   `mapstructure:"OPENAI_API_KEY"`
	OpenAIAPIType         string   `mapstructure:"OPENAI_API_TYPE"`
	OpenAIBaseURL         string   `mapstructure:"OPENAI_BASE_URL"`
	OpenAIChatModel       string   `mapstructure:"OPENAI_MODEL_CHAT"`
	OpenAITranscribeModel string   `mapstructure:"OPENAI_MODEL_TRANSCRIBE"`
	ExtractionTemperature float32  `mapstructure:"EXTRACTION_TEMPERATURE"`
	SpeechLanguage        string   `mapstructure:"SPEECH_LANGUAGE"`
	HistoryLimit          int      `mapstructure:"HISTORY_LIMIT"`
	AudioTempDir          string   `mapstructure:"AUDIO_TEMP_DIR"`
	MaxAudioBytes         int64    `mapstructure:"MAX_AUDIO_BYTES"`
	NotifyChannel         string   `mapstructure:"NOTIFY_CHANNEL"`
	CORSOrigins           []string `mapstructure:"CORS_ORIGINS"`
}

var envKeys = []string{
	"PORT", "ENV", "STORE_DRIVER", "DATABASE_URL", "SQLITE_PATH", "DB_MAX_OPEN_CONNS",
	"USE_MOCK_AI", "OPENAI_API_KEY", "OPENAI_API_TYPE", "OPENAI_BASE_URL",
	"OPENAI_MODEL_CHAT", "OPENAI_MODEL_TRANSCRIBE", "EXTRACTION_TEMPERATURE",
	"SPEECH_LANGUAGE", "HISTORY_LIMIT", "AUDIO_TEMP_DIR", "MAX_AUDIO_BYTES",
	"NOTIFY_CHANNEL", "CORS_ORIGINS",
}

// Load reads the configuration from the environment and an optional .env
// file, then validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("SQLITE_PATH", "carejournal.db")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("USE_MOCK_AI", false)
	v.SetDefault("OPENAI_API_TYPE", "openai")
	v.SetDefault("OPENAI_MODEL_CHAT", "gpt-4o-mini")
	v.SetDefault("OPENAI_MODEL_TRANSCRIBE", "whisper-1")
	v.SetDefault("EXTRACTION_TEMPERATURE", 0.3)
	v.SetDefault("SPEECH_LANGUAGE", "en-US")
	v.SetDefault("HISTORY_LIMIT", 3)
	v.SetDefault("MAX_AUDIO_BYTES", 25<<20)
	v.SetDefault("NOTIFY_CHANNEL", "clinical_notes")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the selected store and AI backends are configured.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is \"postgres\"")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is \"sqlite\"")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be \"postgres\", \"sqlite\", or \"memory\", got %q", c.StoreDriver)
	}

	if !c.UseMockAI && c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required unless USE_MOCK_AI is true")
	}
	if c.OpenAIAPIType != "openai" && c.OpenAIAPIType != "azure" {
		return fmt.Errorf("OPENAI_API_TYPE must be \"openai\" or \"azure\", got %q", c.OpenAIAPIType)
	}
	if c.OpenAIAPIType == "azure" && !c.UseMockAI && c.OpenAIBaseURL == "" {
		return fmt.Errorf("OPENAI_BASE_URL is required when OPENAI_API_TYPE is \"azure\"")
	}
	if c.HistoryLimit < 1 {
		return fmt.Errorf("HISTORY_LIMIT must be at least 1, got %d", c.HistoryLimit)
	}
	if c.MaxAudioBytes < 1 {
		return fmt.Errorf("MAX_AUDIO_BYTES must be positive, got %d", c.MaxAudioBytes)
	}
	return nil
}
