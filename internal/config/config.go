package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	SpeechModeInline = "inline"
	SpeechModeFile   = "file"
)

type Config struct {
	Port        int              `mapstructure:"port"`
	DatabaseURL string           `mapstructure:"database_url"`
	Log         LogConfig        `mapstructure:"log"`
	OpenRouter  OpenRouterConfig `mapstructure:"openrouter"`
	Speech      SpeechConfig     `mapstructure:"speech"`
	Nats        NatsConfig       `mapstructure:"nats"`
	Redis       RedisConfig      `mapstructure:"redis"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// OpenRouterConfig configures the model gateway. An empty APIKey is allowed:
// the gateway reports a missing credential per call instead of failing startup.
type OpenRouterConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
	Referer string `mapstructure:"referer"`
	Title   string `mapstructure:"title"`
}

type SpeechConfig struct {
	Mode          string `mapstructure:"mode"` // "inline" or "file"
	AudioDir      string `mapstructure:"audio_dir"`
	URLPrefix     string `mapstructure:"url_prefix"`
	PiperEndpoint string `mapstructure:"piper_endpoint"`
}

type NatsConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

type RedisConfig struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	HistoryTTL time.Duration `mapstructure:"history_ttl"`
}

// envKeys binds config keys to the environment variable names used in
// deployment (.env files, container env).
var envKeys = map[string]string{
	"port":                  "MEDBRIDGE_PORT",
	"database_url":          "DATABASE_URL",
	"log.level":             "LOG_LEVEL",
	"log.format":            "LOG_FORMAT",
	"openrouter.api_key":    "OPENROUTER_API_KEY",
	"openrouter.model":      "OPENROUTER_MODEL",
	"openrouter.base_url":   "OPENROUTER_BASE_URL",
	"openrouter.referer":    "OPENROUTER_REFERER",
	"openrouter.title":      "OPENROUTER_TITLE",
	"speech.mode":           "SPEECH_MODE",
	"speech.audio_dir":      "SPEECH_AUDIO_DIR",
	"speech.url_prefix":     "SPEECH_URL_PREFIX",
	"speech.piper_endpoint": "PIPER_ENDPOINT",
	"nats.url":              "NATS_URL",
	"nats.token":            "NATS_TOKEN",
	"redis.addr":            "REDIS_ADDR",
	"redis.password":        "REDIS_PASSWORD",
	"redis.history_ttl":     "REDIS_HISTORY_TTL",
}

// Load reads configuration from an optional .env file, an optional
// medbridge.yaml (., ./configs, /etc/medbridge), the environment and defaults.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	v := viper.New()

	v.SetDefault("port", 8000)
	v.SetDefault("database_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("openrouter.api_key", "")
	v.SetDefault("openrouter.model", "openrouter/free")
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.referer", "https://naomedical.com")
	v.SetDefault("openrouter.title", "NaoMedical Portal")
	v.SetDefault("speech.audio_dir", "static/audio")
	v.SetDefault("speech.url_prefix", "/static/audio")
	v.SetDefault("speech.piper_endpoint", "localhost:10200")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.token", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.history_ttl", "10m")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("medbridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/medbridge")
	}

	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Speech.Mode = strings.ToLower(strings.TrimSpace(cfg.Speech.Mode))
	switch cfg.Speech.Mode {
	case SpeechModeInline, SpeechModeFile:
	case "":
		cfg.Speech.Mode = defaultSpeechMode()
	default:
		return nil, fmt.Errorf("invalid speech mode %q", cfg.Speech.Mode)
	}

	return &cfg, nil
}

// defaultSpeechMode keeps audio in memory on serverless hosts, which have no
// writable static directory to serve files from.
func defaultSpeechMode() string {
	if _, ok := os.LookupEnv("VERCEL"); ok {
		return SpeechModeInline
	}
	return SpeechModeFile
}

// SetupLogging configures the global slog logger.
func SetupLogging(cfg LogConfig) {
	var lvl slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
