package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application's configuration values.
type Config struct {
	ServerPort string
	LogLevel   slog.Level

	// LLM driver.
	GeminiAPIKey      string
	MainModel         string
	SubModel          string
	SessionTokenLimit int64

	// Provider gateway.
	GitHubToken             string
	GitHubAPIBase           string
	GitHubAppID             int64
	GitHubAppInstallationID int64
	GitHubPrivateKeyPath    string
	GitLabToken             string
	GitLabAPIBase           string

	// RLM controller.
	MaxIterations int
	MaxLLMCalls   int
	Deadline      time.Duration

	// Sandbox executor.
	SandboxTimeout time.Duration

	// Artifact cache.
	CacheBytes int64

	// Background workers.
	MaxWorkers int

	// Optional report history. Empty disables persistence.
	DatabaseURL string
}

// HardIterationCap bounds the iteration budget regardless of configuration.
const HardIterationCap = 20

// LoadConfig reads configuration from environment variables and a .env file,
// sets sensible defaults, and validates required fields. It uses the Viper
// library to handle configuration loading and precedence.
func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("MAIN_MODEL", "gemini-2.5-pro")
	viper.SetDefault("SUB_MODEL", "gemini-2.5-flash")
	viper.SetDefault("SESSION_TOKEN_LIMIT", 1_500_000)
	viper.SetDefault("GITHUB_API_BASE", "https://api.github.com")
	viper.SetDefault("GITLAB_API_BASE", "")
	viper.SetDefault("RLM_MAX_ITERATIONS", 10)
	viper.SetDefault("RLM_MAX_LLM_CALLS", 25)
	viper.SetDefault("RLM_DEADLINE_SEC", 600)
	viper.SetDefault("SANDBOX_TIMEOUT_SEC", 30)
	viper.SetDefault("CACHE_BYTES", 256<<20)
	viper.SetDefault("MAX_WORKERS", 5)

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read .env file, relying on environment", "error", err)
		}
	}

	if viper.GetString("GEMINI_API_KEY") == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY must be set")
	}

	maxIterations := viper.GetInt("RLM_MAX_ITERATIONS")
	if maxIterations < 1 {
		maxIterations = 1
	}
	if maxIterations > HardIterationCap {
		maxIterations = HardIterationCap
	}

	return &Config{
		ServerPort:              viper.GetString("SERVER_PORT"),
		LogLevel:                parseLogLevel(viper.GetString("LOG_LEVEL")),
		GeminiAPIKey:            viper.GetString("GEMINI_API_KEY"),
		MainModel:               viper.GetString("MAIN_MODEL"),
		SubModel:                viper.GetString("SUB_MODEL"),
		SessionTokenLimit:       viper.GetInt64("SESSION_TOKEN_LIMIT"),
		GitHubToken:             viper.GetString("GITHUB_TOKEN"),
		GitHubAPIBase:           viper.GetString("GITHUB_API_BASE"),
		GitHubAppID:             viper.GetInt64("GITHUB_APP_ID"),
		GitHubAppInstallationID: viper.GetInt64("GITHUB_APP_INSTALLATION_ID"),
		GitHubPrivateKeyPath:    viper.GetString("GITHUB_PRIVATE_KEY_PATH"),
		GitLabToken:             viper.GetString("GITLAB_TOKEN"),
		GitLabAPIBase:           viper.GetString("GITLAB_API_BASE"),
		MaxIterations:           maxIterations,
		MaxLLMCalls:             viper.GetInt("RLM_MAX_LLM_CALLS"),
		Deadline:                time.Duration(viper.GetInt("RLM_DEADLINE_SEC")) * time.Second,
		SandboxTimeout:          time.Duration(viper.GetInt("SANDBOX_TIMEOUT_SEC")) * time.Second,
		CacheBytes:              viper.GetInt64("CACHE_BYTES"),
		MaxWorkers:              viper.GetInt("MAX_WORKERS"),
		DatabaseURL:             viper.GetString("DATABASE_URL"),
	}, nil
}

// parseLogLevel maps the LOG_LEVEL string onto a slog.Level.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		return slog.LevelInfo
	default:
		slog.Warn("unrecognized log level, defaulting to info", "provided", s)
		return slog.LevelInfo
	}
}
