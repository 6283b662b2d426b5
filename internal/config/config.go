package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// VisionProvider identifies the LLM backend used by the vision verifier.
type VisionProvider string

const (
	ProviderOllama    VisionProvider = "ollama"
	ProviderOpenAI    VisionProvider = "openai"
	ProviderAnthropic VisionProvider = "anthropic"
	ProviderBedrock   VisionProvider = "bedrock"
)

// Verifier modes.
const (
	VerifierHTTP   = "http"
	VerifierVision = "vision"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Remote analysis service
	AIBaseURL   string
	HTTPTimeout time.Duration

	// Media host
	UploadURL    string
	UploadPreset string

	// Capture
	OverlayDir     string
	StepsFile      string
	RetryInterval  time.Duration
	SampleInterval time.Duration
	Cooldown       time.Duration
	SensorAddr     string

	// Vision verifier
	Verifier        string
	VisionProvider  VisionProvider
	VisionModel     string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	AWSRegion       string

	// CLI session
	SessionFile string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first when present;
// variables already set in the environment win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "hairscan"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "capture"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		AIBaseURL:   strings.TrimSuffix(getEnv("HAIRSCAN_AI_BASE_URL", "http://localhost:5001"), "/"),
		HTTPTimeout: getDuration("HAIRSCAN_HTTP_TIMEOUT", 30*time.Second),

		UploadURL:    getEnv("HAIRSCAN_UPLOAD_URL", "https://api.cloudinary.com/v1_1/demo/upload"),
		UploadPreset: getEnv("HAIRSCAN_UPLOAD_PRESET", "hairscan"),

		OverlayDir:     getEnv("HAIRSCAN_OVERLAY_DIR", filepath.Join("assets", "overlays")),
		StepsFile:      getEnv("HAIRSCAN_STEPS_FILE", ""),
		RetryInterval:  getDuration("HAIRSCAN_RETRY_INTERVAL", 3*time.Second),
		SampleInterval: getDuration("HAIRSCAN_SAMPLE_INTERVAL", 150*time.Millisecond),
		Cooldown:       getDuration("HAIRSCAN_COOLDOWN", 2*time.Second),
		SensorAddr:     getEnv("HAIRSCAN_SENSOR_ADDR", ":8765"),

		Verifier:        strings.ToLower(getEnv("HAIRSCAN_VERIFIER", VerifierHTTP)),
		VisionProvider:  VisionProvider(strings.ToLower(getEnv("HAIRSCAN_VISION_PROVIDER", string(ProviderOllama)))),
		VisionModel:     getEnv("HAIRSCAN_VISION_MODEL", "llava"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),

		SessionFile: getEnv("HAIRSCAN_SESSION_FILE", defaultSessionFile()),

		LogFile:  getEnv("HAIRSCAN_LOG_FILE", "/tmp/hairscan.log"),
		LogLevel: parseLogLevel(getEnv("HAIRSCAN_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			return d
		}
		slog.Warn("ignoring invalid duration", "key", key, "value", val)
	}
	return defaultVal
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "hairscan-session.yaml")
	}
	return filepath.Join(home, ".hairscan", "session.yaml")
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
