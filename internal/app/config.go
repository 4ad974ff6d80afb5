package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	SettingsStoreMemory = "memory"
	SettingsStoreRedis  = "redis"
	SettingsStoreMongo  = "mongo"
)

type Config struct {
	HTTPAddr       string
	LogLevel       string
	LogFormat      string
	UserAgent      string
	RequestTimeout time.Duration

	QBTHost     string
	QBTUsername string
	QBTPassword string

	SearchMaxAttempts        int
	SearchRetryDelay         time.Duration
	SearchEarlyAcceptAttempt int
	SearchMaxSizeGB          float64
	SearchResultLimit        int

	UploadConcurrency int

	SettingsStore string
	RedisURL      string
	MongoURI      string
	MongoDatabase string

	RateLimitDisabled bool
	RateLimitRPS      float64
	RateLimitBurst    int

	CORSAllowedOrigins []string

	OTLPEndpoint    string
	OTLPSampleRatio float64
}

// LoadConfig reads the environment. A .env file in the working directory is
// loaded first when present; variables already set take precedence.
func LoadConfig() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8095"),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent:      getEnv("QBT_USER_AGENT", "qbtcontrol/1.0"),
		RequestTimeout: time.Duration(getEnvInt("QBT_REQUEST_TIMEOUT_SECONDS", 15)) * time.Second,

		QBTHost:     getEnv("QBT_HOST", ""),
		QBTUsername: getEnv("QBT_USERNAME", ""),
		QBTPassword: os.Getenv("QBT_PASSWORD"),

		SearchMaxAttempts:        getEnvInt("SEARCH_MAX_ATTEMPTS", 10),
		SearchRetryDelay:         getEnvDuration("SEARCH_RETRY_DELAY_MS", time.Second, time.Millisecond),
		SearchEarlyAcceptAttempt: getEnvNonNegativeInt("SEARCH_EARLY_ACCEPT_ATTEMPT", 2),
		SearchMaxSizeGB:          getEnvFloat("SEARCH_MAX_SIZE_GB", 5),
		SearchResultLimit:        getEnvInt("SEARCH_RESULT_LIMIT", 100),

		UploadConcurrency: getEnvInt("QBT_UPLOAD_CONCURRENCY", 4),

		SettingsStore: normalizeSettingsStore(getEnv("SETTINGS_STORE", SettingsStoreMemory)),
		RedisURL:      getEnv("REDIS_URL", ""),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DB", "qbtcontrol"),

		RateLimitDisabled: getEnvBool("RATE_LIMIT_DISABLED", false),
		RateLimitRPS:      getEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:    getEnvInt("RATE_LIMIT_BURST", 20),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPSampleRatio: getEnvFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// getEnvNonNegativeInt is getEnvInt that also accepts zero.
func getEnvNonNegativeInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// getEnvDuration reads an integer count of unit. Zero is allowed.
func getEnvDuration(key string, fallback, unit time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * unit
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func normalizeSettingsStore(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case SettingsStoreRedis:
		return SettingsStoreRedis
	case SettingsStoreMongo, "mongodb":
		return SettingsStoreMongo
	default:
		return SettingsStoreMemory
	}
}

func getEnvList(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if value := strings.TrimSpace(part); value != "" {
			out = append(out, value)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
