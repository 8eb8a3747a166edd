package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type Config struct {
	Redis       RedisConfig
	DB          DBConfig
	Auth        AuthConfig
	HTTP        HTTPConfig
	GRPC        GRPCConfig
	Kafka       KafkaConfig
	Attribution AttributionConfig
	Commission  CommissionConfig
	LogLevel    slog.Level
}

type DBConfig struct {
	DSN string
}

type AuthConfig struct {
	JWTSecret    string
	CookieSecret string
}

type HTTPConfig struct {
	Port          string
	PublicBaseURL string
	CORSOrigins   []string
	RateLimit     string
}

type GRPCConfig struct {
	Addr string
	// Target is the address clients dial to reach the commission service.
	Target string
}

type KafkaConfig struct {
	Brokers []string
}

type AttributionConfig struct {
	// Location used for daily bucket boundaries and hour labels.
	Location *time.Location
}

type CommissionConfig struct {
	ReleaseBatchSize int
}

func LoadConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	batchSize, err := strconv.Atoi(getEnv("RELEASE_BATCH_SIZE", "500"))
	if err != nil || batchSize <= 0 {
		slog.Warn("invalid RELEASE_BATCH_SIZE, using 500", "value", os.Getenv("RELEASE_BATCH_SIZE"))
		batchSize = 500
	}

	tzName := getEnv("APP_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		slog.Warn("unknown APP_TIMEZONE, using UTC", "value", tzName, "error", err)
		loc = time.UTC
	}

	return Config{
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		DB: DBConfig{
			DSN: getEnv("DATABASE_DSN", ""),
		},
		Auth: AuthConfig{
			JWTSecret:    getEnv("JWT_SECRET", ""),
			CookieSecret: getEnv("COOKIE_SECRET", ""),
		},
		HTTP: HTTPConfig{
			Port:          getEnv("HTTP_PORT", "8080"),
			PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
			CORSOrigins:   splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
			RateLimit:     getEnv("RATE_LIMIT", "120-M"),
		},
		GRPC: GRPCConfig{
			Addr:   getEnv("GRPC_ADDR", ":50052"),
			Target: getEnv("COMMISSION_GRPC_TARGET", "localhost:50052"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getEnv("KAFKA_BROKERS", "")),
		},
		Attribution: AttributionConfig{
			Location: loc,
		},
		Commission: CommissionConfig{
			ReleaseBatchSize: batchSize,
		},
		LogLevel: parseLevel(getEnv("LOG_LEVEL", "info")),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// NewLogger builds the JSON slog logger used by every binary and installs it as the default.
func NewLogger(level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
