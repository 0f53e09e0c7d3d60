package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment             string
	Addr                    string
	LogLevel                string
	DatabaseURL             string
	MigrationsDir           string
	JWTSecret               string
	AWSRegion               string
	MetricsNamespace        string
	LiveLookback            time.Duration
	LivePushInterval        time.Duration
	RateLimitRedisAddr      string
	RateLimitRedisPass      string
	RateLimitRedisDB        int
	StreamActionMaxAttempts int
	StreamActionBaseDelay   time.Duration
	ShutdownTimeout         time.Duration
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:             GetString("APP_ENV", "development"),
		Addr:                    GetString("API_ADDR", ":4000"),
		LogLevel:                GetString("LOG_LEVEL", "info"),
		DatabaseURL:             GetString("DATABASE_URL", "postgres://streamhealth:streamhealth@db:5432/streamhealth?sslmode=disable"),
		MigrationsDir:           GetString("DB_MIGRATIONS_DIR", ""),
		JWTSecret:               GetString("JWT_SECRET", ""),
		AWSRegion:               GetString("AWS_REGION", "us-west-2"),
		MetricsNamespace:        GetString("METRICS_NAMESPACE", "AWS/IVS"),
		LiveLookback:            GetDuration("METRICS_LIVE_LOOKBACK_MINUTES", time.Minute, 3*time.Hour),
		LivePushInterval:        GetDuration("METRICS_LIVE_PUSH_SECONDS", time.Second, 5*time.Second),
		RateLimitRedisAddr:      GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:      GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:        GetInt("RATE_LIMIT_REDIS_DB", 0),
		StreamActionMaxAttempts: GetInt("STREAM_ACTION_MAX_ATTEMPTS", 3),
		StreamActionBaseDelay:   GetDuration("STREAM_ACTION_BASE_DELAY_MS", time.Millisecond, 200*time.Millisecond),
		ShutdownTimeout:         GetDuration("SHUTDOWN_TIMEOUT_SECONDS", time.Second, 10*time.Second),
	}
}
