package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// 백엔드 종류
const (
	BackendSupabase = "supabase"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendLocal    = "local"
)

// Config 구조체 - 모든 환경변수를 담음
type Config struct {
	// Server
	Port           string
	AllowedOrigins []string
	PublicBaseURL  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisUsername string
	RedisPassword string
	RedisUseTLS   bool
	QueueName     string

	// Supabase
	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseJWTSecret  string
	StorageBucket      string

	// Persistence / Storage
	PersistenceBackend string
	DatabaseURL        string
	PersistRetries     int
	StorageBackend     string
	ProjectsDir        string

	// Gemini API
	GeminiAPIKey          string
	GeminiModel           string
	GeminiClassifierModel string
	AITemperature         float32
	AIMaxOutputTokens     int32
	AIRequestTimeout      time.Duration
	AITransportRetries    int
	AIRateLimitPerSec     float64
	AIRateBurst           int

	// Pipeline
	MaxRepairAttempts         int
	SurfaceValidationWarnings bool
	PipelineTimeout           time.Duration
	WorkerConcurrency         int
	MaxPromptLength           int

	// Auth / Limits
	AuthRequired       bool
	GenerationsPerHour int

	// Cleanup
	CleanupSchedule    string
	CompletedRetention time.Duration
	FailedRetention    time.Duration
	StaleRunAfter      time.Duration

	// Logging
	LogLevel      string
	LogFormat     string
	LogOutput     string
	LogFilePath   string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
	LogCompress   bool
}

var globalConfig *Config

// LoadConfig - 환경변수 로드
func LoadConfig() (*Config, error) {
	// .env 파일 로드 (있으면)
	if err := godotenv.Load(); err != nil {
		logrus.Debug("⚠️  .env file not found, using environment variables")
	}

	cfg := &Config{
		// Server
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),

		// Redis
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisUsername: getEnv("REDIS_USERNAME", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisUseTLS:   getEnvBool("REDIS_USE_TLS", false),
		QueueName:     getEnv("QUEUE_NAME", "games:queue"),

		// Supabase
		SupabaseURL:        strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseJWTSecret:  getEnv("SUPABASE_JWT_SECRET", ""),
		StorageBucket:      getEnv("STORAGE_BUCKET", "game-builds"),

		// Persistence / Storage
		PersistenceBackend: strings.ToLower(getEnv("PERSISTENCE_BACKEND", BackendSupabase)),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		PersistRetries:     getEnvInt("PERSIST_RETRIES", 3),
		StorageBackend:     strings.ToLower(getEnv("STORAGE_BACKEND", BackendSupabase)),
		ProjectsDir:        getEnv("PROJECTS_DIR", "./projects"),

		// Gemini API
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-2.5-pro"),
		GeminiClassifierModel: getEnv("GEMINI_CLASSIFIER_MODEL", "gemini-2.5-flash"),
		AITemperature:         float32(getEnvFloat("AI_TEMPERATURE", 0.7)),
		AIMaxOutputTokens:     int32(getEnvInt("AI_MAX_OUTPUT_TOKENS", 32768)),
		AIRequestTimeout:      getEnvDuration("AI_REQUEST_TIMEOUT", 120*time.Second),
		AITransportRetries:    getEnvInt("AI_TRANSPORT_RETRIES", 2),
		AIRateLimitPerSec:     getEnvFloat("AI_RATE_LIMIT_PER_SEC", 2),
		AIRateBurst:           getEnvInt("AI_RATE_BURST", 4),

		// Pipeline
		MaxRepairAttempts:         getEnvInt("MAX_REPAIR_ATTEMPTS", 3),
		SurfaceValidationWarnings: getEnvBool("SURFACE_VALIDATION_WARNINGS", true),
		PipelineTimeout:           getEnvDuration("PIPELINE_TIMEOUT", 15*time.Minute),
		WorkerConcurrency:         getEnvInt("WORKER_CONCURRENCY", 4),
		MaxPromptLength:           getEnvInt("MAX_PROMPT_LENGTH", 2000),

		// Auth / Limits
		AuthRequired:       getEnvBool("AUTH_REQUIRED", true),
		GenerationsPerHour: getEnvInt("GENERATIONS_PER_HOUR", 10),

		// Cleanup
		CleanupSchedule:    getEnv("CLEANUP_SCHEDULE", "@every 1h"),
		CompletedRetention: getEnvDuration("COMPLETED_RETENTION", 7*24*time.Hour),
		FailedRetention:    getEnvDuration("FAILED_RETENTION", 24*time.Hour),
		StaleRunAfter:      getEnvDuration("STALE_RUN_AFTER", 30*time.Minute),

		// Logging
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		LogOutput:     getEnv("LOG_OUTPUT", "stdout"),
		LogFilePath:   getEnv("LOG_FILE_PATH", "./logs/gamora.log"),
		LogMaxSize:    getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAge:     getEnvInt("LOG_MAX_AGE_DAYS", 14),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),
	}

	// 필수 환경변수 검증
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	globalConfig = cfg

	logrus.Info("✅ Configuration loaded successfully")
	logrus.Infof("   Redis: %s (TLS: %v, queue: %s)", cfg.GetRedisAddr(), cfg.RedisUseTLS, cfg.QueueName)
	logrus.Infof("   Persistence: %s, Storage: %s", cfg.PersistenceBackend, cfg.StorageBackend)
	logrus.Infof("   Gemini: %s (classifier: %s)", cfg.GeminiModel, cfg.GeminiClassifierModel)
	logrus.Infof("   Repair budget: %d, workers: %d", cfg.MaxRepairAttempts, cfg.WorkerConcurrency)

	return cfg, nil
}

// GetConfig - 로드된 설정 가져오기
func GetConfig() *Config {
	if globalConfig == nil {
		logrus.Fatal("❌ Config not loaded. Call LoadConfig() first.")
	}
	return globalConfig
}

// validate - 필수 환경변수 검증
func (c *Config) validate() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if c.RedisHost == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}

	switch c.PersistenceBackend {
	case BackendSupabase:
		if err := c.requireSupabase(); err != nil {
			return err
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for PERSISTENCE_BACKEND=postgres")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unsupported PERSISTENCE_BACKEND: %s", c.PersistenceBackend)
	}

	switch c.StorageBackend {
	case BackendSupabase:
		if err := c.requireSupabase(); err != nil {
			return err
		}
	case BackendLocal:
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND: %s", c.StorageBackend)
	}

	if c.AuthRequired && c.SupabaseJWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required when AUTH_REQUIRED=true")
	}
	if c.MaxRepairAttempts < 0 {
		return fmt.Errorf("MAX_REPAIR_ATTEMPTS must be >= 0, got %d", c.MaxRepairAttempts)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be >= 1, got %d", c.WorkerConcurrency)
	}
	if c.MaxPromptLength < 1 {
		return fmt.Errorf("MAX_PROMPT_LENGTH must be >= 1, got %d", c.MaxPromptLength)
	}
	return nil
}

func (c *Config) requireSupabase() error {
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_KEY is required")
	}
	return nil
}

// getEnv - 환경변수 가져오기 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		logrus.Warnf("⚠️  Invalid %s=%q, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
		logrus.Warnf("⚠️  Invalid %s=%q, using default %v", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
		logrus.Warnf("⚠️  Invalid %s=%q, using default %v", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvDuration - "90s", "15m" 형식
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		logrus.Warnf("⚠️  Invalid %s=%q, using default %s", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvList - 콤마 구분 리스트
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// GetRedisAddr - Redis 연결 문자열 생성
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}
