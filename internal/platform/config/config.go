package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIPort string
	JWTKey  []byte
	JWTTTL  time.Duration

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSslMode  string
	DBConnStr  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	QueuePrefix                string
	JobAttempts                int
	JobBackoff                 time.Duration
	JobLockDuration            time.Duration
	EvaluationConcurrency      int
	WatchdogConcurrency        int
	LeaderboardSyncConcurrency int
	HistoryConcurrency         int

	EvaluationTimeout       time.Duration
	JudgeRequestTimeout     time.Duration
	CallbackURL             string
	CallbackGlobalSecret    string
	CallbackTolerance       time.Duration
	LeaderboardSyncInterval time.Duration
	LeaderboardCacheTTL     time.Duration
	HistorySampleGap        time.Duration
	HistoryDebounce         time.Duration
	CdkClaimRetries         int

	BlobDir           string
	BlobPublicBaseURL string

	LogLevel  string
	LogFormat string

	// EnvFileLoaded reports whether a .env file was read.
	EnvFileLoaded bool
}

// Load reads the process environment, optionally seeded from a .env file.
func Load() (*Config, error) {
	envErr := godotenv.Load()

	cfg := &Config{
		APIPort:                    getEnv("API_PORT", "8080"),
		JWTKey:                     []byte(getEnv("JWT_SECRET", "")),
		JWTTTL:                     getEnvAsDuration("JWT_TTL", 24*time.Hour),
		DBHost:                     getEnv("DB_HOST", "localhost"),
		DBPort:                     getEnv("DB_PORT", "5432"),
		DBUser:                     getEnv("DB_USER", "user"),
		DBPassword:                 getEnv("DB_PASSWORD", "password"),
		DBName:                     getEnv("DB_NAME", "contest_judge"),
		DBSslMode:                  getEnv("DB_SSLMODE", "disable"),
		RedisAddr:                  getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:              getEnv("REDIS_PASSWORD", ""),
		RedisDB:                    getEnvAsInt("REDIS_DB", 0),
		QueuePrefix:                getEnv("QUEUE_PREFIX", "contest:queue"),
		JobAttempts:                getEnvAsInt("JOB_ATTEMPTS", 5),
		JobBackoff:                 getEnvAsDuration("JOB_BACKOFF", 2*time.Second),
		JobLockDuration:            getEnvAsDuration("JOB_LOCK_DURATION", 30*time.Second),
		EvaluationConcurrency:      getEnvAsInt("EVALUATION_CONCURRENCY", 4),
		WatchdogConcurrency:        getEnvAsInt("WATCHDOG_CONCURRENCY", 2),
		LeaderboardSyncConcurrency: getEnvAsInt("LEADERBOARD_SYNC_CONCURRENCY", 1),
		HistoryConcurrency:         getEnvAsInt("HISTORY_CONCURRENCY", 2),
		EvaluationTimeout:          getEnvAsDuration("EVALUATION_TIMEOUT", 15*time.Minute),
		JudgeRequestTimeout:        getEnvAsDuration("JUDGE_REQUEST_TIMEOUT", 10*time.Second),
		CallbackURL:                getEnv("CALLBACK_URL", "http://localhost:8080/api/v1/evaluate/callback"),
		CallbackGlobalSecret:       getEnv("CALLBACK_GLOBAL_SECRET", ""),
		CallbackTolerance:          getEnvAsDuration("CALLBACK_TOLERANCE", 600*time.Second),
		LeaderboardSyncInterval:    getEnvAsDuration("LEADERBOARD_SYNC_INTERVAL", 5*time.Minute),
		LeaderboardCacheTTL:        getEnvAsDuration("LEADERBOARD_CACHE_TTL", 30*time.Second),
		HistorySampleGap:           getEnvAsDuration("HISTORY_SAMPLE_GAP", 3*time.Hour),
		HistoryDebounce:            getEnvAsDuration("HISTORY_DEBOUNCE", 2*time.Second),
		CdkClaimRetries:            getEnvAsInt("CDK_CLAIM_RETRIES", 3),
		BlobDir:                    getEnv("BLOB_DIR", "./data/blobs"),
		BlobPublicBaseURL:          getEnv("BLOB_PUBLIC_BASE_URL", "http://localhost:8080/blobs"),
		LogLevel:                   getEnv("LOG_LEVEL", "info"),
		LogFormat:                  getEnv("LOG_FORMAT", "text"),
		EnvFileLoaded:              envErr == nil,
	}

	cfg.DBConnStr = "host=" + cfg.DBHost +
		" port=" + cfg.DBPort +
		" user=" + cfg.DBUser +
		" password=" + cfg.DBPassword +
		" dbname=" + cfg.DBName +
		" sslmode=" + cfg.DBSslMode

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.JWTKey) == 0 {
		return errors.New("config: JWT_SECRET must be set")
	}
	if c.JobAttempts < 1 {
		return errors.New("config: JOB_ATTEMPTS must be at least 1")
	}
	if c.CdkClaimRetries < 1 {
		return errors.New("config: CDK_CLAIM_RETRIES must be at least 1")
	}
	if c.EvaluationTimeout <= 0 {
		return errors.New("config: EVALUATION_TIMEOUT must be positive")
	}
	// Locks are extended every half period.
	if c.JobLockDuration < time.Second {
		return errors.New("config: JOB_LOCK_DURATION must be at least 1s")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}
