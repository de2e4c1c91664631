package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	// External tools
	FFmpegPath  string
	FFprobePath string

	// Transcoding
	HLSVariants    []int  // variant ladder in kbps, ladder order
	HLSSegmentTime string // segment duration in seconds, passed to ffmpeg
	ScratchDir     string // base directory for per-run scratch space

	// Retry policy for transient transcode failures
	MaxRetries   int
	RetryBackoff time.Duration

	// Worker pool
	WorkerCount        int
	WatchdogStaleAfter time.Duration
	WatchdogInterval   time.Duration

	// Signed streaming URLs
	SignedURLTTL time.Duration

	// HTTP
	ListenAddr string

	// MySQL
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// Logging
	LogLevel  string
	LogOutput string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// parseVariants parses a comma-separated bitrate ladder like "64,128,256".
// Invalid entries are skipped; an empty result falls back to the default ladder.
func parseVariants(raw string) []int {
	var ladder []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kbps, err := strconv.Atoi(part)
		if err != nil || kbps <= 0 {
			log.Printf("Ignoring invalid HLS variant %q", part)
			continue
		}
		ladder = append(ladder, kbps)
	}
	if len(ladder) == 0 {
		ladder = []int{64, 128, 256}
	}
	return ladder
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}

	return &Config{
		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),

		HLSVariants:    parseVariants(getEnv("HLS_VARIANTS", "64,128,256")),
		HLSSegmentTime: getEnv("HLS_SEGMENT_TIME", "4"),
		ScratchDir:     getEnv("SCRATCH_DIR", os.TempDir()),

		MaxRetries:   getEnvInt("MAX_RETRIES", 3),
		RetryBackoff: time.Duration(getEnvInt("RETRY_BACKOFF_SECONDS", 60)) * time.Second,

		WorkerCount:        getEnvInt("WORKER_COUNT", 4),
		WatchdogStaleAfter: time.Duration(getEnvInt("WATCHDOG_STALE_AFTER_MINUTES", 15)) * time.Minute,
		WatchdogInterval:   time.Duration(getEnvInt("WATCHDOG_INTERVAL_MINUTES", 5)) * time.Minute,

		SignedURLTTL: time.Duration(getEnvInt("SIGNED_URL_TTL_MINUTES", 30)) * time.Minute,

		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "resonate"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "resonate"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogOutput: getEnv("LOG_OUTPUT", ""),
	}
}
