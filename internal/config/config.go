package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	APIPort   string
	DBPath    string
	UploadDir string

	QdrantURL         string
	QdrantAPIKey      string
	QdrantCollection  string
	QdrantVectorSize  int
	QdrantPingTimeout time.Duration
	QdrantRetryEvery  time.Duration

	EmbeddingBaseURL   string
	EmbeddingModelName string
	EmbeddingAPIKey    string
	EmbeddingAutoload  bool
	EmbeddingCacheDir  string

	OCRCommand            string
	OCRLanguages          string
	ExtractEmbeddedImages bool

	IndexWorkers   int
	BackfillRate   float64
	MaxUploadBytes int64

	LogLevel  slog.Level
	LogFormat string
}

// Load reads configuration from environment variables and returns a Config struct.
// A .env file in the working directory or up to five parents is loaded first;
// variables already set in the environment take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	wd, err := os.Getwd()
	if err == nil {
		dir := wd
		for i := 0; i < 5; i++ {
			envPath := filepath.Join(dir, ".env")
			if _, err := os.Stat(envPath); err == nil {
				_ = godotenv.Load(envPath)
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "5000"),
		DBPath:             getEnv("DB_PATH", "./data/docsearch.db"),
		UploadDir:          getEnv("UPLOAD_DIR", "./uploads"),
		QdrantURL:          getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantAPIKey:       getEnv("QDRANT_API_KEY", ""),
		QdrantCollection:   getEnv("QDRANT_COLLECTION", "document_embeddings"),
		EmbeddingBaseURL:   getEnv("EMBEDDING_BASE_URL", "http://localhost:8081"),
		EmbeddingModelName: getEnv("EMBEDDING_MODEL_NAME", "multilingual-e5-small"),
		EmbeddingAPIKey:    getEnv("EMBEDDING_API_KEY", "dummy-key"),
		EmbeddingCacheDir:  getEnv("EMBEDDING_CACHE_DIR", ""),
		OCRCommand:         getEnv("OCR_COMMAND", "tesseract"),
		OCRLanguages:       getEnv("OCR_LANGUAGES", "ara+eng"),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}

	// Must match the output size of the embeddings model. Changing it
	// requires recreating the collection.
	vectorSize, err := strconv.Atoi(getEnv("QDRANT_VECTOR_SIZE", "384"))
	if err != nil {
		return nil, fmt.Errorf("QDRANT_VECTOR_SIZE must be a valid integer: %w", err)
	}
	if vectorSize <= 0 {
		return nil, fmt.Errorf("QDRANT_VECTOR_SIZE must be greater than 0")
	}
	cfg.QdrantVectorSize = vectorSize

	pingTimeout, err := time.ParseDuration(getEnv("QDRANT_PING_TIMEOUT", "3s"))
	if err != nil {
		return nil, fmt.Errorf("QDRANT_PING_TIMEOUT must be a duration: %w", err)
	}
	if pingTimeout <= 0 {
		return nil, fmt.Errorf("QDRANT_PING_TIMEOUT must be greater than 0")
	}
	cfg.QdrantPingTimeout = pingTimeout

	retryEvery, err := time.ParseDuration(getEnv("QDRANT_RETRY_INTERVAL", "5s"))
	if err != nil {
		return nil, fmt.Errorf("QDRANT_RETRY_INTERVAL must be a duration: %w", err)
	}
	if retryEvery < 0 {
		return nil, fmt.Errorf("QDRANT_RETRY_INTERVAL must not be negative")
	}
	cfg.QdrantRetryEvery = retryEvery

	if cfg.EmbeddingAutoload, err = getBool("EMBEDDING_AUTOLOAD", true); err != nil {
		return nil, err
	}
	if cfg.ExtractEmbeddedImages, err = getBool("EXTRACT_EMBEDDED_IMAGES", false); err != nil {
		return nil, err
	}

	defaultWorkers := runtime.NumCPU() / 2
	if defaultWorkers < 1 {
		defaultWorkers = 1
	}
	workers, err := strconv.Atoi(getEnv("INDEX_WORKERS", strconv.Itoa(defaultWorkers)))
	if err != nil {
		return nil, fmt.Errorf("INDEX_WORKERS must be a valid integer: %w", err)
	}
	if workers < 1 {
		return nil, fmt.Errorf("INDEX_WORKERS must be at least 1")
	}
	cfg.IndexWorkers = workers

	rate, err := strconv.ParseFloat(getEnv("BACKFILL_RATE", "0"), 64)
	if err != nil {
		return nil, fmt.Errorf("BACKFILL_RATE must be a number: %w", err)
	}
	if rate < 0 {
		return nil, fmt.Errorf("BACKFILL_RATE must not be negative")
	}
	cfg.BackfillRate = rate

	maxUpload, err := strconv.ParseInt(getEnv("MAX_UPLOAD_BYTES", strconv.Itoa(50<<20)), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("MAX_UPLOAD_BYTES must be a valid integer: %w", err)
	}
	if maxUpload <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_BYTES must be greater than 0")
	}
	cfg.MaxUploadBytes = maxUpload

	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(cfg.UploadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return v, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", s)
	}
}
