package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	TelegramBotToken string

	// Queue transport
	RedisAddr        string
	RedisPassword    string
	UseTopic         bool // fan-out pub/sub topic instead of the grouped stream queue
	DownloadsStream  string
	DeliveriesStream string
	ConsumerGroup    string
	ConsumerName     string
	DedupWindow      time.Duration

	// Artifact storage
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// Extractor
	YTDLPPath      string
	WorkDir        string
	CacheNamespace string

	// Pipeline limits
	MaxFileSizeBytes int64
	MaxPlaylistItems int
	BlockedProviders []string

	DatabasePath string
	LogLevel     string
	LogFilePath  string
}

func LoadConfig() (*Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	config := &Config{}

	config.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if config.TelegramBotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	config.RedisAddr = envOrDefault("REDIS_ADDR", "localhost:6379")
	config.RedisPassword = os.Getenv("REDIS_PASSWORD")
	config.UseTopic = os.Getenv("USE_TOPIC") == "true"

	config.DownloadsStream = envOrDefault("DOWNLOADS_STREAM", "jobs:downloads")
	config.DeliveriesStream = envOrDefault("DELIVERIES_STREAM", "jobs:deliveries")
	config.ConsumerGroup = envOrDefault("CONSUMER_GROUP", "audiobot")
	config.ConsumerName = envOrDefault("CONSUMER_NAME", hostnameOrDefault("worker-1"))

	dedupWindowStr := envOrDefault("DEDUP_WINDOW", "5m")
	dedupWindow, err := time.ParseDuration(dedupWindowStr)
	if err != nil {
		return nil, fmt.Errorf("invalid DEDUP_WINDOW '%s': %w", dedupWindowStr, err)
	}
	config.DedupWindow = dedupWindow

	config.S3Bucket = os.Getenv("S3_BUCKET")
	if config.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required")
	}
	config.S3Region = envOrDefault("S3_REGION", "auto")
	config.S3Endpoint = os.Getenv("S3_ENDPOINT")
	config.S3AccessKeyID = os.Getenv("S3_ACCESS_KEY_ID")
	config.S3SecretAccessKey = os.Getenv("S3_SECRET_ACCESS_KEY")

	config.YTDLPPath = envOrDefault("YTDLP_PATH", "yt-dlp")
	config.WorkDir = envOrDefault("WORK_DIR", os.TempDir())
	config.CacheNamespace = envOrDefault("CACHE_NAMESPACE", "ytdlp-cache")

	maxFileSizeStr := os.Getenv("MAX_FILE_SIZE_BYTES")
	if maxFileSizeStr == "" {
		config.MaxFileSizeBytes = 50_000_000 // Telegram bot upload ceiling
	} else {
		config.MaxFileSizeBytes, err = strconv.ParseInt(maxFileSizeStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_FILE_SIZE_BYTES: %w", err)
		}
		if config.MaxFileSizeBytes <= 0 {
			return nil, fmt.Errorf("MAX_FILE_SIZE_BYTES must be positive")
		}
	}

	maxPlaylistStr := os.Getenv("MAX_PLAYLIST_ITEMS")
	if maxPlaylistStr == "" {
		config.MaxPlaylistItems = 30
	} else {
		config.MaxPlaylistItems, err = strconv.Atoi(maxPlaylistStr)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_PLAYLIST_ITEMS: %w", err)
		}
		if config.MaxPlaylistItems <= 0 {
			return nil, fmt.Errorf("MAX_PLAYLIST_ITEMS must be positive")
		}
	}

	blockedStr := envOrDefault("BLOCKED_PROVIDERS", "spotify")
	for _, provider := range strings.Split(blockedStr, ",") {
		provider = strings.TrimSpace(provider)
		if provider != "" {
			config.BlockedProviders = append(config.BlockedProviders, provider)
		}
	}

	config.DatabasePath = envOrDefault("DATABASE_PATH", "data/bot.db")
	config.LogLevel = envOrDefault("LOG_LEVEL", "info")
	config.LogFilePath = envOrDefault("LOG_FILE_PATH", "logs/bot.log")

	return config, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func hostnameOrDefault(fallback string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return fallback
	}
	return host
}
