package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultUserAgent は収集リクエストに付与する既定のUser-Agent。
const DefaultUserAgent = "WellnessNewsletterBot/1.0 (+https://wellness-newsletter.example.com/bot)"

// DefaultRelevanceKeywords は関連性判定に使う既定のキーワード（韓国語・英語）。
var DefaultRelevanceKeywords = []string{
	"웰니스", "리트리트", "힐링", "명상", "요가", "스파", "디톡스",
	"마음수련", "심신", "치유", "휴양", "건강여행", "템플스테이",
	"산림욕", "자연치유", "아로마", "마사지", "필라테스",
	"wellness", "retreat", "healing", "meditation", "yoga", "spa", "detox",
	"mindfulness", "holistic", "therapeutic", "rejuvenation", "restoration",
	"ayurveda", "aromatherapy", "pilates", "fitness retreat",
}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Logging
	LogLevel string

	// Fetch
	UserAgent    string
	FetchTimeout time.Duration
	FetchMaxSize int64
	RequestDelay time.Duration

	// Collect
	CollectMaxConcurrent int
	CollectRunTimeout    time.Duration
	CollectionInterval   time.Duration
	CollectionEnabled    bool
	SummaryLength        int
	RelevanceKeywords    []string
	SourcesFile          string

	// Dedup
	DedupWindow   time.Duration
	DedupBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Retention
	Retention time.Duration

	// Server
	ServerPort string
}

// 重複排除ストアのバックエンド種別
const (
	DedupBackendMemory = "memory"
	DedupBackendRedis  = "redis"
)

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("required environment variables are not set: %v", []string{"DATABASE_URL"})
	}

	// Optional fields with defaults
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.UserAgent = getEnvString("USER_AGENT", DefaultUserAgent)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 30*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.RequestDelay = getEnvDuration("REQUEST_DELAY", time.Second)
	cfg.CollectMaxConcurrent = getEnvInt("COLLECT_MAX_CONCURRENT", 4)
	cfg.CollectRunTimeout = getEnvDuration("COLLECT_RUN_TIMEOUT", 30*time.Minute)
	cfg.CollectionInterval = getEnvDuration("COLLECTION_INTERVAL", 24*time.Hour)
	cfg.CollectionEnabled = getEnvBool("COLLECTION_ENABLED", true)
	cfg.SummaryLength = getEnvInt("SUMMARY_LENGTH", 300)
	cfg.RelevanceKeywords = getEnvList("RELEVANCE_KEYWORDS", DefaultRelevanceKeywords)
	cfg.SourcesFile = getEnvString("SOURCES_FILE", "sources.yaml")
	cfg.DedupWindow = getEnvDuration("DEDUP_WINDOW", 30*24*time.Hour)
	cfg.DedupBackend = strings.ToLower(getEnvString("DEDUP_BACKEND", DedupBackendMemory))
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.Retention = getEnvDuration("RETENTION", 30*24*time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	if cfg.DedupBackend != DedupBackendMemory && cfg.DedupBackend != DedupBackendRedis {
		return nil, fmt.Errorf("unsupported DEDUP_BACKEND: %q", cfg.DedupBackend)
	}
	if cfg.CollectMaxConcurrent < 1 {
		cfg.CollectMaxConcurrent = 1
	}

	// 保持期間は重複排除ウィンドウ以上でなければならない。
	if cfg.Retention < cfg.DedupWindow {
		slog.Warn("保持期間が重複排除ウィンドウより短いため引き上げます",
			slog.String("retention", cfg.Retention.String()),
			slog.String("dedup_window", cfg.DedupWindow.String()),
		)
		cfg.Retention = cfg.DedupWindow
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// getEnvList はカンマ区切りの環境変数を読み込む。空要素は除外する。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
