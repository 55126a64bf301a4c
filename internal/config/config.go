package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Backend REST API
	RentalAPIURL string

	// Identity Provider
	IDPBaseURL string

	// Image Host
	ImageHostURL string
	ImageHostKey string
	ImageMaxSize int64

	// Fetch
	FetchTimeout time.Duration
	CacheTTL     time.Duration

	// Session
	SessionSettleTimeout time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitBooking int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// defaultImageHostURL は画像ホストのアップロードエンドポイントの既定値。
const defaultImageHostURL = "https://api.imgbb.com/1/upload"

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// 必須値の欠落は起動時の致命的エラーであり、実行時に回復することはない。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.RentalAPIURL = os.Getenv("RENTAL_API_URL")
	if cfg.RentalAPIURL == "" {
		missing = append(missing, "RENTAL_API_URL")
	}

	cfg.ImageHostKey = os.Getenv("IMAGE_HOST_KEY")
	if cfg.ImageHostKey == "" {
		missing = append(missing, "IMAGE_HOST_KEY")
	}

	cfg.IDPBaseURL = os.Getenv("IDP_BASE_URL")
	if cfg.IDPBaseURL == "" {
		missing = append(missing, "IDP_BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ImageHostURL = getEnvString("IMAGE_HOST_URL", defaultImageHostURL)
	cfg.ImageMaxSize = getEnvInt64("IMAGE_MAX_SIZE", 10485760)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.CacheTTL = getEnvDuration("CACHE_TTL", 60*time.Second)
	cfg.SessionSettleTimeout = getEnvDuration("SESSION_SETTLE_TIMEOUT", 5*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitBooking = getEnvInt("RATE_LIMIT_BOOKING", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.ServerPort)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

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
