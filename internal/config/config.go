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
	// Database
	DatabaseURL string

	// Cache
	RedisURL string

	// OAuth（3項目すべて設定された場合のみ有効）
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionSecret     string
	SessionMaxAge     int // 秒
	SessionTokenBytes int

	// Email login
	EmailTokenTTL      time.Duration
	EmailLoginCooldown time.Duration
	EmailTokenBytes    int
	VerifierRetention  time.Duration

	// Password
	BcryptCost int

	// Username generator
	NamegenURL     string
	NamegenTimeout time.Duration

	// Mailer
	MailerDriver string

	// Localization
	LocalizationDefault   string
	LocalizationSupported []string

	// Rate Limit（req/min）
	RateLimitGeneral    int
	RateLimitEmailLogin int

	// Worker
	CleanupInterval time.Duration

	// Server
	ServerPort string
	BaseURL    string

	// Cookie（OAuthのstate保存にのみ使用する）
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// ログ
	LogLevel string
}

// GoogleOAuthEnabled はGoogle OAuthの設定が揃っているかを返す。
func (c *Config) GoogleOAuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// SessionDuration はセッションの有効期間を返す。
func (c *Config) SessionDuration() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.RedisURL = getEnvString("REDIS_URL", "redis://localhost:6379/1")
	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 960)
	cfg.SessionTokenBytes = getEnvInt("SESSION_TOKEN_BYTES", 32)
	cfg.EmailTokenTTL = getEnvDuration("EMAIL_TOKEN_TTL", 5*time.Minute)
	cfg.EmailLoginCooldown = getEnvDuration("EMAIL_LOGIN_COOLDOWN", 5*time.Minute)
	cfg.EmailTokenBytes = getEnvInt("EMAIL_TOKEN_BYTES", 32)
	cfg.VerifierRetention = getEnvDuration("VERIFIER_RETENTION", 24*time.Hour)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 12)
	cfg.NamegenURL = getEnvString("NAMEGEN_URL", "http://username-generator")
	cfg.NamegenTimeout = getEnvDuration("NAMEGEN_TIMEOUT", 5*time.Second)
	cfg.MailerDriver = getEnvString("MAILER_DRIVER", "log")
	cfg.LocalizationDefault = getEnvString("LOCALIZATION_DEFAULT", "fi")
	cfg.LocalizationSupported = getEnvList("LOCALIZATION_SUPPORTED", []string{"fi", "en"})
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitEmailLogin = getEnvInt("RATE_LIMIT_EMAIL_LOGIN", 5)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	// デフォルト言語は対応言語の先頭に置く
	cfg.LocalizationSupported = withDefaultFirst(cfg.LocalizationDefault, cfg.LocalizationSupported)

	return cfg, nil
}

func withDefaultFirst(def string, langs []string) []string {
	out := []string{def}
	for _, l := range langs {
		if l != def {
			out = append(out, l)
		}
	}
	return out
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

// getEnvList はカンマ区切りの値を読み込む。空要素は除く。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
