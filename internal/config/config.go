package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                  string
	DatabaseDSN           string
	JWTSecret             string
	Env                   string
	AccessTokenTTLMinutes int

	// RedisURL 为空时不启用跨进程通知桥。
	RedisURL      string
	NotifyChannel string

	HubWorkers            int
	HubHandlerTimeoutSecs int
	TypingTTLSeconds      int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 读取正整数配置，非法值回退到默认值。
func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, ""))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// Load 读取环境变量；开发环境下若存在 .env 文件会先加载它。
func Load() Config {
	_ = godotenv.Load()
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=coursehub port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", defaultJWTSecret),
		Env:                   getenv("APP_ENV", "dev"),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RedisURL:              getenv("REDIS_URL", ""),
		NotifyChannel:         getenv("NOTIFY_CHANNEL", "coursehub:notifications"),
		HubWorkers:            getenvInt("HUB_WORKERS", 64),
		HubHandlerTimeoutSecs: getenvInt("HUB_HANDLER_TIMEOUT_SECONDS", 10),
		TypingTTLSeconds:      getenvInt("TYPING_TTL_SECONDS", 3),
	}
}

func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: APP_PORT is empty")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN is empty")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("config: JWT_SECRET must be changed outside dev")
	}
	return nil
}
