package config

import (
	"testing"
)

var envKeys = []string{
	"APP_PORT", "DATABASE_DSN", "JWT_SECRET", "APP_ENV", "ACCESS_TOKEN_TTL_MINUTES",
	"REDIS_URL", "NOTIFY_CHANNEL", "HUB_WORKERS", "HUB_HANDLER_TIMEOUT_SECONDS", "TYPING_TTL_SECONDS",
}

func clearEnv(t *testing.T) {
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Load() Port = %v, want 8080", cfg.Port)
	}
	if cfg.Env != "dev" {
		t.Errorf("Load() Env = %v, want dev", cfg.Env)
	}
	if cfg.RedisURL != "" {
		t.Errorf("Load() RedisURL = %v, want empty", cfg.RedisURL)
	}
	if cfg.NotifyChannel != "coursehub:notifications" {
		t.Errorf("Load() NotifyChannel = %v", cfg.NotifyChannel)
	}
	if cfg.HubWorkers != 64 {
		t.Errorf("Load() HubWorkers = %v, want 64", cfg.HubWorkers)
	}
	if cfg.TypingTTLSeconds != 3 {
		t.Errorf("Load() TypingTTLSeconds = %v, want 3", cfg.TypingTTLSeconds)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_PORT", "9090")
	t.Setenv("DATABASE_DSN", "sqlite:file:dev.db")
	t.Setenv("JWT_SECRET", "my-secret")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("HUB_WORKERS", "8")
	t.Setenv("TYPING_TTL_SECONDS", "5")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Load() Port = %v, want 9090", cfg.Port)
	}
	if cfg.DatabaseDSN != "sqlite:file:dev.db" {
		t.Errorf("Load() DatabaseDSN = %v", cfg.DatabaseDSN)
	}
	if cfg.JWTSecret != "my-secret" {
		t.Errorf("Load() JWTSecret = %v, want my-secret", cfg.JWTSecret)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("Load() RedisURL = %v", cfg.RedisURL)
	}
	if cfg.HubWorkers != 8 {
		t.Errorf("Load() HubWorkers = %v, want 8", cfg.HubWorkers)
	}
	if cfg.TypingTTLSeconds != 5 {
		t.Errorf("Load() TypingTTLSeconds = %v, want 5", cfg.TypingTTLSeconds)
	}
}

func TestLoad_InvalidNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "invalid")
	t.Setenv("HUB_WORKERS", "-5")

	cfg := Load()

	if cfg.AccessTokenTTLMinutes != 15 {
		t.Errorf("Load() AccessTokenTTLMinutes = %v, want 15 (default)", cfg.AccessTokenTTLMinutes)
	}
	if cfg.HubWorkers != 64 {
		t.Errorf("Load() HubWorkers = %v, want 64 (default)", cfg.HubWorkers)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid dev config", Config{Port: "8080", DatabaseDSN: "postgres://localhost/test", JWTSecret: defaultJWTSecret, Env: "dev"}, false},
		{"valid prod config", Config{Port: "8080", DatabaseDSN: "postgres://localhost/test", JWTSecret: "production-secret-key", Env: "prod"}, false},
		{"empty port", Config{Port: "", DatabaseDSN: "postgres://localhost/test", JWTSecret: "secret", Env: "dev"}, true},
		{"empty dsn", Config{Port: "8080", DatabaseDSN: "", JWTSecret: "secret", Env: "dev"}, true},
		{"default secret in prod", Config{Port: "8080", DatabaseDSN: "postgres://localhost/test", JWTSecret: defaultJWTSecret, Env: "prod"}, true},
		{"default secret in test env", Config{Port: "8080", DatabaseDSN: "postgres://localhost/test", JWTSecret: defaultJWTSecret, Env: "test"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
