// Package config загружает конфигурацию сервера из окружения,
// с опциональным .env файлом для локальной разработки.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config конфигурация сервера store
type Config struct {
	// ListenAddr адрес HTTP сервера, например ":8080"
	ListenAddr string
	// NodeAddr внешний адрес узла в кластере, например "node-1:8080"
	NodeAddr string
	// DBPath путь к файлу SQLite базы
	DBPath string
	// JWTSecret секрет подписи токенов принципалов
	JWTSecret string
	// LogLevel debug | info | warn | error
	LogLevel string
	// TokenTTL срок жизни access токена
	TokenTTL time.Duration
	// RateLimit запросов на окно RateWindow с одного IP
	RateLimit  int
	RateWindow time.Duration
}

// Load читает конфигурацию из окружения. Отсутствующий .env не ошибка.
func Load() (*Config, error) {
	_ = godotenv.Load()

	tokenTTL, err := time.ParseDuration(getEnv("TOKEN_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid TOKEN_TTL: %w", err)
	}

	rateWindow, err := time.ParseDuration(getEnv("RATE_WINDOW", "1m"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_WINDOW: %w", err)
	}

	rateLimit, err := getEnvInt("RATE_LIMIT", 300)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
		NodeAddr:   getEnv("NODE_ADDR", "localhost:8080"),
		DBPath:     getEnv("DB_PATH", "crmsync.db"),
		JWTSecret:  os.Getenv("JWT_SECRET"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		TokenTTL:   tokenTTL,
		RateLimit:  rateLimit,
		RateWindow: rateWindow,
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	var value int
	if _, err := fmt.Sscanf(raw, "%d", &value); err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}
