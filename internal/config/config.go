// Package config — конфигурация воркера и CLI из переменных окружения
// плюс необязательный YAML-файл с периодическими триггерами.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Config — настройки процесса.
type Config struct {
	// DBURL — строка подключения к Postgres (обязательна).
	DBURL string

	// WorkerID — уникальный идентификатор воркера. Попадает в
	// locked_by у захваченных событий и в idempotency_locks.
	WorkerID string

	// PollInterval — пауза между циклами опроса очереди.
	PollInterval time.Duration

	// LockTTL — срок аренды захваченного события. События в статусе
	// PROCESSING с истёкшей арендой доступны для повторного захвата.
	LockTTL time.Duration

	// MaxAttempts — лимит попыток по умолчанию для новых событий.
	MaxAttempts int

	// HTTPAddr — адрес HTTP-сервера воркера (/metrics, /healthz).
	HTTPAddr string

	// TriggersFile — путь к YAML с периодическими триггерами.
	// Пустое значение — используются встроенные триггеры.
	TriggersFile string
}

// Load читает конфигурацию из переменных окружения.
func Load() (*Config, error) {
	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DB_URL is required")
	}

	cfg := &Config{
		DBURL:        dbURL,
		WorkerID:     getEnv("WORKER_ID", defaultWorkerID()),
		PollInterval: time.Duration(getEnvInt("POLL_MS", 2000)) * time.Millisecond,
		LockTTL:      time.Duration(getEnvInt("LOCK_TTL_SECONDS", 300)) * time.Second,
		MaxAttempts:  getEnvInt("MAX_EVENT_ATTEMPTS", 8),
		HTTPAddr:     ":" + getEnv("WORKER_PORT", "8081"),
		TriggersFile: os.Getenv("TRIGGERS_FILE"),
	}

	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_MS must be positive")
	}
	if cfg.LockTTL <= 0 {
		return nil, fmt.Errorf("LOCK_TTL_SECONDS must be positive")
	}
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("MAX_EVENT_ATTEMPTS must be positive")
	}

	return cfg, nil
}

// defaultWorkerID строит идентификатор вида "hostname-a1b2c3d4".
// Суффикс нужен, чтобы несколько воркеров на одной машине не
// делили один locked_by.
func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
