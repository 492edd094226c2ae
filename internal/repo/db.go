package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB — минимальный интерфейс исполнения запросов.
//
// Ему удовлетворяют и *pgxpool.Pool, и pgx.Tx: методы репозиториев,
// участвующие в транзакции вызывающей стороны (outbox-паттерн,
// финализация события), принимают DB первым аргументом и не делают
// собственных commit/rollback.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Optional выполняет fn внутри savepoint, если q — транзакция pgx.
//
// В Postgres любая ошибка (в том числе отсутствие таблицы) переводит
// транзакцию в aborted-состояние; savepoint позволяет откатить только
// необязательную операцию и продолжить транзакцию обработки. Вне
// транзакции fn выполняется напрямую. Ошибка возвращается уже
// классифицированной (см. Classify).
func Optional(ctx context.Context, q DB, fn func(DB) error) error {
	tx, ok := q.(pgx.Tx)
	if !ok {
		return Classify(fn(q))
	}

	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin savepoint: %w", err)
	}
	if err := fn(sp); err != nil {
		_ = sp.Rollback(ctx)
		return Classify(err)
	}
	return sp.Commit(ctx)
}

// NewPool создаёт пул соединений к Postgres и проверяет его ping'ом.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}
