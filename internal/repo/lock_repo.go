package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LockRepo — идемпотентные блокировки (idempotency_locks).
//
// Keyed mutual exclusion с TTL: первый воркер, заставший ключ свободным
// (или протухшим), выигрывает и владеет им до expires_at. Центрального
// планировщика нет — так несколько процессов дедуплицируют
// периодические триггеры между собой.
type LockRepo struct {
	pool     *pgxpool.Pool
	workerID string
}

// NewLockRepo создаёт LockRepo.
func NewLockRepo(pool *pgxpool.Pool, workerID string) *LockRepo {
	return &LockRepo{pool: pool, workerID: workerID}
}

// Claim пытается захватить ключ на ttl.
//
// Один атомарный statement: INSERT при отсутствии строки, перезарядка
// при протухшем expires_at. Если строка существует и не протухла —
// claim проигран (другой держатель активен), возвращается false.
// Строки никогда не удаляются: освобождение чисто временнОе.
func (r *LockRepo) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("claim: empty lock key")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("claim %q: non-positive ttl", key)
	}

	query := `
		INSERT INTO idempotency_locks (lock_key, locked_by, expires_at, updated_at)
		VALUES ($1, $2, now() + $3::interval, now())
		ON CONFLICT (lock_key) DO UPDATE
		SET locked_by  = EXCLUDED.locked_by,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = now()
		WHERE idempotency_locks.expires_at <= now()
		RETURNING lock_key
	`
	var got string
	err := r.pool.QueryRow(ctx, query, key, r.workerID, ttl).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		// Конфликт с живым держателем.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim lock %q: %w", key, err)
	}
	return true, nil
}
