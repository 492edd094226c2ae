package repo

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinova/dental-agents/internal/domain"
	"github.com/clinova/dental-agents/migrations"
)

// Интеграционные тесты гоняются против реального Postgres.
// Запуск: TEST_DB_URL=postgres://... go test ./internal/repo/
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DB_URL")
	if dsn == "" {
		t.Skip("TEST_DB_URL is not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := migrations.Apply(ctx, pool, slog.Default()); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE agent_events, agent_runs, idempotency_locks RESTART IDENTITY`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}

func TestEventRepo_ClaimOrder(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewEventRepo(pool, "w1", time.Minute, 8)

	// Два события с одинаковым приоритетом и одно срочное.
	firstID, err := repo.Enqueue(ctx, pool, EnqueueParams{Type: "CaseUpdated"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := repo.Enqueue(ctx, pool, EnqueueParams{Type: "CaseUpdated"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	urgentID, err := repo.Enqueue(ctx, pool, EnqueueParams{Type: "AppointmentMonitorTick", Priority: 10})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Меньший priority выигрывает, затем FIFO по id.
	ev, err := repo.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if ev.ID != urgentID {
		t.Errorf("claimed %d, want urgent %d", ev.ID, urgentID)
	}
	if ev.Status != domain.EventStatusProcessing || ev.Attempts != 1 || ev.LockedBy != "w1" {
		t.Errorf("claimed event = %+v", ev)
	}

	ev, err = repo.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if ev.ID != firstID {
		t.Errorf("claimed %d, want first %d", ev.ID, firstID)
	}
}

func TestEventRepo_ClaimSkipsLocked(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewEventRepo(pool, "w1", time.Minute, 8)

	id, err := repo.Enqueue(ctx, pool, EnqueueParams{Type: "CaseUpdated"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := repo.ClaimNext(ctx); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	// Событие PROCESSING с живым lease невидимо для повторного захвата.
	if _, err := repo.ClaimNext(ctx); err != ErrNoEvents {
		t.Errorf("second claim err = %v, want ErrNoEvents", err)
	}

	// Протухший lease: событие снова доступно, attempts растёт.
	if _, err := pool.Exec(ctx,
		`UPDATE agent_events SET locked_at = now() - interval '10 minutes' WHERE id = $1`, id,
	); err != nil {
		t.Fatalf("age lease: %v", err)
	}
	ev, err := repo.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if ev.ID != id || ev.Attempts != 2 {
		t.Errorf("reclaimed = %+v, want id %d attempts 2", ev, id)
	}
}

func TestEventRepo_RunAtDefersAvailability(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewEventRepo(pool, "w1", time.Minute, 8)

	runAt := time.Now().Add(time.Hour)
	if _, err := repo.Enqueue(ctx, pool, EnqueueParams{Type: "RevenueDailyTick", RunAt: &runAt}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := repo.ClaimNext(ctx); err != ErrNoEvents {
		t.Errorf("future event must be invisible, err = %v", err)
	}
}

func TestEventRepo_MarkFailedBackoffAndTerminal(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewEventRepo(pool, "w1", time.Minute, 8)

	id, err := repo.Enqueue(ctx, pool, EnqueueParams{Type: "CaseUpdated", MaxAttempts: 2})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Первая попытка: возврат в NEW с отложенным available_at.
	if _, err := repo.ClaimNext(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := repo.MarkFailed(ctx, pool, id, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	ev, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ev.Status != domain.EventStatusNew {
		t.Errorf("status = %s, want NEW", ev.Status)
	}
	if ev.LastError != "boom" {
		t.Errorf("last_error = %q", ev.LastError)
	}
	if !ev.AvailableAt.After(time.Now().Add(5 * time.Second)) {
		t.Errorf("available_at = %v, want backoff in the future", ev.AvailableAt)
	}

	// Вторая попытка исчерпывает лимит: терминальный FAILED.
	if _, err := pool.Exec(ctx, `UPDATE agent_events SET available_at = now() WHERE id = $1`, id); err != nil {
		t.Fatalf("reset available_at: %v", err)
	}
	if _, err := repo.ClaimNext(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := repo.MarkFailed(ctx, pool, id, "boom again"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	ev, err = repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ev.Status != domain.EventStatusFailed {
		t.Errorf("status = %s, want FAILED", ev.Status)
	}
	if ev.LockedBy != "" {
		t.Errorf("locked_by = %q, want cleared", ev.LockedBy)
	}
}

func TestEventRepo_MarkDoneIdempotent(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewEventRepo(pool, "w1", time.Minute, 8)

	id, err := repo.Enqueue(ctx, pool, EnqueueParams{Type: "CaseUpdated"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := repo.ClaimNext(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := repo.MarkDone(ctx, pool, id); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	if err := repo.MarkDone(ctx, pool, id); err != nil {
		t.Fatalf("repeated mark done: %v", err)
	}

	ev, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ev.Status != domain.EventStatusDone || ev.DoneAt == nil {
		t.Errorf("event = %+v, want DONE with done_at", ev)
	}
}

func TestEventRepo_Requeue(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewEventRepo(pool, "w1", time.Minute, 8)

	id, err := repo.Enqueue(ctx, pool, EnqueueParams{Type: "CaseUpdated", MaxAttempts: 1})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Requeue до провала отклоняется.
	if err := repo.Requeue(ctx, id); err == nil {
		t.Error("requeue of non-FAILED event must error")
	}

	if _, err := repo.ClaimNext(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := repo.MarkFailed(ctx, pool, id, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	if err := repo.Requeue(ctx, id); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	ev, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ev.Status != domain.EventStatusNew || ev.Attempts != 0 {
		t.Errorf("requeued = %+v, want NEW with attempts 0", ev)
	}
}

func TestEventRepo_OutboxRollback(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewEventRepo(pool, "w1", time.Minute, 8)

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := repo.Enqueue(ctx, tx, EnqueueParams{Type: "CaseUpdated"}); err != nil {
		t.Fatalf("enqueue in tx: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	// Откат продюсера не оставляет события в очереди.
	if _, err := repo.ClaimNext(ctx); err != ErrNoEvents {
		t.Errorf("claim after rollback err = %v, want ErrNoEvents", err)
	}
}

func TestLockRepo_ClaimAndExpiry(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	w1 := NewLockRepo(pool, "w1")
	w2 := NewLockRepo(pool, "w2")

	granted, err := w1.Claim(ctx, "trigger:inventory", time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !granted {
		t.Fatal("first claim must be granted")
	}

	// Живой лок держит конкурентов.
	granted, err = w2.Claim(ctx, "trigger:inventory", time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if granted {
		t.Error("second claim must be denied while lock is live")
	}

	// Другой ключ свободен.
	granted, err = w2.Claim(ctx, "trigger:revenue", time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !granted {
		t.Error("independent key must be grantable")
	}

	// Протухший лок перезаряжается.
	if _, err := pool.Exec(ctx,
		`UPDATE idempotency_locks SET expires_at = now() - interval '1 second' WHERE lock_key = $1`,
		"trigger:inventory",
	); err != nil {
		t.Fatalf("expire lock: %v", err)
	}
	granted, err = w2.Claim(ctx, "trigger:inventory", time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !granted {
		t.Error("expired lock must be reclaimable")
	}
}

func TestLockRepo_RejectsBadArgs(t *testing.T) {
	repo := NewLockRepo(nil, "w1")
	if _, err := repo.Claim(context.Background(), "", time.Minute); err == nil {
		t.Error("empty key must error")
	}
	if _, err := repo.Claim(context.Background(), "k", 0); err == nil {
		t.Error("zero ttl must error")
	}
}
