package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinova/dental-agents/internal/domain"
)

// EventRepo — репозиторий очереди agent_events.
//
// Реализует протокол claim/commit/fail: атомарный захват лучшего
// кандидата с row-level блокировкой, идемпотентную финализацию и
// retry с экспоненциальным backoff.
type EventRepo struct {
	pool *pgxpool.Pool

	workerID    string
	leaseTTL    time.Duration
	maxAttempts int
}

// NewEventRepo создаёт EventRepo.
//
// workerID попадает в locked_by захваченных событий; leaseTTL
// определяет, когда чужой lease считается протухшим; maxAttempts —
// дефолтный лимит попыток для Enqueue.
func NewEventRepo(pool *pgxpool.Pool, workerID string, leaseTTL time.Duration, maxAttempts int) *EventRepo {
	if leaseTTL <= 0 {
		leaseTTL = 5 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	return &EventRepo{
		pool:        pool,
		workerID:    workerID,
		leaseTTL:    leaseTTL,
		maxAttempts: maxAttempts,
	}
}

// EnqueueParams — параметры постановки события в очередь.
type EnqueueParams struct {
	// Type — тип события (обязателен).
	Type string

	// Payload — произвольный JSON-документ для обработчиков.
	Payload map[string]any

	// Status — NEW (по умолчанию) или PENDING.
	Status domain.EventStatus

	// Priority — приоритет; 0 трактуется как дефолтные 50.
	Priority int

	// RunAt — не обрабатывать раньше этого времени (nil — сразу).
	RunAt *time.Time

	// MaxAttempts — лимит попыток; 0 — дефолт репозитория.
	MaxAttempts int

	// CorrelationID — ключ трассировки (опционально).
	CorrelationID string

	// CreatedByUserID — инициатор (опционально).
	CreatedByUserID *int64
}

// Enqueue вставляет новое событие и возвращает его ID.
//
// Коммит НЕ выполняется: q может быть транзакцией продюсера, тогда
// доменная запись и публикация события атомарны (outbox-паттерн).
func (r *EventRepo) Enqueue(ctx context.Context, q DB, p EnqueueParams) (int64, error) {
	if p.Type == "" {
		return 0, errors.New("enqueue: empty event type")
	}

	status := p.Status
	if status == "" {
		status = domain.EventStatusNew
	}
	if !status.IsClaimable() {
		return 0, fmt.Errorf("%w: enqueue with status %s", ErrInvalidState, status)
	}

	priority := p.Priority
	if priority == 0 {
		priority = 50
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = r.maxAttempts
	}

	payload := p.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		INSERT INTO agent_events
			(event_type, payload, status, priority, attempts, max_attempts,
			 available_at, correlation_id, created_by_user_id)
		VALUES ($1, $2, $3, $4, 0, $5, COALESCE($6, now()), $7, $8)
		RETURNING id
	`
	var id int64
	err = q.QueryRow(ctx, query,
		p.Type,
		payloadJSON,
		status,
		priority,
		maxAttempts,
		p.RunAt,
		nullString(p.CorrelationID),
		p.CreatedByUserID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	return id, nil
}

// claimColumns — список колонок, возвращаемых claim'ом и выборками.
const claimColumns = `id, event_type, payload, status, priority, attempts, max_attempts,
	       available_at, locked_by, locked_at, last_error, done_at,
	       correlation_id, created_by_user_id, created_at, updated_at`

// ClaimNext атомарно захватывает следующее доступное событие.
//
// Кандидаты: status NEW/PENDING с наступившим available_at, плюс
// PROCESSING-строки с протухшим lease (воркер умер, не финализировав
// событие — оно снова становится доступным без каких-либо heartbeat).
// Порядок: priority ASC, затем id ASC (FIFO внутри приоритета).
//
// Выбор и мутация выполняются одним statement'ом: SELECT ... FOR UPDATE
// SKIP LOCKED в CTE гарантирует, что два воркера никогда не захватят
// одну строку, и что сканирование не блокируется чужими claim'ами.
//
// Возвращает ErrNoEvents, если очередь пуста.
func (r *EventRepo) ClaimNext(ctx context.Context) (*domain.Event, error) {
	query := `
		WITH candidate AS (
			SELECT id
			FROM agent_events
			WHERE available_at <= now()
			  AND (
			        status IN ('NEW', 'PENDING')
			     OR (status = 'PROCESSING' AND locked_at < now() - $2::interval)
			  )
			ORDER BY priority ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE agent_events e
		SET status     = 'PROCESSING',
		    attempts   = e.attempts + 1,
		    locked_by  = $1,
		    locked_at  = now(),
		    updated_at = now()
		FROM candidate
		WHERE e.id = candidate.id
		RETURNING ` + eventColumnsPrefixed("e") + `
	`
	ev, err := scanEvent(r.pool.QueryRow(ctx, query, r.workerID, r.leaseTTL))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoEvents
	}
	if err != nil {
		return nil, fmt.Errorf("claim next event: %w", err)
	}
	return ev, nil
}

// MarkDone переводит событие в DONE и снимает lease.
// Идемпотентен: повторный вызов по уже завершённому событию — no-op.
func (r *EventRepo) MarkDone(ctx context.Context, q DB, id int64) error {
	query := `
		UPDATE agent_events
		SET status     = 'DONE',
		    done_at    = COALESCE(done_at, now()),
		    locked_by  = NULL,
		    locked_at  = NULL,
		    updated_at = now()
		WHERE id = $1 AND status IN ('PROCESSING', 'DONE')
	`
	if _, err := q.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	return nil
}

// MarkFailed фиксирует провал попытки.
//
// Если попытки исчерпаны — финальный переход в FAILED. Иначе событие
// возвращается в NEW с available_at = now + Backoff(attempts): задержка
// считается от ТЕКУЩЕГО счётчика попыток, поэтому повторные провалы
// монотонно расширяют окно вплоть до потолка.
func (r *EventRepo) MarkFailed(ctx context.Context, q DB, id int64, errText string) error {
	var attempts, maxAttempts int
	err := q.QueryRow(ctx,
		`SELECT attempts, max_attempts FROM agent_events WHERE id = $1`, id,
	).Scan(&attempts, &maxAttempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read attempts: %w", err)
	}

	if attempts >= maxAttempts {
		query := `
			UPDATE agent_events
			SET status     = 'FAILED',
			    last_error = $2,
			    locked_by  = NULL,
			    locked_at  = NULL,
			    updated_at = now()
			WHERE id = $1 AND status = 'PROCESSING'
		`
		if _, err := q.Exec(ctx, query, id, errText); err != nil {
			return fmt.Errorf("mark failed terminal: %w", err)
		}
		return nil
	}

	backoff := domain.Backoff(attempts)
	query := `
		UPDATE agent_events
		SET status       = 'NEW',
		    last_error   = $2,
		    locked_by    = NULL,
		    locked_at    = NULL,
		    available_at = now() + $3::interval,
		    updated_at   = now()
		WHERE id = $1 AND status = 'PROCESSING'
	`
	if _, err := q.Exec(ctx, query, id, errText, backoff); err != nil {
		return fmt.Errorf("mark failed retry: %w", err)
	}
	return nil
}

// Requeue возвращает FAILED-событие в очередь со сброшенным счётчиком
// попыток. Операторская ручка для agents-cli.
func (r *EventRepo) Requeue(ctx context.Context, id int64) error {
	query := `
		UPDATE agent_events
		SET status       = 'NEW',
		    attempts     = 0,
		    available_at = now(),
		    locked_by    = NULL,
		    locked_at    = NULL,
		    updated_at   = now()
		WHERE id = $1 AND status = 'FAILED'
	`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("requeue event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: event %d is not FAILED", ErrInvalidState, id)
	}
	return nil
}

// GetByID возвращает событие по ID.
func (r *EventRepo) GetByID(ctx context.Context, id int64) (*domain.Event, error) {
	query := `SELECT ` + claimColumns + ` FROM agent_events WHERE id = $1`
	ev, err := scanEvent(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// EventFilter — параметры выборки событий.
type EventFilter struct {
	Status domain.EventStatus
	Type   string
	Limit  int
}

// List возвращает события с фильтрацией, новые первыми.
func (r *EventRepo) List(ctx context.Context, filter EventFilter) ([]domain.Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + claimColumns + `
		FROM agent_events
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::text IS NULL OR event_type = $2)
		ORDER BY id DESC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(string(filter.Status)),
		nullString(filter.Type),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// --- Helpers ---

// eventColumnsPrefixed возвращает claimColumns с префиксом алиаса таблицы.
func eventColumnsPrefixed(alias string) string {
	return alias + `.id, ` + alias + `.event_type, ` + alias + `.payload, ` +
		alias + `.status, ` + alias + `.priority, ` + alias + `.attempts, ` +
		alias + `.max_attempts, ` + alias + `.available_at, ` + alias + `.locked_by, ` +
		alias + `.locked_at, ` + alias + `.last_error, ` + alias + `.done_at, ` +
		alias + `.correlation_id, ` + alias + `.created_by_user_id, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}

// scanEvent сканирует одну строку в Event.
func scanEvent(row pgx.Row) (*domain.Event, error) {
	var ev domain.Event
	var payloadJSON []byte
	var lockedBy, lastError, correlationID *string

	err := row.Scan(
		&ev.ID,
		&ev.Type,
		&payloadJSON,
		&ev.Status,
		&ev.Priority,
		&ev.Attempts,
		&ev.MaxAttempts,
		&ev.AvailableAt,
		&lockedBy,
		&ev.LockedAt,
		&lastError,
		&ev.DoneAt,
		&correlationID,
		&ev.CreatedByUserID,
		&ev.CreatedAt,
		&ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if payloadJSON != nil {
		if err := json.Unmarshal(payloadJSON, &ev.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if lockedBy != nil {
		ev.LockedBy = *lockedBy
	}
	if lastError != nil {
		ev.LastError = *lastError
	}
	if correlationID != nil {
		ev.CorrelationID = *correlationID
	}
	return &ev, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
