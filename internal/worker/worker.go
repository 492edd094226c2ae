// Package worker — цикл опроса очереди agent_events.
//
// Воркер обрабатывает по одному событию за итерацию:
//  1. срабатывание периодических триггеров (через idempotency-lock);
//  2. атомарный захват очередного события (ClaimNext);
//  3. обработка в одной транзакции: журнал STARTED, fan-out по
//     обработчикам, MarkDone и журнал DONE; при ошибке обработчика
//     транзакция откатывается, а провал фиксируется отдельной короткой
//     транзакцией (MarkFailed + журнал FAILED).
//
// Ошибки уровня цикла (недоступная БД) логируются, цикл засыпает и
// повторяет попытку; процесс не падает.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clinova/dental-agents/internal/domain"
	"github.com/clinova/dental-agents/internal/repo"
	"github.com/clinova/dental-agents/internal/telemetry"
)

// Имя актора в журнале agent_runs для записей уровня цикла.
const runActor = "worker"

const defaultPollInterval = 2 * time.Second

// EventStore — операции очереди, нужные воркеру.
type EventStore interface {
	Enqueue(ctx context.Context, q repo.DB, p repo.EnqueueParams) (int64, error)
	ClaimNext(ctx context.Context) (*domain.Event, error)
	MarkDone(ctx context.Context, q repo.DB, id int64) error
	MarkFailed(ctx context.Context, q repo.DB, id int64, errText string) error
}

// LockStore — TTL-локи для периодических триггеров.
type LockStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RunLog — append-only журнал обработки.
type RunLog interface {
	Append(ctx context.Context, q repo.DB, actor string, eventID *int64, status domain.RunStatus, errText string) error
}

// Dispatcher — fan-out события по обработчикам.
type Dispatcher interface {
	Dispatch(ctx context.Context, q repo.DB, ev *domain.Event) error
}

// DBConn — соединение, умеющее открывать транзакции.
// Реализуется *pgxpool.Pool.
type DBConn interface {
	repo.DB
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Worker — долгоживущий процесс обработки очереди.
//
// Воркеры масштабируются горизонтально: FOR UPDATE SKIP LOCKED в
// ClaimNext и TTL-локи триггеров исключают двойную обработку.
type Worker struct {
	db     DBConn
	events EventStore
	locks  LockStore
	runs   RunLog
	router Dispatcher

	pollInterval time.Duration

	// Триггеры и их ближайшие срабатывания (локальный план;
	// межворкерная дедупликация — на idempotency_locks).
	triggersMu sync.Mutex
	triggers   []Trigger
	nextDue    map[string]time.Time

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Worker.
type Config struct {
	DB     DBConn
	Events EventStore
	Locks  LockStore
	Runs   RunLog
	Router Dispatcher

	// Triggers — периодические триггеры (nil — DefaultTriggers()).
	Triggers []Trigger

	// PollInterval — пауза после пустого опроса (default: 2s).
	PollInterval time.Duration

	Logger *slog.Logger
}

// New создаёт Worker.
func New(cfg Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	triggers := cfg.Triggers
	if triggers == nil {
		triggers = DefaultTriggers()
	}

	return &Worker{
		db:           cfg.DB,
		events:       cfg.Events,
		locks:        cfg.Locks,
		runs:         cfg.Runs,
		router:       cfg.Router,
		triggers:     triggers,
		nextDue:      make(map[string]time.Time),
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Start запускает цикл обработки.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"poll_interval", w.pollInterval,
		"triggers", len(w.triggers),
	)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.runLoop(ctx)
	}()
}

// Stop останавливает цикл и дожидается завершения текущего события.
func (w *Worker) Stop() {
	w.logger.Info("stopping worker...")
	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

// SetTriggers заменяет набор периодических триггеров (hot reload).
func (w *Worker) SetTriggers(triggers []Trigger) {
	w.triggersMu.Lock()
	defer w.triggersMu.Unlock()
	w.triggers = triggers
	w.nextDue = make(map[string]time.Time)
	w.logger.Info("triggers reloaded", "count", len(triggers))
}

// runLoop — основной цикл: триггеры, захват, обработка.
// После обработанного события следующий захват идёт сразу (дренаж
// очереди); пауза только после пустого опроса или ошибки.
func (w *Worker) runLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		processed, err := w.RunOnce(ctx)
		if err != nil {
			telemetry.LoopErrors.Inc()
			w.logger.Error("loop error", "error", err)
		}
		if processed && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval):
		}
	}
}

// RunOnce выполняет одну итерацию цикла: срабатывание триггеров и
// обработку максимум одного события. processed=false — очередь пуста.
func (w *Worker) RunOnce(ctx context.Context) (processed bool, err error) {
	w.firePeriodics(ctx)

	ev, err := w.events.ClaimNext(ctx)
	if errors.Is(err, repo.ErrNoEvents) {
		telemetry.EmptyPolls.Inc()
		w.logger.Debug("queue is empty")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim next: %w", err)
	}

	telemetry.EventsClaimed.Inc()
	w.logger.Info("event claimed",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"attempt", ev.Attempts,
	)

	if err := w.processEvent(ctx, ev); err != nil {
		return true, err
	}
	return true, nil
}

// firePeriodics ставит в очередь события просроченных триггеров.
// Выигрыш лока — право на постановку; проигрыш значит, что событие
// уже поставил другой воркер в этом окне.
func (w *Worker) firePeriodics(ctx context.Context) {
	now := time.Now()

	w.triggersMu.Lock()
	due := make([]Trigger, 0, len(w.triggers))
	for i := range w.triggers {
		t := w.triggers[i]
		next, ok := w.nextDue[t.Name]
		if ok && now.Before(next) {
			continue
		}
		due = append(due, t)
		w.nextDue[t.Name] = t.Next(now)
	}
	w.triggersMu.Unlock()

	for _, t := range due {
		granted, err := w.locks.Claim(ctx, t.LockKey(), t.LockTTL(now))
		if err != nil {
			telemetry.LoopErrors.Inc()
			w.logger.Error("trigger lock claim failed", "trigger", t.Name, "error", err)
			continue
		}
		telemetry.LockClaims.WithLabelValues(t.Name, strconv.FormatBool(granted)).Inc()
		if !granted {
			w.logger.Debug("trigger lock held elsewhere", "trigger", t.Name)
			continue
		}

		id, err := w.events.Enqueue(ctx, w.db, repo.EnqueueParams{
			Type:     t.EventType,
			Payload:  t.Payload,
			Priority: t.Priority,
		})
		if err != nil {
			telemetry.LoopErrors.Inc()
			w.logger.Error("trigger enqueue failed", "trigger", t.Name, "error", err)
			continue
		}
		telemetry.EventsEnqueued.WithLabelValues(t.EventType).Inc()
		w.logger.Info("trigger fired",
			"trigger", t.Name,
			"event_id", id,
			"event_type", t.EventType,
		)
	}
}

// processEvent обрабатывает захваченное событие.
//
// Успех — одна транзакция: STARTED, fan-out, MarkDone, DONE, commit.
// Провал обработчика — откат и отдельная транзакция финализации.
// Журнал agent_runs опционален: его отсутствие не меняет исход.
func (w *Worker) processEvent(ctx context.Context, ev *domain.Event) error {
	start := time.Now()

	tx, err := w.db.Begin(ctx)
	if err != nil {
		// Событие остаётся PROCESSING; его вернёт в оборот истечение аренды.
		return fmt.Errorf("begin tx: %w", err)
	}

	w.appendRun(ctx, tx, ev, domain.RunStatusStarted, "")

	dispatchErr := w.router.Dispatch(ctx, tx, ev)
	if dispatchErr == nil {
		if err := w.events.MarkDone(ctx, tx, ev.ID); err != nil {
			dispatchErr = fmt.Errorf("mark done: %w", err)
		}
	}
	if dispatchErr == nil {
		w.appendRun(ctx, tx, ev, domain.RunStatusDone, "")
		if err := tx.Commit(ctx); err != nil {
			dispatchErr = fmt.Errorf("commit: %w", err)
		}
	}

	if dispatchErr == nil {
		telemetry.EventsDone.WithLabelValues(ev.Type).Inc()
		telemetry.DispatchDuration.WithLabelValues(ev.Type).Observe(time.Since(start).Seconds())
		w.logger.Info("event done",
			"event_id", ev.ID,
			"event_type", ev.Type,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}

	_ = tx.Rollback(ctx)
	return w.finalizeFailure(ctx, ev, dispatchErr)
}

// finalizeFailure фиксирует провал попытки отдельной транзакцией.
// Если и она не удалась, событие останется PROCESSING до истечения
// аренды — попытка при этом не теряется, а откладывается.
func (w *Worker) finalizeFailure(ctx context.Context, ev *domain.Event, cause error) error {
	tx, err := w.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin failure tx: %w (cause: %v)", err, cause)
	}
	defer tx.Rollback(ctx)

	if err := w.events.MarkFailed(ctx, tx, ev.ID, cause.Error()); err != nil {
		return fmt.Errorf("mark failed: %w (cause: %v)", err, cause)
	}
	w.appendRun(ctx, tx, ev, domain.RunStatusFailed, cause.Error())

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit failure tx: %w (cause: %v)", err, cause)
	}

	terminal := ev.AttemptsExhausted()
	telemetry.EventsFailed.WithLabelValues(ev.Type, strconv.FormatBool(terminal)).Inc()
	w.logger.Warn("event failed",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"attempt", ev.Attempts,
		"max_attempts", ev.MaxAttempts,
		"terminal", terminal,
		"error", cause,
	)
	return nil
}

// appendRun пишет в журнал, толерантно к его отсутствию.
func (w *Worker) appendRun(ctx context.Context, q repo.DB, ev *domain.Event, status domain.RunStatus, errText string) {
	err := w.runs.Append(ctx, q, runActor, &ev.ID, status, errText)
	if err != nil && !errors.Is(err, repo.ErrFeatureDisabled) {
		w.logger.Warn("run log append failed", "event_id", ev.ID, "error", err)
	}
}
