package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/clinova/dental-agents/internal/domain"
	"github.com/clinova/dental-agents/internal/repo"
)

// Handler — обработчик доменных событий.
//
// Handle обязан вернуть ошибку, чтобы сигнализировать retry-worthy
// провал, или nil для успеха. Обработчики должны быть идемпотентны:
// fan-out не атомарен, при retry часть из них выполнится повторно.
type Handler interface {
	// Name — имя обработчика для логов и текстов ошибок.
	Name() string

	// Handle обрабатывает событие. q — транзакция текущей попытки:
	// все записи обработчика коммитятся или откатываются вместе с
	// финализацией события.
	Handle(ctx context.Context, q repo.DB, ev *domain.Event) error
}

// Router — маппинг типа события на упорядоченный список обработчиков.
//
// Для составных типов (AppointmentCompleted) выполняется fan-out:
// обработчики вызываются последовательно в порядке регистрации;
// первая ошибка прерывает оставшихся и уходит наверх для стандартного
// retry/backoff. Неизвестные типы игнорируются без ошибки.
type Router struct {
	exact    map[string][]Handler
	prefixes []prefixRoute
	logger   *slog.Logger
}

type prefixRoute struct {
	prefix   string
	handlers []Handler
}

// NewRouter создаёт пустой Router. Обработчики регистрируются явно
// на старте процесса — никаких глобальных синглтонов.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		exact:  make(map[string][]Handler),
		logger: logger,
	}
}

// Register привязывает обработчики к точному типу события.
// Повторная регистрация того же типа дописывает обработчики в хвост.
func (r *Router) Register(eventType string, handlers ...Handler) {
	r.exact[eventType] = append(r.exact[eventType], handlers...)
}

// RegisterPrefix привязывает обработчики ко всем типам с данным
// префиксом (например, "Inventory"). Точное совпадение имеет приоритет.
func (r *Router) RegisterPrefix(prefix string, handlers ...Handler) {
	r.prefixes = append(r.prefixes, prefixRoute{prefix: prefix, handlers: handlers})
}

// Handlers возвращает список обработчиков для типа события.
// Пустой список — тип неизвестен.
func (r *Router) Handlers(eventType string) []Handler {
	if hs, ok := r.exact[eventType]; ok {
		return hs
	}
	for _, pr := range r.prefixes {
		if strings.HasPrefix(eventType, pr.prefix) {
			return pr.handlers
		}
	}
	return nil
}

// Dispatch выполняет fan-out события по обработчикам.
//
// Неизвестный тип — no-op (debug-лог). Каждый обработчик выполняется
// в своём savepoint: repo.ErrFeatureDisabled означает, что нужные
// обработчику таблицы отсутствуют — его работа откатывается, fan-out
// продолжается. Любая другая ошибка оборачивается именем обработчика
// и прерывает fan-out.
func (r *Router) Dispatch(ctx context.Context, q repo.DB, ev *domain.Event) error {
	handlers := r.Handlers(ev.Type)
	if len(handlers) == 0 {
		r.logger.Debug("no handlers for event type, ignoring",
			"event_id", ev.ID,
			"event_type", ev.Type,
		)
		return nil
	}

	for _, h := range handlers {
		err := r.invoke(ctx, q, ev, h)
		if errors.Is(err, repo.ErrFeatureDisabled) {
			r.logger.Debug("handler skipped, feature disabled",
				"event_id", ev.ID,
				"handler", h.Name(),
				"error", err,
			)
			continue
		}
		if err != nil {
			return fmt.Errorf("handler %s: %w", h.Name(), err)
		}
	}
	return nil
}

// invoke выполняет один обработчик. Внутри транзакции — через
// savepoint, чтобы провал обработчика не переводил транзакцию
// обработки в aborted-состояние.
func (r *Router) invoke(ctx context.Context, q repo.DB, ev *domain.Event, h Handler) error {
	tx, ok := q.(pgx.Tx)
	if !ok {
		return h.Handle(ctx, q, ev)
	}

	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin savepoint: %w", err)
	}
	if err := h.Handle(ctx, sp, ev); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}
