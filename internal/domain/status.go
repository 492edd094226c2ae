package domain

// EventStatus — статус события в очереди agent_events.
//
// Жизненный цикл:
//
//	NEW/PENDING → PROCESSING → DONE
//	                         ↘ FAILED (attempts >= max_attempts)
//	                         ↘ NEW (attempts < max_attempts, с backoff)
//
// PENDING семантически эквивалентен NEW: его вставляют внешние
// продюсеры (Node-бэкенд), claim обрабатывает оба одинаково.
type EventStatus string

const (
	// EventStatusNew — событие создано и ожидает обработки.
	EventStatusNew EventStatus = "NEW"

	// EventStatusPending — то же, что NEW, но вставлено внешним продюсером.
	EventStatusPending EventStatus = "PENDING"

	// EventStatusProcessing — событие захвачено воркером (lease активен).
	EventStatusProcessing EventStatus = "PROCESSING"

	// EventStatusDone — событие успешно обработано.
	EventStatusDone EventStatus = "DONE"

	// EventStatusFailed — попытки исчерпаны, событие провалено навсегда.
	EventStatusFailed EventStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный: событие больше
// никогда не будет захвачено или изменено.
func (s EventStatus) IsTerminal() bool {
	switch s {
	case EventStatusDone, EventStatusFailed:
		return true
	default:
		return false
	}
}

// IsClaimable возвращает true, если событие в принципе может быть
// захвачено claim'ом (без учёта available_at и lease).
func (s EventStatus) IsClaimable() bool {
	switch s {
	case EventStatusNew, EventStatusPending:
		return true
	default:
		return false
	}
}

// RunStatus — статус записи в журнале agent_runs.
type RunStatus string

const (
	// RunStatusStarted — воркер начал обработку события.
	RunStatusStarted RunStatus = "STARTED"

	// RunStatusDone — обработка завершилась успешно.
	RunStatusDone RunStatus = "DONE"

	// RunStatusFailed — обработка завершилась ошибкой.
	RunStatusFailed RunStatus = "FAILED"
)
