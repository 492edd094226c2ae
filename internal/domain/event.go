package domain

import "time"

// Event — единица работы в очереди agent_events.
//
// Событие создаётся продюсером (внешний бэкенд или сам воркер для
// периодических тиков), захватывается воркером через ClaimNext и
// финализируется через MarkDone/MarkFailed. Строки никогда физически
// не удаляются — очередь одновременно является аудит-журналом.
type Event struct {
	// ID — монотонно растущий идентификатор (BIGSERIAL).
	// Внутри одного приоритета события обрабатываются по возрастанию ID.
	ID int64 `json:"id"`

	// Type — тип события, определяет набор обработчиков.
	// Примеры: AppointmentCreated, AppointmentCompleted, CaseUpdated.
	Type string `json:"event_type"`

	// Payload — непрозрачный JSON-документ, интерпретируется только
	// обработчиками.
	Payload map[string]any `json:"payload,omitempty"`

	// Status — текущий статус события.
	Status EventStatus `json:"status"`

	// Priority — приоритет: меньше значение — раньше обработка.
	// По умолчанию 50; периодические тики ставятся с priority 10.
	Priority int `json:"priority"`

	// Attempts — число выполненных попыток. Инкрементируется при
	// каждом claim'е, включая повторный захват протухшего lease.
	Attempts int `json:"attempts"`

	// MaxAttempts — лимит попыток, после которого событие уходит
	// в FAILED.
	MaxAttempts int `json:"max_attempts"`

	// AvailableAt — время, раньше которого событие не может быть
	// захвачено. Используется для отложенного retry (backoff).
	AvailableAt time.Time `json:"available_at"`

	// LockedBy — идентификатор воркера-владельца lease.
	// Пуст, когда событие не в PROCESSING.
	LockedBy string `json:"locked_by,omitempty"`

	// LockedAt — время начала lease.
	LockedAt *time.Time `json:"locked_at,omitempty"`

	// LastError — текст последней ошибки, сохраняется между retry.
	LastError string `json:"last_error,omitempty"`

	// DoneAt — время успешного завершения.
	DoneAt *time.Time `json:"done_at,omitempty"`

	// CorrelationID — необязательный ключ трассировки связанных событий.
	CorrelationID string `json:"correlation_id,omitempty"`

	// CreatedByUserID — пользователь, инициировавший событие (если есть).
	CreatedByUserID *int64 `json:"created_by_user_id,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения строки.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTerminal возвращает true, если событие завершено.
func (e *Event) IsTerminal() bool {
	return e.Status.IsTerminal()
}

// AttemptsExhausted возвращает true, если следующая ошибка станет
// финальной.
func (e *Event) AttemptsExhausted() bool {
	return e.Attempts >= e.MaxAttempts
}

// PayloadInt64 извлекает числовое поле из payload.
// JSON-числа приходят как float64, поэтому нужна конвертация.
func (e *Event) PayloadInt64(key string) int64 {
	switch v := e.Payload[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

// PayloadString извлекает строковое поле из payload.
func (e *Event) PayloadString(key string) string {
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}
