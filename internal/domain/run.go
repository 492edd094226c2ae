package domain

import "time"

// Run — запись в append-only журнале agent_runs.
//
// На один жизненный цикл события приходится несколько записей:
// STARTED при начале обработки, затем DONE или FAILED.
// EventID может быть nil для записей, не привязанных к событию
// (например, служебные прогоны).
type Run struct {
	ID        int64     `json:"id"`
	Actor     string    `json:"actor"`
	EventID   *int64    `json:"event_id,omitempty"`
	Status    RunStatus `json:"status"`
	ErrorText string    `json:"error_text,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
