package domain

import "time"

// Notification — запись в таблице notifications.
//
// Воркер только создаёт записи (статус PENDING); доставкой по каналам
// занимается внешний сервис. UserID может быть nil, если уведомление
// адресовано роли целиком (UserRole).
type Notification struct {
	ID        int64          `json:"id"`
	UserID    *int64         `json:"user_id,omitempty"`
	UserRole  string         `json:"user_role,omitempty"`
	Channel   string         `json:"channel"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Каналы доставки уведомлений.
const (
	ChannelInApp = "IN_APP"
	ChannelEmail = "EMAIL"
	ChannelSMS   = "SMS"
)

// TimelineEntry — запись в хронологии клинического случая (case_timeline).
// Append-only аудит того, что агенты делали со случаем.
type TimelineEntry struct {
	ID        int64          `json:"id"`
	CaseID    int64          `json:"case_id"`
	EventType string         `json:"event_type"`
	Message   string         `json:"message"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
