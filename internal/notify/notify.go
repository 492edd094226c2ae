// Package notify создаёт записи в таблице notifications.
//
// Воркер только ставит уведомления в очередь (статус PENDING);
// фактическая доставка по каналам — ответственность внешнего сервиса.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clinova/dental-agents/internal/domain"
	"github.com/clinova/dental-agents/internal/repo"
)

// Лимиты длины полей уведомления.
const (
	maxTitleLen   = 200
	maxMessageLen = 2000
	maxTypeLen    = 64
)

// Notifier пишет уведомления через переданный DB (обычно транзакцию
// обработки события).
type Notifier struct{}

// New создаёт Notifier.
func New() *Notifier {
	return &Notifier{}
}

// Create вставляет уведомление со статусом PENDING.
//
// Отсутствие таблицы notifications классифицируется как
// repo.ErrFeatureDisabled: вызывающая сторона решает, пропустить или
// упасть. Внутри транзакции вставка идёт через savepoint, так что
// провал не обрывает транзакцию обработки события. Уведомление без
// адресата (ни UserID, ни UserRole) — no-op.
func (n *Notifier) Create(ctx context.Context, q repo.DB, msg domain.Notification) error {
	if msg.UserID == nil && msg.UserRole == "" {
		return nil
	}

	channel := msg.Channel
	if channel == "" {
		channel = domain.ChannelInApp
	}

	title := clip(msg.Title, maxTitleLen)
	if title == "" {
		title = "Notification"
	}

	meta := msg.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal notification meta: %w", err)
	}

	query := `
		INSERT INTO notifications
			(user_id, user_role, channel, type, title, message, status, meta_json)
		VALUES ($1, $2, $3, $4, $5, $6, 'PENDING', $7)
	`
	err = repo.Optional(ctx, q, func(sq repo.DB) error {
		_, err := sq.Exec(ctx, query,
			msg.UserID,
			nullable(msg.UserRole),
			channel,
			clip(msg.Type, maxTypeLen),
			title,
			clip(msg.Message, maxMessageLen),
			metaJSON,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
