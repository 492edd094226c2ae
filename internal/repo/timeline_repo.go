package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clinova/dental-agents/internal/domain"
)

// TimelineRepo — хронология клинических случаев (case_timeline).
type TimelineRepo struct{}

// NewTimelineRepo создаёт TimelineRepo.
func NewTimelineRepo() *TimelineRepo {
	return &TimelineRepo{}
}

// Append добавляет запись в хронологию случая.
//
// Пишет через q, чтобы запись входила в транзакцию обработки события;
// внутри транзакции использует savepoint, так что отсутствие таблицы
// (ErrFeatureDisabled) не обрывает обработку.
func (r *TimelineRepo) Append(ctx context.Context, q DB, e domain.TimelineEntry) error {
	meta := e.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal timeline meta: %w", err)
	}

	query := `
		INSERT INTO case_timeline (case_id, event_type, message, meta_json)
		VALUES ($1, $2, $3, $4)
	`
	err = Optional(ctx, q, func(sq DB) error {
		_, err := sq.Exec(ctx, query, e.CaseID, truncate(e.EventType, 80), truncate(e.Message, 5000), metaJSON)
		return err
	})
	if err != nil {
		return fmt.Errorf("append timeline: %w", err)
	}
	return nil
}

// truncate обрезает строку до n байт (значения колонок с лимитом длины).
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
