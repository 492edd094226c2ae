package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinova/dental-agents/internal/domain"
)

// RunRepo — append-only журнал agent_runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Append добавляет запись в журнал.
//
// Отсутствие таблицы классифицируется как ErrFeatureDisabled —
// журналирование считается выключенным, обработка событий продолжается.
// Запись идёт через savepoint, чтобы её провал не обрывал транзакцию
// обработки события.
func (r *RunRepo) Append(ctx context.Context, q DB, actor string, eventID *int64, status domain.RunStatus, errText string) error {
	query := `
		INSERT INTO agent_runs (actor, event_id, status, error_text)
		VALUES ($1, $2, $3, $4)
	`
	err := Optional(ctx, q, func(sq DB) error {
		_, err := sq.Exec(ctx, query, actor, eventID, status, nullString(errText))
		return err
	})
	if err != nil {
		return fmt.Errorf("append run: %w", err)
	}
	return nil
}

// ListByEvent возвращает записи журнала для события, старые первыми.
func (r *RunRepo) ListByEvent(ctx context.Context, eventID int64, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, actor, event_id, status, error_text, created_at
		FROM agent_runs
		WHERE event_id = $1
		ORDER BY id ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, eventID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", Classify(err))
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		var run domain.Run
		var errText *string
		if err := rows.Scan(&run.ID, &run.Actor, &run.EventID, &run.Status, &errText, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if errText != nil {
			run.ErrorText = *errText
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
