package cli

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinova/dental-agents/internal/repo"
)

// Store — подключение CLI к БД и репозитории поверх него.
type Store struct {
	Pool   *pgxpool.Pool
	Events *repo.EventRepo
	Runs   *repo.RunRepo
}

// NewStore открывает пул и собирает репозитории.
// Лимиты попыток и аренды здесь не важны: CLI не захватывает события.
func NewStore(ctx context.Context, dbURL string) (*Store, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("--db-url (or DB_URL) is required")
	}
	pool, err := repo.NewPool(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Store{
		Pool:   pool,
		Events: repo.NewEventRepo(pool, "cli", 0, 0),
		Runs:   repo.NewRunRepo(pool),
	}, nil
}

// Close освобождает пул.
func (s *Store) Close() {
	s.Pool.Close()
}
