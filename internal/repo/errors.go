package repo

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrNoEvents — в очереди нет событий, доступных для захвата.
	ErrNoEvents = errors.New("no claimable events")

	// ErrInvalidState — операция невозможна в текущем статусе события.
	ErrInvalidState = errors.New("invalid state")

	// ErrFeatureDisabled — необязательная таблица или колонка отсутствует
	// в схеме; зависящая от неё функциональность считается выключенной.
	// Это осознанная классификация, а не подавление ошибок: вызывающая
	// сторона обязана различать "фича выключена" и "хранилище сломано".
	ErrFeatureDisabled = errors.New("feature disabled: relation or column absent")
)

// Коды ошибок Postgres, означающие отсутствие объекта схемы.
const (
	pgUndefinedTable  = "42P01"
	pgUndefinedColumn = "42703"
)

// IsSchemaAbsence возвращает true, если ошибка вызвана отсутствием
// таблицы или колонки.
func IsSchemaAbsence(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUndefinedTable || pgErr.Code == pgUndefinedColumn
}

// Classify оборачивает ошибку отсутствия объекта схемы в
// ErrFeatureDisabled; прочие ошибки возвращает как есть.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if IsSchemaAbsence(err) {
		return fmt.Errorf("%w: %v", ErrFeatureDisabled, err)
	}
	return err
}
