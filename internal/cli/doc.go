// Package cli реализует операторский инструмент agents-cli.
//
// # Обзор
//
// CLI работает напрямую с Postgres (флаг --db-url): постановка
// событий в очередь, инспекция очереди и журнала обработки, возврат
// FAILED-событий в оборот, применение миграций.
//
// # Ключевые компоненты
//
// ## Store
//
// Подключение к БД и репозитории поверх него. Создаётся лениво,
// после парсинга PersistentFlags.
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr,
// поэтому JSON-вывод дружит с pipe: agents-cli event list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - event: enqueue, list, show, requeue
//   - run: list
//   - migrate
package cli
