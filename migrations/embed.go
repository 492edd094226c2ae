// Package migrations содержит встроенные SQL-миграции схемы очереди.
//
// Файлы применяются в лексикографическом порядке, каждый в своей
// транзакции; применённые версии фиксируются в schema_migrations.
// Бинарник несёт схему с собой — никаких файлов на диске не требуется.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
