// Package agents — доменные обработчики событий клиники.
//
// Каждый агент реализует dispatch.Handler и пишет только через
// переданный repo.DB, чтобы все его побочные записи входили в
// транзакцию обработки события.
//
// Клинические таблицы (appointments, cases, invoices, visits,
// inventory_items) принадлежат основному приложению: агенты
// адаптируются к ним, а их отсутствие трактуется как выключенная
// функциональность (repo.ErrFeatureDisabled), не как провал события.
package agents

import (
	"errors"
	"strings"

	"github.com/clinova/dental-agents/internal/repo"
)

// Типы событий, на которые подписаны агенты.
const (
	EventAppointmentCreated      = "AppointmentCreated"
	EventAppointmentCompleted    = "AppointmentCompleted"
	EventAppointmentMonitorTick  = "AppointmentMonitorTick"
	EventAppointmentAutoSchedule = "AppointmentAutoScheduleRequested"
	EventCaseUpdated             = "CaseUpdated"
	EventCaseGenerateSummary     = "CaseGenerateSummary"
	EventInventoryDailyTick      = "InventoryDailyTick"
	EventRevenueDailyTick        = "RevenueDailyTick"
	EventARRankAndNotify         = "ARRankAndNotify"
	EventPrefixInventory         = "Inventory"
	EventPrefixRevenue           = "Revenue"
)

const maxProcedureLen = 50

// normProcedure нормализует тип процедуры: верхний регистр,
// подчёркивания вместо дефисов и пробелов, не длиннее 50 символов.
// Пустое значение — CONSULTATION.
func normProcedure(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxProcedureLen {
		s = s[:maxProcedureLen]
	}
	if s == "" {
		return "CONSULTATION"
	}
	return s
}

// ignoreDisabled гасит ErrFeatureDisabled: отсутствующая клиническая
// таблица выключает функцию агента, но не проваливает событие.
// Прочие ошибки возвращаются как есть.
func ignoreDisabled(err error) error {
	if errors.Is(err, repo.ErrFeatureDisabled) {
		return nil
	}
	return err
}
