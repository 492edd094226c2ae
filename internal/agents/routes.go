package agents

import "github.com/clinova/dental-agents/internal/dispatch"

// RegisterRoutes привязывает агентов к таблице маршрутизации.
//
// Порядок обработчиков в fan-out фиксирован: appointment, inventory,
// revenue, casetracking. При ошибке fan-out прерывается, поэтому
// более ранние обработчики должны быть идемпотентны к повтору.
func RegisterRoutes(r *dispatch.Router, appt *AppointmentAgent, inv *InventoryAgent, rev *RevenueAgent, cases *CaseTrackingAgent) {
	r.Register(EventAppointmentCreated, appt, rev)
	r.Register(EventAppointmentCompleted, appt, inv, rev, cases)
	r.Register(EventCaseUpdated, cases)
	r.Register(EventCaseGenerateSummary, cases)
	r.Register(EventAppointmentAutoSchedule, appt)
	r.Register(EventAppointmentMonitorTick, appt)
	r.Register(EventARRankAndNotify, rev)
	r.RegisterPrefix(EventPrefixInventory, inv)
	r.RegisterPrefix(EventPrefixRevenue, rev)
}
