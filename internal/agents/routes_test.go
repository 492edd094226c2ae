package agents

import (
	"testing"

	"github.com/clinova/dental-agents/internal/dispatch"
)

func newRoutedRouter(t *testing.T) *dispatch.Router {
	t.Helper()
	r := dispatch.NewRouter(nil)
	RegisterRoutes(r,
		NewAppointmentAgent(nil, nil, nil),
		NewInventoryAgent(nil, nil),
		NewRevenueAgent(nil, nil),
		NewCaseTrackingAgent(nil, nil, nil),
	)
	return r
}

func TestRegisterRoutes_FanOutOrder(t *testing.T) {
	r := newRoutedRouter(t)

	handlers := r.Handlers(EventAppointmentCompleted)
	want := []string{"appointment", "inventory", "revenue", "casetracking"}
	if len(handlers) != len(want) {
		t.Fatalf("handlers = %d, want %d", len(handlers), len(want))
	}
	for i, h := range handlers {
		if h.Name() != want[i] {
			t.Errorf("handlers[%d] = %s, want %s", i, h.Name(), want[i])
		}
	}
}

func TestRegisterRoutes_Coverage(t *testing.T) {
	r := newRoutedRouter(t)

	tests := []struct {
		eventType string
		want      []string
	}{
		{EventAppointmentCreated, []string{"appointment", "revenue"}},
		{EventCaseUpdated, []string{"casetracking"}},
		{EventCaseGenerateSummary, []string{"casetracking"}},
		{EventAppointmentAutoSchedule, []string{"appointment"}},
		{EventAppointmentMonitorTick, []string{"appointment"}},
		{EventARRankAndNotify, []string{"revenue"}},
		{EventInventoryDailyTick, []string{"inventory"}},
		{EventRevenueDailyTick, []string{"revenue"}},
		// Префиксные маршруты ловят будущие подтипы.
		{"InventoryRestockRequested", []string{"inventory"}},
		{"RevenueMonthlyClose", []string{"revenue"}},
	}

	for _, tt := range tests {
		handlers := r.Handlers(tt.eventType)
		if len(handlers) != len(tt.want) {
			t.Errorf("%s: handlers = %d, want %d", tt.eventType, len(handlers), len(tt.want))
			continue
		}
		for i, h := range handlers {
			if h.Name() != tt.want[i] {
				t.Errorf("%s: handlers[%d] = %s, want %s", tt.eventType, i, h.Name(), tt.want[i])
			}
		}
	}
}
