package worker

import (
	"testing"
	"time"

	"github.com/clinova/dental-agents/internal/config"
)

func TestTrigger_NextInterval(t *testing.T) {
	tr := Trigger{Name: "tick", Every: time.Minute}
	from := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

	if got := tr.Next(from); !got.Equal(from.Add(time.Minute)) {
		t.Errorf("Next = %v, want %v", got, from.Add(time.Minute))
	}
}

func TestTrigger_NextCron(t *testing.T) {
	tr := Trigger{Name: "hourly", CronExpr: "0 * * * *"}
	if err := tr.init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	from := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	want := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	if got := tr.Next(from); !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
}

func TestTrigger_LockTTL(t *testing.T) {
	from := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

	// Явный TTL всегда выигрывает.
	tr := Trigger{Name: "a", Every: time.Minute, TTL: 55 * time.Second}
	if got := tr.LockTTL(from); got != 55*time.Second {
		t.Errorf("explicit TTL = %v, want 55s", got)
	}

	// Интервальный триггер: TTL равен интервалу.
	tr = Trigger{Name: "b", Every: 5 * time.Minute}
	if got := tr.LockTTL(from); got != 5*time.Minute {
		t.Errorf("interval TTL = %v, want 5m", got)
	}

	// Cron без TTL: интервал между двумя ближайшими срабатываниями.
	tr = Trigger{Name: "c", CronExpr: "0 * * * *"}
	if err := tr.init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := tr.LockTTL(from); got != time.Hour {
		t.Errorf("cron TTL = %v, want 1h", got)
	}
}

func TestTrigger_LockKey(t *testing.T) {
	tr := Trigger{Name: "inventory"}
	if got := tr.LockKey(); got != "trigger:inventory" {
		t.Errorf("LockKey = %q", got)
	}
}

func TestFromSpecs(t *testing.T) {
	specs := []config.TriggerSpec{
		{Name: "sweep", Every: 2 * time.Minute, EventType: "AppointmentMonitorTick", Priority: 10},
		{Name: "nightly", Cron: "0 2 * * *", EventType: "RevenueDailyTick", TTLSeconds: 3600},
	}

	triggers, err := FromSpecs(specs)
	if err != nil {
		t.Fatalf("FromSpecs: %v", err)
	}
	if len(triggers) != 2 {
		t.Fatalf("len = %d, want 2", len(triggers))
	}
	if triggers[0].Every != 2*time.Minute {
		t.Errorf("triggers[0].Every = %v", triggers[0].Every)
	}
	if triggers[1].TTL != time.Hour {
		t.Errorf("triggers[1].TTL = %v, want 1h", triggers[1].TTL)
	}

	// Cron уже распарсен.
	from := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	want := time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC)
	if got := triggers[1].Next(from); !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
}

func TestFromSpecs_Invalid(t *testing.T) {
	// Невалидное cron-выражение.
	_, err := FromSpecs([]config.TriggerSpec{
		{Name: "bad", Cron: "not a cron", EventType: "X"},
	})
	if err == nil {
		t.Error("expected error for invalid cron expression")
	}

	// Спецификация без расписания отклоняется валидацией.
	_, err = FromSpecs([]config.TriggerSpec{
		{Name: "none", EventType: "X"},
	})
	if err == nil {
		t.Error("expected error for spec without schedule")
	}
}

func TestDefaultTriggers(t *testing.T) {
	triggers := DefaultTriggers()
	if len(triggers) == 0 {
		t.Fatal("no default triggers")
	}
	seen := make(map[string]bool)
	for _, tr := range triggers {
		if tr.Name == "" || tr.EventType == "" {
			t.Errorf("trigger %+v missing name or event type", tr)
		}
		if seen[tr.Name] {
			t.Errorf("duplicate trigger name %s", tr.Name)
		}
		seen[tr.Name] = true
		if tr.Every <= 0 && tr.CronExpr == "" {
			t.Errorf("trigger %s has no schedule", tr.Name)
		}
	}
}
