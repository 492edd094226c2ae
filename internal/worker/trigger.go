package worker

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/clinova/dental-agents/internal/agents"
	"github.com/clinova/dental-agents/internal/config"
)

// cronParser — парсер cron-выражений (5 полей, без секунд).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Trigger — периодический триггер: по расписанию ставит в очередь
// синтетическое событие, предварительно выиграв idempotency-lock.
// Лок гарантирует, что из N воркеров событие поставит ровно один.
type Trigger struct {
	// Name — имя триггера; из него строится ключ лока.
	Name string

	// Every — фиксированный интервал срабатывания.
	Every time.Duration

	// CronExpr — альтернатива Every: cron-выражение.
	CronExpr string

	// TTL — срок действия лока. 0 — выводится из интервала.
	TTL time.Duration

	// EventType — тип синтетического события.
	EventType string

	// Payload — полезная нагрузка события.
	Payload map[string]any

	// Priority — приоритет события; 0 — дефолт очереди.
	Priority int

	schedule cron.Schedule
}

// DefaultTriggers — встроенный набор: монитор приёмов каждую минуту,
// складской и финансовый тики раз в час.
func DefaultTriggers() []Trigger {
	return []Trigger{
		{
			Name:      "appt_monitor",
			Every:     time.Minute,
			TTL:       55 * time.Second,
			EventType: agents.EventAppointmentMonitorTick,
			Priority:  10,
		},
		{
			Name:      "inventory",
			CronExpr:  "0 * * * *",
			TTL:       time.Hour,
			EventType: agents.EventInventoryDailyTick,
			Payload:   map[string]any{"horizon_days": 30},
		},
		{
			Name:      "revenue",
			CronExpr:  "0 * * * *",
			TTL:       time.Hour,
			EventType: agents.EventRevenueDailyTick,
		},
	}
}

// FromSpecs превращает YAML-спецификации в триггеры.
func FromSpecs(specs []config.TriggerSpec) ([]Trigger, error) {
	triggers := make([]Trigger, 0, len(specs))
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		t := Trigger{
			Name:      s.Name,
			Every:     s.Every,
			CronExpr:  s.Cron,
			TTL:       time.Duration(s.TTLSeconds) * time.Second,
			EventType: s.EventType,
			Payload:   s.Payload,
			Priority:  s.Priority,
		}
		if err := t.init(); err != nil {
			return nil, err
		}
		triggers = append(triggers, t)
	}
	return triggers, nil
}

// init парсит cron-выражение. Для интервальных триггеров — no-op.
func (t *Trigger) init() error {
	if t.CronExpr == "" {
		return nil
	}
	schedule, err := cronParser.Parse(t.CronExpr)
	if err != nil {
		return fmt.Errorf("trigger %s: invalid cron expression %q: %w", t.Name, t.CronExpr, err)
	}
	t.schedule = schedule
	return nil
}

// LockKey — ключ в idempotency_locks.
func (t *Trigger) LockKey() string {
	return "trigger:" + t.Name
}

// Next возвращает следующее время срабатывания после from.
func (t *Trigger) Next(from time.Time) time.Time {
	if t.schedule != nil {
		return t.schedule.Next(from)
	}
	if t.CronExpr != "" {
		// Невалидный cron без init: триггер не срабатывает.
		if err := t.init(); err != nil {
			return from.Add(24 * time.Hour)
		}
		return t.schedule.Next(from)
	}
	return from.Add(t.Every)
}

// LockTTL — срок лока: явный TTL или интервал между срабатываниями.
// Для cron интервал меряется от from до следующих двух срабатываний.
func (t *Trigger) LockTTL(from time.Time) time.Duration {
	if t.TTL > 0 {
		return t.TTL
	}
	if t.Every > 0 {
		return t.Every
	}
	first := t.Next(from)
	second := t.Next(first)
	d := second.Sub(first)
	if d <= 0 {
		d = time.Minute
	}
	return d
}
