package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clinova/dental-agents/internal/domain"
	"github.com/clinova/dental-agents/internal/notify"
	"github.com/clinova/dental-agents/internal/repo"
)

// Лимит записей за один проход монитора.
const monitorSweepLimit = 200

// AppointmentAgent сопровождает жизненный цикл приёмов: подтверждение
// записи, реакция на завершение, заявки на автозапись и периодический
// монитор просроченных приёмов.
type AppointmentAgent struct {
	timeline *repo.TimelineRepo
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewAppointmentAgent создаёт AppointmentAgent.
func NewAppointmentAgent(timeline *repo.TimelineRepo, notifier *notify.Notifier, logger *slog.Logger) *AppointmentAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppointmentAgent{timeline: timeline, notifier: notifier, logger: logger}
}

// Name реализует dispatch.Handler.
func (a *AppointmentAgent) Name() string { return "appointment" }

// Handle реализует dispatch.Handler.
func (a *AppointmentAgent) Handle(ctx context.Context, q repo.DB, ev *domain.Event) error {
	switch ev.Type {
	case EventAppointmentCreated:
		return a.onCreated(ctx, q, ev)
	case EventAppointmentCompleted:
		return a.onCompleted(ctx, q, ev)
	case EventAppointmentAutoSchedule:
		return a.onAutoScheduleRequested(ctx, q, ev)
	case EventAppointmentMonitorTick:
		return a.monitorSweep(ctx, q)
	default:
		return nil
	}
}

// apptRow — нужные агенту поля приёма.
type apptRow struct {
	id           int64
	patientID    *int64
	doctorID     *int64
	scheduledAt  *time.Time
	apptType     string
	linkedCaseID *int64
}

func (a *AppointmentAgent) loadAppointment(ctx context.Context, q repo.DB, apptID int64) (*apptRow, error) {
	var r apptRow
	var apptType *string
	err := q.QueryRow(ctx, `
		SELECT id, patient_id, doctor_id, scheduled_at, type, linked_case_id
		FROM appointments
		WHERE id = $1
	`, apptID).Scan(&r.id, &r.patientID, &r.doctorID, &r.scheduledAt, &apptType, &r.linkedCaseID)
	if err != nil {
		return nil, repo.Classify(err)
	}
	if apptType != nil {
		r.apptType = *apptType
	}
	return &r, nil
}

// onCreated подтверждает запись пациенту и отмечает её в хронологии
// связанного случая.
func (a *AppointmentAgent) onCreated(ctx context.Context, q repo.DB, ev *domain.Event) error {
	apptID := ev.PayloadInt64("appointmentId")
	if apptID == 0 {
		a.logger.Warn("appointment: event without appointmentId, skipping", "event_id", ev.ID)
		return nil
	}

	appt, err := a.loadAppointment(ctx, q, apptID)
	if errors.Is(err, pgx.ErrNoRows) {
		a.logger.Warn("appointment: row not found, skipping", "event_id", ev.ID, "appointment_id", apptID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load appointment %d: %w", apptID, err)
	}

	when := "soon"
	if appt.scheduledAt != nil {
		when = appt.scheduledAt.Format("2006-01-02 15:04")
	}
	if appt.patientID != nil && *appt.patientID != 0 {
		if err := a.notifier.Create(ctx, q, domain.Notification{
			UserID:  appt.patientID,
			Type:    "APPOINTMENT_CONFIRMED",
			Title:   "Appointment Confirmed",
			Message: fmt.Sprintf("Your appointment #%d is scheduled for %s.", apptID, when),
			Meta:    map[string]any{"appointment_id": apptID},
		}); ignoreDisabled(err) != nil {
			return err
		}
	}

	if appt.linkedCaseID != nil && *appt.linkedCaseID != 0 {
		if err := a.timeline.Append(ctx, q, domain.TimelineEntry{
			CaseID:    *appt.linkedCaseID,
			EventType: "APPOINTMENT_BOOKED",
			Message:   fmt.Sprintf("Appointment #%d booked for %s", apptID, when),
			Meta:      map[string]any{"appointment_id": apptID},
		}); ignoreDisabled(err) != nil {
			return err
		}
	}
	return nil
}

// onCompleted благодарит пациента и напоминает о следующем осмотре,
// если по связанному случаю он назначен.
func (a *AppointmentAgent) onCompleted(ctx context.Context, q repo.DB, ev *domain.Event) error {
	apptID := ev.PayloadInt64("appointmentId")
	if apptID == 0 {
		return nil
	}

	appt, err := a.loadAppointment(ctx, q, apptID)
	if errors.Is(err, pgx.ErrNoRows) {
		a.logger.Warn("appointment: row not found, skipping", "event_id", ev.ID, "appointment_id", apptID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load appointment %d: %w", apptID, err)
	}
	if appt.patientID == nil || *appt.patientID == 0 {
		return nil
	}

	msg := "Thank you for your visit. Your records have been updated."
	var nextReview *time.Time
	if appt.linkedCaseID != nil && *appt.linkedCaseID != 0 {
		err := repo.Optional(ctx, q, func(sq repo.DB) error {
			return sq.QueryRow(ctx,
				`SELECT next_review_date FROM cases WHERE id = $1`,
				*appt.linkedCaseID,
			).Scan(&nextReview)
		})
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			if e := ignoreDisabled(err); e != nil {
				return fmt.Errorf("load case %d: %w", *appt.linkedCaseID, e)
			}
		}
	}
	if nextReview != nil && nextReview.After(time.Now()) {
		msg = fmt.Sprintf("Thank you for your visit. Your next review is due on %s.", nextReview.Format("2006-01-02"))
	}

	return ignoreDisabled(a.notifier.Create(ctx, q, domain.Notification{
		UserID:  appt.patientID,
		Type:    "VISIT_COMPLETED",
		Title:   "Visit Completed",
		Message: msg,
		Meta:    map[string]any{"appointment_id": apptID},
	}))
}

// onAutoScheduleRequested превращает заявку на автозапись в задачу
// для регистратуры: слот выбирает человек, агент собирает контекст.
func (a *AppointmentAgent) onAutoScheduleRequested(ctx context.Context, q repo.DB, ev *domain.Event) error {
	caseID := ev.PayloadInt64("caseId")
	patientID := ev.PayloadInt64("patientId")

	meta := map[string]any{"payload": ev.Payload}
	msg := "An automatic scheduling request is waiting for a slot."

	if caseID != 0 {
		var pid, did *int64
		err := repo.Optional(ctx, q, func(sq repo.DB) error {
			return sq.QueryRow(ctx,
				`SELECT patient_id, doctor_id FROM cases WHERE id = $1`,
				caseID,
			).Scan(&pid, &did)
		})
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			if e := ignoreDisabled(err); e != nil {
				return fmt.Errorf("load case %d: %w", caseID, e)
			}
		}
		if pid != nil && patientID == 0 {
			patientID = *pid
		}
		meta["case_id"] = caseID
		msg = fmt.Sprintf("An automatic scheduling request for Case #%d is waiting for a slot.", caseID)

		if err := a.timeline.Append(ctx, q, domain.TimelineEntry{
			CaseID:    caseID,
			EventType: "AUTO_SCHEDULE_REQUESTED",
			Message:   "Automatic scheduling requested",
			Meta:      map[string]any{"payload": ev.Payload},
		}); ignoreDisabled(err) != nil {
			return err
		}
	}
	if patientID != 0 {
		meta["patient_id"] = patientID
	}

	return ignoreDisabled(a.notifier.Create(ctx, q, domain.Notification{
		UserRole: "STAFF",
		Type:     "AUTO_SCHEDULE_REQUESTED",
		Title:    "Scheduling Request",
		Message:  msg,
		Meta:     meta,
	}))
}

// monitorSweep находит приёмы, оставшиеся в SCHEDULED после времени
// начала, и уведомляет врача. Сам приём не трогает: смена статуса —
// решение человека.
func (a *AppointmentAgent) monitorSweep(ctx context.Context, q repo.DB) error {
	rows, err := q.Query(ctx, `
		SELECT id, patient_id, doctor_id, scheduled_at
		FROM appointments
		WHERE status = 'SCHEDULED' AND scheduled_at < now()
		ORDER BY scheduled_at ASC
		LIMIT $1
	`, monitorSweepLimit)
	if err != nil {
		return fmt.Errorf("monitor sweep: %w", repo.Classify(err))
	}
	defer rows.Close()

	type overdueAppt struct {
		id          int64
		patientID   *int64
		doctorID    *int64
		scheduledAt time.Time
	}
	var list []overdueAppt
	for rows.Next() {
		var o overdueAppt
		if err := rows.Scan(&o.id, &o.patientID, &o.doctorID, &o.scheduledAt); err != nil {
			return fmt.Errorf("scan overdue appointment: %w", err)
		}
		list = append(list, o)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if len(list) > 0 {
		a.logger.Info("overdue appointments found", "count", len(list))
	}
	for _, o := range list {
		if o.doctorID == nil || *o.doctorID == 0 {
			continue
		}
		if err := a.notifier.Create(ctx, q, domain.Notification{
			UserID:  o.doctorID,
			Type:    "APPOINTMENT_OVERDUE",
			Title:   "Appointment Overdue",
			Message: fmt.Sprintf("Appointment #%d was scheduled for %s and is still marked SCHEDULED.", o.id, o.scheduledAt.Format("2006-01-02 15:04")),
			Meta:    map[string]any{"appointment_id": o.id},
		}); ignoreDisabled(err) != nil {
			return err
		}
	}
	return nil
}
