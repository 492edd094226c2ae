package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clinova/dental-agents/internal/domain"
	"github.com/clinova/dental-agents/internal/notify"
	"github.com/clinova/dental-agents/internal/repo"
)

// Количество дней, после которых неоплаченный счёт считается
// просроченным и по нему отправляется напоминание.
const arOverdueDays = 14

// Лимит счётов за один проход напоминаний.
const arSweepLimit = 300

// RevenueAgent ведёт биллинг: предварительный счёт при записи,
// финальный счёт с позициями при завершении приёма, ежедневный
// KPI-срез и напоминания по дебиторке.
type RevenueAgent struct {
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewRevenueAgent создаёт RevenueAgent.
func NewRevenueAgent(notifier *notify.Notifier, logger *slog.Logger) *RevenueAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &RevenueAgent{notifier: notifier, logger: logger}
}

// Name реализует dispatch.Handler.
func (a *RevenueAgent) Name() string { return "revenue" }

// Handle реализует dispatch.Handler.
func (a *RevenueAgent) Handle(ctx context.Context, q repo.DB, ev *domain.Event) error {
	switch ev.Type {
	case EventAppointmentCreated:
		return a.onAppointmentCreated(ctx, q, ev)
	case EventAppointmentCompleted:
		return a.onAppointmentCompleted(ctx, q, ev)
	case EventRevenueDailyTick, EventARRankAndNotify:
		if err := a.dailyInsights(ctx, q); err != nil {
			return err
		}
		return a.arReminders(ctx, q)
	default:
		return nil
	}
}

// invoiceItem — позиция счёта, агрегированная из visit_procedures.
type invoiceItem struct {
	ProcedureType string
	Qty           float64
	UnitPrice     float64
	Amount        float64
}

// onAppointmentCreated создаёт предварительный счёт при записи.
// Идемпотентно по appointment_id: повторная обработка события не
// создаёт второй PROVISIONAL.
func (a *RevenueAgent) onAppointmentCreated(ctx context.Context, q repo.DB, ev *domain.Event) error {
	apptID := ev.PayloadInt64("appointmentId")
	if apptID == 0 {
		a.logger.Warn("revenue: event without appointmentId, skipping", "event_id", ev.ID)
		return nil
	}

	var patientID int64
	var apptType *string
	err := q.QueryRow(ctx,
		`SELECT patient_id, type FROM appointments WHERE id = $1`,
		apptID,
	).Scan(&patientID, &apptType)
	if errors.Is(err, pgx.ErrNoRows) {
		a.logger.Warn("revenue: appointment not found, skipping", "event_id", ev.ID, "appointment_id", apptID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load appointment %d: %w", apptID, repo.Classify(err))
	}

	procType := ""
	if apptType != nil {
		procType = *apptType
	}
	if procType == "" {
		procType = ev.PayloadString("type")
	}

	invID, created, err := a.ensureProvisionalInvoice(ctx, q, apptID, patientID, procType)
	if err != nil {
		return err
	}
	if invID == 0 || !created {
		return nil
	}

	return ignoreDisabled(a.notifier.Create(ctx, q, domain.Notification{
		UserID:  &patientID,
		Type:    "BILLING_PROVISIONAL",
		Title:   "Provisional Bill Created",
		Message: "A provisional estimate has been created for your appointment. Final bill will be generated after completion.",
		Meta:    map[string]any{"invoice_id": invID, "appointment_id": apptID},
	}))
}

// ensureProvisionalInvoice возвращает id существующего PROVISIONAL
// счёта по приёму или создаёт новый по цене из каталога.
func (a *RevenueAgent) ensureProvisionalInvoice(ctx context.Context, q repo.DB, apptID, patientID int64, procType string) (invID int64, created bool, err error) {
	err = q.QueryRow(ctx, `
		SELECT id FROM invoices
		WHERE appointment_id = $1 AND invoice_type = 'PROVISIONAL'
		ORDER BY id DESC
		LIMIT 1
	`, apptID).Scan(&invID)
	if err == nil {
		return invID, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("find provisional invoice: %w", repo.Classify(err))
	}

	est := a.catalogPrice(ctx, q, procType)

	err = q.QueryRow(ctx, `
		INSERT INTO invoices
			(appointment_id, patient_id, invoice_type, status, amount, issue_date, created_at, updated_at)
		VALUES ($1, $2, 'PROVISIONAL', 'PENDING', $3, CURRENT_DATE, now(), now())
		RETURNING id
	`, apptID, patientID, est).Scan(&invID)
	if err != nil {
		return 0, false, fmt.Errorf("insert provisional invoice: %w", repo.Classify(err))
	}

	item := invoiceItem{
		ProcedureType: normProcedure(procType),
		Qty:           1,
		UnitPrice:     est,
		Amount:        est,
	}
	// invoice_items опциональна
	if err := a.insertItem(ctx, q, invID, "Estimated: "+item.ProcedureType, item); ignoreDisabled(err) != nil {
		return 0, false, err
	}
	return invID, true, nil
}

// onAppointmentCompleted финализирует счёт по факту приёма: позиции
// пересобираются из visit_procedures, сумма пересчитывается, счёт
// переводится в FINAL. Затем проверка на утечку выручки.
func (a *RevenueAgent) onAppointmentCompleted(ctx context.Context, q repo.DB, ev *domain.Event) error {
	apptID := ev.PayloadInt64("appointmentId")
	if apptID == 0 {
		a.logger.Warn("revenue: event without appointmentId, skipping", "event_id", ev.ID)
		return nil
	}

	var patientID int64
	var apptType *string
	err := q.QueryRow(ctx,
		`SELECT patient_id, type FROM appointments WHERE id = $1`,
		apptID,
	).Scan(&patientID, &apptType)
	if errors.Is(err, pgx.ErrNoRows) {
		a.logger.Warn("revenue: appointment not found, skipping", "event_id", ev.ID, "appointment_id", apptID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load appointment %d: %w", apptID, repo.Classify(err))
	}

	procType := "CONSULTATION"
	if apptType != nil && *apptType != "" {
		procType = *apptType
	}

	visitID := a.visitForAppointment(ctx, q, apptID)

	invID, err := a.ensureFinalInvoice(ctx, q, apptID, patientID)
	if err != nil {
		return err
	}
	if invID == 0 {
		return nil
	}

	items, err := a.visitItems(ctx, q, visitID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		est := a.catalogPrice(ctx, q, procType)
		items = []invoiceItem{{
			ProcedureType: normProcedure(procType),
			Qty:           1,
			UnitPrice:     est,
			Amount:        est,
		}}
	}

	var total float64
	for _, it := range items {
		total += it.Amount
	}

	// invoice_items опциональна: без таблицы счёт финализируется суммой.
	if err := a.replaceItems(ctx, q, invID, items); ignoreDisabled(err) != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		UPDATE invoices
		SET invoice_type = 'FINAL', amount = $1, status = 'PENDING', updated_at = now()
		WHERE id = $2
	`, total, invID)
	if err != nil {
		return fmt.Errorf("finalize invoice %d: %w", invID, repo.Classify(err))
	}

	if patientID != 0 {
		if err := a.notifier.Create(ctx, q, domain.Notification{
			UserID:  &patientID,
			Type:    "BILLING_FINAL",
			Title:   "Final Bill Generated",
			Message: "Your final bill has been generated. Please check billing section for details.",
			Meta:    map[string]any{"invoice_id": invID, "appointment_id": apptID},
		}); ignoreDisabled(err) != nil {
			return err
		}
	}

	return a.leakageCheck(ctx, q, apptID, visitID, invID)
}

// visitForAppointment возвращает id последнего визита по приёму,
// 0 — визита нет или таблица недоступна.
func (a *RevenueAgent) visitForAppointment(ctx context.Context, q repo.DB, apptID int64) int64 {
	var visitID int64
	err := repo.Optional(ctx, q, func(sq repo.DB) error {
		return sq.QueryRow(ctx,
			`SELECT id FROM visits WHERE appointment_id = $1 ORDER BY id DESC LIMIT 1`,
			apptID,
		).Scan(&visitID)
	})
	if err != nil {
		return 0
	}
	return visitID
}

// ensureFinalInvoice возвращает счёт для финализации: существующий
// (предпочитая PROVISIONAL) или новый пустой FINAL.
func (a *RevenueAgent) ensureFinalInvoice(ctx context.Context, q repo.DB, apptID, patientID int64) (int64, error) {
	var invID int64
	err := q.QueryRow(ctx, `
		SELECT id FROM invoices
		WHERE appointment_id = $1
		ORDER BY (invoice_type = 'PROVISIONAL') DESC, id DESC
		LIMIT 1
	`, apptID).Scan(&invID)
	if err == nil {
		return invID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("find invoice for appointment %d: %w", apptID, repo.Classify(err))
	}

	err = q.QueryRow(ctx, `
		INSERT INTO invoices
			(appointment_id, patient_id, invoice_type, status, amount, issue_date, created_at, updated_at)
		VALUES ($1, $2, 'FINAL', 'PENDING', 0, CURRENT_DATE, now(), now())
		RETURNING id
	`, apptID, patientID).Scan(&invID)
	if err != nil {
		return 0, fmt.Errorf("insert final invoice: %w", repo.Classify(err))
	}
	return invID, nil
}

// visitItems собирает позиции счёта из visit_procedures; цена без
// unit_price берётся из каталога процедур. Отсутствие таблицы —
// пустой список: счёт будет оценён по каталогу.
func (a *RevenueAgent) visitItems(ctx context.Context, q repo.DB, visitID int64) ([]invoiceItem, error) {
	if visitID == 0 {
		return nil, nil
	}

	type rawItem struct {
		proc string
		qty  float64
		unit *float64
	}
	var raw []rawItem
	err := repo.Optional(ctx, q, func(sq repo.DB) error {
		rows, err := sq.Query(ctx, `
			SELECT procedure_type, qty, unit_price
			FROM visit_procedures
			WHERE visit_id = $1
		`, visitID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var r rawItem
			var proc *string
			if err := rows.Scan(&proc, &r.qty, &r.unit); err != nil {
				return fmt.Errorf("scan visit procedure: %w", err)
			}
			if proc != nil {
				r.proc = *proc
			}
			if r.qty <= 0 {
				r.qty = 1
			}
			raw = append(raw, r)
		}
		return rows.Err()
	})
	if errors.Is(err, repo.ErrFeatureDisabled) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load visit procedures: %w", err)
	}

	items := make([]invoiceItem, 0, len(raw))
	for _, r := range raw {
		unit := 0.0
		if r.unit != nil {
			unit = *r.unit
		} else {
			unit = a.catalogPrice(ctx, q, r.proc)
		}
		items = append(items, invoiceItem{
			ProcedureType: normProcedure(r.proc),
			Qty:           r.qty,
			UnitPrice:     unit,
			Amount:        unit * r.qty,
		})
	}
	return items, nil
}

// catalogPrice возвращает прейскурантную цену процедуры,
// 0 — каталога нет или процедура не найдена.
func (a *RevenueAgent) catalogPrice(ctx context.Context, q repo.DB, procType string) float64 {
	var price float64
	err := repo.Optional(ctx, q, func(sq repo.DB) error {
		var p *float64
		if err := sq.QueryRow(ctx,
			`SELECT default_price FROM procedure_catalog WHERE procedure_type = $1 LIMIT 1`,
			normProcedure(procType),
		).Scan(&p); err != nil {
			return err
		}
		if p != nil {
			price = *p
		}
		return nil
	})
	if err != nil {
		return 0
	}
	return price
}

// replaceItems пересоздаёт позиции счёта. Весь блок — один savepoint:
// либо полный набор позиций, либо откат.
func (a *RevenueAgent) replaceItems(ctx context.Context, q repo.DB, invID int64, items []invoiceItem) error {
	err := repo.Optional(ctx, q, func(sq repo.DB) error {
		if _, err := sq.Exec(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, invID); err != nil {
			return err
		}
		for _, it := range items {
			_, err := sq.Exec(ctx, `
				INSERT INTO invoice_items
					(invoice_id, item_type, description, qty, unit_price, amount, created_at, updated_at)
				VALUES ($1, 'PROCEDURE', $2, $3, $4, $5, now(), now())
			`, invID, it.ProcedureType, it.Qty, it.UnitPrice, it.Amount)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace invoice items: %w", err)
	}
	return nil
}

func (a *RevenueAgent) insertItem(ctx context.Context, q repo.DB, invID int64, description string, it invoiceItem) error {
	err := repo.Optional(ctx, q, func(sq repo.DB) error {
		_, err := sq.Exec(ctx, `
			INSERT INTO invoice_items
				(invoice_id, item_type, description, qty, unit_price, amount, created_at, updated_at)
			VALUES ($1, 'PROCEDURE', $2, $3, $4, $5, now(), now())
		`, invID, description, it.Qty, it.UnitPrice, it.Amount)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert invoice item: %w", err)
	}
	return nil
}

// leakageCheck сравнивает процедуры визита с позициями счёта и
// отправляет алерт администратору при расхождении.
func (a *RevenueAgent) leakageCheck(ctx context.Context, q repo.DB, apptID, visitID, invID int64) error {
	if visitID == 0 || invID == 0 {
		return nil
	}

	var vpCount, iiCount int
	var amount float64
	err := repo.Optional(ctx, q, func(sq repo.DB) error {
		return sq.QueryRow(ctx, `
			SELECT
				(SELECT COUNT(*) FROM visit_procedures WHERE visit_id = $1),
				(SELECT COUNT(*) FROM invoice_items WHERE invoice_id = $2),
				(SELECT COALESCE(amount, 0) FROM invoices WHERE id = $2)
		`, visitID, invID).Scan(&vpCount, &iiCount, &amount)
	})
	if err != nil {
		return ignoreDisabled(fmt.Errorf("leakage check: %w", err))
	}

	unbilled := vpCount > 0 && iiCount == 0
	missingCharges := vpCount > 0 && amount <= 0
	if !unbilled && !missingCharges {
		return nil
	}

	a.logger.Warn("revenue leakage detected",
		"appointment_id", apptID,
		"invoice_id", invID,
		"visit_procedures", vpCount,
		"invoice_items", iiCount,
		"invoice_amount", amount,
	)
	return ignoreDisabled(a.notifier.Create(ctx, q, domain.Notification{
		UserRole: "ADMIN",
		Type:     "REVENUE_LEAKAGE",
		Title:    "Revenue Leakage Alert",
		Message:  fmt.Sprintf("Potential leakage detected for Appointment #%d / Invoice #%d.", apptID, invID),
		Meta: map[string]any{
			"unbilled_procedures":   unbilled,
			"missing_charges":       missingCharges,
			"visit_procedure_count": vpCount,
			"invoice_item_count":    iiCount,
			"invoice_amount":        amount,
		},
	}))
}

// dailyInsights пишет дневной KPI-срез в revenue_insights:
// выручка за сегодня, число счётов, прогноз как скользящая сумма
// за трейлинг-неделю.
func (a *RevenueAgent) dailyInsights(ctx context.Context, q repo.DB) error {
	var invCount int
	var finalRevenue, provisionalValue float64
	err := q.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN invoice_type = 'FINAL' THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN invoice_type = 'PROVISIONAL' THEN amount ELSE 0 END), 0)
		FROM invoices
		WHERE created_at >= date_trunc('day', now())
	`).Scan(&invCount, &finalRevenue, &provisionalValue)
	if err != nil {
		return fmt.Errorf("daily revenue stats: %w", repo.Classify(err))
	}

	var trailing7 float64
	err = q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM invoices
		WHERE invoice_type = 'FINAL' AND issue_date >= CURRENT_DATE - 7
	`).Scan(&trailing7)
	if err != nil {
		return fmt.Errorf("trailing revenue: %w", repo.Classify(err))
	}

	insight := map[string]any{
		"as_of_date":             time.Now().Format("2006-01-02"),
		"final_revenue_today":    finalRevenue,
		"provisional_value":      provisionalValue,
		"invoices_created_today": invCount,
		"forecast_next_7_days":   trailing7,
	}
	raw, err := json.Marshal(insight)
	if err != nil {
		return fmt.Errorf("marshal insight: %w", err)
	}

	// revenue_insights опциональна
	err = repo.Optional(ctx, q, func(sq repo.DB) error {
		_, err := sq.Exec(ctx, `
			INSERT INTO revenue_insights (as_of_date, raw_json, created_at, updated_at)
			VALUES (CURRENT_DATE, $1, now(), now())
			ON CONFLICT (as_of_date) DO UPDATE
			SET raw_json = EXCLUDED.raw_json, updated_at = now()
		`, raw)
		return err
	})
	if ignoreDisabled(err) != nil {
		return fmt.Errorf("upsert revenue insight: %w", err)
	}
	return nil
}

// arReminders отправляет напоминания по счетам, висящим в PENDING
// или OVERDUE дольше arOverdueDays.
func (a *RevenueAgent) arReminders(ctx context.Context, q repo.DB) error {
	rows, err := q.Query(ctx, `
		SELECT id, patient_id, amount, issue_date
		FROM invoices
		WHERE status IN ('PENDING', 'OVERDUE')
		  AND issue_date IS NOT NULL
		  AND issue_date <= CURRENT_DATE - $1::int
		ORDER BY issue_date ASC
		LIMIT $2
	`, arOverdueDays, arSweepLimit)
	if err != nil {
		return fmt.Errorf("ar sweep: %w", repo.Classify(err))
	}
	defer rows.Close()

	type overdue struct {
		invID     int64
		patientID *int64
		amount    float64
		issueDate time.Time
	}
	var list []overdue
	for rows.Next() {
		var o overdue
		var amount *float64
		if err := rows.Scan(&o.invID, &o.patientID, &amount, &o.issueDate); err != nil {
			return fmt.Errorf("scan overdue invoice: %w", err)
		}
		if amount != nil {
			o.amount = *amount
		}
		list = append(list, o)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, o := range list {
		if o.patientID == nil || *o.patientID == 0 {
			continue
		}
		if err := a.notifier.Create(ctx, q, domain.Notification{
			UserID:  o.patientID,
			Type:    "AR_REMINDER",
			Title:   "Payment Reminder",
			Message: fmt.Sprintf("Your invoice #%d (%.2f) is pending since %s.", o.invID, o.amount, o.issueDate.Format("2006-01-02")),
			Meta:    map[string]any{"invoice_id": o.invID},
		}); ignoreDisabled(err) != nil {
			return err
		}
	}
	return nil
}
