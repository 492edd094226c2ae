package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clinova/dental-agents/internal/domain"
	"github.com/clinova/dental-agents/internal/notify"
	"github.com/clinova/dental-agents/internal/repo"
)

// CaseTrackingAgent ведёт хронологию клинических случаев и готовит
// черновики резюме. Черновик всегда получает статус PENDING_REVIEW:
// врач обязан утвердить его, прежде чем резюме станет частью записи.
type CaseTrackingAgent struct {
	timeline *repo.TimelineRepo
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewCaseTrackingAgent создаёт CaseTrackingAgent.
func NewCaseTrackingAgent(timeline *repo.TimelineRepo, notifier *notify.Notifier, logger *slog.Logger) *CaseTrackingAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &CaseTrackingAgent{timeline: timeline, notifier: notifier, logger: logger}
}

// Name реализует dispatch.Handler.
func (a *CaseTrackingAgent) Name() string { return "casetracking" }

// Handle реализует dispatch.Handler.
func (a *CaseTrackingAgent) Handle(ctx context.Context, q repo.DB, ev *domain.Event) error {
	switch ev.Type {
	case EventCaseUpdated:
		return a.onCaseUpdated(ctx, q, ev)
	case EventCaseGenerateSummary:
		return a.onGenerateSummary(ctx, q, ev)
	case EventAppointmentCompleted:
		return a.onVisitCompleted(ctx, q, ev)
	default:
		return nil
	}
}

// caseRow — нужные агенту поля случая.
type caseRow struct {
	id             int64
	patientID      *int64
	doctorID       *int64
	stage          string
	diagnosis      string
	notes          string
	nextReviewDate *time.Time
}

// riskScore — детерминированная оценка риска случая по стадии и
// просроченности следующего осмотра, шкала 0..100.
func riskScore(stage string, nextReview *time.Time, now time.Time) int {
	st := strings.ToUpper(strings.TrimSpace(stage))
	score := 30
	switch st {
	case "BLOCKED", "URGENT":
		score = 85
	case "IN_TREATMENT", "ACTIVE":
		score = 55
	case "CLOSED", "RESOLVED":
		score = 10
	}
	if nextReview != nil && !nextReview.After(now) && st != "CLOSED" && st != "RESOLVED" {
		score += 20
		if score > 100 {
			score = 100
		}
	}
	return score
}

// draftSummary строит черновик резюме по текущему состоянию случая.
// Детерминированная заготовка: числовые сигналы считаются здесь,
// нарративный слой может добавляться выше по стеку.
func draftSummary(c caseRow) (summary, recommendation string, confidence int) {
	diagnosis := c.diagnosis
	if diagnosis == "" {
		diagnosis = "Not specified"
	}
	stage := c.stage
	if stage == "" {
		stage = "ACTIVE"
	}

	summary = fmt.Sprintf("Draft case summary (pending doctor approval). Diagnosis: %s. Stage: %s.", diagnosis, stage)
	recommendation = strings.Join([]string{
		"Review diagnosis and confirm treatment plan.",
		"Verify required procedures and estimated duration.",
		"Ensure follow-up date is set and reminders are enabled.",
	}, " | ")

	confidence = 55
	if c.diagnosis != "" {
		confidence = 70
	}
	return summary, recommendation, confidence
}

func (a *CaseTrackingAgent) loadCase(ctx context.Context, q repo.DB, caseID int64) (*caseRow, error) {
	var c caseRow
	var stage, diagnosis, notes *string
	err := q.QueryRow(ctx, `
		SELECT id, patient_id, doctor_id, stage, diagnosis, next_review_date, notes
		FROM cases
		WHERE id = $1
	`, caseID).Scan(&c.id, &c.patientID, &c.doctorID, &stage, &diagnosis, &c.nextReviewDate, &notes)
	if err != nil {
		return nil, repo.Classify(err)
	}
	if stage != nil {
		c.stage = *stage
	}
	if diagnosis != nil {
		c.diagnosis = *diagnosis
	}
	if notes != nil {
		c.notes = *notes
	}
	return &c, nil
}

// onCaseUpdated: запись в хронологию, черновик резюме на утверждение,
// уведомления врачу (ревью и, при просрочке, follow-up).
func (a *CaseTrackingAgent) onCaseUpdated(ctx context.Context, q repo.DB, ev *domain.Event) error {
	caseID := ev.PayloadInt64("caseDbId")
	if caseID == 0 {
		caseID = ev.PayloadInt64("caseId")
	}
	if caseID == 0 {
		a.logger.Warn("casetracking: event without caseId, skipping", "event_id", ev.ID)
		return nil
	}

	c, err := a.loadCase(ctx, q, caseID)
	if errors.Is(err, pgx.ErrNoRows) {
		a.logger.Warn("casetracking: case not found, skipping", "event_id", ev.ID, "case_id", caseID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load case %d: %w", caseID, err)
	}

	now := time.Now()
	risk := riskScore(c.stage, c.nextReviewDate, now)

	if err := a.timeline.Append(ctx, q, domain.TimelineEntry{
		CaseID:    caseID,
		EventType: "CASE_UPDATED",
		Message:   "Case updated",
		Meta:      map[string]any{"payload": ev.Payload, "risk_score": risk},
	}); ignoreDisabled(err) != nil {
		return err
	}

	summary, recommendation, confidence := draftSummary(*c)
	if err := a.storeSummary(ctx, q, caseID, summary, recommendation, confidence); err != nil {
		return err
	}

	if c.doctorID != nil && *c.doctorID != 0 {
		if err := a.notifier.Create(ctx, q, domain.Notification{
			UserID:  c.doctorID,
			Type:    "CASE_REVIEW",
			Title:   "Case Review Needed",
			Message: fmt.Sprintf("A draft summary was generated for Case #%d. Please review and approve.", caseID),
			Meta:    map[string]any{"case_id": caseID, "risk_score": risk},
		}); ignoreDisabled(err) != nil {
			return err
		}

		if c.nextReviewDate != nil && !c.nextReviewDate.After(now) {
			if err := a.notifier.Create(ctx, q, domain.Notification{
				UserID:  c.doctorID,
				Type:    "FOLLOWUP_DUE",
				Title:   "Follow-up Due",
				Message: fmt.Sprintf("Follow-up is due for Case #%d (next review date: %s).", caseID, c.nextReviewDate.Format("2006-01-02")),
				Meta:    map[string]any{"case_id": caseID},
			}); ignoreDisabled(err) != nil {
				return err
			}
		}
	}
	return nil
}

// storeSummary сохраняет черновик в case_summaries и зеркалит его в
// cases для дашборда. Обе записи необязательны: отсутствие таблицы
// или колонок выключает соответствующий шаг.
func (a *CaseTrackingAgent) storeSummary(ctx context.Context, q repo.DB, caseID int64, summary, recommendation string, confidence int) error {
	err := repo.Optional(ctx, q, func(sq repo.DB) error {
		_, err := sq.Exec(ctx, `
			INSERT INTO case_summaries
				(case_id, summary, recommendation, confidence, status, created_by_agent, created_at)
			VALUES ($1, $2, $3, $4, 'PENDING_REVIEW', true, now())
		`, caseID, summary, recommendation, confidence)
		return err
	})
	if ignoreDisabled(err) != nil {
		return fmt.Errorf("insert case summary: %w", err)
	}

	err = repo.Optional(ctx, q, func(sq repo.DB) error {
		_, err := sq.Exec(ctx, `
			UPDATE cases
			SET agent_summary = $1,
			    agent_recommendation = $2,
			    approval_required = true,
			    updated_at = now()
			WHERE id = $3
		`, summary, recommendation, caseID)
		return err
	})
	if ignoreDisabled(err) != nil {
		return fmt.Errorf("mirror case summary: %w", err)
	}
	return nil
}

// onGenerateSummary строит консолидированное резюме по визитам случая
// (всем или выбранным через payload visitIds).
func (a *CaseTrackingAgent) onGenerateSummary(ctx context.Context, q repo.DB, ev *domain.Event) error {
	caseID := ev.PayloadInt64("caseId")
	if caseID == 0 {
		caseID = ev.PayloadInt64("caseDbId")
	}
	if caseID == 0 {
		a.logger.Warn("casetracking: event without caseId, skipping", "event_id", ev.ID)
		return nil
	}

	c, err := a.loadCase(ctx, q, caseID)
	if errors.Is(err, pgx.ErrNoRows) {
		a.logger.Warn("casetracking: case not found, skipping", "event_id", ev.ID, "case_id", caseID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load case %d: %w", caseID, err)
	}

	visitIDs := payloadIDList(ev.Payload, "visitIds", "visitDbIds")

	notes, procedures, visitCount, err := a.collectVisitNotes(ctx, q, caseID, visitIDs)
	if err != nil {
		return err
	}

	if len(notes) == 0 {
		notes = append(notes, fmt.Sprintf("No visit notes available for case %d.", caseID))
	}
	summary := strings.Join(notes, " \n")
	if len(procedures) > 0 {
		summary += "\n\nProcedures involved: " + strings.Join(procedures, ", ")
	}
	recommendation := "Review the treatment timeline, confirm next appointment, and schedule follow-ups as needed."

	confidence := 50
	switch {
	case visitCount >= 3:
		confidence = 85
	case visitCount == 2:
		confidence = 70
	case visitCount == 1:
		confidence = 60
	}

	if err := a.storeSummary(ctx, q, caseID, summary, recommendation, confidence); err != nil {
		return err
	}

	if err := a.timeline.Append(ctx, q, domain.TimelineEntry{
		CaseID:    caseID,
		EventType: "SUMMARY_GENERATED",
		Message:   "Consolidated summary generated",
		Meta:      map[string]any{"visit_ids": visitIDs, "visit_count": visitCount},
	}); ignoreDisabled(err) != nil {
		return err
	}

	if c.doctorID != nil && *c.doctorID != 0 {
		if err := a.notifier.Create(ctx, q, domain.Notification{
			UserID:  c.doctorID,
			Type:    "CASE_SUMMARY_READY",
			Title:   "Summary Ready",
			Message: fmt.Sprintf("A new summary is ready for Case #%d. Please review and approve.", caseID),
			Meta:    map[string]any{"case_id": caseID},
		}); ignoreDisabled(err) != nil {
			return err
		}
	}
	return nil
}

// collectVisitNotes агрегирует клинические заметки и коды процедур по
// визитам случая. Возвращает также число учтённых визитов. Отсутствие
// таблиц визитов — пустой результат, не ошибка.
func (a *CaseTrackingAgent) collectVisitNotes(ctx context.Context, q repo.DB, caseID int64, visitIDs []int64) (notes []string, procedures []string, visitCount int, err error) {
	query := `
		SELECT clinical_notes, chief_complaint, diagnosis_text
		FROM visits
		WHERE linked_case_id = $1
	`
	args := []any{caseID}
	if len(visitIDs) > 0 {
		query += ` AND id = ANY($2)`
		args = append(args, visitIDs)
	}
	query += ` ORDER BY started_at ASC`

	err = repo.Optional(ctx, q, func(sq repo.DB) error {
		rows, err := sq.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var clinicalNotes, complaint, diagnosis *string
			if err := rows.Scan(&clinicalNotes, &complaint, &diagnosis); err != nil {
				return fmt.Errorf("scan visit: %w", err)
			}
			visitCount++

			var parts []string
			if clinicalNotes != nil && *clinicalNotes != "" {
				parts = append(parts, *clinicalNotes)
			}
			if complaint != nil && *complaint != "" {
				parts = append(parts, "Complaint: "+*complaint)
			}
			if diagnosis != nil && *diagnosis != "" {
				parts = append(parts, "Diagnosis: "+*diagnosis)
			}
			if len(parts) > 0 {
				notes = append(notes, strings.Join(parts, "; "))
			}
		}
		return rows.Err()
	})
	if errors.Is(err, repo.ErrFeatureDisabled) {
		return nil, nil, 0, nil
	}
	if err != nil {
		return nil, nil, 0, fmt.Errorf("load case visits: %w", err)
	}

	// Коды процедур по тем же визитам.
	procQuery := `
		SELECT DISTINCT vp.procedure_type
		FROM visit_procedures vp
		JOIN visits v ON v.id = vp.visit_id
		WHERE v.linked_case_id = $1
	`
	procArgs := []any{caseID}
	if len(visitIDs) > 0 {
		procQuery += ` AND vp.visit_id = ANY($2)`
		procArgs = append(procArgs, visitIDs)
	}

	procSet := map[string]struct{}{}
	err = repo.Optional(ctx, q, func(sq repo.DB) error {
		rows, err := sq.Query(ctx, procQuery, procArgs...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var proc *string
			if err := rows.Scan(&proc); err != nil {
				return fmt.Errorf("scan procedure: %w", err)
			}
			if proc != nil && *proc != "" {
				procSet[strings.ReplaceAll(normProcedure(*proc), "_", " ")] = struct{}{}
			}
		}
		return rows.Err()
	})
	if errors.Is(err, repo.ErrFeatureDisabled) {
		return notes, nil, visitCount, nil
	}
	if err != nil {
		return nil, nil, 0, fmt.Errorf("load case procedures: %w", err)
	}

	for p := range procSet {
		procedures = append(procedures, p)
	}
	sort.Strings(procedures)
	return notes, procedures, visitCount, nil
}

// onVisitCompleted фиксирует завершение визита в хронологии
// связанного случая. Приём без случая — не повод для записи.
func (a *CaseTrackingAgent) onVisitCompleted(ctx context.Context, q repo.DB, ev *domain.Event) error {
	apptID := ev.PayloadInt64("appointmentId")
	if apptID == 0 {
		return nil
	}

	caseID := ev.PayloadInt64("linkedCaseId")
	if caseID == 0 {
		var linked *int64
		err := q.QueryRow(ctx,
			`SELECT linked_case_id FROM appointments WHERE id = $1`,
			apptID,
		).Scan(&linked)
		if errors.Is(err, pgx.ErrNoRows) {
			a.logger.Warn("casetracking: appointment not found, skipping", "event_id", ev.ID, "appointment_id", apptID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("load appointment %d: %w", apptID, repo.Classify(err))
		}
		if linked != nil {
			caseID = *linked
		}
	}
	if caseID == 0 {
		return nil
	}

	return ignoreDisabled(a.timeline.Append(ctx, q, domain.TimelineEntry{
		CaseID:    caseID,
		EventType: "VISIT_COMPLETED",
		Message:   "Visit completed",
		Meta:      map[string]any{"appointment_id": apptID},
	}))
}

// payloadIDList достаёт список положительных id из payload по первому
// подходящему ключу. JSON-числа приходят как float64.
func payloadIDList(payload map[string]any, keys ...string) []int64 {
	for _, key := range keys {
		raw, ok := payload[key].([]any)
		if !ok {
			continue
		}
		var ids []int64
		for _, v := range raw {
			switch n := v.(type) {
			case float64:
				if n > 0 {
					ids = append(ids, int64(n))
				}
			case int64:
				if n > 0 {
					ids = append(ids, n)
				}
			}
		}
		if len(ids) > 0 {
			return ids
		}
	}
	return nil
}
