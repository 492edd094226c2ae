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

// Горизонт контроля сроков годности по умолчанию, дней.
const defaultExpiryHorizonDays = 30

// Лимит позиций за один проход склада.
const inventorySweepLimit = 200

// InventoryAgent ведёт склад расходников: списание по процедурам
// визита и периодический контроль остатков и сроков годности.
type InventoryAgent struct {
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewInventoryAgent создаёт InventoryAgent.
func NewInventoryAgent(notifier *notify.Notifier, logger *slog.Logger) *InventoryAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &InventoryAgent{notifier: notifier, logger: logger}
}

// Name реализует dispatch.Handler.
func (a *InventoryAgent) Name() string { return "inventory" }

// Handle реализует dispatch.Handler.
func (a *InventoryAgent) Handle(ctx context.Context, q repo.DB, ev *domain.Event) error {
	switch ev.Type {
	case EventAppointmentCompleted:
		return a.consumeMaterials(ctx, q, ev)
	case EventInventoryDailyTick:
		horizon := int(ev.PayloadInt64("horizon_days"))
		if horizon <= 0 {
			horizon = defaultExpiryHorizonDays
		}
		if err := a.lowStockSweep(ctx, q); err != nil {
			return err
		}
		return a.expirySweep(ctx, q, horizon)
	default:
		return nil
	}
}

// consumeMaterials списывает материалы по процедурам завершённого
// визита. Нормы расхода — procedure_materials; остаток не уходит
// ниже нуля.
func (a *InventoryAgent) consumeMaterials(ctx context.Context, q repo.DB, ev *domain.Event) error {
	apptID := ev.PayloadInt64("appointmentId")
	if apptID == 0 {
		return nil
	}

	var visitID int64
	err := q.QueryRow(ctx,
		`SELECT id FROM visits WHERE appointment_id = $1 ORDER BY id DESC LIMIT 1`,
		apptID,
	).Scan(&visitID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find visit: %w", repo.Classify(err))
	}

	rows, err := q.Query(ctx, `
		SELECT procedure_type, qty
		FROM visit_procedures
		WHERE visit_id = $1
	`, visitID)
	if err != nil {
		return fmt.Errorf("load visit procedures: %w", repo.Classify(err))
	}
	defer rows.Close()

	type usage struct {
		proc string
		qty  float64
	}
	var usages []usage
	for rows.Next() {
		var u usage
		var proc *string
		if err := rows.Scan(&proc, &u.qty); err != nil {
			return fmt.Errorf("scan visit procedure: %w", err)
		}
		if proc != nil {
			u.proc = normProcedure(*proc)
		}
		if u.qty <= 0 {
			u.qty = 1
		}
		usages = append(usages, u)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, u := range usages {
		tag, err := q.Exec(ctx, `
			UPDATE inventory_items i
			SET qty_on_hand = GREATEST(i.qty_on_hand - m.qty_per_procedure * $2, 0),
			    updated_at = now()
			FROM procedure_materials m
			WHERE m.item_id = i.id AND m.procedure_type = $1
		`, u.proc, u.qty)
		if err != nil {
			return fmt.Errorf("consume materials for %s: %w", u.proc, repo.Classify(err))
		}
		if tag.RowsAffected() > 0 {
			a.logger.Debug("materials consumed",
				"event_id", ev.ID,
				"procedure", u.proc,
				"items", tag.RowsAffected(),
			)
		}
	}
	return nil
}

// lowStockSweep уведомляет администратора о позициях на точке
// перезаказа или ниже.
func (a *InventoryAgent) lowStockSweep(ctx context.Context, q repo.DB) error {
	rows, err := q.Query(ctx, `
		SELECT id, name, qty_on_hand, reorder_level
		FROM inventory_items
		WHERE qty_on_hand <= reorder_level
		ORDER BY qty_on_hand ASC
		LIMIT $1
	`, inventorySweepLimit)
	if err != nil {
		return fmt.Errorf("low stock sweep: %w", repo.Classify(err))
	}
	defer rows.Close()

	type lowItem struct {
		id           int64
		name         string
		qtyOnHand    float64
		reorderLevel float64
	}
	var items []lowItem
	for rows.Next() {
		var it lowItem
		var name *string
		if err := rows.Scan(&it.id, &name, &it.qtyOnHand, &it.reorderLevel); err != nil {
			return fmt.Errorf("scan inventory item: %w", err)
		}
		if name != nil {
			it.name = *name
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, it := range items {
		if err := a.notifier.Create(ctx, q, domain.Notification{
			UserRole: "ADMIN",
			Type:     "LOW_STOCK",
			Title:    "Low Stock Alert",
			Message:  fmt.Sprintf("Item %q is at %.1f (reorder level %.1f).", it.name, it.qtyOnHand, it.reorderLevel),
			Meta:     map[string]any{"item_id": it.id, "qty_on_hand": it.qtyOnHand},
		}); ignoreDisabled(err) != nil {
			return err
		}
	}
	return nil
}

// expirySweep уведомляет администратора о позициях, срок годности
// которых истекает в пределах горизонта.
func (a *InventoryAgent) expirySweep(ctx context.Context, q repo.DB, horizonDays int) error {
	rows, err := q.Query(ctx, `
		SELECT id, name, qty_on_hand, expiry_date
		FROM inventory_items
		WHERE expiry_date IS NOT NULL
		  AND expiry_date <= CURRENT_DATE + $1::int
		  AND qty_on_hand > 0
		ORDER BY expiry_date ASC
		LIMIT $2
	`, horizonDays, inventorySweepLimit)
	if err != nil {
		return fmt.Errorf("expiry sweep: %w", repo.Classify(err))
	}
	defer rows.Close()

	type expiringItem struct {
		id         int64
		name       string
		qtyOnHand  float64
		expiryDate time.Time
	}
	var items []expiringItem
	for rows.Next() {
		var it expiringItem
		var name *string
		if err := rows.Scan(&it.id, &name, &it.qtyOnHand, &it.expiryDate); err != nil {
			return fmt.Errorf("scan expiring item: %w", err)
		}
		if name != nil {
			it.name = *name
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, it := range items {
		if err := a.notifier.Create(ctx, q, domain.Notification{
			UserRole: "ADMIN",
			Type:     "EXPIRY_ALERT",
			Title:    "Expiry Alert",
			Message:  fmt.Sprintf("Item %q (%.1f on hand) expires on %s.", it.name, it.qtyOnHand, it.expiryDate.Format("2006-01-02")),
			Meta:     map[string]any{"item_id": it.id, "expiry_date": it.expiryDate.Format("2006-01-02")},
		}); ignoreDisabled(err) != nil {
			return err
		}
	}
	return nil
}
