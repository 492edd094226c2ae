package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinova/dental-agents/internal/domain"
	"github.com/clinova/dental-agents/internal/repo"
)

// execRecorder перехватывает Exec; остальные методы repo.DB не нужны.
type execRecorder struct {
	repo.DB
	queries []string
	args    [][]any
}

func (r *execRecorder) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.queries = append(r.queries, sql)
	r.args = append(r.args, args)
	return pgconn.CommandTag{}, nil
}

func TestCreate_NoAddresseeIsNoop(t *testing.T) {
	db := &execRecorder{}
	n := New()

	err := n.Create(context.Background(), db, domain.Notification{
		Type:    "AR_REMINDER",
		Title:   "Payment due",
		Message: "Invoice pending",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(db.queries) != 0 {
		t.Errorf("no insert expected without addressee, got %d", len(db.queries))
	}
}

func TestCreate_Defaults(t *testing.T) {
	db := &execRecorder{}
	n := New()
	userID := int64(42)

	err := n.Create(context.Background(), db, domain.Notification{
		UserID:  &userID,
		Type:    "BILLING_FINAL",
		Message: "Invoice finalized",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(db.args) != 1 {
		t.Fatalf("inserts = %d, want 1", len(db.args))
	}

	args := db.args[0]
	// (user_id, user_role, channel, type, title, message, 'PENDING', meta_json)
	if got := args[2]; got != domain.ChannelInApp {
		t.Errorf("channel = %v, want IN_APP", got)
	}
	if got := args[4]; got != "Notification" {
		t.Errorf("default title = %v", got)
	}
	if role, ok := args[1].(*string); !ok || role != nil {
		t.Errorf("empty role must insert NULL, got %v", args[1])
	}
}

func TestCreate_RoleAddressee(t *testing.T) {
	db := &execRecorder{}
	n := New()

	err := n.Create(context.Background(), db, domain.Notification{
		UserRole: "ADMIN",
		Type:     "LOW_STOCK",
		Title:    "Low stock",
		Message:  "Composite resin below minimum",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(db.args) != 1 {
		t.Fatalf("inserts = %d, want 1", len(db.args))
	}
	role, ok := db.args[0][1].(*string)
	if !ok || role == nil || *role != "ADMIN" {
		t.Errorf("user_role = %v, want ADMIN", db.args[0][1])
	}
}

func TestCreate_ClipsLongFields(t *testing.T) {
	db := &execRecorder{}
	n := New()
	userID := int64(1)

	err := n.Create(context.Background(), db, domain.Notification{
		UserID:  &userID,
		Type:    strings.Repeat("T", 100),
		Title:   strings.Repeat("x", 500),
		Message: strings.Repeat("y", 5000),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	args := db.args[0]
	if got := args[3].(string); len(got) != 64 {
		t.Errorf("type len = %d, want 64", len(got))
	}
	if got := args[4].(string); len(got) != 200 {
		t.Errorf("title len = %d, want 200", len(got))
	}
	if got := args[5].(string); len(got) != 2000 {
		t.Errorf("message len = %d, want 2000", len(got))
	}
}
