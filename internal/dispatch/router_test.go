package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/clinova/dental-agents/internal/domain"
	"github.com/clinova/dental-agents/internal/repo"
)

// fakeHandler записывает факт вызова в общий журнал calls.
type fakeHandler struct {
	name  string
	err   error
	calls *[]string
}

func (h *fakeHandler) Name() string { return h.name }

func (h *fakeHandler) Handle(ctx context.Context, q repo.DB, ev *domain.Event) error {
	*h.calls = append(*h.calls, h.name)
	return h.err
}

func TestRouter_FanOutOrder(t *testing.T) {
	var calls []string
	r := NewRouter(nil)
	r.Register("AppointmentCompleted",
		&fakeHandler{name: "appointment", calls: &calls},
		&fakeHandler{name: "inventory", calls: &calls},
		&fakeHandler{name: "revenue", calls: &calls},
	)

	ev := &domain.Event{ID: 1, Type: "AppointmentCompleted"}
	if err := r.Dispatch(context.Background(), nil, ev); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	want := []string{"appointment", "inventory", "revenue"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %s, want %s", i, calls[i], want[i])
		}
	}
}

func TestRouter_ErrorAbortsFanOut(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	r := NewRouter(nil)
	r.Register("CaseUpdated",
		&fakeHandler{name: "first", calls: &calls},
		&fakeHandler{name: "second", err: boom, calls: &calls},
		&fakeHandler{name: "third", calls: &calls},
	)

	err := r.Dispatch(context.Background(), nil, &domain.Event{Type: "CaseUpdated"})
	if err == nil {
		t.Fatal("expected error from second handler")
	}
	if !errors.Is(err, boom) {
		t.Errorf("error chain lost the cause: %v", err)
	}
	if !strings.Contains(err.Error(), "handler second") {
		t.Errorf("error should name the failed handler: %v", err)
	}
	if len(calls) != 2 {
		t.Errorf("third handler should not run after failure, calls = %v", calls)
	}
}

func TestRouter_FeatureDisabledSkipsHandler(t *testing.T) {
	var calls []string
	r := NewRouter(nil)
	r.Register("AppointmentCreated",
		&fakeHandler{name: "disabled", err: repo.ErrFeatureDisabled, calls: &calls},
		&fakeHandler{name: "active", calls: &calls},
	)

	if err := r.Dispatch(context.Background(), nil, &domain.Event{Type: "AppointmentCreated"}); err != nil {
		t.Fatalf("feature-disabled handler must not fail dispatch: %v", err)
	}
	if len(calls) != 2 || calls[1] != "active" {
		t.Errorf("fan-out should continue past disabled handler, calls = %v", calls)
	}
}

func TestRouter_UnknownTypeIsNoop(t *testing.T) {
	var calls []string
	r := NewRouter(nil)
	r.Register("Known", &fakeHandler{name: "h", calls: &calls})

	if err := r.Dispatch(context.Background(), nil, &domain.Event{Type: "Unknown"}); err != nil {
		t.Fatalf("unknown type must be ignored: %v", err)
	}
	if len(calls) != 0 {
		t.Errorf("no handlers should run, calls = %v", calls)
	}
}

func TestRouter_ExactBeatsPrefix(t *testing.T) {
	var calls []string
	r := NewRouter(nil)
	r.RegisterPrefix("Inventory", &fakeHandler{name: "by-prefix", calls: &calls})
	r.Register("InventoryDailyTick", &fakeHandler{name: "by-exact", calls: &calls})

	if err := r.Dispatch(context.Background(), nil, &domain.Event{Type: "InventoryDailyTick"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(calls) != 1 || calls[0] != "by-exact" {
		t.Errorf("exact route must win over prefix, calls = %v", calls)
	}

	calls = nil
	if err := r.Dispatch(context.Background(), nil, &domain.Event{Type: "InventoryExpiryCheck"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(calls) != 1 || calls[0] != "by-prefix" {
		t.Errorf("prefix route must catch the rest, calls = %v", calls)
	}
}

func TestRouter_RepeatedRegisterAppends(t *testing.T) {
	var calls []string
	r := NewRouter(nil)
	r.Register("T", &fakeHandler{name: "a", calls: &calls})
	r.Register("T", &fakeHandler{name: "b", calls: &calls})

	if got := len(r.Handlers("T")); got != 2 {
		t.Fatalf("Handlers(T) len = %d, want 2", got)
	}
}
