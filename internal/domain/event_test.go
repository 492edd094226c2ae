package domain

import "testing"

func TestEventStatus_Lifecycle(t *testing.T) {
	claimable := []EventStatus{EventStatusNew, EventStatusPending}
	for _, s := range claimable {
		if !s.IsClaimable() {
			t.Errorf("%s should be claimable", s)
		}
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}

	if !EventStatusDone.IsTerminal() {
		t.Error("DONE should be terminal")
	}
	if !EventStatusFailed.IsTerminal() {
		t.Error("FAILED should be terminal")
	}
	if EventStatusProcessing.IsTerminal() || EventStatusProcessing.IsClaimable() {
		t.Error("PROCESSING is neither terminal nor claimable")
	}
}

func TestEvent_AttemptsExhausted(t *testing.T) {
	ev := Event{Attempts: 7, MaxAttempts: 8}
	if ev.AttemptsExhausted() {
		t.Error("7/8 attempts should not be exhausted")
	}
	ev.Attempts = 8
	if !ev.AttemptsExhausted() {
		t.Error("8/8 attempts should be exhausted")
	}
}

func TestEvent_PayloadInt64(t *testing.T) {
	ev := Event{Payload: map[string]any{
		"fromJSON": float64(42), // json.Unmarshal даёт float64
		"asInt":    int64(7),
		"asGoInt":  5,
		"str":      "15", // строки не конвертируются
	}}

	if got := ev.PayloadInt64("fromJSON"); got != 42 {
		t.Errorf("fromJSON = %d, want 42", got)
	}
	if got := ev.PayloadInt64("asInt"); got != 7 {
		t.Errorf("asInt = %d, want 7", got)
	}
	if got := ev.PayloadInt64("asGoInt"); got != 5 {
		t.Errorf("asGoInt = %d, want 5", got)
	}
	if got := ev.PayloadInt64("str"); got != 0 {
		t.Errorf("str = %d, want 0", got)
	}
	if got := ev.PayloadInt64("missing"); got != 0 {
		t.Errorf("missing = %d, want 0", got)
	}
}

func TestEvent_PayloadString(t *testing.T) {
	ev := Event{Payload: map[string]any{"type": "CONSULTATION", "n": float64(1)}}
	if got := ev.PayloadString("type"); got != "CONSULTATION" {
		t.Errorf("type = %q", got)
	}
	if got := ev.PayloadString("n"); got != "" {
		t.Errorf("non-string value should yield empty, got %q", got)
	}
}
