package agents

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/clinova/dental-agents/internal/repo"
)

func TestNormProcedure(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"root canal", "ROOT_CANAL"},
		{"Root-Canal", "ROOT_CANAL"},
		{"  filling  ", "FILLING"},
		{"", "CONSULTATION"},
		{"   ", "CONSULTATION"},
		{"x-ray scan", "X_RAY_SCAN"},
		{strings.Repeat("A", 80), strings.Repeat("A", 50)},
	}

	for _, tt := range tests {
		if got := normProcedure(tt.in); got != tt.want {
			t.Errorf("normProcedure(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIgnoreDisabled(t *testing.T) {
	if err := ignoreDisabled(repo.ErrFeatureDisabled); err != nil {
		t.Errorf("ErrFeatureDisabled should be swallowed, got %v", err)
	}
	wrapped := errors.Join(errors.New("notify patient"), repo.ErrFeatureDisabled)
	if err := ignoreDisabled(wrapped); err != nil {
		t.Errorf("wrapped ErrFeatureDisabled should be swallowed, got %v", err)
	}

	boom := errors.New("boom")
	if err := ignoreDisabled(boom); !errors.Is(err, boom) {
		t.Errorf("other errors must pass through, got %v", err)
	}
	if err := ignoreDisabled(nil); err != nil {
		t.Errorf("nil should stay nil, got %v", err)
	}
}

func TestRiskScore(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.AddDate(0, 0, -3)
	future := now.AddDate(0, 0, 3)

	tests := []struct {
		name   string
		stage  string
		review *time.Time
		want   int
	}{
		{"unknown stage baseline", "PLANNING", nil, 30},
		{"urgent", "URGENT", nil, 85},
		{"blocked", "BLOCKED", nil, 85},
		{"in treatment", "IN_TREATMENT", nil, 55},
		{"active lowercase", "active", nil, 55},
		{"closed", "CLOSED", nil, 10},
		{"overdue review bumps", "ACTIVE", &past, 75},
		{"future review no bump", "ACTIVE", &future, 55},
		{"urgent overdue capped", "URGENT", &past, 100},
		{"closed ignores overdue", "CLOSED", &past, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := riskScore(tt.stage, tt.review, now); got != tt.want {
				t.Errorf("riskScore = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDraftSummary(t *testing.T) {
	summary, recommendation, confidence := draftSummary(caseRow{
		diagnosis: "Pulpitis",
		stage:     "IN_TREATMENT",
	})
	if !strings.Contains(summary, "Pulpitis") || !strings.Contains(summary, "IN_TREATMENT") {
		t.Errorf("summary = %q", summary)
	}
	if !strings.Contains(recommendation, " | ") {
		t.Errorf("recommendation should join plan items: %q", recommendation)
	}
	if confidence != 70 {
		t.Errorf("confidence = %d, want 70 with diagnosis", confidence)
	}

	summary, _, confidence = draftSummary(caseRow{})
	if !strings.Contains(summary, "Not specified") || !strings.Contains(summary, "ACTIVE") {
		t.Errorf("empty-case summary = %q", summary)
	}
	if confidence != 55 {
		t.Errorf("confidence = %d, want 55 without diagnosis", confidence)
	}
}

func TestPayloadIDList(t *testing.T) {
	payload := map[string]any{
		"visitIds":   []any{float64(1), float64(2), float64(-3)},
		"visitDbIds": []any{float64(9)},
		"junk":       "not a list",
	}

	ids := payloadIDList(payload, "visitIds", "visitDbIds")
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("ids = %v, want [1 2]", ids)
	}

	// Первый ключ пуст — берётся следующий.
	ids = payloadIDList(payload, "missing", "visitDbIds")
	if len(ids) != 1 || ids[0] != 9 {
		t.Errorf("ids = %v, want [9]", ids)
	}

	if ids := payloadIDList(payload, "junk"); ids != nil {
		t.Errorf("non-list value should yield nil, got %v", ids)
	}
	if ids := payloadIDList(nil, "visitIds"); ids != nil {
		t.Errorf("nil payload should yield nil, got %v", ids)
	}
}
