package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestOutput_Table(t *testing.T) {
	var buf bytes.Buffer
	o := &Output{w: &buf, errW: &bytes.Buffer{}}

	o.Table(
		[]string{"ID", "TYPE"},
		[][]string{
			{"1", "AppointmentCreated"},
			{"2", "CaseUpdated"},
		},
	)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d, want header + separator + 2 rows", len(lines))
	}
	if !strings.Contains(lines[0], "ID") || !strings.Contains(lines[0], "TYPE") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "--") {
		t.Errorf("separator = %q", lines[1])
	}
	if !strings.Contains(lines[2], "AppointmentCreated") {
		t.Errorf("row = %q", lines[2])
	}
}

func TestOutput_PrintJSONMode(t *testing.T) {
	var buf bytes.Buffer
	o := &Output{jsonMode: true, w: &buf, errW: &bytes.Buffer{}}

	o.Print([]string{"ID"}, [][]string{{"1"}}, map[string]any{"id": 1})

	got := buf.String()
	if !strings.Contains(got, `"id": 1`) {
		t.Errorf("json output = %q", got)
	}
	if strings.Contains(got, "--") {
		t.Errorf("json mode must not render a table: %q", got)
	}
}

func TestOutput_MessagesGoToStderr(t *testing.T) {
	var out, errOut bytes.Buffer
	o := &Output{w: &out, errW: &errOut}

	o.Success("done")
	o.Error("bad input")

	if out.Len() != 0 {
		t.Errorf("stdout should stay clean for data, got %q", out.String())
	}
	if !strings.Contains(errOut.String(), "done") || !strings.Contains(errOut.String(), "Error: bad input") {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestClipError(t *testing.T) {
	if got := clipError("short"); got != "short" {
		t.Errorf("clipError(short) = %q", got)
	}
	long := strings.Repeat("x", 100)
	got := clipError(long)
	if len(got) != 60 || !strings.HasSuffix(got, "...") {
		t.Errorf("clipError(long) = %q (len %d)", got, len(got))
	}
}
