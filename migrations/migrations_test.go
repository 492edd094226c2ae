package migrations

import (
	"io/fs"
	"sort"
	"strings"
	"testing"
)

func TestEmbeddedMigrations(t *testing.T) {
	names, err := fs.Glob(FS, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("no embedded migrations")
	}
	sort.Strings(names)

	seen := make(map[string]bool)
	for _, name := range names {
		// Версия — числовой префикс "NNNN_".
		idx := strings.IndexByte(name, '_')
		if idx != 4 {
			t.Errorf("migration %s: want NNNN_name.sql", name)
			continue
		}
		version := name[:idx]
		if seen[version] {
			t.Errorf("duplicate migration version %s", version)
		}
		seen[version] = true

		data, err := FS.ReadFile(name)
		if err != nil {
			t.Errorf("read %s: %v", name, err)
			continue
		}
		if len(strings.TrimSpace(string(data))) == 0 {
			t.Errorf("migration %s is empty", name)
		}
	}
}

func TestMigrationsCoverQueueTables(t *testing.T) {
	var all strings.Builder
	names, err := fs.Glob(FS, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	for _, name := range names {
		data, err := FS.ReadFile(name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		all.Write(data)
	}

	schema := all.String()
	for _, table := range []string{"agent_events", "agent_runs", "idempotency_locks", "case_timeline", "notifications"} {
		if !strings.Contains(schema, table) {
			t.Errorf("schema does not define %s", table)
		}
	}
}
