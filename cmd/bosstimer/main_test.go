package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jensholdgaard/bosstimer/internal/record"
)

const testCatalog = `[
  {"id": "BossA", "name": "Zeta", "type": "fixedMinutes", "minutes": 60},
  {"id": "BossB", "name": "Alpha", "respawn": "45m~1h"},
  {"id": "BossC", "type": "hourlyOffset", "minute": "15"}
]`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	catalog := filepath.Join(dir, "bosses.json")
	if err := os.WriteFile(catalog, []byte(testCatalog), 0o600); err != nil {
		t.Fatalf("writing catalog: %v", err)
	}
	cfg := `
storage:
  driver: sqlite
  sqlite:
    path: "` + filepath.Join(dir, "timer.db") + `"
catalog:
  path: "` + catalog + `"
timezone: UTC
telemetry:
  log_level: error
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), append([]string{"-config", cfg}, args...), &stdout, &stderr)
	return stdout.String(), err
}

func mustRun(t *testing.T, cfg string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, cfg, args...)
	if err != nil {
		t.Fatalf("bosstimer %v: %v", args, err)
	}
	return out
}

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"version"}, &stdout, &stderr); err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(stdout.String()) != version {
		t.Errorf("version = %q", stdout.String())
	}
}

func TestRun_Usage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), nil, &stdout, &stderr); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("no command error = %v, want flag.ErrHelp", err)
	}
	if err := run(context.Background(), []string{"dance"}, &stdout, &stderr); err == nil {
		t.Error("unknown command accepted")
	}
}

func TestRun_KillLifecycle(t *testing.T) {
	cfg := writeConfig(t)

	out := mustRun(t, cfg, "bosses")
	for _, want := range []string{"Zeta", "Alpha", "BossC", "every hour at :15"} {
		if !strings.Contains(out, want) {
			t.Errorf("bosses output missing %q:\n%s", want, out)
		}
	}

	out = mustRun(t, cfg, "respawn", "-boss", "BossC", "-at", "2024-01-01T10:20:00Z")
	if !strings.Contains(out, "2024-01-01 11:15") {
		t.Errorf("respawn output = %q", out)
	}

	out = mustRun(t, cfg, "add", "-boss", "BossA", "-channel", "3", "-at", "2024-01-01 10:00", "-note", "first")
	id, _, _ := strings.Cut(out, "\t")
	if id == "" {
		t.Fatalf("add printed no id: %q", out)
	}
	if !strings.Contains(out, "2024-01-01 11:00") {
		t.Errorf("add output = %q, want respawn 11:00", out)
	}
	mustRun(t, cfg, "add", "-boss", "BossB", "-channel", "1", "-at", "2024-01-02 10:00", "-looted")

	out = mustRun(t, cfg, "list", "-boss", "BossA")
	if !strings.Contains(out, id) || strings.Contains(out, "Alpha") {
		t.Errorf("list -boss BossA output:\n%s", out)
	}
	out = mustRun(t, cfg, "list", "-looted", "true")
	if strings.Contains(out, id) || !strings.Contains(out, "Alpha") {
		t.Errorf("list -looted true output:\n%s", out)
	}

	mustRun(t, cfg, "update", "-id", id, "-boss", "BossB")
	out = mustRun(t, cfg, "list", "-boss", "BossA")
	if strings.Contains(out, id) {
		t.Errorf("record still listed under BossA after move:\n%s", out)
	}

	out = mustRun(t, cfg, "board")
	if !strings.Contains(out, "2024-01-02 10:00") {
		t.Errorf("board output:\n%s", out)
	}

	mustRun(t, cfg, "delete", "-id", id)
	if _, err := runCLI(t, cfg, "delete", "-id", id); !errors.Is(err, record.ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
}

func TestParseKillInput(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*60*60)
	// 2024-01-02 01:30 in loc, still 2024-01-01 in UTC.
	now := time.Date(2024, 1, 1, 17, 30, 0, 0, time.UTC)
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "", want: time.Time{}},
		{in: "10:20", want: time.Date(2024, 1, 2, 10, 20, 0, 0, loc)},
		{in: " 23:59:30 ", want: time.Date(2024, 1, 2, 23, 59, 30, 0, loc)},
		{in: "2024-01-01 10:00", want: time.Date(2024, 1, 1, 10, 0, 0, 0, loc)},
		{in: "2024-01-01T10:00:00Z", want: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
		{in: "25:00", wantErr: true},
		{in: "noon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseKillInput(tt.in, now, loc)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRun_Errors(t *testing.T) {
	cfg := writeConfig(t)
	tests := []struct {
		name string
		args []string
	}{
		{"unknown boss", []string{"add", "-boss", "Nobody", "-channel", "1"}},
		{"bad channel", []string{"add", "-boss", "BossA", "-channel", "0"}},
		{"bad time", []string{"add", "-boss", "BossA", "-channel", "1", "-at", "noon"}},
		{"empty update", []string{"update", "-id", "x"}},
		{"bad looted filter", []string{"list", "-looted", "maybe"}},
		{"bad sort", []string{"list", "-sort", "damage"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCLI(t, cfg, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRun_ExportImport(t *testing.T) {
	src := writeConfig(t)
	mustRun(t, src, "add", "-boss", "BossA", "-channel", "1", "-at", "2024-01-01 10:00")
	mustRun(t, src, "add", "-boss", "BossC", "-channel", "2", "-at", "2024-01-01 10:20")

	snapshot := filepath.Join(t.TempDir(), "snapshot.json")
	mustRun(t, src, "export", "-o", snapshot)

	dst := writeConfig(t)
	out := mustRun(t, dst, "import", "-i", snapshot)
	if !strings.Contains(out, "imported 2 records") {
		t.Errorf("import output = %q", out)
	}

	want := mustRun(t, src, "export")
	got := mustRun(t, dst, "export")
	if got != want {
		t.Errorf("exports differ:\n%s\nwant:\n%s", got, want)
	}
}
