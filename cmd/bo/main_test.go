package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("bo %s: %v\noutput: %s", strings.Join(args, " "), err, out)
	}
	return out
}

// writeConfig writes a config pointing at a fresh sqlite file and returns its path.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dsn := filepath.Join(dir, "bo.db")
	path := filepath.Join(dir, "backoffice.yaml")
	yaml := "database:\n  driver: sqlite\n  dsn: " + dsn + "\nhttp:\n  jwt_secret: cli-secret\nlog:\n  level: error\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestVersionCmd(t *testing.T) {
	out := mustRun(t, "version")
	if !strings.Contains(out, "bo dev") {
		t.Errorf("expected output to contain 'bo dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	out := mustRun(t, "version")
	if !strings.Contains(out, "bo 1.0.0 (commit: abc123, built: 2026-01-01)") {
		t.Errorf("unexpected version output: %s", out)
	}
}

func TestRootCmdHelp(t *testing.T) {
	out := mustRun(t, "--help")
	for _, sub := range []string{"serve", "db", "stage", "deal", "activity", "automation", "stats", "sweep", "token", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing %q command", sub)
		}
	}
}

func TestTenantRequired(t *testing.T) {
	t.Setenv("BO_TENANT", "")
	cfg := writeConfig(t)
	_, err := run(t, "deal", "list", "-c", cfg)
	if err == nil || !strings.Contains(err.Error(), "tenant is required") {
		t.Fatalf("err = %v, want tenant is required", err)
	}
}

func TestExplicitConfigMustExist(t *testing.T) {
	_, err := run(t, "db", "migrate", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config: read") {
		t.Fatalf("err = %v, want config: read error", err)
	}
}

func TestEnvOverlay_DefaultConfig(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "env.db")
	t.Setenv("BO_DATABASE_DSN", dsn)
	t.Setenv("BO_LOG_LEVEL", "error")

	out := mustRun(t, "db", "migrate")
	if !strings.Contains(out, "Migrated 4 tables (sqlite)") {
		t.Errorf("unexpected output: %s", out)
	}
	if _, err := os.Stat(dsn); err != nil {
		t.Errorf("expected database at %s: %v", dsn, err)
	}
}

func TestTokenCmd(t *testing.T) {
	t.Setenv("BO_JWT_SECRET", "env-secret")
	out := mustRun(t, "token", "--tenant", "t1", "--user", "anna", "-c", writeConfig(t))
	if strings.Count(strings.TrimSpace(out), ".") != 2 {
		t.Errorf("expected a JWT, got %q", out)
	}
}

func TestPipelineCommands(t *testing.T) {
	cfg := writeConfig(t)
	base := []string{"-c", cfg, "--tenant", "fixaren-ab", "--user", "anna"}
	bo := func(args ...string) string {
		t.Helper()
		return mustRun(t, append(args, base...)...)
	}

	bo("db", "migrate")

	out := bo("stage", "ensure")
	for _, slug := range []string{"lead", "contacted", "quoted", "won", "lost"} {
		if !strings.Contains(out, slug) {
			t.Errorf("stage table missing %q:\n%s", slug, out)
		}
	}

	out = bo("deal", "create", "--title", "Byt säkring", "--value", "1500", "--json")
	var deal struct {
		ID      string `json:"id"`
		Version int64  `json:"version"`
	}
	if err := json.Unmarshal([]byte(out), &deal); err != nil {
		t.Fatalf("decode deal: %v\n%s", err, out)
	}
	if deal.ID == "" || deal.Version != 1 {
		t.Fatalf("unexpected deal: %+v", deal)
	}

	out = bo("deal", "move", deal.ID, "quoted")
	if !strings.Contains(out, "Moved deal "+deal.ID+" to quoted") {
		t.Errorf("unexpected move output: %s", out)
	}
	out = bo("deal", "move", deal.ID, "quoted")
	if !strings.Contains(out, "already in quoted") {
		t.Errorf("expected no-op move, got: %s", out)
	}

	out = bo("activity", "list", "--deal", deal.ID, "--json")
	var entries []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode activity: %v\n%s", err, out)
	}
	if len(entries) != 2 || entries[0].Type != "stage_moved" {
		t.Fatalf("unexpected activity: %+v", entries)
	}

	out = bo("activity", "undo", entries[0].ID)
	if !strings.Contains(out, "now at version 3") {
		t.Errorf("unexpected undo output: %s", out)
	}
	if _, err := run(t, append([]string{"activity", "undo", entries[0].ID}, base...)...); err == nil {
		t.Error("expected second undo to fail")
	}

	out = bo("deal", "show", deal.ID)
	for _, want := range []string{"Byt säkring", "Stage:       lead", "Value:       1500.00", "Version:     3"} {
		if !strings.Contains(out, want) {
			t.Errorf("deal show missing %q:\n%s", want, out)
		}
	}

	bo("deal", "update", deal.ID, "--assignee", "erik", "--priority", "high")
	out = bo("deal", "list", "--assignee", "erik")
	if !strings.Contains(out, "Byt säkring") || !strings.Contains(out, "high") {
		t.Errorf("deal list missing updated deal:\n%s", out)
	}

	out = bo("automation", "set", "--stale-lead-days", "7", "--json")
	if !strings.Contains(out, `"stale_lead_days": 7`) {
		t.Errorf("unexpected settings: %s", out)
	}
	out = bo("automation", "trigger", "invoice_paid", "--deal", deal.ID)
	if !strings.Contains(out, "Applied: deal "+deal.ID+" moved") {
		t.Errorf("unexpected trigger output: %s", out)
	}

	out = bo("stats")
	for _, want := range []string{"Won", "1500.00", "Win rate 100.0%"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats missing %q:\n%s", want, out)
		}
	}

	out = bo("sweep")
	if !strings.Contains(out, "Closed 0 stale deals") {
		t.Errorf("unexpected sweep output: %s", out)
	}
}

func TestDealMove_UnknownStage(t *testing.T) {
	cfg := writeConfig(t)
	base := []string{"-c", cfg, "--tenant", "t1"}
	mustRun(t, append([]string{"db", "migrate"}, base...)...)
	out := mustRun(t, append([]string{"deal", "create", "--title", "X", "--json"}, base...)...)
	var deal struct{ ID string }
	if err := json.Unmarshal([]byte(out), &deal); err != nil {
		t.Fatalf("decode: %v", err)
	}

	_, err := run(t, append([]string{"deal", "move", deal.ID, "invoiced"}, base...)...)
	if err == nil || !strings.Contains(err.Error(), "unknown stage") {
		t.Fatalf("err = %v, want unknown stage", err)
	}
}

func TestParseValue(t *testing.T) {
	v, err := parseValue("")
	if err != nil || v.Valid {
		t.Errorf("empty value = %+v, %v; want invalid, nil", v, err)
	}
	v, err = parseValue("99.5")
	if err != nil || v.Decimal.StringFixed(2) != "99.50" {
		t.Errorf("parseValue(99.5) = %v, %v", v.Decimal, err)
	}
	if _, err := parseValue("lots"); err == nil {
		t.Error("expected error for non-numeric value")
	}
}
