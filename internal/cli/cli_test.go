package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVersionVariables(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
	if Commit == "" {
		t.Error("Commit should not be empty")
	}
	if BuildDate == "" {
		t.Error("BuildDate should not be empty")
	}
}

// captureStdout runs fn with os.Stdout redirected to a pipe and returns what
// was written.
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("create pipe: %v", err)
	}
	os.Stdout = w

	runErr := fn()

	if err := w.Close(); err != nil {
		t.Fatalf("close pipe: %v", err)
	}
	os.Stdout = old

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatalf("read pipe: %v", err)
	}
	return buf.String(), runErr
}

func TestVersionCommand(t *testing.T) {
	out, err := captureStdout(t, func() error {
		return Run(context.Background(), []string{"calmirror", "version"})
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, want := range []string{"calmirror version", "commit:", "built:", "go:"} {
		if !strings.Contains(out, want) {
			t.Errorf("version output missing %q:\n%s", want, out)
		}
	}
}

// testWorkspace lays out a calendar root with a work and a personal
// calendar, a config file pointing at them, and a state database path.
func testWorkspace(t *testing.T) (configPath, root string) {
	t.Helper()
	dir := t.TempDir()
	root = filepath.Join(dir, "calendars")
	for _, name := range []string{"work", "personal"} {
		if err := os.MkdirAll(filepath.Join(root, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	configPath = filepath.Join(dir, "config.yaml")
	content := strings.Join([]string{
		"calendar_root: " + root,
		"source_calendar: work",
		"target_calendar: personal",
		"state_db: " + filepath.Join(dir, "state.db"),
		"",
	}, "\n")
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return configPath, root
}

func writeEvent(t *testing.T, root, cal, uid, summary string) {
	t.Helper()
	text := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:" + uid,
		"SUMMARY:" + summary,
		"DTSTART:20250106T090000Z",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")
	path := filepath.Join(root, cal, uid+".ics")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSyncCommand(t *testing.T) {
	configPath, root := testWorkspace(t)
	writeEvent(t, root, "work", "work-1", "Planning")

	out, err := captureStdout(t, func() error {
		return Run(context.Background(), []string{
			"calmirror", "-c", configPath, "sync", "--direction", "to-target",
		})
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out, "added=1") {
		t.Errorf("sync output missing added=1:\n%s", out)
	}

	entries, err := os.ReadDir(filepath.Join(root, "personal"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("personal calendar holds %d files, want 1 mirror", len(entries))
	}
}

func TestSyncCommandDryRun(t *testing.T) {
	configPath, root := testWorkspace(t)
	writeEvent(t, root, "work", "work-1", "Planning")

	out, err := captureStdout(t, func() error {
		return Run(context.Background(), []string{
			"calmirror", "-c", configPath, "sync", "--direction", "to-target", "--dry-run",
		})
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out, "(dry run)") {
		t.Errorf("dry-run output missing marker:\n%s", out)
	}

	entries, err := os.ReadDir(filepath.Join(root, "personal"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Error("dry run wrote mirror files")
	}
}

func TestSyncCommandRejectsUnknownDirection(t *testing.T) {
	configPath, _ := testWorkspace(t)

	_, err := captureStdout(t, func() error {
		return Run(context.Background(), []string{
			"calmirror", "-c", configPath, "sync", "--direction", "sideways",
		})
	})
	if err == nil || !strings.Contains(err.Error(), "unknown direction") {
		t.Errorf("Run() error = %v, want unknown direction", err)
	}
}

func TestSyncCommandRequiresPair(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := "calendar_root: " + filepath.Join(dir, "calendars") + "\n" +
		"state_db: " + filepath.Join(dir, "state.db") + "\n"
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	// Stdin is not a terminal under go test, so the picker cannot run.
	_, err := captureStdout(t, func() error {
		return Run(context.Background(), []string{"calmirror", "-c", configPath, "sync"})
	})
	if err == nil || !strings.Contains(err.Error(), "no calendar pair") {
		t.Errorf("Run() error = %v, want pair resolution failure", err)
	}
}

func TestClearCommandRequiresConfirmation(t *testing.T) {
	configPath, _ := testWorkspace(t)

	_, err := captureStdout(t, func() error {
		return Run(context.Background(), []string{"calmirror", "-c", configPath, "clear"})
	})
	if err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Errorf("Run() error = %v, want refusal without --yes", err)
	}
}

func TestClearCommandWithYes(t *testing.T) {
	configPath, root := testWorkspace(t)
	writeEvent(t, root, "work", "work-1", "Planning")

	if _, err := captureStdout(t, func() error {
		return Run(context.Background(), []string{
			"calmirror", "-c", configPath, "sync", "--direction", "to-target",
		})
	}); err != nil {
		t.Fatalf("seed sync error = %v", err)
	}

	out, err := captureStdout(t, func() error {
		return Run(context.Background(), []string{"calmirror", "-c", configPath, "clear", "--yes"})
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out, "deleted=1") {
		t.Errorf("clear output missing deleted=1:\n%s", out)
	}

	entries, err := os.ReadDir(filepath.Join(root, "personal"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Error("clear left mirror files behind")
	}
}

func TestRefreshCommand(t *testing.T) {
	configPath, root := testWorkspace(t)
	writeEvent(t, root, "work", "work-1", "Planning")

	if _, err := captureStdout(t, func() error {
		return Run(context.Background(), []string{
			"calmirror", "-c", configPath, "sync", "--direction", "to-target",
		})
	}); err != nil {
		t.Fatalf("seed sync error = %v", err)
	}

	out, err := captureStdout(t, func() error {
		return Run(context.Background(), []string{
			"calmirror", "-c", configPath, "refresh", "--direction", "to-target", "--yes",
		})
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out, "removed 1 stale mirrors") || !strings.Contains(out, "added=1") {
		t.Errorf("refresh output unexpected:\n%s", out)
	}

	entries, err := os.ReadDir(filepath.Join(root, "personal"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("personal calendar holds %d files after refresh, want 1", len(entries))
	}
}

func TestMigrateCommand(t *testing.T) {
	configPath, root := testWorkspace(t)
	writeEvent(t, root, "work", "work-1", "Planning")
	if _, err := captureStdout(t, func() error {
		return Run(context.Background(), []string{
			"calmirror", "-c", configPath, "sync", "--direction", "to-target",
		})
	}); err != nil {
		t.Fatalf("seed sync error = %v", err)
	}

	out, err := captureStdout(t, func() error {
		return Run(context.Background(), []string{
			"calmirror", "-c", configPath, "migrate", "--dry-run", "personal", "home",
		})
	})
	if err != nil {
		t.Fatalf("Run(migrate --dry-run) error = %v", err)
	}
	if !strings.Contains(out, "would rewrite 1 record(s)") {
		t.Errorf("dry-run output unexpected:\n%s", out)
	}

	out, err = captureStdout(t, func() error {
		return Run(context.Background(), []string{
			"calmirror", "-c", configPath, "migrate", "--yes", "personal", "home",
		})
	})
	if err != nil {
		t.Fatalf("Run(migrate) error = %v", err)
	}
	if !strings.Contains(out, "rewrote 1 record(s)") {
		t.Errorf("migrate output unexpected:\n%s", out)
	}

	out, err = captureStdout(t, func() error {
		return Run(context.Background(), []string{"calmirror", "-c", configPath, "status"})
	})
	if err != nil {
		t.Fatalf("Run(status) error = %v", err)
	}
	if !strings.Contains(out, "work->home") {
		t.Errorf("status missing renamed pair:\n%s", out)
	}
	if strings.Contains(out, "work->personal") {
		t.Errorf("status still shows the old pair:\n%s", out)
	}
}

func TestMigrateCommandRequiresTwoNames(t *testing.T) {
	configPath, _ := testWorkspace(t)
	_, err := captureStdout(t, func() error {
		return Run(context.Background(), []string{
			"calmirror", "-c", configPath, "migrate", "--yes", "personal",
		})
	})
	if err == nil || !strings.Contains(err.Error(), "migrate <old-name> <new-name>") {
		t.Fatalf("Run() error = %v, want usage error", err)
	}
}

func TestStatusCommand(t *testing.T) {
	configPath, root := testWorkspace(t)

	out, err := captureStdout(t, func() error {
		return Run(context.Background(), []string{"calmirror", "-c", configPath, "status"})
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out, "no sync state recorded") {
		t.Errorf("empty status output unexpected:\n%s", out)
	}

	writeEvent(t, root, "work", "work-1", "Planning")
	if _, err := captureStdout(t, func() error {
		return Run(context.Background(), []string{
			"calmirror", "-c", configPath, "sync", "--direction", "to-target",
		})
	}); err != nil {
		t.Fatalf("seed sync error = %v", err)
	}

	out, err = captureStdout(t, func() error {
		return Run(context.Background(), []string{"calmirror", "-c", configPath, "status"})
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out, "work->personal") || !strings.Contains(out, "source") {
		t.Errorf("status output missing pair row:\n%s", out)
	}
}

func TestCalendarsCommand(t *testing.T) {
	configPath, _ := testWorkspace(t)

	out, err := captureStdout(t, func() error {
		return Run(context.Background(), []string{"calmirror", "-c", configPath, "calendars"})
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out, "work") || !strings.Contains(out, "personal") {
		t.Errorf("calendars output missing names:\n%s", out)
	}
}
