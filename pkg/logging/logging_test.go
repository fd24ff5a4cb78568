package logging

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestErrorLogFileReceivesWarnings(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2024, 3, 5, 10, 0, 0, 0, time.Local)

	logger, cleanup, err := New(Options{Level: "info", ErrorLogDir: dir, Now: func() time.Time { return day }})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("routine message")
	logger.Warn("balance payload malformed")
	cleanup()

	data, err := os.ReadFile(ErrorLogPath(dir, day))
	if err != nil {
		t.Fatalf("read error log: %v", err)
	}
	got := string(data)
	if !strings.Contains(got, "balance payload malformed") {
		t.Errorf("warning missing from error log: %q", got)
	}
	if strings.Contains(got, "routine message") {
		t.Errorf("info entry should not reach the error log")
	}
	if !strings.HasSuffix(ErrorLogPath(dir, day), "error_log_20240305.txt") {
		t.Errorf("unexpected path %s", ErrorLogPath(dir, day))
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
