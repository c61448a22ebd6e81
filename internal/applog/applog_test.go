package applog

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type bufCloser struct{ bytes.Buffer }

func (b *bufCloser) Close() error { return nil }

func TestWriteFormatsLevelsAndValues(t *testing.T) {
	buf := &bufCloser{}
	SetOutput(buf)
	defer Close()

	Info("grouping.placed", "tab", 5, "group", "Issue 12")
	Warn("grouping.gone", errors.New("No tab with id: 5"), "tab", 5)
	Error("dedup.close", errors.New("boom"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], " INFO grouping.placed tab=5 group=\"Issue 12\"") {
		t.Errorf("info line = %q", lines[0])
	}
	if !strings.Contains(lines[1], " WARN grouping.gone err=\"No tab with id: 5\" tab=5") {
		t.Errorf("warn line = %q", lines[1])
	}
	if !strings.Contains(lines[2], " ERROR dedup.close err=boom") {
		t.Errorf("error line = %q", lines[2])
	}
}

func TestQuoteTruncates(t *testing.T) {
	long := strings.Repeat("a", maxValueLen+10)
	got := quote(long)
	if !strings.HasSuffix(got, truncSuffix) {
		t.Errorf("quote(long) = %q, want truncated", got)
	}
}

func TestNoopWithoutInit(t *testing.T) {
	Close()
	// Must not panic.
	Info("noop")
}

func TestInitCreatesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	if err := Init(dir); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Info("engine.start")
	Close()

	data, err := os.ReadFile(filepath.Join(dir, fileName))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "engine.start") {
		t.Errorf("log file = %q, want engine.start", data)
	}
}
