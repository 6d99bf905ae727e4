package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewWritesConsoleAndFile(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	logger, closeFn, err := New(Options{Dir: dir, Level: "warn", Console: &console})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Info("quiet on console", zap.String("job", "a"))
	logger.Warn("loud everywhere", zap.String("job", "b"))
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if strings.Contains(console.String(), "quiet on console") {
		t.Fatalf("info leaked to console at warn level: %q", console.String())
	}
	if !strings.Contains(console.String(), "loud everywhere") {
		t.Fatalf("console missing warning: %q", console.String())
	}
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("file should keep every level, got %d lines", len(lines))
	}
	if !strings.Contains(lines[1], `"msg":"loud everywhere"`) || !strings.Contains(lines[1], `"job":"b"`) {
		t.Fatalf("unexpected json line %q", lines[1])
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, _, err := New(Options{Level: "chatty"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
