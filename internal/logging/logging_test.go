package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOutput_Stderr(t *testing.T) {
	w, err := Output(Options{})
	if err != nil {
		t.Fatalf("Output() failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() on stderr output failed: %v", err)
	}
	// Stderr must survive Close.
	if _, err := os.Stderr.Stat(); err != nil {
		t.Errorf("stderr closed: %v", err)
	}
}

func TestOutput_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "kvs.log")

	w, err := Output(Options{File: path, MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("Output() failed: %v", err)
	}

	logger := New(w, "kvsync")
	logger.Printf("Synchronized key '%s'", "theme")
	if err := w.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	line := string(data)
	if !strings.HasPrefix(line, "[kvsync] ") {
		t.Errorf("log line %q lacks component prefix", line)
	}
	if !strings.Contains(line, "Synchronized key 'theme'") {
		t.Errorf("log line %q lacks message", line)
	}
}
