package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitRejectsUnknownLevel(t *testing.T) {
	if err := Init(Config{Level: "loud"}); err == nil {
		t.Error("expected an error for an unknown level")
	}
}

func TestInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "storyline.log")
	if err := Init(Config{Level: "debug", File: path}); err != nil {
		t.Fatalf("init: %v", err)
	}
	Debugf("refreshed %d feeds", 3)
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "refreshed 3 feeds") {
		t.Errorf("expected the entry in the log file, got %q", data)
	}
}
