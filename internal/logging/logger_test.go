package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "wppgw.log")

	logger, err := New(path, "debug")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("hello", zap.String("k", "v"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) || !strings.Contains(string(data), `"pid"`) {
		t.Errorf("log file = %s", data)
	}
}

func TestWhatsAppAdapterModules(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	wl := WhatsApp(zap.New(core), "Client").Sub("Socket")

	wl.Warnf("frame %d dropped", 7)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Message != "frame 7 dropped" {
		t.Errorf("message = %q", e.Message)
	}
	if got := e.ContextMap()["module"]; got != "Client/Socket" {
		t.Errorf("module = %v, want Client/Socket", got)
	}
}
