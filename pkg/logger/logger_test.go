package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesJSONWithComponent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	if err := Init(Config{Level: "debug", Format: "json", OutputPaths: []string{path}}); err != nil {
		t.Fatalf("init logger: %v", err)
	}
	t.Cleanup(func() { _ = Sync() })

	ForAgent("lifecycle", "alpha").Info("提交承诺成功")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(content)
	if !strings.Contains(line, `"component":"lifecycle"`) || !strings.Contains(line, `"agent_id":"alpha"`) {
		t.Fatalf("missing attributes in %s", line)
	}
}

func TestAuditFallsBackToDefaultLogger(t *testing.T) {
	if err := Init(Config{Format: "text", OutputPaths: []string{"stderr"}}); err != nil {
		t.Fatalf("init logger: %v", err)
	}
	if Audit() != L() {
		t.Fatalf("audit logger should alias the default logger when disabled")
	}
}

func TestAuditStreamWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit", "audit.log")
	if err := Init(Config{Format: "json", OutputPaths: []string{"stderr"}, Audit: AuditConfig{Enabled: true, Path: path}}); err != nil {
		t.Fatalf("init logger: %v", err)
	}
	if Audit() == L() {
		t.Fatalf("audit logger should be separate when enabled")
	}

	Audit().Info("ledger receipt", "phase", "commit", "tx_id", "0xabc")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	line := string(content)
	if !strings.Contains(line, `"stream":"audit"`) || !strings.Contains(line, `"tx_id":"0xabc"`) {
		t.Fatalf("unexpected audit record %s", line)
	}
}

func TestInitRejectsEmptyAuditPath(t *testing.T) {
	if err := Init(Config{Audit: AuditConfig{Enabled: true}}); err == nil {
		t.Fatalf("expected error for empty audit path")
	}
}
