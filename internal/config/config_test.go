package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	xerrors "GhostSignal-Chain/internal/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAMLAppliesDefaultsAndAgents(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "agents.yaml", `
agents:
  - id: MeanRevBot-β
    strategy: mean_reversion
`)
	path := writeFile(t, dir, "ghostsignal.yaml", `
server:
  address: ":9090"
ledger:
  driver: memory
retry:
  cooldown: 2s
lifecycle:
  reveal_delay: 5
  verify_delay: 1.5
agents:
  - id: MomentumBot-α
    stake: 250
    pairs: [SOL/USD]
agents_file: agents.yaml
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9090" || cfg.Ledger.Driver != LedgerMemory {
		t.Fatalf("file values lost: %+v", cfg.Server)
	}
	if cfg.Retry.Cooldown.Std() != 2*time.Second || cfg.Retry.UnavailableRetries != 2 || cfg.Retry.ExhaustedRetries != 1 {
		t.Fatalf("unexpected retry config %+v", cfg.Retry)
	}
	if cfg.Lifecycle.RevealDelay.Std() != 5*time.Second || cfg.Lifecycle.VerifyDelay.Std() != 1500*time.Millisecond {
		t.Fatalf("numeric seconds not honoured: %+v", cfg.Lifecycle)
	}
	if cfg.Lifecycle.SignalInterval.Std() != DefaultSignalInterval {
		t.Fatalf("signal interval default missing")
	}
	if len(cfg.Agents) != 2 {
		t.Fatalf("expected two agents, got %+v", cfg.Agents)
	}
	if cfg.Agents[0].Stake != 250 || cfg.Agents[0].MinConfidence != DefaultMinConfidence || cfg.Agents[0].Strategy != "momentum" {
		t.Fatalf("agent defaults wrong: %+v", cfg.Agents[0])
	}
	if cfg.Agents[1].ID != "MeanRevBot-β" || cfg.Agents[1].Stake != DefaultStake || len(cfg.Agents[1].Pairs) != 2 {
		t.Fatalf("roster agent defaults wrong: %+v", cfg.Agents[1])
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("unexpected data dir %s", cfg.Runtime.DataDir)
	}
}

func TestLoadJSONWithEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "ghostsignal.json", `{
  "ledger": {"driver": "http", "http": {"base_url": "http://file.invalid"}},
  "lifecycle": {"reveal_delay": "30s"}
}`)
	t.Setenv("GHOSTSIGNAL_API_URL", "http://gateway.local:3000")
	t.Setenv("REVEAL_DELAY_SECONDS", "7")
	t.Setenv("STAKE_AMOUNT", "42")
	t.Setenv("GHOSTSIGNAL_RETRY_COOLDOWN", "250ms")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Ledger.HTTP.BaseURL != "http://gateway.local:3000" {
		t.Fatalf("env should override base url, got %s", cfg.Ledger.HTTP.BaseURL)
	}
	if cfg.Lifecycle.RevealDelay.Std() != 7*time.Second {
		t.Fatalf("env should override reveal delay, got %s", cfg.Lifecycle.RevealDelay)
	}
	if cfg.Lifecycle.DefaultStake != 42 {
		t.Fatalf("env should override stake, got %d", cfg.Lifecycle.DefaultStake)
	}
	if cfg.Retry.Cooldown.Std() != 250*time.Millisecond {
		t.Fatalf("env should override cooldown, got %s", cfg.Retry.Cooldown)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"driver":    `{"ledger": {"driver": "solana"}}`,
		"http":      `{"ledger": {"driver": "http"}}`,
		"queue":     `{"cycle_queue": {"driver": "kafka"}}`,
		"duplicate": `{"agents": [{"id": "a"}, {"id": "a"}]}`,
		"mysql":     `{"activity": {"store": {"driver": "mysql"}}}`,
	}
	for name, body := range cases {
		path := writeFile(t, dir, name+".json", body)
		_, err := Load(path)
		if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
			t.Fatalf("%s: expected invalid argument, got %v", name, err)
		}
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("empty path should fail")
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"":     0,
		"15":   15 * time.Second,
		"0.5":  500 * time.Millisecond,
		"1m":   time.Minute,
		"90ms": 90 * time.Millisecond,
	}
	for raw, want := range cases {
		got, err := ParseDuration(raw)
		if err != nil || got.Std() != want {
			t.Fatalf("ParseDuration(%q) = %v, %v; want %v", raw, got, err, want)
		}
	}
	if _, err := ParseDuration("soon"); err == nil {
		t.Fatalf("garbage should fail")
	}
}

func TestDefaultWithoutFile(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if cfg.Ledger.Driver != LedgerSimulated || cfg.Activity.BufferSize != DefaultBufferSize || cfg.Retry.Cooldown.Std() != DefaultCooldown {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}
