package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Workers)
	}
	if cfg.DrainTimeout != 30*time.Second {
		t.Errorf("expected 30s drain timeout, got %s", cfg.DrainTimeout)
	}
	if cfg.ConflictStrategy != StrategyManual {
		t.Errorf("expected manual strategy by default, got %q", cfg.ConflictStrategy)
	}
}

func TestLoadJSONOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"listen_addr": "localhost:9999",
		"workers": 8,
		"backoff_base": "500ms",
		"conflict_strategy": "lww"
	}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ListenAddr != "localhost:9999" {
		t.Errorf("unexpected listen addr %q", cfg.ListenAddr)
	}
	if cfg.Workers != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.Workers)
	}
	if cfg.BackoffBase != 500*time.Millisecond {
		t.Errorf("expected 500ms backoff base, got %s", cfg.BackoffBase)
	}
	if cfg.ConflictStrategy != StrategyLastWriteWins {
		t.Errorf("expected lww strategy, got %q", cfg.ConflictStrategy)
	}
	// Untouched fields keep their defaults
	if cfg.DrainTimeout != 30*time.Second {
		t.Errorf("expected default drain timeout, got %s", cfg.DrainTimeout)
	}
}

func TestEnvOverridesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"workers": 8}`), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv("EXPANDNOTE_WORKERS", "2")
	t.Setenv("EXPANDNOTE_TICK_INTERVAL", "10s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Workers != 2 {
		t.Errorf("expected env to win with 2 workers, got %d", cfg.Workers)
	}
	if cfg.TickInterval != 10*time.Second {
		t.Errorf("expected 10s tick interval, got %s", cfg.TickInterval)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"unknown strategy": `{"conflict_strategy": "newest"}`,
		"bad duration":     `{"backoff_base": "soon"}`,
		"inverted backoff": `{"backoff_base": "1m", "backoff_cap": "1s"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, []byte(body), 0644); err != nil {
				t.Fatalf("failed to write config file: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected Load to fail")
			}
		})
	}
}

func TestZeroWorkersRejected(t *testing.T) {
	t.Setenv("EXPANDNOTE_WORKERS", "0")
	if _, err := Load(""); err == nil {
		t.Error("expected Load to reject zero workers")
	}
}
