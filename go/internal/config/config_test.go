package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/rs/zerolog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.WSSendBuffer != 64 || cfg.NATSURL != "" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Level() != zerolog.InfoLevel {
		t.Errorf("level = %s", cfg.Level())
	}
}

func TestLoadRequiredFileMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), true); err == nil {
		t.Fatal("expected error for missing required file")
	}
}

func TestLoadYAMLThenEnvironment(t *testing.T) {
	path := writeConfig(t, `
port: "9000"
logLevel: debug
shutdownTimeout: 3s
wsPingInterval: 5s
wsReadTimeout: 15s
natsUrl: nats://nats:4222
catalog:
  voting_systems:
    fibonacci: ["1", "2", "3"]
    team_scale: ["small", "big", "?"]
`)
	t.Setenv("PORT", "9100")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load(path, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9100" {
		t.Errorf("port = %q, env should win", cfg.Port)
	}
	if cfg.Level() != zerolog.DebugLevel {
		t.Errorf("level = %s", cfg.Level())
	}
	if cfg.ShutdownTimeout != 3*time.Second || cfg.WSPingInterval != 5*time.Second {
		t.Errorf("durations = %s %s", cfg.ShutdownTimeout, cfg.WSPingInterval)
	}
	if cfg.NATSURL != "nats://nats:4222" {
		t.Errorf("nats url = %q", cfg.NATSURL)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("origins = %v", cfg.AllowedOrigins)
	}

	catalog := cfg.RoomCatalog()
	if deck, _ := catalog.ComplexityDeck(models.VotingSystemFibonacci); len(deck) != 3 {
		t.Errorf("fibonacci deck = %v, want override", deck)
	}
	if _, ok := catalog.ComplexityDeck("team_scale"); !ok {
		t.Error("custom voting system missing")
	}
	if _, ok := catalog.ComplexityDeck(models.VotingSystemTShirt); !ok {
		t.Error("built-in voting system lost in merge")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"bad yaml":        "port: [",
		"bad level":       "logLevel: loud",
		"empty deck":      "catalog:\n  time_units:\n    weeks: []\n",
		"ping after read": "wsPingInterval: 1m\nwsReadTimeout: 30s\n",
		"empty port":      `port: ""`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body), true); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEnvironmentDurationOverride(t *testing.T) {
	t.Setenv("ROOM_TTL", "48h")
	cfg, err := Load("", false)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RoomTTL != 48*time.Hour {
		t.Errorf("room ttl = %s", cfg.RoomTTL)
	}
}
