package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestPostgresConfig_ConnString(t *testing.T) {
	tests := []struct {
		name     string
		cfg      PostgresConfig
		expected string
	}{
		{
			name:     "with password and sslmode",
			cfg:      PostgresConfig{Host: "db", Port: 5432, Database: "eventgate", User: "eg", Password: "s3cret", SSLMode: "disable"},
			expected: "postgres://eg:s3cret@db:5432/eventgate?sslmode=disable",
		},
		{
			name:     "without password",
			cfg:      PostgresConfig{Host: "localhost", Port: 6543, Database: "events", User: "eg"},
			expected: "postgres://eg@localhost:6543/events",
		},
		{
			name:     "password is escaped",
			cfg:      PostgresConfig{Host: "db", Port: 5432, Database: "eventgate", User: "eg", Password: "p@ss"},
			expected: "postgres://eg:p%40ss@db:5432/eventgate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.ConnString(); got != tt.expected {
				t.Errorf("ConnString() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSetInfraDefaults(t *testing.T) {
	v := viper.New()
	SetInfraDefaults(v)

	if v.GetInt("server.port") != 8090 {
		t.Errorf("server.port = %d, want 8090", v.GetInt("server.port"))
	}
	if v.GetString("database.postgres.sslmode") != "disable" {
		t.Errorf("database.postgres.sslmode = %q, want disable", v.GetString("database.postgres.sslmode"))
	}
	if v.GetInt("nats.max_reconnects") != -1 {
		t.Errorf("nats.max_reconnects = %d, want -1", v.GetInt("nats.max_reconnects"))
	}
	if v.GetBool("redis.enabled") {
		t.Error("redis.enabled should default to false")
	}
}

func TestServerConfig_Addr(t *testing.T) {
	if got := (ServerConfig{Port: 8090}).Addr(); got != ":8090" {
		t.Errorf("Addr() = %q, want :8090", got)
	}
}

func TestLoadCLI_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("EVENTGATE_CONFIG_DIR", t.TempDir())

	cfg, err := LoadCLI()
	if err != nil {
		t.Fatalf("LoadCLI() error = %v", err)
	}

	p := cfg.Profile("")
	if p.NATSURL != "nats://localhost:4222" {
		t.Errorf("NATSURL = %q, want default", p.NATSURL)
	}
	if p.Topic != "events.digest.daily" {
		t.Errorf("Topic = %q, want events.digest.daily", p.Topic)
	}
}

func TestLoadCLI_EnvOverride(t *testing.T) {
	t.Setenv("EVENTGATE_CONFIG_DIR", t.TempDir())
	t.Setenv("EVENTGATECTL_NATS_URL", "nats://broker:4222")

	cfg, err := LoadCLI()
	if err != nil {
		t.Fatalf("LoadCLI() error = %v", err)
	}

	if got := cfg.Profile("").NATSURL; got != "nats://broker:4222" {
		t.Errorf("NATSURL = %q, want env override", got)
	}
}

func TestCLIConfig_SaveAndReload(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("EVENTGATE_CONFIG_DIR", dir)

	cfg, err := LoadCLI()
	if err != nil {
		t.Fatalf("LoadCLI() error = %v", err)
	}
	cfg.SetProfile("staging", &CLIProfile{NATSURL: "nats://staging:4222"})
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err != nil {
		t.Fatalf("expected config file: %v", err)
	}

	reloaded, err := LoadCLI()
	if err != nil {
		t.Fatalf("LoadCLI() after save error = %v", err)
	}
	if reloaded.CurrentProfile != "staging" {
		t.Errorf("CurrentProfile = %q, want staging", reloaded.CurrentProfile)
	}

	p := reloaded.Profile("")
	if p.NATSURL != "nats://staging:4222" {
		t.Errorf("NATSURL = %q, want staging override", p.NATSURL)
	}
	if p.Topic != "events.digest.daily" {
		t.Errorf("Topic = %q, want inherited default", p.Topic)
	}
}
