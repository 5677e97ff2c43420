package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scheduler.Interval != 6*time.Hour {
		t.Fatalf("expected 6h interval, got %s", cfg.Scheduler.Interval)
	}
	if cfg.Sensor.SafetyThreshold != 40 {
		t.Fatalf("expected safety threshold 40, got %d", cfg.Sensor.SafetyThreshold)
	}
	if cfg.Notary.IntegrityRetention != 0.75 || cfg.Notary.AnomalyThreshold != 0.40 {
		t.Fatalf("unexpected notary gates: %+v", cfg.Notary)
	}
	if cfg.Notary.PulseCapacity != 200 || cfg.Archive.ChangelogLimit != 90 {
		t.Fatalf("unexpected bounds: pulse=%d changelog=%d", cfg.Notary.PulseCapacity, cfg.Archive.ChangelogLimit)
	}
	if cfg.State.FingerprintFile != ".last_registry_hash" {
		t.Fatalf("unexpected fingerprint file %q", cfg.State.FingerprintFile)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
state:
  dir: /var/lib/scratchwatch
  strict: true
archive:
  backend: s3
  s3:
    bucket: evidence
alerting:
  channels: telegram,log
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SCRATCHWATCH_SENSOR_SAFETY_THRESHOLD", "12")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.State.Dir != "/var/lib/scratchwatch" || !cfg.State.Strict {
		t.Fatalf("unexpected state config: %+v", cfg.State)
	}
	if cfg.Archive.Backend != "s3" || cfg.Archive.S3.Bucket != "evidence" {
		t.Fatalf("unexpected archive config: %+v", cfg.Archive)
	}
	if cfg.Sensor.SafetyThreshold != 12 {
		t.Fatalf("env override not applied: %d", cfg.Sensor.SafetyThreshold)
	}
	if len(cfg.Alerting.Channels) != 2 {
		t.Fatalf("expected two channels, got %v", cfg.Alerting.Channels)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() Config {
		return Config{
			Scheduler: SchedulerConfig{Interval: time.Hour},
			Notary:    NotaryConfig{IntegrityRetention: 0.75, AnomalyThreshold: 0.4, RetireAfterMisses: 3, PulseCapacity: 200},
			Export:    ExportConfig{MaxDataPoints: 10},
		}
	}
	if err := func() error { c := base(); return c.Validate() }(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	cases := map[string]func(*Config){
		"retention above one": func(c *Config) { c.Notary.IntegrityRetention = 1.5 },
		"zero misses":         func(c *Config) { c.Notary.RetireAfterMisses = 0 },
		"unknown backend":     func(c *Config) { c.Archive.Backend = "ftp" },
		"unknown exporter":    func(c *Config) { c.Telemetry.Exporter = "jaeger" },
		"telegram no token":   func(c *Config) { c.Alerting.Telegram = TelegramConfig{Enabled: true, ChatID: "1"} },
		"negative threshold":  func(c *Config) { c.Sensor.SafetyThreshold = -1 },
	}
	for name, mutate := range cases {
		c := base()
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
