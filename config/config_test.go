package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Cascade.BatchSize != 500 {
		t.Errorf("batch size = %d, want 500", cfg.Cascade.BatchSize)
	}
	if cfg.Reaper.IntervalMinutes != 60 || cfg.Reaper.MaxAgeHours != 24 {
		t.Errorf("reaper defaults = %d min / %d h, want 60 / 24",
			cfg.Reaper.IntervalMinutes, cfg.Reaper.MaxAgeHours)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CASCADE_BATCH_SIZE", "100")
	t.Setenv("REAPER_MAX_AGE_HOURS", "48")
	t.Setenv("DATABASE_URL", "postgres://db:5432/polls?sslmode=disable")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cascade.BatchSize != 100 {
		t.Errorf("batch size = %d, want 100", cfg.Cascade.BatchSize)
	}
	if cfg.Reaper.MaxAgeHours != 48 {
		t.Errorf("max age = %d, want 48", cfg.Reaper.MaxAgeHours)
	}
	if got := cfg.Database.DSN(); got != "postgres://db:5432/polls?sslmode=disable" {
		t.Errorf("DSN = %q", got)
	}
}

func TestLoadRejectsNonPositiveBatchSize(t *testing.T) {
	t.Setenv("CASCADE_BATCH_SIZE", "-1")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative batch size")
	}
}
