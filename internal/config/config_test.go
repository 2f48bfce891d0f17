package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(cwd)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store.Driver != "sqlite" {
		t.Errorf("store.driver = %q, want sqlite", cfg.Store.Driver)
	}
	if got := cfg.Tracker.NormalInterval(); got != 60*time.Second {
		t.Errorf("normal interval = %v, want 60s", got)
	}
	if got := cfg.Tracker.BookingInterval(); got != 30*time.Second {
		t.Errorf("booking interval = %v, want 30s", got)
	}
	if cfg.Nominatim.BaseURL == "" {
		t.Error("nominatim.base_url default missing")
	}
	if cfg.Registry.RadiusKm != 25 {
		t.Errorf("registry.radius_km = %v, want 25", cfg.Registry.RadiusKm)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(cwd)

	t.Setenv("GEOTRACK_TRACKER_BOOKING_INTERVAL_SECS", "15")
	t.Setenv("GEOTRACK_API_TOKEN", "test-token")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Tracker.BookingIntervalSecs != 15 {
		t.Errorf("booking interval secs = %d, want 15", cfg.Tracker.BookingIntervalSecs)
	}
	if cfg.API.Token != "test-token" {
		t.Errorf("api token = %q, want test-token", cfg.API.Token)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(cwd)

	yaml := []byte("store:\n  driver: postgres\n  database_url: postgres://localhost/geotrack\nlog:\n  level: debug\n")
	if err := os.WriteFile("config.yaml", yaml, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Driver != "postgres" {
		t.Errorf("store.driver = %q, want postgres", cfg.Store.Driver)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, want debug", cfg.Log.Level)
	}
}

func TestInitLogger_BadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	if err == nil {
		t.Fatal("expected error for invalid level")
	}
}
