package config

import (
	"os"
	"strings"
	"testing"
)

func withAPIKey(t *testing.T, key string) {
	t.Helper()
	old := os.Getenv("ALTEO_API_KEY")
	os.Setenv("ALTEO_API_KEY", key)
	t.Cleanup(func() { os.Setenv("ALTEO_API_KEY", old) })
}

func TestLoadConfigFromReaderAppliesDefaultsAndDuration(t *testing.T) {
	withAPIKey(t, "secret")
	body := `{"postgres_conn_string":"postgres://x","alteo_api_url":"https://example.test","cycle_time":"3s"}`
	cfg, err := LoadConfigFromReader(strings.NewReader(body))
	if err != nil {
		t.Fatalf("LoadConfigFromReader: %v", err)
	}
	if cfg.CycleTime.String() != "3s" {
		t.Fatalf("cycle_time override not applied, got %s", cfg.CycleTime)
	}
	if cfg.DeadbandKW != 1.0 {
		t.Fatalf("default deadband_kw not applied, got %v", cfg.DeadbandKW)
	}
}

func TestLoadConfigFromReaderMissingAPIKeyFails(t *testing.T) {
	withAPIKey(t, "")
	body := `{"postgres_conn_string":"postgres://x","alteo_api_url":"https://example.test"}`
	if _, err := LoadConfigFromReader(strings.NewReader(body)); err == nil {
		t.Fatal("want error when ALTEO_API_KEY is unset")
	}
}

func TestValidateRejectsOutOfRangeFieldBusTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PostgresConnString = "postgres://x"
	cfg.AlteoAPIURL = "https://example.test"
	cfg.AlteoAPIKey = "secret"
	cfg.FieldBusTimeout = 10 * 1_000_000 // 10ms, below the 1.0-1.5s band
	if err := cfg.Validate(); err == nil {
		t.Fatal("want error for out-of-band field_bus_timeout")
	}
}
