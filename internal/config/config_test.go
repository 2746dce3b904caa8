package config

import (
	"os"
	"path/filepath"
	"testing"
)

func withEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoadCreatesPlaceholderCredentialsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "nested", "keys.json")
	withEnv(t, map[string]string{
		"BINANCE_KEY_FILE_PATH": keyPath,
		"DATA_SAVE_PATH":        dir,
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Credentials.APIKey != "your_api_key" {
		t.Errorf("APIKey = %q, want placeholder", cfg.Credentials.APIKey)
	}
	if _, err := os.Stat(keyPath); err != nil {
		t.Errorf("credentials file not created: %v", err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	withEnv(t, map[string]string{
		"BINANCE_KEY_FILE_PATH": filepath.Join(dir, "keys.json"),
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MinVolume != defaultMinVolume {
		t.Errorf("MinVolume = %v, want default", cfg.MinVolume)
	}
	if cfg.SelectionInterval != defaultInterval {
		t.Errorf("SelectionInterval = %v, want default", cfg.SelectionInterval)
	}
	if cfg.ChannelCapacity != defaultChannelCap {
		t.Errorf("ChannelCapacity = %v, want default", cfg.ChannelCapacity)
	}
	if cfg.RESTMaxRetries != defaultRESTRetries {
		t.Errorf("RESTMaxRetries = %v, want default", cfg.RESTMaxRetries)
	}
}

func TestLoadParsesRESTMaxRetriesOverride(t *testing.T) {
	dir := t.TempDir()
	withEnv(t, map[string]string{
		"BINANCE_KEY_FILE_PATH": filepath.Join(dir, "keys.json"),
		"REST_MAX_RETRIES":      "7",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RESTMaxRetries != 7 {
		t.Errorf("RESTMaxRetries = %d, want 7", cfg.RESTMaxRetries)
	}
}

func TestLoadParsesPinnedSymbolsLowercased(t *testing.T) {
	dir := t.TempDir()
	withEnv(t, map[string]string{
		"BINANCE_KEY_FILE_PATH": filepath.Join(dir, "keys.json"),
		"PINNED_SYMBOLS":        "BTCUSDT, ethusdt ,,",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.PinnedSymbols) != 2 || cfg.PinnedSymbols[0] != "btcusdt" || cfg.PinnedSymbols[1] != "ethusdt" {
		t.Errorf("PinnedSymbols = %v, want [btcusdt ethusdt]", cfg.PinnedSymbols)
	}
}

func TestLoadRejectsMalformedNumericEnvVar(t *testing.T) {
	dir := t.TempDir()
	withEnv(t, map[string]string{
		"BINANCE_KEY_FILE_PATH": filepath.Join(dir, "keys.json"),
		"MIN_VOLUME":            "not-a-number",
	})

	_, err := Load()
	if err == nil {
		t.Fatal("expected a ConfigError for malformed MIN_VOLUME")
	}
	var cerr *ConfigError
	if !asConfigError(err, &cerr) {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
}

func asConfigError(err error, target **ConfigError) bool {
	e, ok := err.(*ConfigError)
	if ok {
		*target = e
	}
	return ok
}
