// Package config resolves process configuration from environment
// variables and the credentials JSON file, matching the distilled
// source's env-var surface and auto-creation behaviour.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/arrowstream/binance-collector/internal/model"
)

// ConfigError wraps a fatal bootstrap configuration failure (missing or
// malformed credentials file, unparsable environment variable).
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config: %v", e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

// Credentials is the shape of the credentials JSON file.
type Credentials struct {
	APIKey    string `json:"binance_api_key"`
	APISecret string `json:"binance_api_secret"`
}

// Config is immutable process configuration, resolved once at bootstrap.
type Config struct {
	Credentials Credentials

	DataSavePath string
	MinVolume    float64
	MinAmplitude float64

	SelectionInterval time.Duration
	PinnedSymbols     []model.Symbol
	RESTTimeout       time.Duration
	RESTMaxRetries    int
	ChannelCapacity   int
}

const (
	defaultKeyFilePath  = "/root/data/binanceKeys.json"
	defaultDataPath     = "/root/data"
	defaultMinVolume    = 10_000_000
	defaultMinAmp       = 5
	defaultInterval     = 30 * time.Minute
	defaultRESTTimeout  = 7 * time.Second
	defaultRESTRetries  = 3
	defaultChannelCap   = 4096
)

// Load reads every documented environment variable, loading (or creating
// with placeholders) the credentials file named by BINANCE_KEY_FILE_PATH.
func Load() (*Config, error) {
	keyPath := envOr("BINANCE_KEY_FILE_PATH", defaultKeyFilePath)
	creds, err := loadCredentials(keyPath)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	minVolume, err := envFloat("MIN_VOLUME", defaultMinVolume)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	minAmplitude, err := envFloat("MIN_AMPLITUDE", defaultMinAmp)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	interval, err := envDuration("SELECTION_INTERVAL", defaultInterval)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	restTimeout, err := envDuration("REST_TIMEOUT", defaultRESTTimeout)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	channelCap, err := envInt("CHANNEL_CAPACITY", defaultChannelCap)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	restRetries, err := envInt("REST_MAX_RETRIES", defaultRESTRetries)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	return &Config{
		Credentials:       *creds,
		DataSavePath:      envOr("DATA_SAVE_PATH", defaultDataPath),
		MinVolume:         minVolume,
		MinAmplitude:      minAmplitude,
		SelectionInterval: interval,
		PinnedSymbols:     parsePinned(os.Getenv("PINNED_SYMBOLS")),
		RESTTimeout:       restTimeout,
		RESTMaxRetries:    restRetries,
		ChannelCapacity:   channelCap,
	}, nil
}

// loadCredentials reads the credentials file, creating it with placeholder
// values (and its parent directory) if it does not exist yet — matching
// the distilled source's auto-provisioning behaviour.
func loadCredentials(path string) (*Credentials, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("credentials dir %s: %w", filepath.Dir(path), err)
		}
		placeholder := Credentials{APIKey: "your_api_key", APISecret: "your_api_secret"}
		data, err := json.Marshal(placeholder)
		if err != nil {
			return nil, fmt.Errorf("marshal placeholder credentials: %w", err)
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return nil, fmt.Errorf("write placeholder credentials %s: %w", path, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials %s: %w", path, err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("decode credentials %s: %w", path, err)
	}
	return &creds, nil
}

func parsePinned(raw string) []model.Symbol {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	symbols := make([]model.Symbol, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			symbols = append(symbols, model.Symbol(strings.ToLower(p)))
		}
	}
	return symbols
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
