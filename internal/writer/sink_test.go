package writer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/arrowstream/binance-collector/internal/model"
)

func TestSinkAppendsOneLinePerRecordToPerSymbolDateFile(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, zerolog.Nop())

	in := make(chan *model.OutputRecord, 4)
	ts := float64(time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC).Unix()) + 0.5
	in <- &model.OutputRecord{Symbol: "BTCUSDT", Timestamp: ts, Raw: []byte(`{"a":1}`)}
	in <- &model.OutputRecord{Symbol: "BTCUSDT", Timestamp: ts + 1, Raw: []byte(`{"a":2}`)}
	in <- nil
	close(in)

	if err := s.Run(in); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("files = %d, want 1, got %v", len(entries), entries)
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "btcusdt_") || !strings.HasSuffix(name, ".dat") {
		t.Errorf("filename = %q, want btcusdt_<date>.dat", name)
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2: %q", len(lines), data)
	}
	if !strings.Contains(lines[0], `{"a":1}`) || !strings.Contains(lines[1], `{"a":2}`) {
		t.Errorf("unexpected lines: %q", lines)
	}
}

func TestSinkSeparatesFilesBySymbol(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, zerolog.Nop())

	in := make(chan *model.OutputRecord, 4)
	ts := float64(time.Now().Unix())
	in <- &model.OutputRecord{Symbol: "BTCUSDT", Timestamp: ts, Raw: []byte("x")}
	in <- &model.OutputRecord{Symbol: "ETHUSDT", Timestamp: ts, Raw: []byte("y")}
	in <- nil
	close(in)

	if err := s.Run(in); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("files = %d, want 2", len(entries))
	}
}

func TestSinkSentinelFlushesAndStopsWithoutError(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, zerolog.Nop())

	in := make(chan *model.OutputRecord, 1)
	in <- nil
	close(in)

	if err := s.Run(in); err != nil {
		t.Fatalf("Run: %v, want nil", err)
	}
}
