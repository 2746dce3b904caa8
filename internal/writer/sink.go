// Package writer implements the WriterSink: the single consumer of the
// shared output channel, appending one line per record to a per-symbol,
// per-day file.
package writer

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/arrowstream/binance-collector/internal/model"
)

// Sink consumes *model.OutputRecord from a single shared channel and
// appends each one to "<dir>/<symbol>_<YYYYMMDD>.dat". A nil record is the
// shutdown sentinel: Run flushes every open file and returns.
type Sink struct {
	dir string
	log zerolog.Logger

	files map[string]*bufio.Writer
	raw   map[string]*os.File
}

// New creates a Sink writing into dir. dir is created if it does not exist.
func New(dir string, log zerolog.Logger) *Sink {
	return &Sink{
		dir:   dir,
		log:   log.With().Str("component", "writer").Logger(),
		files: make(map[string]*bufio.Writer),
		raw:   make(map[string]*os.File),
	}
}

// Run drains in until a nil sentinel arrives or in is closed, then flushes
// and closes every open file. It returns the first fatal I/O error
// encountered, if any, after still draining and closing what it can.
func (s *Sink) Run(in <-chan *model.OutputRecord) error {
	defer s.closeAll()

	var firstErr error
	for rec := range in {
		if rec == nil {
			return firstErr
		}
		if err := s.write(rec); err != nil && firstErr == nil {
			firstErr = err
			s.log.Error().Err(err).Str("symbol", string(rec.Symbol)).Msg("write failed")
		}
	}
	return firstErr
}

func (s *Sink) write(rec *model.OutputRecord) error {
	date := time.Unix(int64(rec.Timestamp), 0).Local().Format("20060102")
	key := strings.ToLower(string(rec.Symbol)) + "_" + date

	w, err := s.writerFor(key)
	if err != nil {
		return err
	}

	tsMicros := int64(math.Floor(rec.Timestamp * 1_000_000))
	if _, err := fmt.Fprintf(w, "%d %s\n", tsMicros, rec.Raw); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return w.Flush()
}

func (s *Sink) writerFor(key string) (*bufio.Writer, error) {
	if w, ok := s.files[key]; ok {
		return w, nil
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", s.dir, err)
	}
	path := filepath.Join(s.dir, key+".dat")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	s.raw[key] = f
	s.files[key] = w
	return w, nil
}

func (s *Sink) closeAll() {
	for key, w := range s.files {
		if err := w.Flush(); err != nil {
			s.log.Error().Err(err).Str("file", key).Msg("flush on close failed")
		}
	}
	for key, f := range s.raw {
		if err := f.Close(); err != nil {
			s.log.Error().Err(err).Str("file", key).Msg("close failed")
		}
	}
}
