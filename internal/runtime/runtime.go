// Package runtime constructs the shared Runtime value Bootstrap wires
// through the rest of the collector: logging setup plus the concrete C1-C7
// component instances, built from a resolved Config.
package runtime

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/arrowstream/binance-collector/internal/config"
	"github.com/arrowstream/binance-collector/internal/depth"
	"github.com/arrowstream/binance-collector/internal/model"
	"github.com/arrowstream/binance-collector/internal/restclient"
	"github.com/arrowstream/binance-collector/internal/selector"
	"github.com/arrowstream/binance-collector/internal/stream"
	"github.com/arrowstream/binance-collector/internal/supervisor"
	"github.com/arrowstream/binance-collector/internal/writer"
)

// Runtime bundles every long-lived collaborator Bootstrap needs, in place
// of the package-level globals the distilled source relied on.
type Runtime struct {
	Config     *config.Config
	Log        zerolog.Logger
	Rest       *restclient.Client
	Selector   selector.SymbolSelector
	Out        chan *model.OutputRecord
	Writer     *writer.Sink
	Supervisor *supervisor.Supervisor
}

// New wires C1-C7 from cfg: a RestClient, the default SymbolSelector, a
// shared output channel, a WriterSink, and a Supervisor whose WorkerFactory
// constructs stream.Workers bound to that channel and RestClient.
func New(cfg *config.Config) *Runtime {
	log := newLogger()

	rest := restclient.New(
		restclient.WithTimeout(cfg.RESTTimeout),
		restclient.WithMaxRetries(cfg.RESTMaxRetries),
		restclient.WithLogger(log.With().Str("component", "restclient").Logger()),
	)

	sel := selector.NewVolumeAmplitudeSelector(rest, cfg.MinVolume, cfg.MinAmplitude, log)

	out := make(chan *model.OutputRecord, cfg.ChannelCapacity)
	sink := writer.New(cfg.DataSavePath, log)

	factory := func(symbol model.Symbol) supervisor.WorkerRunner {
		return stream.New(symbol, stream.DefaultHost, rest, out, log)
	}
	sup := supervisor.New(sel, factory, cfg.SelectionInterval, cfg.PinnedSymbols, log)

	return &Runtime{
		Config:     cfg,
		Log:        log,
		Rest:       rest,
		Selector:   sel,
		Out:        out,
		Writer:     sink,
		Supervisor: sup,
	}
}

// newLogger builds the process-wide zerolog logger: structured JSON to
// stdout with RFC3339 timestamps, whether or not stdout is a terminal.
func newLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

var _ depth.SnapshotFetcher = (*restclient.Client)(nil)
