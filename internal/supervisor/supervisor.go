// Package supervisor implements the periodic, selection-driven lifecycle
// manager for per-symbol StreamWorkers: it is the sole writer to its
// symbol->WorkerHandle registry and starts/stops workers to track the
// SymbolSelector's output, always preserving a pinned set.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arrowstream/binance-collector/internal/model"
	"github.com/arrowstream/binance-collector/internal/selector"
)

// DefaultInterval is the default tick period between selection rounds.
const DefaultInterval = 30 * time.Minute

// selectionRetryDelay is the pause before retrying a tick after a failed
// selection round; it does not advance the regular tick clock.
const selectionRetryDelay = 5 * time.Second

// WorkerRunner is anything the Supervisor can start and cancel: a
// stream.Worker satisfies this.
type WorkerRunner interface {
	Run(ctx context.Context) error
}

// WorkerFactory constructs a WorkerRunner for symbol. Supervisor calls it
// once per add.
type WorkerFactory func(symbol model.Symbol) WorkerRunner

// WorkerHandle references a running worker and its cancellation.
type WorkerHandle struct {
	Symbol model.Symbol
	cancel context.CancelFunc
	done   chan error
}

// Supervisor owns the set of live StreamWorkers and reconciles it against
// SymbolSelector output on a fixed interval.
type Supervisor struct {
	selector selector.SymbolSelector
	factory  WorkerFactory
	interval time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	pinned   map[model.Symbol]struct{}
	registry map[model.Symbol]*WorkerHandle
}

// New creates a Supervisor. pinned symbols are never removed by selection,
// though, like any other symbol, they are only started once selected.
func New(sel selector.SymbolSelector, factory WorkerFactory, interval time.Duration, pinned []model.Symbol, log zerolog.Logger) *Supervisor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	p := make(map[model.Symbol]struct{}, len(pinned))
	for _, s := range pinned {
		p[s] = struct{}{}
	}
	return &Supervisor{
		selector: sel,
		factory:  factory,
		interval: interval,
		log:      log.With().Str("component", "supervisor").Logger(),
		pinned:   p,
		registry: make(map[model.Symbol]*WorkerHandle),
	}
}

// Run ticks once immediately (matching the source's run-then-sleep loop)
// and then every interval, until ctx is cancelled, at which point every
// registered worker is cancelled and awaited before Run returns.
func (s *Supervisor) Run(ctx context.Context) {
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdownAll()
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one selection round, retrying every 5s on SelectionError
// without advancing the interval clock, until it succeeds or ctx ends.
func (s *Supervisor) tick(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		selected, err := s.selector.Select(ctx)
		if err != nil {
			s.log.Error().Err(&SelectionError{Err: err}).Msg("selection failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(selectionRetryDelay):
				continue
			}
		}

		s.reconcile(ctx, selected)
		return
	}
}

func (s *Supervisor) reconcile(ctx context.Context, selected []selector.Ranked) {
	s.mu.Lock()

	want := make(map[model.Symbol]struct{}, len(selected))
	for _, r := range selected {
		want[r.Symbol] = struct{}{}
	}

	var toRemove, toAdd []model.Symbol
	for sym := range s.registry {
		if _, stillWanted := want[sym]; !stillWanted {
			if _, pinned := s.pinned[sym]; !pinned {
				toRemove = append(toRemove, sym)
			}
		}
	}
	for sym := range want {
		if _, running := s.registry[sym]; !running {
			toAdd = append(toAdd, sym)
		}
	}
	s.mu.Unlock()

	for _, sym := range toRemove {
		s.remove(sym)
	}
	for _, sym := range toAdd {
		s.add(ctx, sym)
	}
}

func (s *Supervisor) add(ctx context.Context, sym model.Symbol) {
	workerCtx, cancel := context.WithCancel(ctx)
	runner := s.factory(sym)
	handle := &WorkerHandle{Symbol: sym, cancel: cancel, done: make(chan error, 1)}

	s.mu.Lock()
	s.registry[sym] = handle
	s.mu.Unlock()

	s.log.Info().Str("symbol", string(sym)).Msg("starting worker")
	go func() {
		err := runner.Run(workerCtx)
		handle.done <- err
		if err != nil {
			s.log.Error().Err(err).Str("symbol", string(sym)).Msg("worker failed, removing from registry")
		}
		s.mu.Lock()
		if s.registry[sym] == handle {
			delete(s.registry, sym)
		}
		s.mu.Unlock()
	}()
}

func (s *Supervisor) remove(sym model.Symbol) {
	s.mu.Lock()
	handle, ok := s.registry[sym]
	if ok {
		delete(s.registry, sym)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.log.Info().Str("symbol", string(sym)).Msg("stopping worker")
	handle.cancel()
	<-handle.done
}

// shutdownAll cancels every handle currently registered, not just one, and
// waits for each to stop.
func (s *Supervisor) shutdownAll() {
	s.mu.Lock()
	handles := make([]*WorkerHandle, 0, len(s.registry))
	for _, h := range s.registry {
		handles = append(handles, h)
	}
	s.registry = make(map[model.Symbol]*WorkerHandle)
	s.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	for _, h := range handles {
		<-h.done
	}
}
