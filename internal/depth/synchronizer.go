// Package depth implements the per-symbol order-book synchronisation state
// machine: it reconciles an incremental WebSocket depth-diff stream with a
// paginated REST snapshot to produce a gap-free, u-monotonic sequence of
// OutputRecords. It does not reconstruct the book itself — it forwards raw
// messages once their sequencing has been verified.
package depth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arrowstream/binance-collector/internal/model"
)

// DefaultMaxPending is the recommended cap on buffered diffs awaiting a
// snapshot (spec recommends >= 2048).
const DefaultMaxPending = 4096

const snapshotWalkRetryInterval = 500 * time.Millisecond

// SnapshotFetcher fetches a full order-book page for a symbol. RestClient
// satisfies this interface.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, symbol model.Symbol, limit int) (*model.Snapshot, error)
}

type syncState int

const (
	stateUninitialized syncState = iota
	stateReconciling
	stateStreaming
)

// Synchronizer is the per-symbol DepthSynchronizer. One instance is created
// per StreamWorker lifetime; its state is mutated only from the goroutine
// running Run, so no internal locking is required.
type Synchronizer struct {
	symbol     model.Symbol
	fetcher    SnapshotFetcher
	out        chan<- *model.OutputRecord
	log        zerolog.Logger
	maxPending int
}

// New creates a Synchronizer for symbol. out is the shared channel records
// are emitted on; it is never closed by the Synchronizer.
func New(symbol model.Symbol, fetcher SnapshotFetcher, out chan<- *model.OutputRecord, log zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		symbol:     symbol,
		fetcher:    fetcher,
		out:        out,
		log:        log.With().Str("component", "depth").Str("symbol", string(symbol)).Logger(),
		maxPending: DefaultMaxPending,
	}
}

type snapshotOutcome struct {
	snap *model.Snapshot
	err  error
}

// Run consumes updates until ctx is cancelled or a fatal error occurs
// (PendingOverflowError or SnapshotExhaustedError), in which case it
// returns that error so the owning StreamWorker can terminate the symbol.
// A clean shutdown (ctx cancelled, or updates closed) returns nil.
func (s *Synchronizer) Run(ctx context.Context, updates <-chan model.DepthUpdate) (err error) {
	// An emit or snapshot fetch cut short by cancellation is part of a clean
	// shutdown, not a fatal failure of the symbol.
	defer func() {
		if ctx.Err() != nil {
			err = nil
		}
	}()

	state := stateUninitialized

	var pending []model.DepthUpdate
	var prevU int64

	var haveSnapshot bool
	var lastUpdateID int64

	var snapCh chan snapshotOutcome
	var retryTimer *time.Timer
	var retryCh <-chan time.Time

	stopRetry := func() {
		if retryTimer != nil {
			retryTimer.Stop()
			retryTimer = nil
			retryCh = nil
		}
	}
	armRetry := func() {
		if retryTimer == nil {
			retryTimer = time.NewTimer(snapshotWalkRetryInterval)
		} else {
			retryTimer.Reset(snapshotWalkRetryInterval)
		}
		retryCh = retryTimer.C
	}
	startFetch := func() {
		snapCh = make(chan snapshotOutcome, 1)
		fetchID := uuid.NewString()
		s.log.Info().Str("fetch_id", fetchID).Msg("fetching snapshot")
		go func() {
			snap, err := s.fetcher.FetchSnapshot(ctx, s.symbol, 1000)
			if err != nil {
				s.log.Warn().Str("fetch_id", fetchID).Err(err).Msg("snapshot fetch failed")
			}
			snapCh <- snapshotOutcome{snap: snap, err: err}
		}()
	}

	// attemptWalk tries to find the bridging diff in pending against
	// lastUpdateID. On success it emits everything through prevU and
	// transitions to Streaming; on failure it discards pending (per the
	// skip/discard rule) and arms the 500ms retry.
	attemptWalk := func() error {
		newPrevU, remaining, ok, err := s.walk(ctx, pending, lastUpdateID)
		if err != nil {
			return err
		}
		pending = remaining
		if ok {
			prevU = newPrevU
			state = stateStreaming
			haveSnapshot = false
			stopRetry()
			return nil
		}
		armRetry()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case d, ok := <-updates:
			if !ok {
				return nil
			}
			switch state {
			case stateUninitialized:
				s.log.Warn().Int64("U", d.FirstUpdateID).Int64("u", d.LastUpdateID).
					Msg("mismatch on the book, starting reconciliation")
				pending = append(pending, d)
				state = stateReconciling
				startFetch()

			case stateReconciling:
				pending = append(pending, d)
				if len(pending) > s.maxPending {
					return &PendingOverflowError{Symbol: string(s.symbol), Size: len(pending)}
				}
				if haveSnapshot {
					if err := attemptWalk(); err != nil {
						return err
					}
				}

			case stateStreaming:
				if d.FirstUpdateID == prevU+1 {
					if err := s.emit(ctx, d.Raw); err != nil {
						return err
					}
					prevU = d.LastUpdateID
				} else {
					s.log.Warn().Int64("prev_u", prevU).Int64("U", d.FirstUpdateID).
						Msg("sequence gap detected, re-entering reconciliation")
					pending = []model.DepthUpdate{d}
					haveSnapshot = false
					state = stateReconciling
					startFetch()
				}
			}

		case res := <-snapCh:
			snapCh = nil
			if res.err != nil {
				return &SnapshotExhaustedError{Symbol: string(s.symbol), Err: res.err}
			}
			s.log.Info().Int64("last_update_id", res.snap.LastUpdateID).Msg("snapshot received")
			if err := s.emit(ctx, res.snap.Raw); err != nil {
				return err
			}
			lastUpdateID = res.snap.LastUpdateID
			haveSnapshot = true
			if err := attemptWalk(); err != nil {
				return err
			}

		case <-retryCh:
			if err := attemptWalk(); err != nil {
				return err
			}
		}
	}
}

// walk implements the bridging-diff search described in the design: skip
// (discard) diffs that fully precede the snapshot or fully follow a gap
// until a diff is accepted, then emit every following diff in order,
// logging (but not dropping) any that break the U == prevU+1 chain.
func (s *Synchronizer) walk(ctx context.Context, pending []model.DepthUpdate, lastUpdateID int64) (prevU int64, remaining []model.DepthUpdate, ok bool, err error) {
	i := 0
	for ; i < len(pending); i++ {
		d := pending[i]
		if d.LastUpdateID < lastUpdateID+1 || d.FirstUpdateID > lastUpdateID+1 {
			continue
		}
		// d.FirstUpdateID <= lastUpdateID+1 <= d.LastUpdateID: bridging diff.
		if err := s.emit(ctx, d.Raw); err != nil {
			return 0, nil, false, err
		}
		prevU = d.LastUpdateID
		i++
		ok = true
		break
	}
	if !ok {
		return 0, nil, false, nil
	}
	for ; i < len(pending); i++ {
		d := pending[i]
		if d.FirstUpdateID != prevU+1 {
			s.log.Warn().Int64("prev_u", prevU).Int64("U", d.FirstUpdateID).
				Msg("update id does not match, emitting best-effort")
		}
		if err := s.emit(ctx, d.Raw); err != nil {
			return 0, nil, false, err
		}
		prevU = d.LastUpdateID
	}
	return prevU, nil, true, nil
}

// emit sends raw as an OutputRecord on the shared channel. Depth records
// carry synchronisation state, so the send blocks on backpressure rather
// than dropping (per the collector's backpressure policy) until ctx is
// cancelled.
func (s *Synchronizer) emit(ctx context.Context, raw []byte) error {
	rec := &model.OutputRecord{
		Symbol:    s.symbol,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Raw:       raw,
	}
	select {
	case s.out <- rec:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("emit %s: %w", s.symbol, ctx.Err())
	}
}
