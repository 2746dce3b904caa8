// Package stream implements the StreamWorker: one WebSocket subscription
// per symbol, hosting a depth.Synchronizer and dispatching every other
// subscribed stream type directly to the shared output channel.
package stream

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/arrowstream/binance-collector/internal/depth"
	"github.com/arrowstream/binance-collector/internal/model"
)

const (
	connectRetryDelay = 1 * time.Second
	keepaliveInterval = 5 * time.Second
	controlWriteWait  = 5 * time.Second

	// DefaultHost is the Binance combined-stream WebSocket endpoint.
	DefaultHost = "stream.binance.com:9443"
)

// Worker owns a single WebSocket subscription for one symbol, hosts that
// symbol's DepthSynchronizer, and sends keepalives.
type Worker struct {
	symbol  model.Symbol
	host    string
	dialer  *websocket.Dialer
	fetcher depth.SnapshotFetcher
	out     chan<- *model.OutputRecord
	log     zerolog.Logger

	// latest coalesces non-depth output: at most one pending record is ever
	// queued here, so backpressure drops this worker's own stale record
	// rather than another symbol's.
	latest chan *model.OutputRecord

	nowFn func() float64

	// dialURL, when set, overrides the computed wss:// URL. Used by tests
	// to point the worker at a local httptest/websocket.Upgrader server.
	dialURL string
}

// New creates a StreamWorker for symbol. fetcher is used by the symbol's
// DepthSynchronizer to fetch REST snapshots; out is the shared channel the
// WriterSink consumes.
func New(symbol model.Symbol, host string, fetcher depth.SnapshotFetcher, out chan<- *model.OutputRecord, log zerolog.Logger) *Worker {
	if host == "" {
		host = DefaultHost
	}
	return &Worker{
		symbol:  symbol,
		host:    host,
		dialer:  websocket.DefaultDialer,
		fetcher: fetcher,
		out:     out,
		log:     log.With().Str("component", "stream").Str("symbol", string(symbol)).Logger(),
		latest:  make(chan *model.OutputRecord, 1),
		nowFn:   func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
	}
}

func (w *Worker) now() float64 { return w.nowFn() }

// Run connects, pumps frames until error or cancellation, and reconnects
// (retrying a failed connect after a fixed delay), until ctx is cancelled or the symbol's
// DepthSynchronizer fails fatally (in which case Run returns that error
// so the Supervisor can respawn the symbol on its next tick).
func (w *Worker) Run(ctx context.Context) error {
	go w.forward(ctx)

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := w.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Error().Err(err).Msg("connect failed, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(connectRetryDelay):
				continue
			}
		}

		w.log.Info().Msg("connected")
		fatal := w.pump(ctx, conn)
		conn.Close()

		if fatal != nil {
			w.log.Error().Err(fatal).Msg("symbol failed fatally, worker exiting")
			return fatal
		}
		if ctx.Err() != nil {
			return nil
		}
		w.log.Warn().Msg("stream pump ended, reconnecting")
	}
}

func (w *Worker) connect(ctx context.Context) (*websocket.Conn, error) {
	streams := subscriptionsFor(string(w.symbol))
	target := w.dialURL
	if target == "" {
		u := url.URL{
			Scheme:   "wss",
			Host:     w.host,
			Path:     "/stream",
			RawQuery: "streams=" + strings.Join(streams, "/"),
		}
		target = u.String()
	}
	conn, _, err := w.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", w.symbol, err)
	}
	return conn, nil
}

// pump reads frames from one connection until it drops, the DepthSynchronizer
// fails fatally, or ctx is cancelled. It returns a non-nil error only for a
// fatal DepthSynchronizer failure; a dropped connection or clean
// cancellation both return nil so Run knows whether to reconnect.
func (w *Worker) pump(ctx context.Context, conn *websocket.Conn) error {
	depthUpdates := make(chan model.DepthUpdate, 64)

	syncCtx, syncCancel := context.WithCancel(ctx)
	defer syncCancel()

	synchronizer := depth.New(w.symbol, w.fetcher, w.out, w.log)
	syncErrCh := make(chan error, 1)
	go func() { syncErrCh <- synchronizer.Run(syncCtx, depthUpdates) }()

	var writeMu sync.Mutex
	sendControl := func(messageType int) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(messageType, nil, time.Now().Add(controlWriteWait))
	}

	// PING -> PONG only. PONG frames are logged and never answered with a
	// reciprocal PING (the source's PONG->PING symmetry was a bug).
	conn.SetPingHandler(func(string) error {
		return sendControl(websocket.PongMessage)
	})
	conn.SetPongHandler(func(string) error {
		w.log.Debug().Msg("received pong")
		return nil
	})

	go func() {
		ticker := time.NewTicker(keepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := sendControl(websocket.PongMessage); err != nil {
					return
				}
			case <-syncCtx.Done():
				return
			}
		}
	}()

	go func() {
		<-syncCtx.Done()
		conn.Close()
	}()

	readErrCh := make(chan error, 1)
	go func() {
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				readErrCh <- err
				return
			}
			if messageType != websocket.TextMessage {
				continue // binary frames are ignored
			}
			if err := w.dispatch(syncCtx, data, depthUpdates); err != nil {
				readErrCh <- err
				return
			}
		}
	}()

	var connErr error
	select {
	case connErr = <-readErrCh:
	case <-syncCtx.Done():
	}

	syncCancel()
	if fatal := <-syncErrCh; fatal != nil {
		return fatal
	}
	if ctx.Err() != nil {
		return nil
	}
	if connErr != nil {
		w.log.Warn().Err(connErr).Msg("connection dropped")
	}
	return nil
}

// emitDirect queues rec for the shared output channel, coalescing with any
// still-pending record for this worker under backpressure.
func (w *Worker) emitDirect(rec *model.OutputRecord) {
	for {
		select {
		case w.latest <- rec:
			return
		default:
		}
		select {
		case <-w.latest:
			w.log.Warn().Msg("dropped stale output record under backpressure")
		default:
		}
	}
}

// forward drains latest into the shared output channel for the lifetime
// of the worker (across reconnects).
func (w *Worker) forward(ctx context.Context) {
	for {
		select {
		case rec := <-w.latest:
			select {
			case w.out <- rec:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
