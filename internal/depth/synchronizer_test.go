package depth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/arrowstream/binance-collector/internal/model"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	snap  *model.Snapshot
	err   error
	delay time.Duration
}

func (f *fakeFetcher) FetchSnapshot(ctx context.Context, symbol model.Symbol, limit int) (*model.Snapshot, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.snap, f.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func diff(u, uu int64) model.DepthUpdate {
	return model.DepthUpdate{FirstUpdateID: u, LastUpdateID: uu, Raw: []byte("diff")}
}

func snapshot(lastUpdateID int64) *model.Snapshot {
	return &model.Snapshot{LastUpdateID: lastUpdateID, Raw: []byte("snap")}
}

func runSynchronizer(t *testing.T, fetcher SnapshotFetcher) (updates chan model.DepthUpdate, out chan *model.OutputRecord, cancel func(), wait func() error) {
	t.Helper()
	updates = make(chan model.DepthUpdate, 64)
	out = make(chan *model.OutputRecord, 64)
	ctx, cancelFn := context.WithCancel(context.Background())
	s := New("btcusdt", fetcher, out, zerolog.Nop())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx, updates) }()

	return updates, out, cancelFn, func() error {
		select {
		case err := <-errCh:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("synchronizer did not stop in time")
			return nil
		}
	}
}

func recvRecord(t *testing.T, out chan *model.OutputRecord) *model.OutputRecord {
	t.Helper()
	select {
	case rec := <-out:
		return rec
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for output record")
		return nil
	}
}

func TestCleanStreamNoGaps(t *testing.T) {
	fetcher := &fakeFetcher{snap: snapshot(100)}
	updates, out, cancel, wait := runSynchronizer(t, fetcher)
	defer cancel()

	updates <- diff(101, 110)

	if rec := recvRecord(t, out); string(rec.Raw) != "snap" {
		t.Errorf("first record = %q, want snapshot", rec.Raw)
	}
	if rec := recvRecord(t, out); string(rec.Raw) != "diff" {
		t.Errorf("second record = %q, want diff", rec.Raw)
	}

	updates <- diff(111, 120)
	recvRecord(t, out)
	updates <- diff(121, 130)
	recvRecord(t, out)

	cancel()
	if err := wait(); err != nil {
		t.Errorf("Run returned %v, want nil", err)
	}
}

func TestPreSnapshotPrefixDiscarded(t *testing.T) {
	fetcher := &fakeFetcher{snap: snapshot(100), delay: 100 * time.Millisecond}
	updates, out, cancel, _ := runSynchronizer(t, fetcher)
	defer cancel()

	updates <- diff(50, 60)
	updates <- diff(61, 70)
	updates <- diff(95, 105)
	updates <- diff(106, 115)

	// Let all four diffs buffer before the snapshot resolves.
	time.Sleep(150 * time.Millisecond)

	recvRecord(t, out) // snapshot
	rec := recvRecord(t, out)
	if rec.Timestamp <= 0 {
		t.Errorf("record missing timestamp")
	}

	// First accepted diff must be (95,105): nothing else buffered before it
	// survives the bridging walk.
	recvRecord(t, out)

	select {
	case extra := <-out:
		t.Fatalf("unexpected extra record: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMidStreamGapReenters(t *testing.T) {
	fetcher := &fakeFetcher{snap: snapshot(100)}
	updates, out, cancel, _ := runSynchronizer(t, fetcher)
	defer cancel()

	updates <- diff(101, 130) // bridges immediately and sets prevU=130
	recvRecord(t, out)        // snapshot
	recvRecord(t, out)        // the bridging diff itself

	if fetcher.callCount() != 1 {
		t.Fatalf("calls = %d, want 1", fetcher.callCount())
	}

	// Gap: expected U=131, got U=140.
	updates <- diff(140, 150)

	// Re-entering reconciliation launches a second snapshot fetch.
	deadline := time.After(1 * time.Second)
	for fetcher.callCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("expected a second snapshot fetch after the gap")
		case <-time.After(5 * time.Millisecond):
		}
	}

	rec := recvRecord(t, out) // second snapshot (lastUpdateId still 100 in this fake)
	if string(rec.Raw) != "snap" {
		t.Errorf("expected snapshot record, got %q", rec.Raw)
	}
	// The fake returns lastUpdateId=100 again, so (140,150) does not bridge
	// it: it is skipped (140 > 101) and the walk waits for the next diff.
	select {
	case extra := <-out:
		t.Fatalf("unexpected record before a bridging diff arrives: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}

	updates <- diff(101, 139) // now bridges L=100 (101 <= 101 <= 139)
	recvRecord(t, out)
}

func TestSnapshotRetryWaitsForBridgingDiff(t *testing.T) {
	fetcher := &fakeFetcher{snap: snapshot(100)}
	updates, out, cancel, _ := runSynchronizer(t, fetcher)
	defer cancel()

	// Every buffered diff's u < L+1: the walk finds nothing, discards them,
	// and must retry every 500ms until a bridging diff shows up.
	updates <- diff(50, 60)
	updates <- diff(61, 70)

	select {
	case rec := <-out:
		if string(rec.Raw) != "snap" {
			t.Fatalf("unexpected record: %+v", rec)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for snapshot record")
	}

	select {
	case extra := <-out:
		t.Fatalf("no diff should be accepted yet: %+v", extra)
	case <-time.After(600 * time.Millisecond):
		// At least one 500ms retry tick has fired against the (now empty)
		// pending buffer with no ill effect.
	}

	updates <- diff(101, 110)
	recvRecord(t, out)
}

func TestSnapshotExhaustedFailsTheSymbol(t *testing.T) {
	fetcher := &fakeFetcher{err: context.DeadlineExceeded}
	updates, _, cancel, wait := runSynchronizer(t, fetcher)
	defer cancel()

	updates <- diff(1, 2)

	err := wait()
	if err == nil {
		t.Fatal("expected a fatal error")
	}
	var exhausted *SnapshotExhaustedError
	if !asSnapshotExhausted(err, &exhausted) {
		t.Fatalf("expected *SnapshotExhaustedError, got %T: %v", err, err)
	}
}

func TestPendingOverflowFailsTheSymbol(t *testing.T) {
	fetcher := &fakeFetcher{snap: snapshot(100), delay: 10 * time.Second}
	updates := make(chan model.DepthUpdate, DefaultMaxPending+10)
	out := make(chan *model.OutputRecord, DefaultMaxPending+10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New("btcusdt", fetcher, out, zerolog.Nop())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx, updates) }()

	for i := 0; i < DefaultMaxPending+5; i++ {
		updates <- diff(int64(i), int64(i))
	}

	select {
	case err := <-errCh:
		var overflow *PendingOverflowError
		if !asPendingOverflow(err, &overflow) {
			t.Fatalf("expected *PendingOverflowError, got %T: %v", err, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected overflow error")
	}
}

func asSnapshotExhausted(err error, target **SnapshotExhaustedError) bool {
	e, ok := err.(*SnapshotExhaustedError)
	if ok {
		*target = e
	}
	return ok
}

func asPendingOverflow(err error, target **PendingOverflowError) bool {
	e, ok := err.(*PendingOverflowError)
	if ok {
		*target = e
	}
	return ok
}
