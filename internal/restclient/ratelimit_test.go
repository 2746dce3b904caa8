package restclient

import (
	"context"
	"testing"
	"time"
)

func TestRequestPacerWaitsProportionallyToWeight(t *testing.T) {
	p := &requestPacer{}

	start := time.Now()
	if err := p.wait(context.Background(), weightKlines); err != nil {
		t.Fatalf("wait: %v", err)
	}
	first := time.Since(start)
	if first > time.Millisecond {
		t.Errorf("first call should not block, took %v", first)
	}

	start = time.Now()
	if err := p.wait(context.Background(), weightTicker24h); err != nil {
		t.Fatalf("wait: %v", err)
	}
	elapsed := time.Since(start)
	want := time.Duration(weightTicker24h) * unitInterval
	if elapsed < want/2 {
		t.Errorf("second call returned after %v, want roughly %v (weight %d)", elapsed, want, weightTicker24h)
	}
}

func TestRequestPacerHonorsContextCancellation(t *testing.T) {
	p := &requestPacer{lastCall: time.Now()}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := p.wait(ctx, weightDepthSnapshot)
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
}
