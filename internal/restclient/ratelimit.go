package restclient

import (
	"context"
	"sync"
	"time"
)

// Binance's REST API meters usage in "request weight" rather than raw
// request count (a 1000-row depth snapshot costs far more than a kline
// poll). These mirror the weights published for the endpoints this client
// calls.
const (
	weightDepthSnapshot = 50
	weightTicker24h     = 40
	weightKlines        = 2
)

// unitInterval is the pacing budget per weight unit. The default
// SymbolSelector alone issues up to 101 weighted requests per selection
// round (1 ticker fetch + 100 kline fetches), so pacing per unit of
// weight — rather than per request — keeps a single expensive snapshot
// fetch from crowding out cheap kline polls.
const unitInterval = 2 * time.Millisecond

// requestPacer spaces outbound requests apart in proportion to their
// Binance request weight. It is unexported: callers outside this package
// have no business reaching into REST pacing, and this is not a general
// rate-limiting collaborator, just the budget for this client's own calls.
type requestPacer struct {
	mu       sync.Mutex
	lastCall time.Time
}

// wait blocks until a request costing weight units of budget is allowed to
// proceed, or ctx is cancelled.
func (p *requestPacer) wait(ctx context.Context, weight int) error {
	budget := time.Duration(weight) * unitInterval

	p.mu.Lock()
	elapsed := time.Since(p.lastCall)
	p.mu.Unlock()

	if elapsed < budget {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(budget - elapsed):
		}
	}

	p.mu.Lock()
	p.lastCall = time.Now()
	p.mu.Unlock()
	return nil
}
