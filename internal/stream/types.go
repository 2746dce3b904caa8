package stream

import (
	"encoding/json"
	"fmt"
)

// streamSuffix identifies a subscribed stream type by the token that
// follows "<symbol>@" in both the subscription name and the inbound
// envelope's stream field.
type streamSuffix string

const (
	suffixDepth      streamSuffix = "depth@1000ms"
	suffixDepth20    streamSuffix = "depth20@1000ms"
	suffixAggTrade   streamSuffix = "aggTrade"
	suffixTrade      streamSuffix = "trade"
	suffixBookTicker streamSuffix = "bookTicker"
	suffixKline1m    streamSuffix = "kline_1m"
	suffixTicker4h   streamSuffix = "ticker_4h"
	// suffixMarkPrice is dispatched (see dispatch.go) but never subscribed:
	// spot markets do not publish mark price. Kept as documented dead code
	// so a futures-market extension has a home without reshaping the switch.
	suffixMarkPrice streamSuffix = "markPrice"
)

// subscriptionsFor returns the bit-exact stream names subscribed for
// symbol, in a stable order.
func subscriptionsFor(symbol string) []string {
	return []string{
		fmt.Sprintf("%s@%s", symbol, suffixDepth),
		fmt.Sprintf("%s@%s", symbol, suffixAggTrade),
		fmt.Sprintf("%s@%s", symbol, suffixTrade),
		fmt.Sprintf("%s@%s", symbol, suffixBookTicker),
		fmt.Sprintf("%s@%s", symbol, suffixKline1m),
		fmt.Sprintf("%s@%s", symbol, suffixTicker4h),
		fmt.Sprintf("%s@%s", symbol, suffixDepth20),
	}
}

// envelope is the top-level shape of every combined-stream text frame.
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// depthPayload decodes the fields of a depth-diff data object needed for
// sequencing; the frame's raw bytes are preserved separately for
// persistence.
type depthPayload struct {
	FirstUpdateID int64 `json:"U"`
	LastUpdateID  int64 `json:"u"`
}
