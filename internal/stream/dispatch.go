package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arrowstream/binance-collector/internal/model"
)

// dispatch decodes a single inbound text frame and routes it according to
// the closed set of subscribed stream types. Depth diffs are handed to
// depthUpdates (consumed by the DepthSynchronizer); every other subscribed
// type is emitted directly as an OutputRecord. Unknown stream types are
// logged and dropped, never silently ignored.
func (w *Worker) dispatch(ctx context.Context, raw []byte, depthUpdates chan<- model.DepthUpdate) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		w.log.Warn().Err(err).Msg("malformed frame, dropping")
		return nil
	}

	at := strings.IndexByte(env.Stream, '@')
	if at < 0 {
		w.log.Warn().Str("stream", env.Stream).Msg("frame missing stream suffix, dropping")
		return nil
	}
	suffix := streamSuffix(env.Stream[at+1:])

	switch suffix {
	case suffixDepth:
		var payload depthPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			w.log.Warn().Err(err).Msg("malformed depth frame, dropping")
			return nil
		}
		du := model.DepthUpdate{
			FirstUpdateID: payload.FirstUpdateID,
			LastUpdateID:  payload.LastUpdateID,
			Raw:           raw,
		}
		select {
		case depthUpdates <- du:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("dispatch depth %s: %w", w.symbol, ctx.Err())
		}

	case suffixAggTrade, suffixTrade, suffixBookTicker, suffixKline1m, suffixTicker4h, suffixDepth20, suffixMarkPrice:
		w.emitDirect(&model.OutputRecord{Symbol: w.symbol, Timestamp: w.now(), Raw: raw})
		return nil

	default:
		w.log.Warn().Str("stream", env.Stream).Msg("unrecognised stream type, dropping")
		return nil
	}
}
