// Package selector ranks USDT spot pairs by recent volume and amplitude to
// produce the small, rotating symbol set the Supervisor collects.
package selector

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/arrowstream/binance-collector/internal/model"
	"github.com/arrowstream/binance-collector/internal/restclient"
)

const (
	klineInterval = "3m"
	klineLimit    = 20
	topByVolume   = 100
	maxSelected   = 4

	// fallbackSymbol is appended when fewer than maxSelected symbols
	// qualify, so the collector is never left idle.
	fallbackSymbol = "bnbusdt"
)

// Ranked describes one symbol's standing in a selection round.
type Ranked struct {
	Symbol    model.Symbol
	Volume    float64
	Amplitude float64
}

// SymbolSelector produces the set of symbols the Supervisor should be
// collecting right now. Implementations may block on network I/O and must
// honor ctx cancellation.
type SymbolSelector interface {
	Select(ctx context.Context) ([]Ranked, error)
}

// tickerKlineSource is satisfied by *restclient.Client.
type tickerKlineSource interface {
	FetchTicker24h(ctx context.Context) ([]restclient.Ticker24h, error)
	FetchKlines(ctx context.Context, symbol model.Symbol, interval string, limit int) ([]restclient.Kline, error)
}

// VolumeAmplitudeSelector is the default SymbolSelector: it ranks the top
// USDT pairs by 24h quote volume, computes a 20x3m-kline rolling volume and
// amplitude for each, filters by the configured thresholds, and keeps the
// highest-amplitude survivors.
type VolumeAmplitudeSelector struct {
	rest         tickerKlineSource
	minVolume    float64
	minAmplitude float64
	maxAmplitude float64
	log          zerolog.Logger
}

// NewVolumeAmplitudeSelector creates the default selector. minVolume and
// minAmplitude come from configuration; maxAmplitude is fixed at 200,
// matching the source's hard-coded sanity ceiling.
func NewVolumeAmplitudeSelector(rest tickerKlineSource, minVolume, minAmplitude float64, log zerolog.Logger) *VolumeAmplitudeSelector {
	return &VolumeAmplitudeSelector{
		rest:         rest,
		minVolume:    minVolume,
		minAmplitude: minAmplitude,
		maxAmplitude: 200,
		log:          log.With().Str("component", "selector").Logger(),
	}
}

func (s *VolumeAmplitudeSelector) Select(ctx context.Context) ([]Ranked, error) {
	tickers, err := s.rest.FetchTicker24h(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch ticker24h: %w", err)
	}

	usdt := make([]restclient.Ticker24h, 0, len(tickers))
	for _, t := range tickers {
		if strings.HasSuffix(t.Symbol, "USDT") {
			usdt = append(usdt, t)
		}
	}
	sort.Slice(usdt, func(i, j int) bool {
		vi, _ := strconv.ParseFloat(usdt[i].QuoteVolume, 64)
		vj, _ := strconv.ParseFloat(usdt[j].QuoteVolume, 64)
		return vi > vj
	})
	if len(usdt) > topByVolume {
		usdt = usdt[:topByVolume]
	}

	var candidates []Ranked
	for _, t := range usdt {
		ranked, ok, err := s.rankOne(ctx, model.Symbol(strings.ToLower(t.Symbol)))
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("selection cancelled: %w", ctx.Err())
			}
			s.log.Warn().Err(err).Str("symbol", t.Symbol).Msg("skipping symbol, kline fetch failed")
			continue
		}
		if ok {
			candidates = append(candidates, ranked)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Amplitude > candidates[j].Amplitude
	})
	if len(candidates) > maxSelected {
		candidates = candidates[:maxSelected]
	}

	if len(candidates) < maxSelected {
		candidates = appendFallback(candidates)
	}

	return candidates, nil
}

func (s *VolumeAmplitudeSelector) rankOne(ctx context.Context, symbol model.Symbol) (Ranked, bool, error) {
	klines, err := s.rest.FetchKlines(ctx, symbol, klineInterval, klineLimit)
	if err != nil {
		return Ranked{}, false, err
	}
	if len(klines) < klineLimit {
		return Ranked{}, false, nil
	}
	if klines[0].Open == 0 {
		return Ranked{}, false, nil
	}

	high := klines[0].High
	low := klines[0].Low
	var volume float64
	for _, k := range klines {
		if k.High > high {
			high = k.High
		}
		if k.Low < low {
			low = k.Low
		}
		volume += k.Volume
	}
	amplitude := (high - low) / klines[0].Open * 100

	if volume <= s.minVolume || amplitude <= s.minAmplitude || amplitude >= s.maxAmplitude {
		return Ranked{}, false, nil
	}
	return Ranked{Symbol: symbol, Volume: volume, Amplitude: amplitude}, true, nil
}

func appendFallback(candidates []Ranked) []Ranked {
	for _, c := range candidates {
		if string(c.Symbol) == fallbackSymbol {
			return candidates
		}
	}
	return append(candidates, Ranked{Symbol: fallbackSymbol})
}
