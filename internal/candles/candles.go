// Package candles folds trade events into multi-timeframe OHLCV candles.
// Candles are a pure function of the event set: each trade becomes a
// one-trade candle, and Merge combines candles of the same bucket in any
// order without changing the result. Open and close stay correct under
// late or repaired data because every candle carries the stream ranks of
// the trades that set them.
package candles

import (
	"sort"

	"solana-trade-indexer/internal/domain"
)

type candleKey struct {
	mint      string
	timeframe int64
	bucket    int64
}

// FromTrade builds the single-trade candle of one event for a timeframe.
// The event must be a trade.
func FromTrade(ev *domain.NormalizedEvent, timeframeSecs int64) domain.Candle {
	rank := ev.Rank()
	tr := ev.Trade
	return domain.Candle{
		Mint:          ev.Mint,
		TimeframeSecs: timeframeSecs,
		BucketStart:   domain.BucketStart(ev.BlockTime, timeframeSecs),
		Open:          tr.Price,
		High:          tr.Price,
		Low:           tr.Price,
		Close:         tr.Price,
		VolumeToken:   tr.TokenAmount,
		VolumeQuote:   tr.QuoteAmount,
		TradeCount:    1,
		FirstRank:     rank,
		LastRank:      rank,
	}
}

// Merge folds src into dst. Both must describe the same mint, timeframe
// and bucket. Merging is commutative and associative over distinct ranks.
func Merge(dst *domain.Candle, src domain.Candle) {
	if src.FirstRank < dst.FirstRank {
		dst.Open = src.Open
		dst.FirstRank = src.FirstRank
	}
	if src.LastRank > dst.LastRank {
		dst.Close = src.Close
		dst.LastRank = src.LastRank
	}
	if src.High > dst.High {
		dst.High = src.High
	}
	if src.Low < dst.Low {
		dst.Low = src.Low
	}
	dst.VolumeToken += src.VolumeToken
	dst.VolumeQuote += src.VolumeQuote
	dst.TradeCount += src.TradeCount
}

// Aggregator accumulates candles across all configured timeframes. Not
// safe for concurrent use.
type Aggregator struct {
	timeframes []int64
	candles    map[candleKey]*domain.Candle
}

// New creates an aggregator. Empty timeframes fall back to the defaults.
func New(timeframes []int64) *Aggregator {
	if len(timeframes) == 0 {
		timeframes = domain.DefaultTimeframes
	}
	return &Aggregator{
		timeframes: timeframes,
		candles:    make(map[candleKey]*domain.Candle),
	}
}

// Apply folds one event into every timeframe. Non-trade events are
// ignored.
func (a *Aggregator) Apply(ev *domain.NormalizedEvent) {
	if ev.Kind != domain.EventKindTrade {
		return
	}
	for _, tf := range a.timeframes {
		c := FromTrade(ev, tf)
		key := candleKey{mint: c.Mint, timeframe: tf, bucket: c.BucketStart}
		if existing, ok := a.candles[key]; ok {
			Merge(existing, c)
		} else {
			clone := c
			a.candles[key] = &clone
		}
	}
}

// Candles returns the accumulated candles sorted by (mint, timeframe,
// bucket).
func (a *Aggregator) Candles() []domain.Candle {
	out := make([]domain.Candle, 0, len(a.candles))
	for _, c := range a.candles {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mint != out[j].Mint {
			return out[i].Mint < out[j].Mint
		}
		if out[i].TimeframeSecs != out[j].TimeframeSecs {
			return out[i].TimeframeSecs < out[j].TimeframeSecs
		}
		return out[i].BucketStart < out[j].BucketStart
	})
	return out
}

// Len returns the number of accumulated candles.
func (a *Aggregator) Len() int { return len(a.candles) }

// Reset clears the aggregator for the next batch.
func (a *Aggregator) Reset() {
	a.candles = make(map[candleKey]*domain.Candle)
}
