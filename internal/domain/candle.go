package domain

// Candle is an OHLCV aggregate for one mint, timeframe and bucket.
// FirstRank/LastRank record the stream positions of the events that set
// Open and Close, so merging late or out-of-order partial candles keeps
// both correct.
type Candle struct {
	Mint          string
	TimeframeSecs int64  // bucket width in seconds
	BucketStart   int64  // Unix timestamp, multiple of TimeframeSecs
	Open          uint64 // price of the earliest trade by rank
	High          uint64
	Low           uint64
	Close         uint64 // price of the latest trade by rank
	VolumeToken   uint64 // summed token base units
	VolumeQuote   uint64 // summed quote base units
	TradeCount    int64
	FirstRank     int64 // rank of the trade that set Open
	LastRank      int64 // rank of the trade that set Close
}

// Default candle timeframes in seconds: 1m, 5m, 15m, 1h.
var DefaultTimeframes = []int64{60, 300, 900, 3600}

// BucketStart floors a block timestamp to its bucket boundary.
func BucketStart(blockTime, timeframeSecs int64) int64 {
	return blockTime - blockTime%timeframeSecs
}
