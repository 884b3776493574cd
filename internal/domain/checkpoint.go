package domain

// DefaultStreamID names the single-writer stream when no override is
// configured.
const DefaultStreamID = "mainnet"

// Checkpoint records the highest fully committed slot for a stream.
// Outside gap repair it only moves forward.
type Checkpoint struct {
	StreamID string
	Slot     int64
}
