// Package model holds the data types shared across the collector's
// components: depth synchronisation, stream dispatch, and persistence.
package model

// Symbol is an opaque lowercase trading pair identifier (e.g. "btcusdt"),
// used both as a subscription key and as an output filename prefix.
type Symbol string

// DepthUpdate is a decoded diff message from the <symbol>@depth stream.
//
// Exchange contract: successive in-order diffs satisfy
// next.FirstUpdateID == prev.LastUpdateID + 1.
type DepthUpdate struct {
	// FirstUpdateID is "U" in the wire message: the first update id covered.
	FirstUpdateID int64
	// LastUpdateID is "u" in the wire message: the last update id covered.
	LastUpdateID int64
	// Raw is the undecoded frame payload, preserved verbatim for persistence.
	Raw []byte
}

// Snapshot is a decoded full order-book page from the REST depth endpoint.
type Snapshot struct {
	LastUpdateID int64
	// Raw is the undecoded response body, preserved verbatim for persistence.
	Raw []byte
}

// OutputRecord is a single message destined for the WriterSink.
type OutputRecord struct {
	Symbol    Symbol
	Timestamp float64 // Unix seconds, fractional
	Raw       []byte
}
