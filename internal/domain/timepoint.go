package domain

// Bar is the opaque market payload carried by a TimePoint.
type Bar struct {
	TimestampMs int64   // Unix timestamp in milliseconds (bar open time)
	Open        float64 // opening price
	High        float64 // highest price during the bar
	Low         float64 // lowest price during the bar
	Close       float64 // closing (or last known) price
	Volume      float64 // traded volume so far
	Symbol      string  // instrument identifier
}

// TimePoint is one unit of input data in a feed sequence.
// A point is delivered zero or more times with IsFinalized=false
// (each delivery increments UpdateSeq) and exactly once with
// IsFinalized=true, after which it is immutable.
type TimePoint struct {
	Index       int64 // strictly increasing sequence index (0, 1, 2, ...)
	IsFinalized bool  // true once the point is confirmed and immutable
	UpdateSeq   int   // increments per provisional revision of the same index
	Bar         Bar   // market payload
}

// Clone returns a deep copy of the point.
func (tp *TimePoint) Clone() *TimePoint {
	cp := *tp
	return &cp
}
