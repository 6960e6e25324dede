package mediakit

// TimestampNormalizer rebases a track's timestamps to zero and forces them
// to be strictly increasing. One normalizer is kept per output track.
//
// The zero value is ready to use.
type TimestampNormalizer struct {
	origin  int64
	offset  int64
	last    int64
	rebased bool // origin recorded for the current segment
	emitted bool // at least one value returned
}

// Next maps a source timestamp (microseconds) onto the output timeline.
// The first value of a segment becomes its origin. The result is never
// negative and always greater than the previous result.
func (n *TimestampNormalizer) Next(candidate int64) int64 {
	if !n.rebased {
		n.origin = candidate
		n.rebased = true
	}
	v := candidate - n.origin + n.offset
	if v < 0 {
		v = 0
	}
	if n.emitted && v <= n.last {
		v = n.last + 1
	}
	n.last = v
	n.emitted = true
	return v
}

// Rebase starts a new segment placed at offset on the output timeline.
// The next candidate becomes the new origin; monotonicity across segments
// is preserved.
func (n *TimestampNormalizer) Rebase(offset int64) {
	n.offset = offset
	n.rebased = false
}

// Last returns the most recent value returned by Next and whether any
// value was returned yet.
func (n *TimestampNormalizer) Last() (int64, bool) {
	return n.last, n.emitted
}

// Reset returns the normalizer to its zero state.
func (n *TimestampNormalizer) Reset() {
	*n = TimestampNormalizer{}
}
