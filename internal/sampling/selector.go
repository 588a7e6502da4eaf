package sampling

// Selector walks a frame stream and reports which frames to keep. It
// wraps Indices so callers can discard unselected frames as they scan
// and stop reading as soon as the last pick is in hand.
type Selector struct {
	picks []int
	next  int
}

// NewSelector plans the picks for a stream of n frames.
func NewSelector(n, stride, maxFrames int) *Selector {
	return &Selector{picks: Indices(n, stride, maxFrames)}
}

// Planned returns how many frames the selector intends to keep.
func (s *Selector) Planned() int { return len(s.picks) }

// Take reports whether the frame at index should be kept. Indices must
// be offered in increasing order. Picks the stream skipped past are
// abandoned so a short stream still terminates.
func (s *Selector) Take(index int) bool {
	for s.next < len(s.picks) && s.picks[s.next] < index {
		s.next++
	}
	if s.next < len(s.picks) && s.picks[s.next] == index {
		s.next++
		return true
	}
	return false
}

// Done reports whether every planned pick has been taken or passed.
func (s *Selector) Done() bool { return s.next >= len(s.picks) }
