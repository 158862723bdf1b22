package engine

// StreamResult is returned by a tool handler to switch the caller into
// streaming mode instead of a single success envelope. Next returns the
// next yielded value; when it returns (nil, nil, false) the sequence is
// done and Final holds the last returned value (the tagged union's
// Single(T) | Stream(LazySequence<T>) collapsed into one Go type since Go
// has no first-class coroutines).
type StreamResult struct {
	// Next yields the next item, or ok=false when exhausted. A non-nil
	// error ends the sequence with a single error envelope; consumers
	// never see both a value and an error for the same step.
	Next func() (value interface{}, err error, ok bool)
}

// NewSliceStream builds a StreamResult that yields each element of items
// in order, useful for handlers that already have all chunks in hand.
func NewSliceStream(items []interface{}) *StreamResult {
	i := 0
	return &StreamResult{
		Next: func() (interface{}, error, bool) {
			if i >= len(items) {
				return nil, nil, false
			}
			v := items[i]
			i++
			return v, nil, true
		},
	}
}

// NewChannelStream builds a StreamResult backed by a channel of items and
// an error channel consulted once the item channel closes.
func NewChannelStream(items <-chan interface{}, errc <-chan error) *StreamResult {
	return &StreamResult{
		Next: func() (interface{}, error, bool) {
			v, ok := <-items
			if !ok {
				select {
				case err := <-errc:
					return nil, err, false
				default:
					return nil, nil, false
				}
			}
			return v, nil, true
		},
	}
}
