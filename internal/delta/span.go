// Package delta encodes a sequence against its predecessor as replacement
// fragments, plus the packed 2-bit frame format and its log file.
//
// Both codecs share one span diff: walking the two sequences position by
// position, mismatches open a fragment and a run of at least minMatch equal
// elements closes it. Shorter equal runs are absorbed into the fragment since
// a new fragment header would cost more than it saves.
package delta

import (
	"errors"
	"fmt"
)

// MinMatchFloor is the smallest accepted minMatch. Below it the encoding
// could be longer than the input.
const MinMatchFloor = 3

var (
	// ErrLengthMismatch is returned when the current sequence is shorter than
	// the previous one.
	ErrLengthMismatch = errors.New("delta: current shorter than previous")

	// ErrCorrupt is returned when spans do not fit the previous sequence.
	ErrCorrupt = errors.New("delta: corrupt instructions")
)

// Span replaces len(Fragment) elements, Skip elements after the end of the
// previous span (or the start of the sequence).
type Span[T comparable] struct {
	Skip     int
	Fragment []T
}

// Diff returns the spans turning prev into cur. cur may be longer than prev
// (every extra element is a mismatch); shorter is ErrLengthMismatch.
// Equal inputs give no spans.
func Diff[T comparable](prev, cur []T, minMatch int) ([]Span[T], error) {
	if len(cur) < len(prev) {
		return nil, fmt.Errorf("%w: %d < %d", ErrLengthMismatch, len(cur), len(prev))
	}
	if minMatch < MinMatchFloor {
		minMatch = MinMatchFloor
	}

	var (
		spans   []Span[T]
		lastEnd int  // end of the previous emitted span
		start   = -1 // start of the open fragment
		end     int  // end of the last mismatch in the open fragment
	)

	flush := func() {
		spans = append(spans, Span[T]{Skip: start - lastEnd, Fragment: cur[start:end]})
		lastEnd = end
		start = -1
	}

	for i := range cur {
		if i < len(prev) && cur[i] == prev[i] {
			if start >= 0 && i-end+1 >= minMatch {
				flush()
			}
			continue
		}
		if start < 0 {
			start = i
		}
		end = i + 1
	}
	if start >= 0 {
		flush()
	}
	return spans, nil
}

// Apply rebuilds cur from prev and the spans produced by Diff.
func Apply[T comparable](prev []T, spans []Span[T]) ([]T, error) {
	out := make([]T, len(prev))
	copy(out, prev)

	pos := 0
	for i, s := range spans {
		if s.Skip < 0 {
			return nil, fmt.Errorf("%w: span %d has negative skip", ErrCorrupt, i)
		}
		pos += s.Skip
		if pos > len(out) {
			return nil, fmt.Errorf("%w: span %d starts at %d past length %d", ErrCorrupt, i, pos, len(out))
		}
		if grow := pos + len(s.Fragment) - len(out); grow > 0 {
			out = append(out, make([]T, grow)...)
		}
		copy(out[pos:], s.Fragment)
		pos += len(s.Fragment)
	}
	return out, nil
}
