// Package stream provides the bounded, deduplicating accumulator for
// backend job output lines.
package stream

import "unicode/utf8"

// MaxLineLen is the longest line kept verbatim; longer lines are cut and
// marked so the UI still shows something sensible.
const MaxLineLen = 4096

const truncationMarker = "...[truncated]"

// Buffer accumulates output lines for one run. It collapses immediate
// duplicates, truncates oversized lines, and evicts oldest-first once the
// cap is reached, preserving recency over completeness. Push never fails.
type Buffer struct {
	cap   int
	lines []string
}

// NewBuffer creates a buffer holding at most cap lines.
func NewBuffer(cap int) *Buffer {
	if cap <= 0 {
		cap = 1
	}
	return &Buffer{cap: cap}
}

// Push appends a line. A line identical to the immediately preceding one
// is dropped.
func (b *Buffer) Push(line string) {
	if len(line) > MaxLineLen {
		// back off to a rune start so the cut never leaves a partial
		// multi-byte sequence
		cut := MaxLineLen
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		line = line[:cut] + truncationMarker
	}
	if n := len(b.lines); n > 0 && b.lines[n-1] == line {
		return
	}
	if len(b.lines) >= b.cap {
		// FIFO eviction; shift rather than reslice so the backing array
		// does not grow without bound.
		copy(b.lines, b.lines[1:])
		b.lines = b.lines[:b.cap-1]
	}
	b.lines = append(b.lines, line)
}

// Lines returns a copy of the buffered lines in arrival order.
func (b *Buffer) Lines() []string {
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Len returns the number of buffered lines.
func (b *Buffer) Len() int { return len(b.lines) }

// Reset discards all buffered lines.
func (b *Buffer) Reset() { b.lines = b.lines[:0] }
