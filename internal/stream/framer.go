// Package stream reassembles the byte stream of a capture process into
// discrete decode units.
package stream

import (
	"bytes"
	"iter"
)

// Newline is the terminator used by line-delimited tool output.
const Newline = '\n'

// Framer splits chunks of a byte stream into units delimited by a terminator
// byte. Bytes after the last terminator are kept until a later chunk
// completes them. A Framer is not safe for concurrent use.
type Framer struct {
	terminator byte
	buf        []byte
}

// NewFramer returns a Framer splitting on terminator.
func NewFramer(terminator byte) *Framer {
	return &Framer{terminator: terminator}
}

// Feed appends chunk to the pending bytes and returns the complete units
// found so far, without their terminator. Units are produced lazily; the
// framer consumes a unit only when it is yielded, so a consumer that stops
// early leaves the rest for the next call. Blank units are skipped.
//
// The yielded slices are only valid until the next call to Feed or Flush.
func (f *Framer) Feed(chunk []byte) iter.Seq[[]byte] {
	f.buf = append(f.buf, chunk...)
	return func(yield func([]byte) bool) {
		for {
			i := bytes.IndexByte(f.buf, f.terminator)
			if i < 0 {
				f.compact()
				return
			}
			unit := f.buf[:i]
			f.buf = f.buf[i+1:]
			if len(bytes.TrimSpace(unit)) == 0 {
				continue
			}
			if !yield(unit) {
				return
			}
		}
	}
}

// Flush returns the unterminated tail and resets the framer. A non-empty
// result means the stream ended in the middle of a unit.
func (f *Framer) Flush() []byte {
	tail := bytes.TrimSpace(f.buf)
	f.buf = nil
	if len(tail) == 0 {
		return nil
	}
	return append([]byte(nil), tail...)
}

// Pending reports how many bytes are buffered waiting for a terminator.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Partial reports whether the buffered bytes hold the start of a non-blank
// unit. A blank tail is skipped once terminated, so it never becomes a unit.
func (f *Framer) Partial() bool {
	return len(bytes.TrimSpace(f.buf)) > 0
}

// compact moves the tail to the front of a fresh buffer so the consumed
// prefix can be collected.
func (f *Framer) compact() {
	if len(f.buf) == 0 {
		f.buf = nil
		return
	}
	if cap(f.buf)-len(f.buf) > 4*len(f.buf) {
		f.buf = append([]byte(nil), f.buf...)
	}
}
