package stream

import "iter"

// DecodeFunc turns one complete unit into a value.
type DecodeFunc[T any] func(unit []byte) (T, error)

// Decoder combines a Framer with a per-unit decode function.
type Decoder[T any] struct {
	framer *Framer
	decode DecodeFunc[T]
}

// NewDecoder returns a Decoder splitting on terminator and decoding each unit
// with decode.
func NewDecoder[T any](terminator byte, decode DecodeFunc[T]) *Decoder[T] {
	return &Decoder[T]{framer: NewFramer(terminator), decode: decode}
}

// Feed pushes chunk through the framer and yields one (value, error) pair per
// complete unit, in stream order. A failed unit yields its error and decoding
// carries on with the next unit.
func (d *Decoder[T]) Feed(chunk []byte) iter.Seq2[T, error] {
	units := d.framer.Feed(chunk)
	return func(yield func(T, error) bool) {
		for unit := range units {
			v, err := d.decode(unit)
			if !yield(v, err) {
				return
			}
		}
	}
}

// Flush returns the unterminated tail, if any. See Framer.Flush.
func (d *Decoder[T]) Flush() []byte {
	return d.framer.Flush()
}

// Pending reports the number of buffered bytes.
func (d *Decoder[T]) Pending() int {
	return d.framer.Pending()
}

// Partial reports whether a non-blank unit has started. See Framer.Partial.
func (d *Decoder[T]) Partial() bool {
	return d.framer.Partial()
}
