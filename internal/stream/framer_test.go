package stream

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(f *Framer, chunks ...string) []string {
	var out []string
	for _, c := range chunks {
		for unit := range f.Feed([]byte(c)) {
			out = append(out, string(unit))
		}
	}
	return out
}

func TestFramer_Splits(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []string
		tail   string
	}{
		{
			name:   "single chunk many units",
			chunks: []string{"a\nbb\nccc\n"},
			want:   []string{"a", "bb", "ccc"},
		},
		{
			name:   "unit split mid-way",
			chunks: []string{`{"a":`, `1}` + "\n"},
			want:   []string{`{"a":1}`},
		},
		{
			name:   "empty chunks are harmless",
			chunks: []string{"", "x", "", "\n", ""},
			want:   []string{"x"},
		},
		{
			name:   "terminator alone in a chunk",
			chunks: []string{"one", "\n", "two", "\n"},
			want:   []string{"one", "two"},
		},
		{
			name:   "blank lines skipped",
			chunks: []string{"\n\n  \r\nz\n"},
			want:   []string{"z"},
		},
		{
			name:   "trailing partial kept",
			chunks: []string{"done\npart"},
			want:   []string{"done"},
			tail:   "part",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFramer(Newline)
			got := collect(f, tt.chunks...)
			if tt.want == nil {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, tt.want, got)
			}
			assert.Equal(t, tt.tail, string(f.Flush()))
			assert.Zero(t, f.Pending())
		})
	}
}

// Every way of cutting the stream must produce the same units.
func TestFramer_AnySplitYieldsSameUnits(t *testing.T) {
	units := []string{`{"n":1}`, `{"n":22,"s":"x y"}`, `{}`, `{"n":333}`}
	var stream string
	for _, u := range units {
		stream += u + "\n"
	}

	for size := 1; size <= len(stream); size++ {
		t.Run("size="+strconv.Itoa(size), func(t *testing.T) {
			f := NewFramer(Newline)
			var chunks []string
			for i := 0; i < len(stream); i += size {
				end := min(i+size, len(stream))
				chunks = append(chunks, stream[i:end], "")
			}
			assert.Equal(t, units, collect(f, chunks...))
			assert.Nil(t, f.Flush())
		})
	}

	// every single split point, two chunks
	for cut := 0; cut <= len(stream); cut++ {
		f := NewFramer(Newline)
		assert.Equal(t, units, collect(f, stream[:cut], stream[cut:]), "cut at %d", cut)
	}
}

func TestFramer_EarlyStopKeepsRemainingUnits(t *testing.T) {
	f := NewFramer(Newline)
	var first []string
	for unit := range f.Feed([]byte("a\nb\nc\n")) {
		first = append(first, string(unit))
		break
	}
	require.Equal(t, []string{"a"}, first)

	assert.Equal(t, []string{"b", "c", "d"}, collect(f, "d\n"))
}

func TestFramer_CustomTerminator(t *testing.T) {
	f := NewFramer(0)
	assert.Equal(t, []string{"x\ny", "z"}, collect(f, "x\ny\x00z", "\x00"))
}

func TestDecoder_ReportsBadUnitsAndContinues(t *testing.T) {
	d := NewDecoder(Newline, func(unit []byte) (int, error) {
		return strconv.Atoi(string(unit))
	})

	var vals []int
	var errs int
	for v, err := range d.Feed([]byte("1\nnope\n3\n4")) {
		if err != nil {
			var numErr *strconv.NumError
			assert.True(t, errors.As(err, &numErr))
			errs++
			continue
		}
		vals = append(vals, v)
	}
	assert.Equal(t, []int{1, 3}, vals)
	assert.Equal(t, 1, errs)
	assert.Equal(t, 1, d.Pending())
	assert.Equal(t, "4", string(d.Flush()))
}

func TestFramer_Partial(t *testing.T) {
	f := NewFramer(Newline)
	assert.False(t, f.Partial())

	assert.Empty(t, collect(f, " \t "))
	assert.Equal(t, 3, f.Pending())
	assert.False(t, f.Partial(), "whitespace never becomes a unit")

	assert.Empty(t, collect(f, `{"n"`))
	assert.True(t, f.Partial())

	assert.Equal(t, []string{" \t {\"n\":1}"}, collect(f, ":1}\n"))
	assert.False(t, f.Partial())
}
