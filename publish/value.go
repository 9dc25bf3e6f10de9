package publish

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is either a scalar number or an ordered sequence of reading strings.
// The zero Value is the scalar 0.
type Value struct {
	scalar float64
	seq    []string
	isSeq  bool
}

// Scalar returns a scalar Value.
func Scalar(v float64) Value {
	return Value{scalar: v}
}

// Readings returns a sequence Value holding a copy of s.
func Readings(s []string) Value {
	return Value{seq: append([]string(nil), s...), isSeq: true}
}

// IsSequence reports whether v is a reading sequence.
func (v Value) IsSequence() bool { return v.isSeq }

// Float returns the scalar value; 0 for sequences.
func (v Value) Float() float64 { return v.scalar }

// Strings returns a copy of the readings; nil for scalars.
func (v Value) Strings() []string {
	if !v.isSeq {
		return nil
	}

	return append([]string(nil), v.seq...)
}

// Len returns the number of readings, or 1 for a scalar.
func (v Value) Len() int {
	if v.isSeq {
		return len(v.seq)
	}

	return 1
}

// Floats parses the value as numbers.
func (v Value) Floats() ([]float64, error) {
	if !v.isSeq {
		return []float64{v.scalar}, nil
	}

	out := make([]float64, len(v.seq))
	for i, s := range v.seq {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("publish: reading %d: %w", i, err)
		}
		out[i] = f
	}

	return out, nil
}

func (v Value) String() string {
	if v.isSeq {
		return "[" + strings.Join(v.seq, " ") + "]"
	}

	return strconv.FormatFloat(v.scalar, 'g', -1, 64)
}
