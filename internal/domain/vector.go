package domain

import "math"

// Vector is a fixed-length embedding. Its dimension is fixed process-wide.
type Vector []float32

// Finite reports whether every component is a finite number.
func (v Vector) Finite() bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Clone returns a copy that does not share the backing array.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}
