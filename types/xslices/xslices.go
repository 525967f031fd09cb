// Package xslices holds generic slice helpers used across the runtime.
package xslices

import "golang.org/x/exp/constraints"

// Map applies fn to each element of in and returns the resulting slice.
func Map[In, Out any](in []In, fn func(e In) Out) []Out {
	out := make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return out
}

// SliceWithValue returns a slice of the given size, filled with value.
func SliceWithValue[T any](size int, value T) []T {
	out := make([]T, size)
	for ii := range out {
		out[ii] = value
	}
	return out
}

// Iota returns a slice of the given size, filled with start, start+1, ....
func Iota[T constraints.Integer | constraints.Float](start T, size int) []T {
	out := make([]T, size)
	for ii := range out {
		out[ii] = start + T(ii)
	}
	return out
}
