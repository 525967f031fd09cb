package xslices

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap(t *testing.T) {
	count := 17
	in := make([]int, count)
	for ii := 0; ii < count; ii++ {
		in[ii] = ii
	}
	out := Map(in, func(v int) int32 { return int32(v + 1) })
	for ii := 0; ii < count; ii++ {
		assert.Equalf(t, int32(ii+1), out[ii], "element %d doesn't match", ii)
	}
}

func TestSliceWithValue(t *testing.T) {
	assert.Equal(t, []float32{3, 3, 3}, SliceWithValue(3, float32(3)))
	assert.Empty(t, SliceWithValue(0, 0))
}

func TestIota(t *testing.T) {
	assert.Equal(t, []int32{5, 6, 7, 8}, Iota(int32(5), 4))
	assert.Equal(t, []uint64{0, 1}, Iota(uint64(0), 2))
}
