// Package tensors implements the host-side tensor handle passed across the
// accelerator boundary.
//
// A Tensor is a dense multidimensional value with a DType (enumeration defined
// in github.com/gomlx/gopjrt/dtypes) and flat byte storage. It also carries the
// layout metadata of the handle it models (byte offset, element strides and
// lane width), so callers can describe views over pre-existing memory. The
// runtime only ever accepts the trivial layout -- contiguous, zero offset,
// single lane -- but the metadata must be representable for it to be rejected.
//
// Float16 values are backed by github.com/x448/float16.
package tensors

import (
	"fmt"
	"math"
	"strings"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"
)

// Tensor is a host-resident tensor handle.
//
// Create one with FromShape or FromFlatDataAndDimensions. The zero value is
// invalid.
type Tensor struct {
	dtype      dtypes.DType
	dimensions []int

	// Layout metadata. strides is nil for the default row-major contiguous
	// layout; lanes is the vector lane width of one element, 1 for plain
	// scalar element arrays.
	byteOffset int
	lanes      int
	strides    []int

	flat []byte
}

// FromShape returns a Tensor of the given dtype and dimensions, zero
// initialized. A scalar has no dimensions.
//
// It panics if the dtype is invalid or any dimension is <= 0.
func FromShape(dtype dtypes.DType, dimensions ...int) *Tensor {
	if dtype == dtypes.InvalidDType {
		exceptions.Panicf("tensors.FromShape: invalid dtype")
	}
	numElements := 1
	for _, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("tensors.FromShape(%s, %v): dimensions must be > 0", dtype, dimensions)
		}
		numElements *= dim
	}
	return &Tensor{
		dtype:      dtype,
		dimensions: append([]int(nil), dimensions...),
		lanes:      1,
		flat:       make([]byte, numElements*dtype.Size()),
	}
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, filled
// with the flattened values in data. The dtype is inferred from T.
//
// It panics if len(data) doesn't match the dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	t := FromShape(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != t.NumElements() {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions(%s): data size is %d, but dimensions hold %d elements",
			t, len(data), t.NumElements())
	}
	copy(FlatData[T](t), data)
	return t
}

// FromScalar creates a scalar (rank-0) tensor holding value.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	return FromFlatDataAndDimensions([]T{value})
}

// DType of the tensor elements.
func (t *Tensor) DType() dtypes.DType { return t.dtype }

// Dimensions of the tensor. The returned slice is owned by the tensor, don't modify.
func (t *Tensor) Dimensions() []int { return t.dimensions }

// Rank is the number of axes. Scalars have rank 0.
func (t *Tensor) Rank() int { return len(t.dimensions) }

// NumElements is the product of the dimensions -- 1 for scalars.
func (t *Tensor) NumElements() int {
	numElements := 1
	for _, dim := range t.dimensions {
		numElements *= dim
	}
	return numElements
}

// SizeBytes is the data size implied by the tensor metadata (elements *
// dtype size), independent of the underlying storage length.
func (t *Tensor) SizeBytes() int { return t.NumElements() * t.dtype.Size() }

// ByteOffset of the view into the underlying storage.
func (t *Tensor) ByteOffset() int { return t.byteOffset }

// Lanes is the vector lane width of one element. Plain element arrays have 1.
func (t *Tensor) Lanes() int { return t.lanes }

// Bytes returns the raw storage starting at the view's byte offset.
func (t *Tensor) Bytes() []byte { return t.flat[min(t.byteOffset, len(t.flat)):] }

// LayoutStrides returns the row-major element strides for the tensor
// dimensions. Handy when manipulating the flat data.
func (t *Tensor) LayoutStrides() []int {
	rank := t.Rank()
	if rank == 0 {
		return nil
	}
	strides := make([]int, rank)
	currentStride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		strides[axis] = currentStride
		currentStride *= t.dimensions[axis]
	}
	return strides
}

// IsContiguous reports whether the view's strides describe a dense row-major
// layout.
func (t *Tensor) IsContiguous() bool {
	if t.strides == nil {
		return true
	}
	expected := t.LayoutStrides()
	if len(t.strides) != len(expected) {
		return false
	}
	for axis, stride := range t.strides {
		// Axes of dimension 1 have no effect on the layout.
		if stride != expected[axis] && t.dimensions[axis] != 1 {
			return false
		}
	}
	return true
}

// WithByteOffset returns a view of t whose handle reports the given byte
// offset. The storage is shared with t.
func (t *Tensor) WithByteOffset(offset int) *Tensor {
	view := *t
	view.byteOffset = offset
	return &view
}

// WithLanes returns a view of t whose handle reports the given lane width.
func (t *Tensor) WithLanes(lanes int) *Tensor {
	view := *t
	view.lanes = lanes
	return &view
}

// WithStrides returns a view of t whose handle reports the given element
// strides, one per axis.
func (t *Tensor) WithStrides(strides ...int) *Tensor {
	view := *t
	view.strides = append([]int(nil), strides...)
	return &view
}

// FlatData returns the tensor data as a flat slice of its Go element type.
// The slice aliases the tensor storage.
//
// It panics if T doesn't match the tensor dtype.
func FlatData[T dtypes.Supported](t *Tensor) []T {
	dtype := dtypes.FromGenericsType[T]()
	if dtype != t.dtype {
		exceptions.Panicf("tensors.FlatData[%s]: tensor is %s", dtype, t.dtype)
	}
	numElements := t.NumElements()
	if numElements == 0 {
		return nil
	}
	data := t.flat[min(t.byteOffset, len(t.flat)):]
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(data))), numElements)
}

// CopyFlatData returns a copy of the tensor data as a flat slice.
func CopyFlatData[T dtypes.Supported](t *Tensor) []T {
	return append([]T(nil), FlatData[T](t)...)
}

// ToScalar returns the value of a rank-0 (or single-element) tensor.
func ToScalar[T dtypes.Supported](t *Tensor) T {
	return FlatData[T](t)[0]
}

// String implements fmt.Stringer, printing the dtype and dimensions, e.g.
// "(float32)[2 3]".
func (t *Tensor) String() string {
	if t == nil {
		return "(nil tensor)"
	}
	return fmt.Sprintf("(%s)%v", t.dtype, t.dimensions)
}

// DebugString prints the shape and up to maxElements element values, decoding
// the flat bytes per the dtype.
func (t *Tensor) DebugString(maxElements int) string {
	var sb strings.Builder
	sb.WriteString(t.String())
	sb.WriteString("{")
	n := min(t.NumElements(), maxElements)
	for i := range n {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(t.elementString(i))
	}
	if n < t.NumElements() {
		sb.WriteString(", ...")
	}
	sb.WriteString("}")
	return sb.String()
}

func (t *Tensor) elementString(i int) string {
	data := t.Bytes()
	size := t.dtype.Size()
	if (i+1)*size > len(data) {
		return "?"
	}
	elem := data[i*size:]
	switch t.dtype {
	case dtypes.Bool:
		return fmt.Sprintf("%v", elem[0] != 0)
	case dtypes.Int8:
		return fmt.Sprintf("%d", int8(elem[0]))
	case dtypes.Int16:
		return fmt.Sprintf("%d", int16(leUint16(elem)))
	case dtypes.Int32:
		return fmt.Sprintf("%d", int32(leUint32(elem)))
	case dtypes.Int64:
		return fmt.Sprintf("%d", int64(leUint64(elem)))
	case dtypes.Uint8:
		return fmt.Sprintf("%d", elem[0])
	case dtypes.Uint16:
		return fmt.Sprintf("%d", leUint16(elem))
	case dtypes.Uint32:
		return fmt.Sprintf("%d", leUint32(elem))
	case dtypes.Uint64:
		return fmt.Sprintf("%d", leUint64(elem))
	case dtypes.Float16:
		return fmt.Sprintf("%g", float16.Frombits(leUint16(elem)).Float32())
	case dtypes.Float32:
		return fmt.Sprintf("%g", math.Float32frombits(leUint32(elem)))
	case dtypes.Float64:
		return fmt.Sprintf("%g", math.Float64frombits(leUint64(elem)))
	default:
		return fmt.Sprintf("0x%x", elem[:size])
	}
}

func leUint16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leUint64(b []byte) uint64 {
	return uint64(leUint32(b)) | uint64(leUint32(b[4:]))<<32
}
