package compass

import (
	"github.com/pkg/errors"

	"github.com/xi-guo-0/Compass-Apache-TVM/driver"
	"github.com/xi-guo-0/Compass-Apache-TVM/types/tensors"
)

// checkLayout enforces the structural invariant every tensor crossing the
// device boundary must satisfy: a simple contiguous scalar value array. If
// this doesn't hold, byte-size validation against the parameter descriptors
// would be meaningless, so it runs before any other check.
func checkLayout(t *tensors.Tensor) error {
	if t == nil {
		return errors.Wrap(ErrInvalidTensorLayout, "tensor is nil")
	}
	if !t.IsContiguous() {
		return errors.Wrapf(ErrInvalidTensorLayout, "tensor %s is not contiguous", t)
	}
	if t.ByteOffset() != 0 {
		return errors.Wrapf(ErrInvalidTensorLayout, "tensor %s has byte offset %d", t, t.ByteOffset())
	}
	if t.Lanes() != 1 {
		return errors.Wrapf(ErrInvalidTensorLayout, "tensor %s has %d lanes", t, t.Lanes())
	}
	return nil
}

// checkLayouts applies checkLayout to args[start:start+count].
func checkLayouts(args []*tensors.Tensor, start, count int) error {
	for i := start; i < start+count; i++ {
		if err := checkLayout(args[i]); err != nil {
			return errors.WithMessagef(err, "argument #%d", i)
		}
	}
	return nil
}

// toTensors converts a flat packed argument list into tensor handles,
// enforcing the layout invariant on each.
func toTensors(args []any, start, count int) ([]*tensors.Tensor, error) {
	out := make([]*tensors.Tensor, 0, count)
	for i := start; i < start+count; i++ {
		t, ok := args[i].(*tensors.Tensor)
		if !ok {
			return nil, errors.Wrapf(ErrArgumentTypeMismatch,
				"argument #%d is %T, expected *tensors.Tensor", i, args[i])
		}
		if err := checkLayout(t); err != nil {
			return nil, errors.WithMessagef(err, "argument #%d", i)
		}
		out = append(out, t)
	}
	return out, nil
}

// checkAgainstParams validates each tensor's dtype -- and, unless checkSize
// is false, its byte size -- against the descriptor at the same position.
// The caller guarantees len(args) == len(params).
func checkAgainstParams(args []*tensors.Tensor, params []driver.ParamInfo, checkSize bool, kind string) error {
	for i, t := range args {
		if t.DType() != params[i].DType {
			return errors.Wrapf(ErrArgumentTypeMismatch,
				"%s #%d is %s, executable expects %s", kind, i, t.DType(), params[i].DType)
		}
		if checkSize && t.SizeBytes() != params[i].Size {
			return errors.Wrapf(ErrArgumentSizeMismatch,
				"%s #%d is %d bytes, executable expects %d", kind, i, t.SizeBytes(), params[i].Size)
		}
	}
	return nil
}
