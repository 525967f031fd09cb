package compass

import (
	"github.com/pkg/errors"
)

// Op enumerates the operations a Module exposes to a host. The set is closed:
// dispatch is a compile-time-checked switch rather than string comparison,
// and names only matter at the GetFunction boundary.
type Op int

const (
	OpSetInputs Op = iota
	OpSetOutputs
	OpExecute
	OpGetParamInfo
	OpGetOutputs
	OpSetInputShared
	OpMarkOutputShared
	OpRun
	OpUnrestrictedRun
	OpDynamicRun
)

// Public operation names, as hosts resolve them. OpRun is also reachable
// under the module's own function name.
var opNames = map[string]Op{
	"compass_set_inputs":         OpSetInputs,
	"compass_set_outputs":        OpSetOutputs,
	"compass_execute":            OpExecute,
	"compass_get_param_info":     OpGetParamInfo,
	"compass_get_outputs":        OpGetOutputs,
	"compass_set_input_shared":   OpSetInputShared,
	"compass_mark_output_shared": OpMarkOutputShared,
	"compass_run":                OpRun,
	"unrestrict_run":             OpUnrestrictedRun,
	"compass_dynamic_run":        OpDynamicRun,
}

// Function is an operation in packed form: a flat untyped argument list and a
// single untyped result. Operations without a result return nil. The typed
// Module methods carry the same behavior with real signatures; Function
// exists for hosts that resolve operations by name.
type Function func(args ...any) (any, error)

// GetFunction resolves an operation by name, returning a callable bound to
// this module. Unknown names resolve to (nil, false) rather than an error,
// so hosts can probe for optional operations.
//
// The returned Function borrows the module: it must not be invoked after
// Finalize.
func (m *Module) GetFunction(name string) (Function, bool) {
	if m == nil {
		return nil, false
	}
	op, ok := opNames[name]
	if !ok {
		if name == m.funcName {
			op = OpRun
		} else {
			return nil, false
		}
	}
	return m.function(op), true
}

// Call resolves name and invokes it with args. Unlike GetFunction, an
// unknown name is reported as ErrUnknownOperation.
func (m *Module) Call(name string, args ...any) (any, error) {
	fn, ok := m.GetFunction(name)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownOperation, "%q", name)
	}
	return fn(args...)
}

// function builds the packed form of op. The switch is exhaustive over the
// Op enumeration.
func (m *Module) function(op Op) Function {
	switch op {
	case OpSetInputs:
		return func(args ...any) (any, error) {
			ts, err := toTensors(args, 0, len(args))
			if err != nil {
				return nil, err
			}
			return nil, m.SetInputs(ts...)
		}
	case OpSetOutputs:
		return func(args ...any) (any, error) {
			ts, err := toTensors(args, 0, len(args))
			if err != nil {
				return nil, err
			}
			return nil, m.SetOutputs(ts...)
		}
	case OpExecute:
		return func(args ...any) (any, error) {
			return nil, m.Execute()
		}
	case OpGetParamInfo:
		return func(args ...any) (any, error) {
			if len(args) != 2 {
				return nil, errors.Wrapf(ErrArgumentCountMismatch,
					"compass_get_param_info takes (index, isInput), %d arguments given", len(args))
			}
			idx, ok := asInt(args[0])
			if !ok {
				return nil, errors.Wrapf(ErrArgumentTypeMismatch, "index is %T, expected an integer", args[0])
			}
			isInput, ok := args[1].(bool)
			if !ok {
				return nil, errors.Wrapf(ErrArgumentTypeMismatch, "isInput is %T, expected bool", args[1])
			}
			return m.GetParamInfo(idx, isInput)
		}
	case OpGetOutputs:
		return func(args ...any) (any, error) {
			ts, err := toTensors(args, 0, len(args))
			if err != nil {
				return nil, err
			}
			return nil, m.GetOutputs(ts...)
		}
	case OpSetInputShared:
		return func(args ...any) (any, error) {
			if len(args) != 1 {
				return nil, errors.Wrapf(ErrArgumentCountMismatch,
					"compass_set_input_shared takes one descriptor tensor, %d arguments given", len(args))
			}
			ts, err := toTensors(args, 0, 1)
			if err != nil {
				return nil, err
			}
			return nil, m.SetInputShared(ts[0])
		}
	case OpMarkOutputShared:
		return func(args ...any) (any, error) {
			if len(args) != 1 {
				return nil, errors.Wrapf(ErrArgumentCountMismatch,
					"compass_mark_output_shared takes one descriptor tensor, %d arguments given", len(args))
			}
			ts, err := toTensors(args, 0, 1)
			if err != nil {
				return nil, err
			}
			return nil, m.MarkOutputShared(ts[0])
		}
	case OpRun:
		return func(args ...any) (any, error) {
			ts, err := toTensors(args, 0, len(args))
			if err != nil {
				return nil, err
			}
			return nil, m.Run(ts...)
		}
	case OpUnrestrictedRun:
		return func(args ...any) (any, error) {
			if len(args) < 2 {
				return nil, errors.Wrapf(ErrArgumentCountMismatch,
					"unrestrict_run takes (inCnt, outCnt, tensors...), %d arguments given", len(args))
			}
			inCnt, okIn := asInt(args[0])
			outCnt, okOut := asInt(args[1])
			if !okIn || !okOut {
				return nil, errors.Wrapf(ErrArgumentTypeMismatch,
					"unrestrict_run counts are (%T, %T), expected integers", args[0], args[1])
			}
			if inCnt < 0 || outCnt < 0 || len(args)-2 != inCnt+outCnt {
				return nil, errors.Wrapf(ErrArgumentCountMismatch,
					"%d tensor arguments given, caller declared %d inputs + %d outputs",
					len(args)-2, inCnt, outCnt)
			}
			ts, err := toTensors(args, 2, len(args)-2)
			if err != nil {
				return nil, err
			}
			return nil, m.UnrestrictedRun(inCnt, outCnt, ts...)
		}
	case OpDynamicRun:
		return func(args ...any) (any, error) {
			ts, err := toTensors(args, 0, len(args))
			if err != nil {
				return nil, err
			}
			outputs, err := m.DynamicRun(ts...)
			if err != nil {
				return nil, err
			}
			// A single output is returned bare, multiple as a sequence.
			if len(outputs) == 1 {
				return outputs[0], nil
			}
			return outputs, nil
		}
	}
	return nil
}

// asInt accepts the integer widths a host is likely to pack indices with.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	}
	return 0, false
}
