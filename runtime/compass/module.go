// Package compass implements the TVM-style runtime module that wraps one
// compiled AIPU executable.
//
// A Module owns the executable's identity (the binary payload, the name of
// the function it was compiled from, the target it was built for and a
// DTCM memory-size hint), a driver.Driver session bound to it, and the
// parameter descriptors queried from the driver at initialization. It
// exposes the executable to a host through named operations (see
// GetFunction) as well as through directly typed methods, validating every
// tensor argument against the descriptors before anything reaches the
// device.
//
// A Module is single-threaded by contract: the driver holds the bound
// input/output buffers between SetInputs and GetOutputs, so concurrent calls
// on the same Module would race on device state. Hosts wanting parallelism
// load one Module per executable and serialize access to each.
package compass

import (
	"slices"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/xi-guo-0/Compass-Apache-TVM/driver"
	"github.com/xi-guo-0/Compass-Apache-TVM/types/tensors"
)

// TypeKey identifies this module kind in serialized records.
const TypeKey = "aipu_compass"

// Module is the runtime module for one compiled AIPU executable.
//
// Create it with New or LoadFromBinary and release it with Finalize.
type Module struct {
	// Serialized identity. Immutable after construction.
	binary      []byte
	funcName    string
	target      string
	umdDtcmSize string

	// Session state, populated by init.
	drv         driver.Driver
	inParams    []driver.ParamInfo
	outParams   []driver.ParamInfo
	initialized bool
	finalized   bool

	// Injected collaborators and options.
	dumpFunc DumpFunc
	lazy     bool
}

// Option configures a Module at construction time.
type Option func(*Module)

// WithDriver injects the device driver session to use instead of building
// one from the driver registry (see driver.New).
func WithDriver(d driver.Driver) Option {
	return func(m *Module) { m.drv = d }
}

// WithDumpFunc injects a callback that persists input and output tensors
// around executions, for debugging.
func WithDumpFunc(f DumpFunc) Option {
	return func(m *Module) { m.dumpFunc = f }
}

// WithLazyInit defers driver creation and executable loading until the first
// operation. Useful when a module is deserialized only to be re-serialized
// or inspected, without a device (or simulator) available.
func WithLazyInit() Option {
	return func(m *Module) { m.lazy = true }
}

// New creates a Module wrapping the given executable binary. funcName is the
// name of the function the executable was compiled from (the module's run
// operation is also reachable under it), target the AIPU target it was built
// for, and umdDtcmSize an optional human-readable size hint for the Data
// Tightly Coupled Memory, used by the simulator.
//
// The binary is copied, so the Module is self-contained. Unless WithLazyInit
// is given, the driver session is established before New returns.
func New(bin []byte, funcName, target, umdDtcmSize string, opts ...Option) (*Module, error) {
	m := &Module{
		binary:      slices.Clone(bin),
		funcName:    funcName,
		target:      target,
		umdDtcmSize: umdDtcmSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	if !m.lazy {
		if err := m.init(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// init establishes the driver session and queries the parameter descriptors.
func (m *Module) init() error {
	workDir, err := RuntimeWorkDir(m.funcName)
	if err != nil {
		return err
	}
	if m.drv == nil {
		m.drv, err = driver.New()
		if err != nil {
			return errors.WithMessagef(err, "module %q: no driver available", m.funcName)
		}
	}
	if err = m.drv.Init(m.binary, workDir, m.target, m.umdDtcmSize, m.funcName); err != nil {
		return errors.WithMessagef(err, "module %q: driver failed to load executable", m.funcName)
	}
	m.inParams = m.drv.GetParamInfo(true)
	m.outParams = m.drv.GetParamInfo(false)
	m.initialized = true
	klog.V(1).Infof("compass module %q initialized: target=%s, %d inputs, %d outputs",
		m.funcName, m.target, len(m.inParams), len(m.outParams))
	return nil
}

// ensureInit runs the deferred initialization if needed.
func (m *Module) ensureInit() error {
	if err := m.CheckValid(); err != nil {
		return err
	}
	if m.initialized {
		return nil
	}
	return m.init()
}

// CheckValid returns an error if the module is nil or has been finalized.
func (m *Module) CheckValid() error {
	if m == nil {
		return errors.New("compass module is nil")
	}
	if m.finalized {
		return errors.Errorf("compass module %q already finalized", m.funcName)
	}
	return nil
}

// Finalize tears down the driver session and invalidates the module. Any
// shared buffers previously handed to the driver return to the host.
func (m *Module) Finalize() {
	if m == nil || m.finalized {
		return
	}
	if m.drv != nil && m.initialized {
		m.drv.Finalize()
	}
	m.drv = nil
	m.inParams = nil
	m.outParams = nil
	m.initialized = false
	m.finalized = true
}

// FuncName returns the name of the function the executable was compiled from.
func (m *Module) FuncName() string { return m.funcName }

// Target returns the AIPU target the executable was built for.
func (m *Module) Target() string { return m.target }

// UmdDtcmSize returns the DTCM memory-size hint, possibly empty.
func (m *Module) UmdDtcmSize() string { return m.umdDtcmSize }

// BinarySize returns the size of the executable binary in bytes.
func (m *Module) BinarySize() int { return len(m.binary) }

// FuncNames lists the function entry points this module provides.
func (m *Module) FuncNames() []string { return []string{m.funcName} }

// NumInputs returns the number of input slots of the loaded executable.
func (m *Module) NumInputs() (int, error) {
	if err := m.ensureInit(); err != nil {
		return 0, err
	}
	return len(m.inParams), nil
}

// NumOutputs returns the number of output slots of the loaded executable.
func (m *Module) NumOutputs() (int, error) {
	if err := m.ensureInit(); err != nil {
		return 0, err
	}
	return len(m.outParams), nil
}

// GetParamInfo returns the descriptor of input (or output) slot idx.
func (m *Module) GetParamInfo(idx int, isInput bool) (driver.ParamInfo, error) {
	if err := m.ensureInit(); err != nil {
		return driver.ParamInfo{}, err
	}
	params := m.outParams
	kind := "output"
	if isInput {
		params = m.inParams
		kind = "input"
	}
	if idx < 0 || idx >= len(params) {
		return driver.ParamInfo{}, errors.Wrapf(ErrIndexOutOfRange,
			"%s index %d, executable has %d %ss", kind, idx, len(params), kind)
	}
	return params[idx], nil
}

// SetInputs validates the given tensors against the input descriptors and
// copies them into the device input buffers.
func (m *Module) SetInputs(inputs ...*tensors.Tensor) error {
	if err := m.ensureInit(); err != nil {
		return err
	}
	if err := m.validateArgs(inputs, true, true); err != nil {
		return err
	}
	return m.drv.SetInputs(inputs)
}

// SetOutputs validates the given tensors against the output descriptors and
// binds them as result destinations.
func (m *Module) SetOutputs(outputs ...*tensors.Tensor) error {
	if err := m.ensureInit(); err != nil {
		return err
	}
	if err := m.validateArgs(outputs, false, true); err != nil {
		return err
	}
	return m.drv.SetOutputs(outputs)
}

// Execute triggers one synchronous inference pass. Arguments must have been
// bound beforehand with SetInputs/SetOutputs.
func (m *Module) Execute() error {
	if err := m.ensureInit(); err != nil {
		return err
	}
	return m.drv.Run()
}

// GetOutputs validates the given tensors like SetOutputs and retrieves the
// device results into them. It also feeds the dump callback (if configured)
// with the outputs and flushes the driver's profiling data.
func (m *Module) GetOutputs(outputs ...*tensors.Tensor) error {
	if err := m.ensureInit(); err != nil {
		return err
	}
	if err := m.validateArgs(outputs, false, true); err != nil {
		return err
	}
	return m.getOutputs(outputs)
}

// getOutputs retrieves already-validated output tensors, dumps them and
// flushes profile data. Shared by GetOutputs, Run, UnrestrictedRun and
// DynamicRun.
func (m *Module) getOutputs(outputs []*tensors.Tensor) error {
	if err := m.drv.GetOutputs(outputs); err != nil {
		return err
	}
	if err := m.dumpTensors(outputs, false); err != nil {
		return err
	}
	return m.drv.DumpProfileData()
}

// Run is the full-run entry point: the flat argument list carries the inputs
// followed by the outputs. After validating both groups it performs
// SetInputs, Execute and GetOutputs as one sequence.
func (m *Module) Run(args ...*tensors.Tensor) error {
	if err := m.ensureInit(); err != nil {
		return err
	}
	inCnt, outCnt := len(m.inParams), len(m.outParams)
	if len(args) != inCnt+outCnt {
		return errors.Wrapf(ErrArgumentCountMismatch,
			"%d arguments given, executable expects %d inputs + %d outputs", len(args), inCnt, outCnt)
	}
	inputs, outputs := args[:inCnt], args[inCnt:]
	if err := checkLayouts(args, 0, len(args)); err != nil {
		return err
	}
	if err := checkAgainstParams(inputs, m.inParams, true, "input"); err != nil {
		return err
	}
	if err := checkAgainstParams(outputs, m.outParams, true, "output"); err != nil {
		return err
	}
	if err := m.dumpTensors(inputs, true); err != nil {
		return err
	}
	if err := m.drv.SetInputs(inputs); err != nil {
		return err
	}
	if err := m.drv.Run(); err != nil {
		return err
	}
	return m.getOutputs(outputs)
}

// UnrestrictedRun is Run without descriptor validation: inCnt and outCnt
// declare how the flat argument list splits, and only that equation (and the
// structural tensor layout invariant) is checked.
//
// This is a deliberate trust boundary for callers that already validated
// shapes and dtypes themselves and want to skip the redundant checks; a
// wrong declaration reaches the device unchecked.
func (m *Module) UnrestrictedRun(inCnt, outCnt int, args ...*tensors.Tensor) error {
	if err := m.ensureInit(); err != nil {
		return err
	}
	if inCnt < 0 || outCnt < 0 || len(args) != inCnt+outCnt {
		return errors.Wrapf(ErrArgumentCountMismatch,
			"%d arguments given, caller declared %d inputs + %d outputs", len(args), inCnt, outCnt)
	}
	if err := checkLayouts(args, 0, len(args)); err != nil {
		return err
	}
	inputs, outputs := args[:inCnt], args[inCnt:]
	if err := m.drv.SetInputs(inputs); err != nil {
		return err
	}
	if err := m.drv.Run(); err != nil {
		return err
	}
	return m.getOutputs(outputs)
}

// DynamicRun executes an executable compiled with dynamic shapes. Inputs are
// validated by dtype only -- their sizes depend on the shapes of this
// particular call. After the pass both descriptor lists are refreshed from
// the driver, fresh host tensors are allocated with the reported output
// shapes, and results are retrieved into them.
func (m *Module) DynamicRun(inputs ...*tensors.Tensor) ([]*tensors.Tensor, error) {
	if err := m.ensureInit(); err != nil {
		return nil, err
	}
	if len(inputs) != len(m.inParams) {
		return nil, errors.Wrapf(ErrArgumentCountMismatch,
			"%d arguments given, executable expects %d inputs", len(inputs), len(m.inParams))
	}
	if err := checkLayouts(inputs, 0, len(inputs)); err != nil {
		return nil, err
	}
	// Only the dtype is checked: sizes are shape-dependent.
	if err := checkAgainstParams(inputs, m.inParams, false, "input"); err != nil {
		return nil, err
	}
	if err := m.drv.SetInputsWithDynamicShape(inputs); err != nil {
		return nil, err
	}
	if err := m.drv.Run(); err != nil {
		return nil, err
	}
	// The shapes may have changed, so the stale descriptors are replaced
	// wholesale before any of them is used to size result buffers.
	m.inParams = m.drv.GetParamInfo(true)
	m.outParams = m.drv.GetParamInfo(false)
	outputs := make([]*tensors.Tensor, len(m.outParams))
	for idx, param := range m.outParams {
		shape, err := m.drv.GetOutputShape(idx)
		if err != nil {
			return nil, errors.WithMessagef(err, "output #%d", idx)
		}
		outputs[idx] = tensors.FromShape(param.DType, shape...)
	}
	if err := m.getOutputs(outputs); err != nil {
		return nil, err
	}
	return outputs, nil
}

// validateArgs checks count, dtype and (optionally) size of args against the
// input or output descriptors, layout first.
func (m *Module) validateArgs(args []*tensors.Tensor, isInput, checkSize bool) error {
	params := m.outParams
	kind := "output"
	if isInput {
		params = m.inParams
		kind = "input"
	}
	if len(args) != len(params) {
		return errors.Wrapf(ErrArgumentCountMismatch,
			"%d %s arguments given, executable expects %d", len(args), kind, len(params))
	}
	if err := checkLayouts(args, 0, len(args)); err != nil {
		return err
	}
	return checkAgainstParams(args, params, checkSize, kind)
}
