package compass

import (
	"fmt"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xi-guo-0/Compass-Apache-TVM/driver"
	"github.com/xi-guo-0/Compass-Apache-TVM/types/tensors"
)

// stubState is one scripted descriptor configuration of the stub driver.
type stubState struct {
	inParams  []driver.ParamInfo
	outParams []driver.ParamInfo
	outShapes [][]int
}

// stubDriver is a scripted driver.Driver recording every call. Each
// SetInputsWithDynamicShape pops the next scripted state, modeling an
// executable whose shapes change across dynamic runs.
type stubDriver struct {
	stubState
	script []stubState

	calls      []string
	lastFDs    []int32
	lastAddrs  []uint64
	initCount  int
	runErr     error
	finalized  bool
}

var _ driver.Driver = (*stubDriver)(nil)

func (d *stubDriver) record(format string, args ...any) {
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
}

func (d *stubDriver) Init(bin []byte, workDir, target, dtcmSize, funcName string) error {
	d.initCount++
	d.record("Init(%s)", funcName)
	return nil
}

func (d *stubDriver) SetInputs(inputs []*tensors.Tensor) error {
	d.record("SetInputs(%d)", len(inputs))
	return nil
}

func (d *stubDriver) SetOutputs(outputs []*tensors.Tensor) error {
	d.record("SetOutputs(%d)", len(outputs))
	return nil
}

func (d *stubDriver) SetInputsWithDynamicShape(inputs []*tensors.Tensor) error {
	d.record("SetInputsWithDynamicShape(%d)", len(inputs))
	if len(d.script) > 0 {
		d.stubState = d.script[0]
		d.script = d.script[1:]
	}
	return nil
}

func (d *stubDriver) SetInputSharedFDs(fds []int32) error {
	d.record("SetInputSharedFDs")
	d.lastFDs = fds
	return nil
}

func (d *stubDriver) SetInputSharedAddrs(addrs []uint64) error {
	d.record("SetInputSharedAddrs")
	d.lastAddrs = addrs
	return nil
}

func (d *stubDriver) MarkOutputSharedFDs(fds []int32) error {
	d.record("MarkOutputSharedFDs")
	d.lastFDs = fds
	return nil
}

func (d *stubDriver) MarkOutputSharedAddrs(addrs []uint64) error {
	d.record("MarkOutputSharedAddrs")
	d.lastAddrs = addrs
	return nil
}

func (d *stubDriver) Run() error {
	d.record("Run")
	return d.runErr
}

func (d *stubDriver) GetOutputs(outputs []*tensors.Tensor) error {
	d.record("GetOutputs(%d)", len(outputs))
	return nil
}

func (d *stubDriver) GetParamInfo(isInput bool) []driver.ParamInfo {
	if isInput {
		return d.inParams
	}
	return d.outParams
}

func (d *stubDriver) GetOutputShape(idx int) ([]int, error) {
	if idx < 0 || idx >= len(d.outShapes) {
		return nil, errors.Errorf("no shape for output %d", idx)
	}
	return d.outShapes[idx], nil
}

func (d *stubDriver) DumpProfileData() error {
	d.record("DumpProfileData")
	return nil
}

func (d *stubDriver) Finalize() {
	d.finalized = true
	d.record("Finalize")
}

// newStubDriver returns a stub for an executable with one float32[2,3] input
// and one float32[2,3] output.
func newStubDriver() *stubDriver {
	return &stubDriver{
		stubState: stubState{
			inParams:  []driver.ParamInfo{{DType: dtypes.Float32, Size: 24}},
			outParams: []driver.ParamInfo{{DType: dtypes.Float32, Size: 24}},
			outShapes: [][]int{{2, 3}},
		},
	}
}

func newStubModule(t *testing.T, d *stubDriver, opts ...Option) *Module {
	t.Setenv(WorkDirEnv, t.TempDir())
	opts = append([]Option{WithDriver(d)}, opts...)
	m, err := New([]byte("fake-binary"), "stub_fn", "X2_1204", "4MB", opts...)
	require.NoError(t, err)
	return m
}

func TestGetFunction(t *testing.T) {
	m := newStubModule(t, newStubDriver())
	defer m.Finalize()

	for _, name := range []string{
		"compass_set_inputs", "compass_set_outputs", "compass_execute",
		"compass_get_param_info", "compass_get_outputs", "compass_set_input_shared",
		"compass_mark_output_shared", "compass_run", "unrestrict_run",
		"compass_dynamic_run",
	} {
		fn, ok := m.GetFunction(name)
		assert.Truef(t, ok, "operation %q should resolve", name)
		assert.NotNil(t, fn)
	}

	// The run operation is also reachable under the executable's own name.
	fn, ok := m.GetFunction("stub_fn")
	assert.True(t, ok)
	assert.NotNil(t, fn)

	fn, ok = m.GetFunction("no_such_operation")
	assert.False(t, ok)
	assert.Nil(t, fn)

	_, err := m.Call("no_such_operation")
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

func TestSetInputsValidation(t *testing.T) {
	d := newStubDriver()
	m := newStubModule(t, d)
	defer m.Finalize()
	good := tensors.FromShape(dtypes.Float32, 2, 3)

	require.NoError(t, m.SetInputs(good))

	err := m.SetInputs(good, good)
	assert.ErrorIs(t, err, ErrArgumentCountMismatch)
	err = m.SetInputs()
	assert.ErrorIs(t, err, ErrArgumentCountMismatch)
	err = m.SetInputs(tensors.FromShape(dtypes.Int32, 2, 3))
	assert.ErrorIs(t, err, ErrArgumentTypeMismatch)
	err = m.SetInputs(tensors.FromShape(dtypes.Float32, 2, 4))
	assert.ErrorIs(t, err, ErrArgumentSizeMismatch)

	// None of the failed calls may have reached the driver.
	assert.Equal(t, []string{"Init(stub_fn)", "SetInputs(1)"}, d.calls)
}

func TestGetParamInfo(t *testing.T) {
	m := newStubModule(t, newStubDriver())
	defer m.Finalize()

	info, err := m.GetParamInfo(0, true)
	require.NoError(t, err)
	assert.Equal(t, driver.ParamInfo{DType: dtypes.Float32, Size: 24}, info)

	_, err = m.GetParamInfo(-1, true)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = m.GetParamInfo(1, true)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = m.GetParamInfo(1, false)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	// Also through the packed form.
	result, err := m.Call("compass_get_param_info", 0, false)
	require.NoError(t, err)
	assert.Equal(t, driver.ParamInfo{DType: dtypes.Float32, Size: 24}, result)
}

func TestRunSequenceAndDump(t *testing.T) {
	d := newStubDriver()
	var dumped []string
	dump := func(funcName string, isInput bool, ts ...*tensors.Tensor) error {
		dumped = append(dumped, fmt.Sprintf("dump(%s, isInput=%v, %d)", funcName, isInput, len(ts)))
		return nil
	}
	m := newStubModule(t, d, WithDumpFunc(dump))
	defer m.Finalize()

	in := tensors.FromShape(dtypes.Float32, 2, 3)
	out := tensors.FromShape(dtypes.Float32, 2, 3)
	require.NoError(t, m.Run(in, out))

	assert.Equal(t, []string{
		"Init(stub_fn)", "SetInputs(1)", "Run", "GetOutputs(1)", "DumpProfileData",
	}, d.calls)
	assert.Equal(t, []string{
		"dump(stub_fn, isInput=true, 1)",
		"dump(stub_fn, isInput=false, 1)",
	}, dumped)

	// Re-running with the same argument shapes succeeds again.
	require.NoError(t, m.Run(in, out))

	// Count mismatch fails before anything reaches the driver.
	callsBefore := len(d.calls)
	assert.ErrorIs(t, m.Run(in), ErrArgumentCountMismatch)
	assert.Len(t, d.calls, callsBefore)
}

func TestUnrestrictedRun(t *testing.T) {
	d := newStubDriver()
	m := newStubModule(t, d)
	defer m.Finalize()

	// Deliberately "wrong" dtype and size: unrestrict_run doesn't validate
	// against the descriptors, only the declared counts.
	in := tensors.FromShape(dtypes.Int8, 5)
	out := tensors.FromShape(dtypes.Int8, 7)
	require.NoError(t, m.UnrestrictedRun(1, 1, in, out))

	assert.ErrorIs(t, m.UnrestrictedRun(1, 1, in), ErrArgumentCountMismatch)
	assert.ErrorIs(t, m.UnrestrictedRun(-1, 2, in), ErrArgumentCountMismatch)

	// Packed form: counts come first.
	_, err := m.Call("unrestrict_run", 1, 1, in, out)
	require.NoError(t, err)
	_, err = m.Call("unrestrict_run", 2, 1, in, out)
	assert.ErrorIs(t, err, ErrArgumentCountMismatch)
	_, err = m.Call("unrestrict_run", "one", 1, in, out)
	assert.ErrorIs(t, err, ErrArgumentTypeMismatch)
}

func TestDynamicRun(t *testing.T) {
	d := newStubDriver()
	// Script two dynamic executions with different resulting shapes.
	d.script = []stubState{
		{
			inParams:  []driver.ParamInfo{{DType: dtypes.Float32, Size: 40}},
			outParams: []driver.ParamInfo{{DType: dtypes.Float32, Size: 40}},
			outShapes: [][]int{{2, 5}},
		},
		{
			inParams:  []driver.ParamInfo{{DType: dtypes.Float32, Size: 12}},
			outParams: []driver.ParamInfo{{DType: dtypes.Float32, Size: 12}},
			outShapes: [][]int{{3}},
		},
	}
	m := newStubModule(t, d)
	defer m.Finalize()

	// Input size doesn't need to match the stale descriptor, only the dtype.
	outs, err := m.DynamicRun(tensors.FromShape(dtypes.Float32, 2, 5))
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, []int{2, 5}, outs[0].Dimensions())

	// The descriptors were refreshed.
	info, err := m.GetParamInfo(0, false)
	require.NoError(t, err)
	assert.Equal(t, 40, info.Size)

	// Second run changes shapes again; the packed form returns the single
	// output tensor bare.
	result, err := m.Call("compass_dynamic_run", tensors.FromShape(dtypes.Float32, 3))
	require.NoError(t, err)
	single, ok := result.(*tensors.Tensor)
	require.True(t, ok)
	assert.Equal(t, []int{3}, single.Dimensions())
	info, err = m.GetParamInfo(0, true)
	require.NoError(t, err)
	assert.Equal(t, 12, info.Size)

	// Dtype mismatches are still rejected up front.
	_, err = m.DynamicRun(tensors.FromShape(dtypes.Int32, 3))
	assert.ErrorIs(t, err, ErrArgumentTypeMismatch)
}

func TestLazyInit(t *testing.T) {
	d := newStubDriver()
	t.Setenv(WorkDirEnv, t.TempDir())
	m, err := New([]byte("fake-binary"), "lazy_fn", "X2_1204", "", WithDriver(d), WithLazyInit())
	require.NoError(t, err)
	defer m.Finalize()

	assert.Equal(t, 0, d.initCount)
	n, err := m.NumInputs()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, d.initCount)
}

func TestFinalize(t *testing.T) {
	d := newStubDriver()
	m := newStubModule(t, d)
	m.Finalize()
	assert.True(t, d.finalized)
	assert.Error(t, m.Execute())
	assert.Error(t, m.CheckValid())
	// Double finalize is a no-op.
	m.Finalize()

	var nilModule *Module
	assert.Error(t, nilModule.CheckValid())
	_, ok := nilModule.GetFunction("compass_run")
	assert.False(t, ok)
}

func TestFuncNamesAndIdentity(t *testing.T) {
	m := newStubModule(t, newStubDriver())
	defer m.Finalize()
	assert.Equal(t, []string{"stub_fn"}, m.FuncNames())
	assert.Equal(t, "stub_fn", m.FuncName())
	assert.Equal(t, "X2_1204", m.Target())
	assert.Equal(t, "4MB", m.UmdDtcmSize())
	assert.Equal(t, len("fake-binary"), m.BinarySize())
}
