package compass

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xi-guo-0/Compass-Apache-TVM/driver"
	"github.com/xi-guo-0/Compass-Apache-TVM/driver/simulator"
	"github.com/xi-guo-0/Compass-Apache-TVM/types/tensors"
	"github.com/xi-guo-0/Compass-Apache-TVM/types/xslices"
)

// End-to-end over the registered simulator driver, resolving operations by
// name the way a host executor does.
func TestSimulatorEndToEnd(t *testing.T) {
	t.Setenv(WorkDirEnv, t.TempDir())
	t.Setenv(driver.ConfigEnv, simulator.DriverName)

	bin, err := simulator.BuildArtifact(
		[]simulator.SlotSpec{{DType: dtypes.Int32, Dimensions: []int{8}}},
		[]simulator.SlotSpec{{DType: dtypes.Int32, Dimensions: []int{8}}})
	require.NoError(t, err)

	m, err := New(bin, "e2e_fn", "X2_1204", "4MiB")
	require.NoError(t, err)
	defer m.Finalize()

	in := tensors.FromFlatDataAndDimensions(xslices.Iota(int32(10), 8), 8)
	out := tensors.FromShape(dtypes.Int32, 8)

	run, ok := m.GetFunction("e2e_fn")
	require.True(t, ok)
	_, err = run(in, out)
	require.NoError(t, err)
	assert.Equal(t, xslices.Iota(int32(10), 8), tensors.CopyFlatData[int32](out))

	// Step-wise: set_inputs / execute / get_outputs by name.
	out2 := tensors.FromShape(dtypes.Int32, 8)
	for _, call := range []struct {
		name string
		args []any
	}{
		{"compass_set_inputs", []any{in}},
		{"compass_execute", nil},
		{"compass_get_outputs", []any{out2}},
	} {
		_, err = m.Call(call.name, call.args...)
		require.NoErrorf(t, err, "operation %q", call.name)
	}
	assert.Equal(t, xslices.Iota(int32(10), 8), tensors.CopyFlatData[int32](out2))
}

func TestSimulatorDynamicRunByName(t *testing.T) {
	t.Setenv(WorkDirEnv, t.TempDir())

	bin, err := simulator.BuildArtifact(
		[]simulator.SlotSpec{{DType: dtypes.Float32, Dimensions: []int{4}}},
		[]simulator.SlotSpec{{DType: dtypes.Float32, Dimensions: []int{4}}})
	require.NoError(t, err)

	simDrv, err := simulator.New("")
	require.NoError(t, err)
	m, err := New(bin, "dyn_fn", "X2_1204", "", WithDriver(simDrv))
	require.NoError(t, err)
	defer m.Finalize()

	in := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 3, 2)
	result, err := m.Call("compass_dynamic_run", in)
	require.NoError(t, err)
	single, ok := result.(*tensors.Tensor)
	require.True(t, ok)
	assert.Equal(t, []int{3, 2}, single.Dimensions())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, tensors.CopyFlatData[float32](single))

	// The refreshed descriptors govern subsequent static runs.
	info, err := m.GetParamInfo(0, true)
	require.NoError(t, err)
	assert.Equal(t, 24, info.Size)
}
