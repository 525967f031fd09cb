package compass

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackSourceEmbedded(t *testing.T) {
	t.Setenv(WorkDirEnv, t.TempDir())
	m, err := New([]byte{0xde, 0xad, 0xbe, 0xef}, "embed_fn", "X1_1204", "", WithDriver(newStubDriver()))
	require.NoError(t, err)
	defer m.Finalize()

	source := m.FallbackSource()
	assert.Contains(t, source, "uint8_t gbin[4] = {")
	assert.Contains(t, source, "0xde, 0xad, 0xbe, 0xef")
	assert.Contains(t, source, "TVM_DLL int32_t embed_fn(uint8_t* input_buffer_var, uint8_t* output_buffer_var)")
	assert.Contains(t, source, "aipu_start_single_graph(&graph_info);")
	assert.NotContains(t, source, "extern void* gbin;")
}

func TestFallbackSourceX2(t *testing.T) {
	m := newStubModule(t, newStubDriver()) // target X2_1204

	source := m.FallbackSource()
	assert.Contains(t, source, "extern void* gbin;")
	assert.NotContains(t, source, "uint8_t gbin[")

	dir := t.TempDir()
	cPath := filepath.Join(dir, "embed_fn.c")
	require.NoError(t, m.SaveFallbackToFile(cPath))

	written, err := os.ReadFile(cPath)
	require.NoError(t, err)
	assert.Equal(t, source, string(written))

	// X2 targets ship the graph binary next to the stub.
	bin, err := os.ReadFile(filepath.Join(dir, "aipu.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte("fake-binary"), bin)

	assert.Error(t, m.SaveFallbackToFile(filepath.Join(dir, "embed_fn.cpp")))
}
