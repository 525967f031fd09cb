package compass

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// FallbackSource renders a C source stub for targets that run the executable
// through the bare-metal single-graph driver API instead of this runtime:
// a function named after the module that hands the embedded binary plus the
// caller's input/output buffers to aipu_start_single_graph.
//
// For "X2"-prefixed targets the graph binary lives in a separate aipu.bin
// file (see SaveFallbackToFile) and the stub only declares it extern; other
// targets embed the binary as a byte array.
func (m *Module) FallbackSource() string {
	var code strings.Builder
	code.WriteString("#include \"tvm/runtime/c_runtime_api.h\"\n")
	code.WriteString("#include \"tvm/runtime/c_backend_api.h\"\n")
	code.WriteString("#include \"aipu_driver_wrapper.h\"\n")
	code.WriteString("#ifdef __cplusplus\n")
	code.WriteString("extern \"C\"\n")
	code.WriteString("#endif\n")

	if m.isX2Target() {
		code.WriteString("extern void* gbin;\n")
	} else {
		fmt.Fprintf(&code, "uint8_t gbin[%d] = {\n", len(m.binary))
		for i, b := range m.binary {
			fmt.Fprintf(&code, "0x%02x", b)
			if i != len(m.binary)-1 {
				code.WriteString(", ")
			}
			if i%16 == 15 {
				code.WriteString("\n")
			}
		}
		code.WriteString("};\n")
	}

	fmt.Fprintf(&code, "TVM_DLL int32_t %s", m.funcName)
	code.WriteString("(uint8_t* input_buffer_var, uint8_t* output_buffer_var) {\n")
	code.WriteString("  struct graph_run_info graph_info = {0};\n")
	code.WriteString("  aipu_run_result_t aipu_result = AIPU_RUN_ERROR;\n\n")
	code.WriteString("  graph_info.graph_addr = gbin;\n")
	code.WriteString("  graph_info.input0_addr = input_buffer_var;\n")
	code.WriteString("  graph_info.output_addr = output_buffer_var;\n")
	code.WriteString("  graph_info.run_times = 1;\n")
	code.WriteString("  graph_info.output_type = NOT_BATCH_OUTPUT;\n\n")
	code.WriteString("  aipu_result = aipu_start_single_graph(&graph_info);\n\n")
	code.WriteString("  return aipu_result != AIPU_RUN_RESULT_PASS;\n")
	code.WriteString("}\n")
	return code.String()
}

// SaveFallbackToFile writes the fallback C stub to fileName (which must have
// a ".c" extension). For "X2"-prefixed targets the executable binary is
// written alongside it as "aipu.bin".
func (m *Module) SaveFallbackToFile(fileName string) error {
	if filepath.Ext(fileName) != ".c" {
		return errors.Errorf("can only save fallback source to a .c file, got %q", fileName)
	}
	source := m.FallbackSource()
	if err := os.WriteFile(fileName, []byte(source), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write fallback source for module %q", m.funcName)
	}
	if m.isX2Target() {
		binPath := filepath.Join(filepath.Dir(fileName), "aipu.bin")
		if err := os.WriteFile(binPath, m.binary, 0o644); err != nil {
			return errors.Wrapf(err, "failed to write executable binary for module %q", m.funcName)
		}
	}
	return nil
}

func (m *Module) isX2Target() bool { return strings.HasPrefix(m.target, "X2") }
