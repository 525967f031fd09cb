package compass

import (
	"github.com/pkg/errors"

	"github.com/xi-guo-0/Compass-Apache-TVM/types/tensors"
)

// DumpFunc persists tensor contents for debugging. It receives the module's
// function name, whether the tensors are inputs (true) or outputs (false),
// and the tensors themselves. Inject one with WithDumpFunc; when none is
// configured the dump paths are skipped entirely.
type DumpFunc func(funcName string, isInput bool, ts ...*tensors.Tensor) error

// dumpTensors invokes the configured dump callback, if any.
func (m *Module) dumpTensors(ts []*tensors.Tensor, isInput bool) error {
	if m.dumpFunc == nil {
		return nil
	}
	if err := m.dumpFunc(m.funcName, isInput, ts...); err != nil {
		return errors.WithMessagef(err, "dump callback failed for %q (isInput=%v)", m.funcName, isInput)
	}
	return nil
}
