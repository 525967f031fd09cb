package compass

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/xi-guo-0/Compass-Apache-TVM/types/tensors"
)

// Zero-copy addressing modes. Different deployments expose device memory
// either through dma-buf file descriptors or raw physical addresses; the
// descriptor tensor's dtype selects between them.
type sharedMode int

const (
	sharedModeFD sharedMode = iota
	sharedModeAddr
)

// NotSharedAddrOutput is the sentinel an output physical-address descriptor
// carries for slots that are not shared. Input address descriptors use 0, and
// file-descriptor descriptors use any value <= 0.
const NotSharedAddrOutput = ^uint64(0)

// sharedModeOf decodes the addressing mode from the descriptor tensor dtype:
// int32 means file descriptors, uint64 means physical addresses. Any other
// dtype is a caller programming error.
func sharedModeOf(desc *tensors.Tensor) (sharedMode, error) {
	switch desc.DType() {
	case dtypes.Int32:
		return sharedModeFD, nil
	case dtypes.Uint64:
		return sharedModeAddr, nil
	default:
		return 0, errors.Wrapf(ErrArgumentTypeMismatch,
			"shared buffer descriptor is %s, must be int32 (fds) or uint64 (physical addresses)",
			desc.DType())
	}
}

// SetInputShared binds the executable inputs to shared memory, avoiding the
// host-to-device copy. The descriptor tensor holds one element per input
// slot: int32 file descriptors (<= 0 meaning not shared) or uint64 physical
// addresses (0 meaning not shared).
func (m *Module) SetInputShared(desc *tensors.Tensor) error {
	if err := m.ensureInit(); err != nil {
		return err
	}
	if err := checkLayout(desc); err != nil {
		return err
	}
	mode, err := sharedModeOf(desc)
	if err != nil {
		return err
	}
	if mode == sharedModeFD {
		return m.drv.SetInputSharedFDs(tensors.CopyFlatData[int32](desc))
	}
	return m.drv.SetInputSharedAddrs(tensors.CopyFlatData[uint64](desc))
}

// MarkOutputShared declares the executable outputs as shared memory, so the
// next module in a pipeline (or the host) can consume results without a
// device-to-host copy. The descriptor tensor holds one element per output
// slot: int32 file descriptors (<= 0 meaning not shared) or uint64 physical
// addresses (NotSharedAddrOutput meaning not shared).
func (m *Module) MarkOutputShared(desc *tensors.Tensor) error {
	if err := m.ensureInit(); err != nil {
		return err
	}
	if err := checkLayout(desc); err != nil {
		return err
	}
	mode, err := sharedModeOf(desc)
	if err != nil {
		return err
	}
	if mode == sharedModeFD {
		return m.drv.MarkOutputSharedFDs(tensors.CopyFlatData[int32](desc))
	}
	return m.drv.MarkOutputSharedAddrs(tensors.CopyFlatData[uint64](desc))
}
