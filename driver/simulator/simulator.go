// Package simulator implements a pure-Go driver.Driver that simulates an
// accelerator device. It is registered under the name "sim".
//
// The "executable" it loads is a gob-framed descriptor listing the input and
// output slots of the graph plus a builtin transform. The only transform is
// "copy": each output mirrors the input at the same position. That is enough
// to exercise every data path of the runtime -- copy in/out, shared buffers
// and dynamic shapes -- without device hardware.
package simulator

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/xi-guo-0/Compass-Apache-TVM/driver"
	"github.com/xi-guo-0/Compass-Apache-TVM/types/tensors"
)

// DriverName is the name this driver registers itself under.
const DriverName = "sim"

const artifactMagic = "AIPUSIM1"

// DefaultDTCMSize is the simulated Data Tightly Coupled Memory budget used
// when neither the module's memory hint nor the driver config provide one.
const DefaultDTCMSize = 4 << 20

func init() {
	driver.Register(DriverName, New)
}

// SlotSpec describes one input or output slot of a simulated executable.
type SlotSpec struct {
	DType      dtypes.DType
	Dimensions []int
}

// SizeBytes is the slot data size: product of dimensions times dtype size.
func (s SlotSpec) SizeBytes() int {
	n := s.DType.Size()
	for _, dim := range s.Dimensions {
		n *= dim
	}
	return n
}

type artifact struct {
	Magic     string
	Inputs    []SlotSpec
	Outputs   []SlotSpec
	Transform string
}

// BuildArtifact serializes a simulated executable with the given input and
// output slots and the "copy" transform. The result is what Driver.Init
// expects as the executable binary.
func BuildArtifact(inputs, outputs []SlotSpec) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	err := enc.Encode(artifact{
		Magic:     artifactMagic,
		Inputs:    inputs,
		Outputs:   outputs,
		Transform: "copy",
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to serialize simulator artifact")
	}
	return buf.Bytes(), nil
}

type slot struct {
	spec SlotSpec
	buf  []byte

	// Zero-copy binding, when the slot was marked shared.
	shared     bool
	sharedFD   int32
	sharedAddr uint64
}

// Driver is the simulated device session. Create it with New (or through
// driver.NewWithConfig("sim")); it is only usable after Init.
type Driver struct {
	workDir  string
	target   string
	funcName string

	dtcmBytes   uint64
	defaultDTCM uint64

	inSlots  []slot
	outSlots []slot
	runCount int
}

var _ driver.Driver = (*Driver)(nil)

// New creates an uninitialized simulator driver. The config string may carry
// a default DTCM size (e.g. "8MB") used when the module provides no hint.
func New(config string) (driver.Driver, error) {
	d := &Driver{defaultDTCM: DefaultDTCMSize}
	if config != "" {
		n, err := humanize.ParseBytes(config)
		if err != nil {
			return nil, errors.Wrapf(err, "simulator config %q: expected a memory size", config)
		}
		d.defaultDTCM = n
	}
	return d, nil
}

// Init implements driver.Driver.
func (d *Driver) Init(bin []byte, workDir, target, dtcmSize, funcName string) error {
	var art artifact
	if err := gob.NewDecoder(bytes.NewReader(bin)).Decode(&art); err != nil {
		return errors.Wrapf(err, "simulator: executable is not a simulator artifact")
	}
	if art.Magic != artifactMagic {
		return errors.Errorf("simulator: bad artifact magic %q", art.Magic)
	}
	if art.Transform != "copy" {
		return errors.Errorf("simulator: unsupported transform %q", art.Transform)
	}

	d.dtcmBytes = d.defaultDTCM
	if dtcmSize != "" {
		n, err := humanize.ParseBytes(dtcmSize)
		if err != nil {
			return errors.Wrapf(err, "simulator: bad DTCM size hint %q", dtcmSize)
		}
		d.dtcmBytes = n
	}

	var total uint64
	newSlots := func(specs []SlotSpec) []slot {
		slots := make([]slot, len(specs))
		for i, spec := range specs {
			slots[i] = slot{spec: spec, buf: make([]byte, spec.SizeBytes())}
			total += uint64(spec.SizeBytes())
		}
		return slots
	}
	inSlots := newSlots(art.Inputs)
	outSlots := newSlots(art.Outputs)
	if total > d.dtcmBytes {
		return errors.Errorf("simulator: executable %q needs %s of buffers, over the DTCM budget of %s",
			funcName, humanize.Bytes(total), humanize.Bytes(d.dtcmBytes))
	}

	d.workDir = workDir
	d.target = target
	d.funcName = funcName
	d.inSlots = inSlots
	d.outSlots = outSlots
	d.runCount = 0
	klog.V(1).Infof("simulator: loaded %q for target %q: %d inputs, %d outputs, %s of %s DTCM",
		funcName, target, len(inSlots), len(outSlots), humanize.Bytes(total), humanize.Bytes(d.dtcmBytes))
	return nil
}

func (d *Driver) checkInit() error {
	if d == nil || d.inSlots == nil && d.outSlots == nil {
		return errors.New("simulator: driver not initialized")
	}
	return nil
}

// SetInputs implements driver.Driver.
func (d *Driver) SetInputs(inputs []*tensors.Tensor) error {
	return d.copyIn(inputs, false)
}

// SetInputsWithDynamicShape implements driver.Driver: the given tensors
// redefine the input slot shapes, and output shapes are recomputed (for the
// copy transform, each output takes the shape of its positional input).
func (d *Driver) SetInputsWithDynamicShape(inputs []*tensors.Tensor) error {
	return d.copyIn(inputs, true)
}

func (d *Driver) copyIn(inputs []*tensors.Tensor, reshape bool) error {
	if err := d.checkInit(); err != nil {
		return err
	}
	if len(inputs) != len(d.inSlots) {
		return errors.Errorf("simulator: %d inputs given, executable has %d input slots",
			len(inputs), len(d.inSlots))
	}
	for i, in := range inputs {
		s := &d.inSlots[i]
		if reshape {
			s.spec = SlotSpec{DType: in.DType(), Dimensions: append([]int(nil), in.Dimensions()...)}
			s.buf = make([]byte, s.spec.SizeBytes())
		}
		copy(s.buf, in.Bytes()[:min(len(in.Bytes()), in.SizeBytes())])
	}
	if reshape {
		for i := range d.outSlots {
			s := &d.outSlots[i]
			if len(d.inSlots) > 0 {
				src := d.inSlots[i%len(d.inSlots)].spec
				s.spec.Dimensions = append([]int(nil), src.Dimensions...)
			}
			s.buf = make([]byte, s.spec.SizeBytes())
		}
	}
	return nil
}

// SetOutputs implements driver.Driver. The simulator copies results on
// GetOutputs, so binding destinations ahead of time is only a slot-count
// check.
func (d *Driver) SetOutputs(outputs []*tensors.Tensor) error {
	if err := d.checkInit(); err != nil {
		return err
	}
	if len(outputs) != len(d.outSlots) {
		return errors.Errorf("simulator: %d outputs given, executable has %d output slots",
			len(outputs), len(d.outSlots))
	}
	return nil
}

// Run implements driver.Driver: one synchronous pass of the copy transform.
func (d *Driver) Run() error {
	if err := d.checkInit(); err != nil {
		return err
	}
	for i := range d.outSlots {
		out := &d.outSlots[i]
		if out.shared {
			// The consumer owns the shared memory, nothing to materialize.
			continue
		}
		if len(d.inSlots) == 0 {
			continue
		}
		in := &d.inSlots[i%len(d.inSlots)]
		n := copy(out.buf, in.buf)
		for j := n; j < len(out.buf); j++ {
			out.buf[j] = 0
		}
	}
	d.runCount++
	return nil
}

// GetOutputs implements driver.Driver.
func (d *Driver) GetOutputs(outputs []*tensors.Tensor) error {
	if err := d.checkInit(); err != nil {
		return err
	}
	if len(outputs) != len(d.outSlots) {
		return errors.Errorf("simulator: %d outputs given, executable has %d output slots",
			len(outputs), len(d.outSlots))
	}
	for i, out := range outputs {
		data := out.Bytes()
		copy(data[:min(len(data), out.SizeBytes())], d.outSlots[i].buf)
	}
	return nil
}

// GetParamInfo implements driver.Driver.
func (d *Driver) GetParamInfo(isInput bool) []driver.ParamInfo {
	slots := d.outSlots
	if isInput {
		slots = d.inSlots
	}
	params := make([]driver.ParamInfo, len(slots))
	for i, s := range slots {
		params[i] = driver.ParamInfo{DType: s.spec.DType, Size: s.spec.SizeBytes()}
	}
	return params
}

// GetOutputShape implements driver.Driver.
func (d *Driver) GetOutputShape(idx int) ([]int, error) {
	if idx < 0 || idx >= len(d.outSlots) {
		return nil, errors.Errorf("simulator: output index %d out of range, executable has %d outputs",
			idx, len(d.outSlots))
	}
	return append([]int(nil), d.outSlots[idx].spec.Dimensions...), nil
}

// SetInputSharedFDs implements driver.Driver.
func (d *Driver) SetInputSharedFDs(fds []int32) error {
	return bindSharedFDs(d, d.inSlots, fds, "input")
}

// MarkOutputSharedFDs implements driver.Driver.
func (d *Driver) MarkOutputSharedFDs(fds []int32) error {
	return bindSharedFDs(d, d.outSlots, fds, "output")
}

func bindSharedFDs(d *Driver, slots []slot, fds []int32, kind string) error {
	if err := d.checkInit(); err != nil {
		return err
	}
	if len(fds) != len(slots) {
		return errors.Errorf("simulator: %d fds given, executable has %d %s slots", len(fds), len(slots), kind)
	}
	for i := range slots {
		slots[i].shared = fds[i] > 0
		slots[i].sharedFD = fds[i]
		slots[i].sharedAddr = 0
	}
	return nil
}

// SetInputSharedAddrs implements driver.Driver. An address of 0 marks the
// slot as not shared.
func (d *Driver) SetInputSharedAddrs(addrs []uint64) error {
	return bindSharedAddrs(d, d.inSlots, addrs, 0, "input")
}

// MarkOutputSharedAddrs implements driver.Driver. The all-ones address marks
// the slot as not shared.
func (d *Driver) MarkOutputSharedAddrs(addrs []uint64) error {
	return bindSharedAddrs(d, d.outSlots, addrs, ^uint64(0), "output")
}

func bindSharedAddrs(d *Driver, slots []slot, addrs []uint64, notShared uint64, kind string) error {
	if err := d.checkInit(); err != nil {
		return err
	}
	if len(addrs) != len(slots) {
		return errors.Errorf("simulator: %d addresses given, executable has %d %s slots",
			len(addrs), len(slots), kind)
	}
	for i := range slots {
		slots[i].shared = addrs[i] != notShared
		slots[i].sharedAddr = addrs[i]
		slots[i].sharedFD = 0
	}
	return nil
}

// DumpProfileData implements driver.Driver: writes a small run-count profile
// into the work dir, if one was given.
func (d *Driver) DumpProfileData() error {
	if d.workDir == "" {
		return nil
	}
	path := filepath.Join(d.workDir, "profile_data.txt")
	content := fmt.Sprintf("func=%s target=%s runs=%d\n", d.funcName, d.target, d.runCount)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return errors.Wrapf(err, "simulator: failed to dump profile data to %s", path)
	}
	return nil
}

// Finalize implements driver.Driver.
func (d *Driver) Finalize() {
	if d == nil {
		return
	}
	d.inSlots = nil
	d.outSlots = nil
	d.workDir = ""
}

// RunCount returns the number of inference passes executed since Init.
func (d *Driver) RunCount() int { return d.runCount }

// SharedBindings returns the recorded zero-copy bindings of the input or
// output slots, for inspection in tests.
func (d *Driver) SharedBindings(isInput bool) (shared []bool, fds []int32, addrs []uint64) {
	slots := d.outSlots
	if isInput {
		slots = d.inSlots
	}
	for _, s := range slots {
		shared = append(shared, s.shared)
		fds = append(fds, s.sharedFD)
		addrs = append(addrs, s.sharedAddr)
	}
	return
}
