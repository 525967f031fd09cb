// Package driver defines the contract a device driver needs to implement to
// run compiled AIPU executables, and a registry of driver constructors.
//
// A Driver owns the live connection to the accelerator for one loaded
// executable: it binds host tensors to device buffers, triggers inference
// passes and reads results back. Implementations living outside this
// repository typically wrap the vendor user-mode driver; the in-tree
// driver/simulator package provides a pure-Go implementation for tests and
// development.
package driver

import (
	"os"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/xi-guo-0/Compass-Apache-TVM/types/tensors"
)

// ParamInfo describes one tensor slot of a loaded executable: the element
// dtype and the data size in bytes. These are the quantized inputs and
// outputs produced when the executable was compiled.
type ParamInfo struct {
	DType dtypes.DType
	Size  int
}

// Driver is the device-session contract consumed by runtime/compass.
//
// All tensor slices are borrowed for the duration of the call only. A Driver
// holds mutable device-side state (the bound input/output buffers), so a call
// sequence from SetInputs to GetOutputs assumes exclusive use; drivers are not
// required to be safe for concurrent calls.
type Driver interface {
	// Init loads the executable binary and prepares a device session.
	// workDir is a scratch directory the driver may write to (profiles,
	// simulator spill files). dtcmSize is a human-readable memory size hint
	// (e.g. "4MB"), possibly empty.
	Init(bin []byte, workDir, target, dtcmSize, funcName string) error

	// SetInputs copies the given host tensors into the device input buffers.
	SetInputs(inputs []*tensors.Tensor) error

	// SetOutputs binds the given host tensors as the destinations for results.
	SetOutputs(outputs []*tensors.Tensor) error

	// SetInputsWithDynamicShape is SetInputs for executables compiled with
	// dynamic shapes: the given tensors also redefine the input shapes, and
	// output shapes are only known after the next Run.
	SetInputsWithDynamicShape(inputs []*tensors.Tensor) error

	// SetInputSharedFDs binds input slots to dma-buf file descriptors, one
	// per slot. A value <= 0 means the slot is not shared.
	SetInputSharedFDs(fds []int32) error

	// SetInputSharedAddrs binds input slots to physical addresses, one per
	// slot. A value of 0 means the slot is not shared.
	SetInputSharedAddrs(addrs []uint64) error

	// MarkOutputSharedFDs declares output slots as shared dma-buf file
	// descriptors. A value <= 0 means the slot is not shared.
	MarkOutputSharedFDs(fds []int32) error

	// MarkOutputSharedAddrs declares output slots as shared physical
	// addresses. The all-ones value means the slot is not shared.
	MarkOutputSharedAddrs(addrs []uint64) error

	// Run executes one synchronous inference pass.
	Run() error

	// GetOutputs reads the device output buffers into the given host tensors.
	GetOutputs(outputs []*tensors.Tensor) error

	// GetParamInfo returns the descriptors of the input (or output) slots of
	// the currently loaded executable, in positional order.
	GetParamInfo(isInput bool) []ParamInfo

	// GetOutputShape returns the dimensions of output idx. For dynamic-shape
	// executables this is only meaningful after a Run.
	GetOutputShape(idx int) ([]int, error)

	// DumpProfileData flushes any profiling data collected by the device,
	// typically into workDir. A no-op if profiling isn't enabled.
	DumpProfileData() error

	// Finalize releases the device session. The Driver is invalid afterwards.
	Finalize()
}

// Constructor takes a driver-specific config string (optionally empty) and
// returns an uninitialized Driver.
type Constructor func(config string) (Driver, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register a driver constructor under the given name.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// DefaultConfig is the driver configuration to use if the environment
// variable is not set. See NewWithConfig for the format.
var DefaultConfig string

// ConfigEnv is the environment variable with the default driver
// configuration, formatted as "<driver_name>:<driver_configuration>".
const ConfigEnv = "COMPASS_DRIVER"

// New returns a Driver built from the default configuration: the ConfigEnv
// environment variable if set, otherwise DefaultConfig, otherwise the first
// registered driver with an empty configuration.
func New() (Driver, error) {
	if config, found := os.LookupEnv(ConfigEnv); found {
		return NewWithConfig(config)
	}
	return NewWithConfig(DefaultConfig)
}

// NewWithConfig builds a Driver from a configuration string formatted as
// "<driver_name>:<driver_configuration>". An empty driver name selects the
// first registered driver.
func NewWithConfig(config string) (Driver, error) {
	if len(registeredConstructors) == 0 {
		return nil, errors.Errorf(
			`no drivers registered -- import one, e.g. _ "github.com/xi-guo-0/Compass-Apache-TVM/driver/simulator"`)
	}
	name := firstRegistered
	driverConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		name = config[:idx]
		driverConfig = config[idx+1:]
	} else if config != "" {
		name = config
		driverConfig = ""
	}
	constructor, found := registeredConstructors[name]
	if !found {
		return nil, errors.Errorf("can't find driver %q for configuration %q", name, config)
	}
	return constructor(driverConfig)
}
