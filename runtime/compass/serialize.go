package compass

import (
	"encoding/gob"
	"os"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SaveToBinary writes the module identity as four sequential fields: the
// executable binary, the function name, the target and the DTCM size hint.
// LoadFromBinary reads them back in the same order.
func (m *Module) SaveToBinary(encoder *gob.Encoder) error {
	if err := m.CheckValid(); err != nil {
		return err
	}
	if err := encoder.Encode(m.binary); err != nil {
		return errors.Wrapf(err, "failed to write executable binary of module %q", m.funcName)
	}
	if err := encoder.Encode(m.funcName); err != nil {
		return errors.Wrapf(err, "failed to write function name of module %q", m.funcName)
	}
	if err := encoder.Encode(m.target); err != nil {
		return errors.Wrapf(err, "failed to write target of module %q", m.funcName)
	}
	if err := encoder.Encode(m.umdDtcmSize); err != nil {
		return errors.Wrapf(err, "failed to write DTCM size hint of module %q", m.funcName)
	}
	return nil
}

// LoadFromBinary reads a module identity written by SaveToBinary and
// initializes a fresh module from it (unless WithLazyInit is given, the
// driver session is established before returning).
//
// A missing or malformed field is fatal: the error wraps ErrFatalLoad and no
// partially constructed module is returned.
func LoadFromBinary(decoder *gob.Decoder, opts ...Option) (*Module, error) {
	var (
		bin                            []byte
		funcName, target, umdDtcmSize string
	)
	if err := decoder.Decode(&bin); err != nil {
		return nil, loadFailure("executable binary", err)
	}
	if err := decoder.Decode(&funcName); err != nil {
		return nil, loadFailure("function name", err)
	}
	if err := decoder.Decode(&target); err != nil {
		return nil, loadFailure("target", err)
	}
	if err := decoder.Decode(&umdDtcmSize); err != nil {
		return nil, loadFailure("DTCM size hint", err)
	}
	return New(bin, funcName, target, umdDtcmSize, opts...)
}

func loadFailure(field string, cause error) error {
	err := errors.Wrapf(ErrFatalLoad, "reading %s: %v", field, cause)
	klog.Errorf("%+v", err)
	return err
}

// Save serializes the module identity to a file.
func (m *Module) Save(filePath string) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating file %q to save module %q", filePath, m.funcName)
	}
	if err = m.SaveToBinary(gob.NewEncoder(f)); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "saving module %q to file %q", m.funcName, filePath)
	}
	return nil
}

// Load deserializes a module from a file written by Save.
func Load(filePath string, opts ...Option) (*Module, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(ErrFatalLoad, "opening module file %q: %v", filePath, err)
	}
	defer func() { _ = f.Close() }()
	return LoadFromBinary(gob.NewDecoder(f), opts...)
}
