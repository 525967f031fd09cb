package compass

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// WorkDirEnv is the environment variable overriding the base directory for
// per-function runtime scratch space (driver profiles, simulator spill
// files). When unset, a per-process unique directory under the system temp
// dir is used.
const WorkDirEnv = "COMPASS_RUNTIME_WORKDIR"

var (
	processWorkDirOnce sync.Once
	processWorkDir     string
)

// RuntimeWorkDir returns the scratch directory for the given function name,
// creating it if needed.
func RuntimeWorkDir(funcName string) (string, error) {
	base, found := os.LookupEnv(WorkDirEnv)
	if !found {
		processWorkDirOnce.Do(func() {
			processWorkDir = filepath.Join(os.TempDir(), "compass-"+uuid.NewString())
			klog.V(1).Infof("compass runtime work dir: %s", processWorkDir)
		})
		base = processWorkDir
	}
	dir := filepath.Join(base, funcName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create runtime work dir %s", dir)
	}
	return dir, nil
}
