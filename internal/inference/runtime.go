package inference

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// DefaultLibraryName returns the platform file name of the onnxruntime
// shared library.
func DefaultLibraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// InitRuntime points onnxruntime_go at libPath and initializes the
// environment. Call DestroyRuntime on shutdown.
func InitRuntime(libPath string) error {
	if libPath == "" {
		libPath = DefaultLibraryName()
	} else if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "onnxruntime library not found: %s", libPath)
	}
	if ort.IsInitialized() {
		return nil
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "failed to initialize ONNX environment")
	}
	return nil
}

func DestroyRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}
