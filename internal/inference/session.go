package inference

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
)

// Runner is a loaded model with bound input and output buffers. A Runner is
// not safe for concurrent use; share it through a SessionPool.
type Runner interface {
	InputData() []float32
	OutputData() []float32
	Run() error
	Destroy() error
}

// SessionSpec describes how to open a model file.
type SessionSpec struct {
	ModelPath   string
	InputName   string
	OutputName  string
	InputShape  []int64
	OutputShape []int64
	Threads     int
}

// ModelSession wraps an onnxruntime session together with the tensors it was
// bound to at creation time.
type ModelSession struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

func (m *ModelSession) InputData() []float32  { return m.Input.GetData() }
func (m *ModelSession) OutputData() []float32 { return m.Output.GetData() }

func (m *ModelSession) Run() error {
	return m.Session.Run()
}

func (m *ModelSession) Destroy() error {
	var err error
	if m.Session != nil {
		err = multierr.Append(err, m.Session.Destroy())
	}
	if m.Input != nil {
		err = multierr.Append(err, m.Input.Destroy())
	}
	if m.Output != nil {
		err = multierr.Append(err, m.Output.Destroy())
	}
	return err
}

// OpenSession loads spec.ModelPath into a new session. The runtime must
// already be initialized with InitRuntime.
func OpenSession(spec SessionSpec) (*ModelSession, error) {
	if _, err := os.Stat(spec.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "model file not found: %s", spec.ModelPath)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating session options")
	}
	defer options.Destroy()

	threads := spec.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if err := options.SetIntraOpNumThreads(threads); err != nil {
		return nil, errors.Wrap(err, "error setting intra-op threads")
	}
	if err := options.SetInterOpNumThreads(threads); err != nil {
		return nil, errors.Wrap(err, "error setting inter-op threads")
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.InputShape...))
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, errors.Wrap(err, "error creating output tensor")
	}

	session, err := ort.NewAdvancedSession(
		spec.ModelPath,
		[]string{spec.InputName},
		[]string{spec.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, errors.Wrap(err, "error creating session")
	}

	return &ModelSession{
		Session: session,
		Input:   inputTensor,
		Output:  outputTensor,
	}, nil
}
