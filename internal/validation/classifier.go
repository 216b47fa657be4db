package validation

import (
	"context"
	"image"

	"github.com/montanaflynn/stats"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/hydrolens/microscan/internal/inference"
)

// Classifier scores a crop and returns one probability per class.
type Classifier interface {
	Classify(ctx context.Context, crop image.Image) ([]float64, error)
}

// SessionSource hands out classifier sessions.
type SessionSource interface {
	Acquire(ctx context.Context) (inference.Runner, error)
	Release(inference.Runner)
	Discard(inference.Runner)
}

// ClassifierConfig is the binary classifier's input geometry and output
// handling. Outputs are logits unless OutputIsProbability is set.
type ClassifierConfig struct {
	InputWidth          int
	InputHeight         int
	NumClasses          int
	OutputIsProbability bool
}

func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{InputWidth: 128, InputHeight: 128, NumClasses: 2}
}

func (c ClassifierConfig) SessionSpec(modelPath string) inference.SessionSpec {
	return inference.SessionSpec{
		ModelPath:   modelPath,
		InputName:   "input",
		OutputName:  "output",
		InputShape:  []int64{1, 3, int64(c.InputHeight), int64(c.InputWidth)},
		OutputShape: []int64{1, int64(c.NumClasses)},
	}
}

// ONNXClassifier runs a pooled onnxruntime session over resized crops.
type ONNXClassifier struct {
	sessions SessionSource
	cfg      ClassifierConfig
}

func NewONNXClassifier(sessions SessionSource, cfg ClassifierConfig) *ONNXClassifier {
	return &ONNXClassifier{sessions: sessions, cfg: cfg}
}

func (c *ONNXClassifier) Classify(ctx context.Context, crop image.Image) ([]float64, error) {
	raw, err := c.infer(ctx, crop)
	if err != nil {
		return nil, err
	}

	if c.cfg.OutputIsProbability {
		return raw, nil
	}
	probs, err := stats.SoftMax(raw)
	if err != nil {
		return nil, errors.Wrap(err, "softmax")
	}
	return probs, nil
}

// infer returns the session to the pool on every path. A failed run or a
// panic discards it; the panic is then re-raised for the caller to recover.
func (c *ONNXClassifier) infer(ctx context.Context, crop image.Image) (stats.Float64Data, error) {
	session, err := c.sessions.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire classifier session")
	}
	broken := false
	defer func() {
		if r := recover(); r != nil {
			c.sessions.Discard(session)
			panic(r)
		}
		if broken {
			c.sessions.Discard(session)
			return
		}
		c.sessions.Release(session)
	}()

	resized := resize.Resize(uint(c.cfg.InputWidth), uint(c.cfg.InputHeight), crop, resize.Bilinear)
	inference.PackCHW(resized, session.InputData())

	if err := session.Run(); err != nil {
		broken = true
		return nil, errors.Wrap(err, "classifier inference")
	}

	out := session.OutputData()
	raw := make(stats.Float64Data, len(out))
	for i, v := range out {
		raw[i] = float64(v)
	}
	return raw, nil
}
