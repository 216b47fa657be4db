// Package detections turns localization model output into candidate regions.
package detections

import (
	"context"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hydrolens/microscan/internal/inference"
	"github.com/hydrolens/microscan/internal/models"
)

// Config describes the proposer model's geometry and decoding parameters.
type Config struct {
	InputWidth       int
	InputHeight      int
	NumPredictions   int
	NumClasses       int
	NormalizedCoords bool
	ScoreFloor       float64
	IouThreshold     float64
	MaxDetections    int
	RetryAttempts    int
	RetryDelay       time.Duration
}

func DefaultConfig() Config {
	return Config{
		InputWidth:     InputWidth,
		InputHeight:    InputHeight,
		NumPredictions: NumPredictions,
		NumClasses:     NumClasses,
		ScoreFloor:     ScoreFloor,
		IouThreshold:   IouThreshold,
		MaxDetections:  MaxDetections,
		RetryAttempts:  RetryAttempts,
		RetryDelay:     RetryDelay,
	}
}

// SessionSpec returns the tensor layout the proposer expects of its model.
func (c Config) SessionSpec(modelPath string) inference.SessionSpec {
	return inference.SessionSpec{
		ModelPath:   modelPath,
		InputName:   "images",
		OutputName:  "output0",
		InputShape:  []int64{1, 3, int64(c.InputHeight), int64(c.InputWidth)},
		OutputShape: []int64{1, int64(4 + c.NumClasses), int64(c.NumPredictions)},
	}
}

// SessionSource hands out model sessions. *inference.SessionPool satisfies it.
type SessionSource interface {
	Acquire(ctx context.Context) (inference.Runner, error)
	Release(inference.Runner)
	Discard(inference.Runner)
}

// Proposer runs the localization model and returns candidates in
// source-image pixel space, highest confidence first.
type Proposer struct {
	sessions SessionSource
	cfg      Config
	logger   *zap.SugaredLogger
}

func NewProposer(sessions SessionSource, cfg Config, logger *zap.SugaredLogger) *Proposer {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	return &Proposer{sessions: sessions, cfg: cfg, logger: logger}
}

func (p *Proposer) Propose(ctx context.Context, img image.Image) ([]models.Candidate, error) {
	var lastErr error

	for attempt := 1; attempt <= p.cfg.RetryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		candidates, err := p.proposeOnce(ctx, img)
		if err == nil {
			return candidates, nil
		}
		lastErr = err
		p.logger.Warnw("proposer attempt failed", "attempt", attempt, "error", err)

		if attempt < p.cfg.RetryAttempts {
			time.Sleep(time.Duration(attempt) * p.cfg.RetryDelay)
		}
	}

	return nil, lastErr
}

func (p *Proposer) proposeOnce(ctx context.Context, img image.Image) ([]models.Candidate, error) {
	candidates, err := p.infer(ctx, img)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	candidates = nonMaxSuppression(candidates, p.cfg.IouThreshold, p.cfg.MaxDetections)
	if bounds.Min != (image.Point{}) {
		for i := range candidates {
			candidates[i].Box = offsetBox(candidates[i].Box, bounds.Min)
		}
	}
	return candidates, nil
}

// infer holds a pooled session only while the model runs and its output is
// decoded. A failed run or a panic discards the session; a panic is
// re-raised afterwards.
func (p *Proposer) infer(ctx context.Context, img image.Image) ([]models.Candidate, error) {
	session, err := p.sessions.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire proposer session")
	}
	broken := false
	defer func() {
		if r := recover(); r != nil {
			p.sessions.Discard(session)
			panic(r)
		}
		if broken {
			p.sessions.Discard(session)
			return
		}
		p.sessions.Release(session)
	}()

	resized := imaging.Resize(img, p.cfg.InputWidth, p.cfg.InputHeight, imaging.Linear)
	inference.PackCHW(resized, session.InputData())

	if err := session.Run(); err != nil {
		broken = true
		return nil, errors.Wrap(err, "model inference")
	}

	bounds := img.Bounds()
	candidates, err := decodePredictions(session.OutputData(), p.cfg, bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, errors.Wrap(err, "process predictions")
	}
	return candidates, nil
}

func offsetBox(b models.BBox, p image.Point) models.BBox {
	return models.BBox{X1: b.X1 + p.X, Y1: b.Y1 + p.Y, X2: b.X2 + p.X, Y2: b.Y2 + p.Y}
}
