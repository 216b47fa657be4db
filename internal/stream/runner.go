package stream

import (
	"bytes"
	"context"
	"image"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/hydrolens/microscan/internal/models"
	"github.com/hydrolens/microscan/internal/pipeline"
)

type State int32

const (
	StateWaiting State = iota
	StateProcessingFrame
	StateEmittingResult
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateProcessingFrame:
		return "PROCESSING_FRAME"
	case StateEmittingResult:
		return "EMITTING_RESULT"
	default:
		return "UNKNOWN"
	}
}

const (
	DefaultRetryAttempts = 5
	DefaultRetryBackoff  = 100 * time.Millisecond
	DefaultJPEGQuality   = 80
)

// FrameProcessor is the per-frame detection step. *pipeline.Pipeline
// satisfies it.
type FrameProcessor interface {
	Process(ctx context.Context, img image.Image) (*pipeline.Result, error)
}

type RunnerConfig struct {
	RetryAttempts int
	RetryBackoff  time.Duration
	JPEGQuality   int
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		RetryAttempts: DefaultRetryAttempts,
		RetryBackoff:  DefaultRetryBackoff,
		JPEGQuality:   DefaultJPEGQuality,
	}
}

// Runner moves through WAITING, PROCESSING_FRAME and EMITTING_RESULT for
// every frame the source yields. It has no terminal state and stops only
// when its context is cancelled.
type Runner struct {
	source    Source
	processor FrameProcessor
	cell      *Cell
	cfg       RunnerConfig
	clock     clock.Clock
	logger    *zap.SugaredLogger

	state     atomic.Int32
	processed atomic.Int64
}

func NewRunner(
	source Source,
	processor FrameProcessor,
	cell *Cell,
	cfg RunnerConfig,
	clk clock.Clock,
	logger *zap.SugaredLogger,
) *Runner {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Runner{
		source:    source,
		processor: processor,
		cell:      cell,
		cfg:       cfg,
		clock:     clk,
		logger:    logger,
	}
}

func (r *Runner) State() State { return State(r.state.Load()) }

// Processed counts frames that reached EMITTING_RESULT.
func (r *Runner) Processed() int64 { return r.processed.Load() }

func (r *Runner) setState(s State) { r.state.Store(int32(s)) }

// Run blocks until ctx is cancelled and returns ctx.Err().
func (r *Runner) Run(ctx context.Context) error {
	attempt := 0
	for {
		r.setState(StateWaiting)
		frame, err := r.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt++
			delay := r.cfg.RetryBackoff * time.Duration(attempt)
			if attempt >= r.cfg.RetryAttempts {
				r.logger.Errorw("stream source failing", "attempts", attempt, "error", err)
				attempt = 0
			} else {
				r.logger.Debugw("frame acquisition failed", "attempt", attempt, "error", err)
			}
			if err := r.sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}
		attempt = 0

		r.setState(StateProcessingFrame)
		res, err := r.processor.Process(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warnw("frame processing failed", "error", err)
			continue
		}

		r.setState(StateEmittingResult)
		r.emit(res)
	}
}

func (r *Runner) emit(res *pipeline.Result) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, res.Annotated, imaging.JPEG, imaging.JPEGQuality(r.cfg.JPEGQuality)); err != nil {
		r.logger.Warnw("encode live frame", "error", err)
	}
	r.cell.Publish(res.Verdict, buf.Bytes())
	r.processed.Add(1)
	if res.Verdict.Label == models.LabelTarget {
		r.logger.Debugw("live detection", "detections", res.Verdict.Detections, "confidence", res.Verdict.MaxConfidence)
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := r.clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
