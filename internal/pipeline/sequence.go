package pipeline

import (
	"context"
	"image"

	"github.com/pkg/errors"

	"github.com/hydrolens/microscan/internal/models"
	"github.com/hydrolens/microscan/internal/verdict"
)

// SequenceResult is the outcome of processing a multi-frame source.
// Frames holds one Result per sampled frame, in frame order.
type SequenceResult struct {
	Aggregate models.AggregateVerdict
	Sampled   []int
	Frames    []*Result
}

// ProcessSequence runs the pipeline on every stride-th frame and folds the
// per-frame verdicts by majority vote. An empty sequence yields a clean
// verdict with zero confidence.
func (p *Pipeline) ProcessSequence(ctx context.Context, frames []image.Image, stride int) (*SequenceResult, error) {
	sampled := verdict.Sample(len(frames), stride)
	out := &SequenceResult{Sampled: sampled, Frames: make([]*Result, 0, len(sampled))}

	var agg verdict.Aggregator
	for _, i := range sampled {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := p.Process(ctx, frames[i])
		if err != nil {
			return nil, errors.Wrapf(err, "frame %d", i)
		}
		out.Frames = append(out.Frames, res)
		agg.Add(models.FrameResult{Label: res.Verdict.Label, Confidence: res.Verdict.MaxConfidence})
	}

	out.Aggregate = agg.Result()
	return out, nil
}
