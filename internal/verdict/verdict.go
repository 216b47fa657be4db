// Package verdict turns per-frame statistics into categorical labels and
// folds sequences of frames into a single majority verdict.
package verdict

import (
	"math"

	"github.com/montanaflynn/stats"

	"github.com/hydrolens/microscan/internal/models"
)

// DefaultStride samples one frame out of every ten.
const DefaultStride = 10

// Label is the single-frame verdict.
func Label(count int) models.Label {
	if count > 0 {
		return models.LabelTarget
	}
	return models.LabelClean
}

// Frame builds the FrameVerdict for count accepted regions whose highest
// confidence is maxConfidence.
func Frame(count int, maxConfidence float64) models.FrameVerdict {
	if count == 0 {
		maxConfidence = 0
	}
	return models.FrameVerdict{
		Detections:    count,
		MaxConfidence: maxConfidence,
		Label:         Label(count),
	}
}

// Aggregate folds sampled frames into one verdict. The label is a strict
// majority vote for target, so ties resolve to clean. Confidence is the
// mean over every sampled frame, clean frames included.
func Aggregate(frames []models.FrameResult) models.AggregateVerdict {
	var agg Aggregator
	for _, f := range frames {
		agg.Add(f)
	}
	return agg.Result()
}

// Aggregator is the incremental form of Aggregate. The zero value is ready
// to use.
type Aggregator struct {
	confidences stats.Float64Data
	target      int
}

func (a *Aggregator) Add(f models.FrameResult) {
	if f.Label == models.LabelTarget {
		a.target++
	}
	a.confidences = append(a.confidences, f.Confidence)
}

func (a *Aggregator) Len() int { return len(a.confidences) }

func (a *Aggregator) Result() models.AggregateVerdict {
	total := len(a.confidences)
	if total == 0 {
		return models.AggregateVerdict{Label: models.LabelClean}
	}

	clean := total - a.target
	label := models.LabelClean
	if a.target > clean {
		label = models.LabelTarget
	}

	mean, err := stats.Mean(a.confidences)
	if err != nil {
		mean = 0
	}

	return models.AggregateVerdict{
		Label:        label,
		Confidence:   mean,
		Frames:       total,
		TargetFrames: a.target,
	}
}

// Sample returns the indices of the frames processed when sampling n frames
// at a fixed stride. Frame 0 is always sampled.
func Sample(n, stride int) []int {
	if stride <= 0 {
		stride = 1
	}
	indices := make([]int, 0, (n+stride-1)/stride)
	for i := 0; i < n; i += stride {
		indices = append(indices, i)
	}
	return indices
}

// RoundConfidence rounds to three decimals for reporting.
func RoundConfidence(c float64) float64 {
	return math.Round(c*1000) / 1000
}
