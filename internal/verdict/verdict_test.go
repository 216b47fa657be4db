package verdict

import (
	"testing"

	"go.viam.com/test"

	"github.com/hydrolens/microscan/internal/models"
)

func repeat(n int, label models.Label, conf float64) []models.FrameResult {
	out := make([]models.FrameResult, n)
	for i := range out {
		out[i] = models.FrameResult{Label: label, Confidence: conf}
	}
	return out
}

func TestLabel(t *testing.T) {
	test.That(t, Label(0), test.ShouldEqual, models.LabelClean)
	test.That(t, Label(1), test.ShouldEqual, models.LabelTarget)
	test.That(t, Label(37), test.ShouldEqual, models.LabelTarget)
}

func TestFrame(t *testing.T) {
	test.That(t, Frame(0, 0.9), test.ShouldResemble, models.FrameVerdict{Label: models.LabelClean})
	test.That(t, Frame(2, 0.7), test.ShouldResemble, models.FrameVerdict{Detections: 2, MaxConfidence: 0.7, Label: models.LabelTarget})
}

func TestAggregateMajorityDilutedMean(t *testing.T) {
	frames := append(repeat(6, models.LabelClean, 0.0), repeat(4, models.LabelTarget, 0.8)...)

	got := Aggregate(frames)
	test.That(t, got.Label, test.ShouldEqual, models.LabelClean)
	test.That(t, got.Confidence, test.ShouldAlmostEqual, 0.32, 1e-9)
	test.That(t, got.Frames, test.ShouldEqual, 10)
	test.That(t, got.TargetFrames, test.ShouldEqual, 4)
}

func TestAggregateEmpty(t *testing.T) {
	got := Aggregate(nil)
	test.That(t, got.Label, test.ShouldEqual, models.LabelClean)
	test.That(t, got.Confidence, test.ShouldEqual, 0.0)
	test.That(t, got.Frames, test.ShouldEqual, 0)
}

func TestAggregateTieGoesClean(t *testing.T) {
	frames := append(repeat(3, models.LabelTarget, 0.9), repeat(3, models.LabelClean, 0.1)...)
	got := Aggregate(frames)
	test.That(t, got.Label, test.ShouldEqual, models.LabelClean)
	test.That(t, got.Confidence, test.ShouldAlmostEqual, 0.5, 1e-9)
}

func TestAggregateTargetMajority(t *testing.T) {
	frames := append(repeat(3, models.LabelTarget, 0.6), repeat(2, models.LabelClean, 0.0)...)
	got := Aggregate(frames)
	test.That(t, got.Label, test.ShouldEqual, models.LabelTarget)
	test.That(t, got.Confidence, test.ShouldAlmostEqual, 0.36, 1e-9)
}

func TestAggregateIdempotent(t *testing.T) {
	frames := []models.FrameResult{
		{Label: models.LabelTarget, Confidence: 0.4},
		{Label: models.LabelClean, Confidence: 0.0},
		{Label: models.LabelTarget, Confidence: 0.75},
	}
	first := Aggregate(frames)
	second := Aggregate(frames)
	test.That(t, second, test.ShouldResemble, first)
}

func TestAggregatorIncremental(t *testing.T) {
	var agg Aggregator
	test.That(t, agg.Result(), test.ShouldResemble, models.AggregateVerdict{Label: models.LabelClean})

	agg.Add(models.FrameResult{Label: models.LabelTarget, Confidence: 1.0})
	test.That(t, agg.Len(), test.ShouldEqual, 1)
	test.That(t, agg.Result().Label, test.ShouldEqual, models.LabelTarget)
}

func TestSample(t *testing.T) {
	tests := []struct {
		name      string
		n, stride int
		want      []int
	}{
		{"empty", 0, 10, []int{}},
		{"first only", 5, 10, []int{0}},
		{"stride ten", 25, 10, []int{0, 10, 20}},
		{"every frame", 3, 1, []int{0, 1, 2}},
		{"non-positive stride", 3, 0, []int{0, 1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			test.That(t, Sample(tt.n, tt.stride), test.ShouldResemble, tt.want)
		})
	}
}

func TestRoundConfidence(t *testing.T) {
	test.That(t, RoundConfidence(0.87654), test.ShouldEqual, 0.877)
	test.That(t, RoundConfidence(0.0), test.ShouldEqual, 0.0)
	test.That(t, RoundConfidence(0.12), test.ShouldEqual, 0.12)
}
