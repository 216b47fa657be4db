package pipeline

import (
	"context"
	"image"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/hydrolens/microscan/internal/models"
)

func newTestPipeline(t *testing.T, proposer RegionProposer, validator RegionValidator, threshold float64) *Pipeline {
	t.Helper()
	p, err := New(proposer, validator, nil, Config{
		ConfidenceThreshold: threshold,
		BrightnessCeiling:   DefaultBrightnessCeiling,
	}, zaptest.NewLogger(t).Sugar())
	test.That(t, err, test.ShouldBeNil)
	return p
}

func TestNewRequiresProposer(t *testing.T) {
	_, err := New(nil, nil, nil, DefaultConfig(), zaptest.NewLogger(t).Sugar())
	test.That(t, errors.Is(err, ErrProposerUnavailable), test.ShouldBeTrue)
}

func TestProcessScenarios(t *testing.T) {
	img := createInMemoryImage(100, 100, dark)
	paintRect(img, image.Rect(50, 50, 100, 100), bright)

	tests := []struct {
		name         string
		candidate    models.Candidate
		validator    *recordingValidator
		wantAccepted bool
		wantReason   string
		wantValidate int
	}{
		{
			name:         "low confidence without validator",
			candidate:    candidate(0, 0, 30, 30, 0.10),
			wantAccepted: false,
			wantReason:   "confidence",
		},
		{
			name:         "bright region rejected before validation",
			candidate:    candidate(60, 60, 90, 90, 0.30),
			validator:    &recordingValidator{enabled: true, result: models.AcceptAll},
			wantAccepted: false,
			wantReason:   ReasonBrightness,
		},
		{
			name:         "dark region validator disabled",
			candidate:    candidate(0, 0, 30, 30, 0.30),
			wantAccepted: true,
		},
		{
			name:         "classifier says background",
			candidate:    candidate(0, 0, 30, 30, 0.30),
			validator:    &recordingValidator{enabled: true, result: models.ValidationResult{TargetProbability: 0.2}},
			wantAccepted: false,
			wantReason:   "validator",
			wantValidate: 1,
		},
		{
			name:         "classifier confirms target",
			candidate:    candidate(0, 0, 30, 30, 0.30),
			validator:    &recordingValidator{enabled: true, result: models.ValidationResult{IsTarget: true, TargetProbability: 0.9}},
			wantAccepted: true,
			wantValidate: 1,
		},
		{
			name:         "low confidence skips classifier",
			candidate:    candidate(0, 0, 30, 30, 0.05),
			validator:    &recordingValidator{enabled: true, result: models.AcceptAll},
			wantAccepted: false,
			wantReason:   "confidence",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var validator RegionValidator
			if tt.validator != nil {
				validator = tt.validator
			}
			p := newTestPipeline(t, staticProposer{candidates: []models.Candidate{tt.candidate}}, validator, 0.15)

			res, err := p.Process(context.Background(), img)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, res.Decisions, test.ShouldHaveLength, 1)
			test.That(t, res.Decisions[0].Accepted, test.ShouldEqual, tt.wantAccepted)
			test.That(t, res.Decisions[0].Reason, test.ShouldEqual, tt.wantReason)
			if tt.validator != nil {
				test.That(t, tt.validator.crops, test.ShouldHaveLength, tt.wantValidate)
			}

			if tt.wantAccepted {
				test.That(t, res.Verdict.Label, test.ShouldEqual, models.LabelTarget)
				test.That(t, res.Verdict.Detections, test.ShouldEqual, 1)
				test.That(t, res.Verdict.MaxConfidence, test.ShouldEqual, 0.30)
			} else {
				test.That(t, res.Verdict.Label, test.ShouldEqual, models.LabelClean)
				test.That(t, res.Verdict.MaxConfidence, test.ShouldEqual, 0.0)
			}
		})
	}
}

func TestZeroAreaNeverReachesValidator(t *testing.T) {
	img := createInMemoryImage(50, 50, dark)
	validator := &recordingValidator{enabled: true, result: models.AcceptAll}
	proposer := staticProposer{candidates: []models.Candidate{
		candidate(10, 10, 10, 30, 0.9),
		candidate(10, 10, 30, 10, 0.9),
		candidate(80, 80, 90, 90, 0.9),
		candidate(5, 5, 25, 25, 0.9),
	}}

	res, err := newTestPipeline(t, proposer, validator, 0.15).Process(context.Background(), img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, validator.crops, test.ShouldHaveLength, 1)
	test.That(t, validator.crops[0].Dx(), test.ShouldEqual, 20)
	for _, d := range res.Decisions[:3] {
		test.That(t, d.Accepted, test.ShouldBeFalse)
		test.That(t, d.Reason, test.ShouldEqual, ReasonEmpty)
	}
	test.That(t, res.Decisions[3].Accepted, test.ShouldBeTrue)
}

func TestProcessKeepsProposerOrderAndAggregates(t *testing.T) {
	img := createInMemoryImage(100, 100, dark)
	proposer := staticProposer{candidates: []models.Candidate{
		candidate(0, 0, 10, 10, 0.4),
		candidate(20, 20, 30, 30, 0.01),
		candidate(40, 40, 50, 50, 0.8),
	}}

	p := newTestPipeline(t, proposer, nil, 0.02)
	test.That(t, p.Engine(), test.ShouldEqual, "YOLOv8")

	res, err := p.Process(context.Background(), img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Decisions[0].Candidate.Confidence, test.ShouldEqual, 0.4)
	test.That(t, res.Decisions[1].Candidate.Confidence, test.ShouldEqual, 0.01)
	test.That(t, res.Decisions[2].Candidate.Confidence, test.ShouldEqual, 0.8)
	test.That(t, res.Verdict, test.ShouldResemble, models.FrameVerdict{
		Detections: 2, MaxConfidence: 0.8, Label: models.LabelTarget,
	})
	test.That(t, res.Annotated, test.ShouldNotBeNil)
}

func TestProcessEngineWithValidator(t *testing.T) {
	p := newTestPipeline(t, staticProposer{}, &recordingValidator{enabled: true}, 0.02)
	test.That(t, p.Engine(), test.ShouldEqual, "YOLOv8 + CNN")

	p = newTestPipeline(t, staticProposer{}, &recordingValidator{enabled: false}, 0.02)
	test.That(t, p.Engine(), test.ShouldEqual, "YOLOv8")
}

func TestProcessErrors(t *testing.T) {
	p := newTestPipeline(t, staticProposer{err: errors.New("session lost")}, nil, 0.02)

	_, err := p.Process(context.Background(), nil)
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)

	_, err = p.Process(context.Background(), image.NewNRGBA(image.Rect(0, 0, 0, 0)))
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)

	_, err = p.Process(context.Background(), createInMemoryImage(10, 10, dark))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "session lost")
}

type panickingValidator struct{}

func (panickingValidator) Enabled() bool { return true }
func (panickingValidator) Validate(context.Context, image.Image) models.ValidationResult {
	panic("unexpected")
}

func TestCandidateFailureDoesNotAbortImage(t *testing.T) {
	img := createInMemoryImage(50, 50, dark)
	proposer := staticProposer{candidates: []models.Candidate{
		candidate(0, 0, 10, 10, 0.5),
		candidate(20, 20, 30, 30, 0.5),
	}}

	res, err := newTestPipeline(t, proposer, panickingValidator{}, 0.02).Process(context.Background(), img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Decisions, test.ShouldHaveLength, 2)
	test.That(t, res.Decisions[0].Reason, test.ShouldEqual, ReasonError)
	test.That(t, res.Verdict.Label, test.ShouldEqual, models.LabelClean)
}
