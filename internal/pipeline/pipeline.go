// Package pipeline runs the two-stage detection flow for one image:
// proposals are filtered, optionally validated by a classifier, fused by a
// conjunctive gate policy and drawn onto a copy of the image.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hydrolens/microscan/internal/models"
	"github.com/hydrolens/microscan/internal/verdict"
)

// DefaultConfidenceThreshold is the minimum localization confidence for an
// accepted region.
const DefaultConfidenceThreshold = 0.02

const ReasonError = "error"

// RegionProposer is the localization stage.
type RegionProposer interface {
	Propose(ctx context.Context, img image.Image) ([]models.Candidate, error)
}

// RegionValidator is the optional classification stage.
type RegionValidator interface {
	Validate(ctx context.Context, crop image.Image) models.ValidationResult
	Enabled() bool
}

type Config struct {
	ConfidenceThreshold float64
	BrightnessCeiling   float64
}

func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		BrightnessCeiling:   DefaultBrightnessCeiling,
	}
}

type Pipeline struct {
	proposer  RegionProposer
	filter    RegionFilter
	validator RegionValidator
	fuser     *Fuser
	annotator *Annotator
	cfg       Config
	logger    *zap.SugaredLogger
}

// Result is the outcome of one Process call. Decisions keep the proposer's
// order.
type Result struct {
	Decisions []models.Decision
	Verdict   models.FrameVerdict
	Annotated image.Image
	Timings   models.ProcessingTimings
}

// New wires the stages together. A nil proposer yields
// ErrProposerUnavailable; a nil validator runs in localization-only mode.
func New(
	proposer RegionProposer,
	validator RegionValidator,
	annotator *Annotator,
	cfg Config,
	logger *zap.SugaredLogger,
) (*Pipeline, error) {
	if proposer == nil {
		return nil, ErrProposerUnavailable
	}
	if annotator == nil {
		var err error
		if annotator, err = NewAnnotator(DefaultBoxColor); err != nil {
			return nil, err
		}
	}
	return &Pipeline{
		proposer:  proposer,
		filter:    RegionFilter{BrightnessCeiling: cfg.BrightnessCeiling},
		validator: validator,
		fuser:     NewFuser(DefaultPolicy()),
		annotator: annotator,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Engine names the active stages for reporting.
func (p *Pipeline) Engine() string {
	if p.validatorEnabled() {
		return "YOLOv8 + CNN"
	}
	return "YOLOv8"
}

func (p *Pipeline) validatorEnabled() bool {
	return p.validator != nil && p.validator.Enabled()
}

// Process runs every stage for img. Only input and proposer failures are
// returned; a failure on a single candidate rejects that candidate alone.
func (p *Pipeline) Process(ctx context.Context, img image.Image) (*Result, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrInvalidInput
	}

	start := time.Now()
	res := &Result{}

	proposeStart := time.Now()
	candidates, err := p.proposer.Propose(ctx, img)
	res.Timings.Propose = time.Since(proposeStart)
	if err != nil {
		return nil, errors.Wrap(err, "propose regions")
	}

	res.Decisions = make([]models.Decision, 0, len(candidates))
	for _, c := range candidates {
		res.Decisions = append(res.Decisions, p.decide(ctx, img, c, &res.Timings))
	}

	annotateStart := time.Now()
	annotated, count, maxConf := p.annotator.Annotate(img, res.Decisions)
	res.Timings.Annotate = time.Since(annotateStart)

	res.Annotated = annotated
	res.Verdict = verdict.Frame(count, maxConf)
	res.Timings.Total = time.Since(start)
	return res, nil
}

func (p *Pipeline) decide(
	ctx context.Context,
	img image.Image,
	c models.Candidate,
	timings *models.ProcessingTimings,
) (decision models.Decision) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorw("candidate processing failed", "box", c.Box, "error", fmt.Sprint(r))
			decision = models.Decision{Candidate: c, Reason: ReasonError}
		}
	}()

	filterStart := time.Now()
	outcome := p.filter.Check(img, c)
	timings.Filter += time.Since(filterStart)

	evidence := Evidence{Candidate: c, FilterPass: outcome.Pass, Threshold: p.cfg.ConfidenceThreshold}
	var validation *models.ValidationResult
	if ok, _ := p.fuser.Policy().Prevalidate(evidence); ok && p.validatorEnabled() {
		validateStart := time.Now()
		v := p.validator.Validate(ctx, outcome.Crop)
		timings.Validate += time.Since(validateStart)
		validation = &v
	}

	decision = p.fuser.Decide(c, outcome.Pass, validation, p.cfg.ConfidenceThreshold)
	if !decision.Accepted && decision.Reason == FilterGate.Name {
		decision.Reason = outcome.Reason
	}
	return decision
}
