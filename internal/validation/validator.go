// Package validation audits proposed regions with an optional binary
// classifier. A disabled or failing classifier never rejects a region.
package validation

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hydrolens/microscan/internal/models"
)

// Config is injected at construction. With Enabled false the validator
// accepts every crop, which runs the pipeline in localization-only mode.
type Config struct {
	Enabled     bool
	Threshold   float64
	TargetIndex int
}

func DefaultConfig() Config {
	return Config{Enabled: true, Threshold: 0.5, TargetIndex: 1}
}

type Validator struct {
	cfg        Config
	classifier Classifier
	logger     *zap.SugaredLogger
	failures   atomic.Int64
}

// New returns a validator. A nil classifier forces the disabled mode.
func New(cfg Config, classifier Classifier, logger *zap.SugaredLogger) *Validator {
	if classifier == nil {
		cfg.Enabled = false
	}
	return &Validator{cfg: cfg, classifier: classifier, logger: logger}
}

func (v *Validator) Enabled() bool { return v.cfg.Enabled }

// Failures counts classifier errors absorbed by failing open.
func (v *Validator) Failures() int64 { return v.failures.Load() }

func (v *Validator) Validate(ctx context.Context, crop image.Image) (result models.ValidationResult) {
	if !v.cfg.Enabled {
		return models.AcceptAll
	}

	defer func() {
		if r := recover(); r != nil {
			result = v.failOpen(fmt.Errorf("classifier panic: %v", r))
		}
	}()

	probs, err := v.classifier.Classify(ctx, crop)
	if err != nil {
		return v.failOpen(err)
	}
	if v.cfg.TargetIndex < 0 || v.cfg.TargetIndex >= len(probs) {
		return v.failOpen(fmt.Errorf("target index %d out of range for %d classes", v.cfg.TargetIndex, len(probs)))
	}

	p := probs[v.cfg.TargetIndex]
	if math.IsNaN(p) || p < 0 || p > 1 {
		return v.failOpen(fmt.Errorf("invalid target probability %v", p))
	}

	return models.ValidationResult{
		IsTarget:          p >= v.cfg.Threshold,
		TargetProbability: p,
	}
}

func (v *Validator) failOpen(err error) models.ValidationResult {
	v.failures.Add(1)
	v.logger.Warnw("validator failed, accepting region", "error", err)
	return models.AcceptAll
}
