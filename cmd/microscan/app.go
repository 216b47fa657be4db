package main

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hydrolens/microscan/internal/config"
	"github.com/hydrolens/microscan/internal/detections"
	"github.com/hydrolens/microscan/internal/inference"
	"github.com/hydrolens/microscan/internal/pipeline"
	"github.com/hydrolens/microscan/internal/server"
	"github.com/hydrolens/microscan/internal/validation"
)

// app owns the model sessions and the pipeline built on them.
type app struct {
	cfg            *config.Config
	logger         *zap.SugaredLogger
	proposerPool   *inference.SessionPool
	classifierPool *inference.SessionPool
	validator      *validation.Validator
	pipeline       *pipeline.Pipeline
}

func proposerConfig(cfg *config.Config) detections.Config {
	pc := detections.DefaultConfig()
	pc.InputWidth = cfg.ProposerInputSize
	pc.InputHeight = cfg.ProposerInputSize
	pc.NumPredictions = cfg.ProposerPredictions
	pc.NumClasses = cfg.ProposerClasses
	pc.NormalizedCoords = cfg.NormalizedCoords
	pc.ScoreFloor = cfg.ScoreFloor
	pc.IouThreshold = cfg.IouThreshold
	pc.MaxDetections = cfg.MaxDetections
	return pc
}

func classifierConfig(cfg *config.Config) validation.ClassifierConfig {
	cc := validation.DefaultClassifierConfig()
	cc.InputWidth = cfg.ClassifierInputSize
	cc.InputHeight = cfg.ClassifierInputSize
	return cc
}

func validatorConfig(cfg *config.Config) validation.Config {
	return validation.Config{
		Enabled:     cfg.ValidatorEnabled,
		Threshold:   cfg.ValidatorThreshold,
		TargetIndex: cfg.ValidatorTargetIndex,
	}
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		BrightnessCeiling:   cfg.BrightnessCeiling,
	}
}

func openPool(spec inference.SessionSpec, cfg *config.Config) (*inference.SessionPool, error) {
	spec.Threads = cfg.Threads
	pool, err := inference.NewSessionPool(func() (inference.Runner, error) {
		session, err := inference.OpenSession(spec)
		if err != nil {
			return nil, err
		}
		return session, nil
	}, cfg.PoolSize)
	if err != nil {
		return nil, err
	}
	pool.SetAcquireTimeout(cfg.AcquireTimeout)
	return pool, nil
}

// newApp loads both models. A missing or broken proposer model is fatal; a
// broken classifier only drops the pipeline to localization-only mode.
func newApp(cfg *config.Config, logger *zap.SugaredLogger) (*app, error) {
	if _, err := os.Stat(cfg.ProposerModel); err != nil {
		return nil, errors.Wrapf(pipeline.ErrProposerUnavailable, "%s: %v", cfg.ProposerModel, err)
	}
	if err := inference.InitRuntime(cfg.RuntimeLibrary); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}

	pc := proposerConfig(cfg)
	var err error
	a.proposerPool, err = openPool(pc.SessionSpec(cfg.ProposerModel), cfg)
	if err != nil {
		return nil, multierr.Combine(
			errors.Wrapf(pipeline.ErrProposerUnavailable, "load %s: %v", cfg.ProposerModel, err),
			inference.DestroyRuntime(),
		)
	}
	logger.Infow("proposer loaded", "model", cfg.ProposerModel, "pool_size", a.proposerPool.Size())

	var classifier validation.Classifier
	if cfg.ValidatorEnabled {
		cc := classifierConfig(cfg)
		a.classifierPool, err = openPool(cc.SessionSpec(cfg.ClassifierModel), cfg)
		if err != nil {
			logger.Warnw("classifier unavailable, running localization only", "model", cfg.ClassifierModel, "error", err)
		} else {
			classifier = validation.NewONNXClassifier(a.classifierPool, cc)
			logger.Infow("classifier loaded", "model", cfg.ClassifierModel)
		}
	}
	a.validator = validation.New(validatorConfig(cfg), classifier, logger.Named("validator"))

	annotator, err := pipeline.NewAnnotator(cfg.BoxColor)
	if err != nil {
		return nil, multierr.Append(err, a.Close())
	}
	proposer := detections.NewProposer(a.proposerPool, pc, logger.Named("proposer"))
	a.pipeline, err = pipeline.New(proposer, a.validator, annotator, pipelineConfig(cfg), logger.Named("pipeline"))
	if err != nil {
		return nil, multierr.Append(err, a.Close())
	}
	return a, nil
}

func (a *app) pools() map[string]server.MetricsSource {
	pools := map[string]server.MetricsSource{"proposer": a.proposerPool}
	if a.classifierPool != nil {
		pools["classifier"] = a.classifierPool
	}
	return pools
}

func (a *app) Close() error {
	var err error
	if a.classifierPool != nil {
		err = multierr.Append(err, a.classifierPool.Destroy())
	}
	if a.proposerPool != nil {
		err = multierr.Append(err, a.proposerPool.Destroy())
	}
	return multierr.Append(err, inference.DestroyRuntime())
}
