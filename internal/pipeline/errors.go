package pipeline

import "github.com/pkg/errors"

var (
	// ErrInvalidInput covers missing or undecodable images. The pipeline is
	// not invoked.
	ErrInvalidInput = errors.New("invalid input image")

	// ErrProposerUnavailable means the localization model never loaded. An
	// empty result would look like a clean verdict, so callers must refuse
	// to answer instead.
	ErrProposerUnavailable = errors.New("region proposer unavailable")

	// ErrStreamSource wraps frame acquisition failures. They are retried by
	// the stream runner and never reach an HTTP caller.
	ErrStreamSource = errors.New("stream source unavailable")
)
