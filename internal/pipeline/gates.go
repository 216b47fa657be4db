package pipeline

import "github.com/hydrolens/microscan/internal/models"

// Evidence is everything the decision policy sees about one candidate.
// A nil Validation means no classifier verdict exists, which counts as
// acceptance.
type Evidence struct {
	Candidate  models.Candidate
	FilterPass bool
	Validation *models.ValidationResult
	Threshold  float64
}

// Gate is one named pass/fail predicate of the decision policy.
type Gate struct {
	Name string
	// NeedsValidation marks gates that read the classifier verdict.
	NeedsValidation bool
	Check           func(Evidence) bool
}

var (
	ConfidenceGate = Gate{
		Name: "confidence",
		Check: func(e Evidence) bool {
			return e.Candidate.Confidence >= e.Threshold
		},
	}

	FilterGate = Gate{
		Name: "filter",
		Check: func(e Evidence) bool {
			return e.FilterPass
		},
	}

	ValidatorGate = Gate{
		Name:            "validator",
		NeedsValidation: true,
		Check: func(e Evidence) bool {
			return e.Validation == nil || e.Validation.IsTarget
		},
	}
)

// Policy is an ordered conjunction of gates.
type Policy []Gate

func DefaultPolicy() Policy {
	return Policy{ConfidenceGate, FilterGate, ValidatorGate}
}

// Evaluate runs every gate in order and reports the first one that fails.
func (p Policy) Evaluate(e Evidence) (bool, string) {
	return p.run(e, false)
}

// Prevalidate runs only the gates that do not need a classifier verdict.
// A candidate failing here can be rejected without running the validator.
func (p Policy) Prevalidate(e Evidence) (bool, string) {
	return p.run(e, true)
}

func (p Policy) run(e Evidence, skipValidation bool) (bool, string) {
	for _, g := range p {
		if skipValidation && g.NeedsValidation {
			continue
		}
		if !g.Check(e) {
			return false, g.Name
		}
	}
	return true, ""
}
