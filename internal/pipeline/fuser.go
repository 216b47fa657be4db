package pipeline

import "github.com/hydrolens/microscan/internal/models"

// Fuser turns the independent signals for a candidate into one decision.
type Fuser struct {
	policy Policy
}

func NewFuser(policy Policy) *Fuser {
	if len(policy) == 0 {
		policy = DefaultPolicy()
	}
	return &Fuser{policy: policy}
}

func (f *Fuser) Policy() Policy { return f.policy }

func (f *Fuser) Decide(c models.Candidate, filterPass bool, validation *models.ValidationResult, threshold float64) models.Decision {
	accepted, reason := f.policy.Evaluate(Evidence{
		Candidate:  c,
		FilterPass: filterPass,
		Validation: validation,
		Threshold:  threshold,
	})
	return models.Decision{
		Candidate:  c,
		Accepted:   accepted,
		Reason:     reason,
		Validation: validation,
	}
}
