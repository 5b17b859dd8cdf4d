package schedule

import (
	"fmt"

	"github.com/rmarronnier/docusphere-sub011/internal/domain"
)

// Policy holds the tunable constants of an analytics pass.
type Policy struct {
	LookaheadDays    int                `json:"lookahead_days" yaml:"lookahead_days"`
	PermitExpiryDays int                `json:"permit_expiry_days" yaml:"permit_expiry_days"`
	OverloadHours    float64            `json:"overload_hours" yaml:"overload_hours"`
	UnderloadRatio   float64            `json:"underload_ratio" yaml:"underload_ratio"`
	MaxReassignments int                `json:"max_reassignments" yaml:"max_reassignments"`
	PhaseWeights     map[string]float64 `json:"phase_weights" yaml:"phase_weights"`
}

// DefaultPhaseWeights mirrors the usual effort split of a development
// project.
func DefaultPhaseWeights() map[string]float64 {
	return map[string]float64{
		domain.PhaseStudies:      15,
		domain.PhasePermits:      30,
		domain.PhaseConstruction: 50,
		domain.PhaseReception:    3,
		domain.PhaseDelivery:     2,
		domain.PhaseOther:        10,
	}
}

func DefaultPolicy() Policy {
	return Policy{
		LookaheadDays:    7,
		PermitExpiryDays: 30,
		OverloadHours:    40,
		UnderloadRatio:   0.5,
		MaxReassignments: 3,
		PhaseWeights:     DefaultPhaseWeights(),
	}
}

// Validate rejects policies that would break the progress weighting.
func (p Policy) Validate() error {
	if p.LookaheadDays < 0 {
		return fmt.Errorf("lookahead_days must be >= 0")
	}
	if p.PermitExpiryDays < 0 {
		return fmt.Errorf("permit_expiry_days must be >= 0")
	}
	if p.OverloadHours <= 0 {
		return fmt.Errorf("overload_hours must be > 0")
	}
	if p.UnderloadRatio < 0 || p.UnderloadRatio >= 1 {
		return fmt.Errorf("underload_ratio must be in [0,1)")
	}
	if p.MaxReassignments < 0 {
		return fmt.Errorf("max_reassignments must be >= 0")
	}
	for phaseType, w := range p.PhaseWeights {
		if w <= 0 {
			return fmt.Errorf("phase weight for %s must be > 0", phaseType)
		}
	}
	c, pm, s := p.PhaseWeight(domain.PhaseConstruction), p.PhaseWeight(domain.PhasePermits), p.PhaseWeight(domain.PhaseStudies)
	if !(c > pm && pm > s) {
		return fmt.Errorf("phase weights must satisfy construction > permits > studies (got %g, %g, %g)", c, pm, s)
	}
	return nil
}

// PhaseWeight returns the configured weight for a phase type. Unknown types
// weigh as "other".
func (p Policy) PhaseWeight(phaseType string) float64 {
	weights := p.PhaseWeights
	if len(weights) == 0 {
		weights = DefaultPhaseWeights()
	}
	if w, ok := weights[phaseType]; ok {
		return w
	}
	if w, ok := weights[domain.PhaseOther]; ok {
		return w
	}
	return DefaultPhaseWeights()[domain.PhaseOther]
}

// withDefaults returns DefaultPolicy for the zero Policy. Any other policy
// is used as given, so zero look-ahead, expiry window, underload ratio or
// reassignment limit stay zero; only missing phase weights are filled in.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.OverloadHours == 0 {
		weights := p.PhaseWeights
		p = d
		if len(weights) > 0 {
			p.PhaseWeights = weights
		}
		return p
	}
	if len(p.PhaseWeights) == 0 {
		p.PhaseWeights = d.PhaseWeights
	}
	return p
}
