package optimization

import (
	"errors"
	"strings"

	"github.com/aristath/recommender/internal/domain"
)

// Backoff steps, applied in order until a feasible portfolio is found.
// The diversification floor is never relaxed.
const (
	StepVolatilityBandRelaxed = "volatility_band_relaxed"
	StepSectorCapRelaxed      = "sector_cap_relaxed"
)

type backoffStage struct {
	step            string
	relaxVolatility bool
	relaxCaps       bool
}

var backoffStages = []backoffStage{
	{},
	{step: StepVolatilityBandRelaxed, relaxVolatility: true},
	{step: StepSectorCapRelaxed, relaxVolatility: true, relaxCaps: true},
}

// Optimize solves for cs over stats, relaxing first the volatility band (to the
// minimum attainable volatility) and then the sector caps when the
// diversification floor cannot otherwise be met. Every relaxation taken is
// recorded on the solution.
func (o *MVOptimizer) Optimize(stats *Statistics, cs *ConstraintSet) (*Solution, error) {
	p, err := o.buildProblem(stats, cs)
	if err != nil {
		return nil, err
	}

	var steps []BackoffStep
	var reasons []string
	for _, stage := range backoffStages {
		if stage.step != "" {
			steps = append(steps, BackoffStep{Step: stage.step, Reason: reasons[len(reasons)-1]})
		}

		caps := p.caps
		if stage.relaxCaps {
			caps = make([]float64, len(p.caps))
			for i := range caps {
				caps[i] = 1
			}
		}

		solution, err := o.attempt(p, caps, stage.relaxVolatility)
		if err == nil {
			solution.Backoff = steps
			o.log.Debug().
				Str("tier", string(cs.Tier())).
				Int("holdings", len(solution.Weights)).
				Int("backoff_steps", len(steps)).
				Int("iterations", solution.Iterations).
				Float64("volatility", solution.Volatility).
				Msg("Optimization solved")
			return solution, nil
		}

		if errors.Is(err, errNotConverged) {
			return nil, domain.Wrap(domain.KindInfeasible, err,
				"solver did not converge within %d iterations", o.cfg.MaxIterations)
		}
		var failure *attemptFailure
		if !errors.As(err, &failure) {
			return nil, err
		}
		reasons = append(reasons, failure.reason)

		o.log.Debug().
			Str("tier", string(cs.Tier())).
			Str("stage", stage.step).
			Str("reason", failure.reason).
			Msg("Optimization attempt failed")
	}

	return nil, domain.New(domain.KindInfeasible,
		"no portfolio meets the %s tier's diversification floor of %d holdings even after relaxing volatility and sector caps: %s",
		cs.Tier(), cs.MinDiversification(), strings.Join(reasons, "; "))
}
