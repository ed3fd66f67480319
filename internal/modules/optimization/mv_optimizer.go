package optimization

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/aristath/recommender/internal/domain"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// HoldingThreshold is the weight above which a symbol counts as held
	HoldingThreshold = 1e-4

	// tieBreakScale sets the L2 term relative to the average variance
	tieBreakScale = 1e-3

	maxKappaDoublings  = 14
	maxKappaBisections = 40
	convergenceTol     = 1e-11
)

var errNotConverged = errors.New("solver did not converge")

// SolverConfig parameterizes the mean-variance solver
type SolverConfig struct {
	MaxIterations int
	FloorWeight   float64
	RiskFreeRate  float64
}

// BackoffStep records one relaxation applied to reach a feasible portfolio
type BackoffStep struct {
	Step   string `json:"step"`
	Reason string `json:"reason"`
}

// Solution is the solver's output
type Solution struct {
	Weights    map[string]float64
	Volatility float64
	Backoff    []BackoffStep
	Forced     []string
	Iterations int
}

// MVOptimizer finds the highest-return long-only portfolio whose volatility stays
// within the tier ceiling, subject to sector caps and a diversification floor.
//
// For a multiplier kappa >= 0 it minimizes
//
//	w'Σw + γ‖w‖² − κ μ'w
//
// over the constraint polytope with accelerated projected gradient. Volatility
// falls as kappa falls, so the largest kappa meeting the ceiling is found by
// bisection (equivalently the smallest risk aversion λ = 1/κ). γ makes the
// optimum unique and spreads weight among otherwise equivalent holdings.
type MVOptimizer struct {
	cfg SolverConfig
	log zerolog.Logger
}

// NewMVOptimizer creates a new mean-variance optimizer
func NewMVOptimizer(cfg SolverConfig, log zerolog.Logger) *MVOptimizer {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 5000
	}
	if cfg.FloorWeight <= 0 {
		cfg.FloorWeight = 0.02
	}
	return &MVOptimizer{
		cfg: cfg,
		log: log.With().Str("component", "mv_optimizer").Logger(),
	}
}

// problem is the dense form of one optimization, indexed by stats symbol order
type problem struct {
	symbols   []string
	mu        []float64
	sigma     *mat.SymDense
	sectors   []string
	sectorOf  []int
	caps      []float64
	preferred []bool
	sharpe    []float64
	minDiv    int
	ceiling   float64
	gamma     float64
	step      float64
}

// attemptFailure is a recoverable failure that lets backoff continue
type attemptFailure struct {
	reason string
}

func (f *attemptFailure) Error() string { return f.reason }

func failAttempt(format string, args ...interface{}) error {
	return &attemptFailure{reason: fmt.Sprintf(format, args...)}
}

func (o *MVOptimizer) buildProblem(stats *Statistics, cs *ConstraintSet) (*problem, error) {
	n := len(stats.Symbols)
	if n == 0 {
		return nil, domain.New(domain.KindInsufficientData, "no symbols to optimize")
	}
	allowed := cs.Allowed()
	if len(allowed) != n {
		return nil, domain.New(domain.KindInvalidInput, "statistics cover %d symbols but %d are allowed", n, len(allowed))
	}
	if len(stats.ExpectedReturns) != n || len(stats.Covariance) != n {
		return nil, domain.New(domain.KindInvalidInput, "statistics dimensions do not match %d symbols", n)
	}

	p := &problem{
		symbols:   append([]string(nil), stats.Symbols...),
		mu:        append([]float64(nil), stats.ExpectedReturns...),
		sigma:     stats.Sigma(),
		sectorOf:  make([]int, n),
		preferred: make([]bool, n),
		sharpe:    make([]float64, n),
		minDiv:    cs.MinDiversification(),
		ceiling:   cs.VolatilityCeiling(),
	}

	p.sectors = cs.Sectors()
	sectorIndex := make(map[string]int, len(p.sectors))
	for i, s := range p.sectors {
		sectorIndex[s] = i
		p.caps = append(p.caps, cs.SectorCap(s))
	}

	avgVar := 0.0
	for i, symbol := range p.symbols {
		sector := cs.Sector(symbol)
		idx, ok := sectorIndex[sector]
		if sector == "" || !ok {
			return nil, domain.New(domain.KindInvalidInput, "symbol %s is not in the allowed set", symbol)
		}
		p.sectorOf[i] = idx
		p.preferred[i] = cs.IsPreferred(sector)
		if vol := stats.Volatility(i); vol > 0 {
			p.sharpe[i] = (p.mu[i] - o.cfg.RiskFreeRate) / vol
		}
		avgVar += stats.Covariance[i][i]
	}
	avgVar /= float64(n)

	p.gamma = math.Max(tieBreakScale*avgVar, 1e-10)

	var eig mat.EigenSym
	maxEig := 0.0
	if eig.Factorize(p.sigma, false) {
		maxEig = floats.Max(eig.Values(nil))
	} else {
		maxEig = mat.Trace(p.sigma)
	}
	p.step = 1 / (2 * (math.Max(maxEig, 0) + p.gamma))

	return p, nil
}

// solveQP minimizes w'Σw + γ‖w‖² − κ μ'w over poly, starting from start
func (o *MVOptimizer) solveQP(p *problem, poly *polytope, kappa float64, start []float64) ([]float64, int, error) {
	n := len(p.mu)
	x := make([]float64, n)
	poly.project(start, x)
	y := append([]float64(nil), x...)
	next := make([]float64, n)
	z := make([]float64, n)
	grad := mat.NewVecDense(n, nil)
	t := 1.0

	for iter := 1; iter <= o.cfg.MaxIterations; iter++ {
		grad.MulVec(p.sigma, mat.NewVecDense(n, y))
		scale := 1.0
		for i := 0; i < n; i++ {
			g := 2*grad.AtVec(i) + 2*p.gamma*y[i] - kappa*p.mu[i]
			z[i] = y[i] - p.step*g
			scale = math.Max(scale, math.Abs(z[i]))
		}
		poly.project(z, next)

		if maxAbsDiff(next, y) <= convergenceTol*scale {
			return next, iter, nil
		}

		tNext := (1 + math.Sqrt(1+4*t*t)) / 2
		restart := 0.0
		for i := 0; i < n; i++ {
			restart += (y[i] - next[i]) * (next[i] - x[i])
		}
		if restart > 0 {
			tNext = 1
			copy(y, next)
		} else {
			momentum := (t - 1) / tNext
			for i := 0; i < n; i++ {
				y[i] = next[i] + momentum*(next[i]-x[i])
			}
		}
		copy(x, next)
		t = tNext
	}
	return nil, o.cfg.MaxIterations, errNotConverged
}

func (p *problem) volatility(w []float64) float64 {
	v := mat.NewVecDense(len(w), w)
	return math.Sqrt(math.Max(mat.Inner(v, p.sigma, v), 0))
}

// solveTarget returns the highest-return weights with volatility at or below the
// ceiling, or the minimum-variance weights when minVariance is set.
func (o *MVOptimizer) solveTarget(p *problem, poly *polytope, minVariance bool) ([]float64, int, error) {
	n := len(p.mu)
	start := make([]float64, n)
	for i := range start {
		start[i] = 1 / float64(n)
	}

	wLo, iterations, err := o.solveQP(p, poly, 0, start)
	if err != nil {
		return nil, iterations, err
	}
	if minVariance {
		return wLo, iterations, nil
	}

	if minVol := p.volatility(wLo); minVol > p.ceiling {
		return nil, iterations, failAttempt("minimum attainable volatility %.2f%% exceeds the %.2f%% ceiling", minVol*100, p.ceiling*100)
	}

	kLo, kHi := 0.0, 0.0
	kappa := 1.0
	for i := 0; i < maxKappaDoublings; i++ {
		w, it, err := o.solveQP(p, poly, kappa, wLo)
		iterations += it
		if err != nil {
			return nil, iterations, err
		}
		if p.volatility(w) > p.ceiling {
			kHi = kappa
			break
		}
		kLo, wLo = kappa, w
		kappa *= 2
	}
	if kHi == 0 {
		return wLo, iterations, nil
	}

	for i := 0; i < maxKappaBisections && kHi-kLo > 1e-9*kHi; i++ {
		mid := (kLo + kHi) / 2
		w, it, err := o.solveQP(p, poly, mid, wLo)
		iterations += it
		if err != nil {
			return nil, iterations, err
		}
		if p.volatility(w) <= p.ceiling {
			kLo, wLo = mid, w
		} else {
			kHi = mid
		}
	}
	return wLo, iterations, nil
}

// attempt runs one backoff stage: solve, enforce the diversification floor, clean up
func (o *MVOptimizer) attempt(p *problem, caps []float64, minVariance bool) (*Solution, error) {
	n := len(p.mu)
	if n < p.minDiv {
		return nil, failAttempt("only %d symbols are available but %d holdings are required", n, p.minDiv)
	}

	lower := make([]float64, n)
	poly, err := newPolytope(lower, p.sectorOf, caps)
	if err != nil {
		return nil, failAttempt("%s", err.Error())
	}

	w, iterations, err := o.solveTarget(p, poly, minVariance)
	if err != nil {
		return nil, err
	}

	var forced []string
	if countHeld(w) < p.minDiv {
		selected, err := o.selectForced(p, w, caps)
		if err != nil {
			return nil, err
		}

		floor := math.Min(o.cfg.FloorWeight, 1/float64(p.minDiv))
		for _, i := range selected {
			lower[i] = floor
			forced = append(forced, p.symbols[i])
		}
		sort.Strings(forced)

		poly, err = newPolytope(lower, p.sectorOf, caps)
		if err != nil {
			return nil, failAttempt("%s", err.Error())
		}

		var it int
		w, it, err = o.solveTarget(p, poly, minVariance)
		iterations += it
		if err != nil {
			return nil, err
		}
	}

	w = snapAndRenormalize(w, lower, p.sectorOf, caps)
	if held := countHeld(w); held < p.minDiv {
		return nil, failAttempt("only %d holdings after enforcing the diversification floor, %d required", held, p.minDiv)
	}

	weights := make(map[string]float64, n)
	for i, v := range w {
		if v > 0 {
			weights[p.symbols[i]] = v
		}
	}

	return &Solution{
		Weights:    weights,
		Volatility: p.volatility(w),
		Forced:     forced,
		Iterations: iterations,
	}, nil
}

// selectForced picks MinDiversification symbols to hold at the floor weight:
// current holdings first, then preferred sectors, then weight, then standalone
// Sharpe ratio, then symbol. A symbol is skipped when its sector cannot fit one
// more floor weight.
func (o *MVOptimizer) selectForced(p *problem, w []float64, caps []float64) ([]int, error) {
	n := len(p.mu)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		i, j := order[a], order[b]
		hi, hj := w[i] > HoldingThreshold, w[j] > HoldingThreshold
		if hi != hj {
			return hi
		}
		if p.preferred[i] != p.preferred[j] {
			return p.preferred[i]
		}
		if w[i] != w[j] {
			return w[i] > w[j]
		}
		if p.sharpe[i] != p.sharpe[j] {
			return p.sharpe[i] > p.sharpe[j]
		}
		return p.symbols[i] < p.symbols[j]
	})

	floor := math.Min(o.cfg.FloorWeight, 1/float64(p.minDiv))
	used := make([]float64, len(caps))
	selected := make([]int, 0, p.minDiv)
	for _, i := range order {
		s := p.sectorOf[i]
		if used[s]+floor > caps[s]+feasibilityEps {
			continue
		}
		used[s] += floor
		selected = append(selected, i)
		if len(selected) == p.minDiv {
			return selected, nil
		}
	}
	return nil, failAttempt("only %d of %d required holdings fit under the sector caps", len(selected), p.minDiv)
}

// snapAndRenormalize zeroes weights below HoldingThreshold and re-projects the
// remaining holdings so they sum to 1 within the same caps.
func snapAndRenormalize(w, lower []float64, sectorOf []int, caps []float64) []float64 {
	held := make([]int, 0, len(w))
	snapped := false
	for i, v := range w {
		if v > HoldingThreshold || lower[i] > 0 {
			held = append(held, i)
		} else if v != 0 {
			snapped = true
		}
	}

	out := make([]float64, len(w))
	if !snapped {
		for _, i := range held {
			out[i] = w[i]
		}
		return out
	}

	subLower := make([]float64, len(held))
	subSector := make([]int, len(held))
	y := make([]float64, len(held))
	for j, i := range held {
		subLower[j] = lower[i]
		subSector[j] = sectorOf[i]
		y[j] = w[i]
	}
	poly, err := newPolytope(subLower, subSector, caps)
	if err != nil {
		// the held sectors cannot absorb the dust; fall back to plain rescaling
		total := 0.0
		for _, i := range held {
			total += w[i]
		}
		for _, i := range held {
			out[i] = w[i] / total
		}
		return out
	}

	sub := make([]float64, len(held))
	poly.project(y, sub)
	for j, i := range held {
		out[i] = sub[j]
	}
	return out
}

func countHeld(w []float64) int {
	held := 0
	for _, v := range w {
		if v > HoldingThreshold {
			held++
		}
	}
	return held
}

func maxAbsDiff(a, b []float64) float64 {
	d := 0.0
	for i := range a {
		d = math.Max(d, math.Abs(a[i]-b[i]))
	}
	return d
}
