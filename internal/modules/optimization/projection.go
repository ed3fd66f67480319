package optimization

import (
	"fmt"
	"math"
	"sort"
)

const feasibilityEps = 1e-12

// polytope is {w : w >= lower, sum(w) = 1, sector sums <= caps}, where every
// symbol belongs to exactly one sector.
type polytope struct {
	lower       []float64
	sectorOf    []int
	members     [][]int
	caps        []float64
	sectorLower []float64
}

func newPolytope(lower []float64, sectorOf []int, caps []float64) (*polytope, error) {
	p := &polytope{
		lower:       lower,
		sectorOf:    sectorOf,
		members:     make([][]int, len(caps)),
		caps:        caps,
		sectorLower: make([]float64, len(caps)),
	}

	var totalLower, totalCap float64
	for i, s := range sectorOf {
		p.members[s] = append(p.members[s], i)
		p.sectorLower[s] += lower[i]
		totalLower += lower[i]
	}
	for s := range caps {
		if len(p.members[s]) == 0 {
			continue
		}
		if p.sectorLower[s] > caps[s]+feasibilityEps {
			return nil, fmt.Errorf("floor weights %.4f exceed sector cap %.4f", p.sectorLower[s], caps[s])
		}
		totalCap += math.Min(caps[s], 1)
	}
	if totalLower > 1+feasibilityEps {
		return nil, fmt.Errorf("floor weights sum to %.4f", totalLower)
	}
	if totalCap < 1-feasibilityEps {
		return nil, fmt.Errorf("sector caps sum to %.4f, below a fully invested portfolio", totalCap)
	}
	return p, nil
}

// project writes the Euclidean projection of y onto the polytope into out.
//
// The optimum has the form w_i = lower_i + max(0, y_i - lower_i - theta_s), where
// theta_s = max(tau, capTheta_s) and capTheta_s is the threshold at which sector s
// sits exactly at its cap. The total weight is piecewise linear and nonincreasing
// in tau with breakpoints at every y_i - lower_i and capTheta_s, so tau is found
// exactly by locating the segment that crosses 1 and interpolating.
func (p *polytope) project(y, out []float64) {
	n := len(y)
	b := make([]float64, n)
	for i := range y {
		b[i] = y[i] - p.lower[i]
	}

	capTheta := make([]float64, len(p.caps))
	points := make([]float64, 0, n+len(p.caps))
	points = append(points, b...)
	for s, idx := range p.members {
		if len(idx) == 0 {
			continue
		}
		capTheta[s] = simplexThreshold(b, idx, p.caps[s]-p.sectorLower[s])
		points = append(points, capTheta[s])
	}
	sort.Float64s(points)

	total := func(tau float64) float64 {
		sum := 0.0
		for s, idx := range p.members {
			if len(idx) == 0 {
				continue
			}
			if tau <= capTheta[s] {
				sum += p.caps[s]
				continue
			}
			sum += p.sectorLower[s]
			for _, i := range idx {
				if b[i] > tau {
					sum += b[i] - tau
				}
			}
		}
		return sum
	}

	// smallest k with total(points[k]) <= 1
	k := sort.Search(len(points), func(k int) bool { return total(points[k]) <= 1 })
	var tau float64
	switch {
	case k == 0:
		tau = points[0]
	case k == len(points):
		tau = points[len(points)-1]
	default:
		ta, tb := points[k-1], points[k]
		va, vb := total(ta), total(tb)
		tau = tb
		if va > vb {
			tau = ta + (va-1)*(tb-ta)/(va-vb)
		}
	}

	for s, idx := range p.members {
		theta := math.Max(tau, capTheta[s])
		for _, i := range idx {
			out[i] = p.lower[i] + math.Max(0, b[i]-theta)
		}
	}
}

// simplexThreshold returns theta with sum over idx of max(0, b_i - theta) = d.
// For d <= 0 it returns the largest b_i, where the sum first reaches zero.
func simplexThreshold(b []float64, idx []int, d float64) float64 {
	v := make([]float64, len(idx))
	for j, i := range idx {
		v[j] = b[i]
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(v)))

	if d <= 0 {
		return v[0]
	}

	cum := 0.0
	theta := v[0] - d
	for k := range v {
		cum += v[k]
		t := (cum - d) / float64(k+1)
		if v[k] > t {
			theta = t
		}
	}
	return theta
}
