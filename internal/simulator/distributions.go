package simulator

import (
	"math"
	"math/rand/v2"
	"sort"
)

// Distribution represents a probability distribution sampled from an explicit stream.
type Distribution interface {
	Sample(rng *rand.Rand) float64
	Mean() float64
	StdDev() float64
}

// NormalDistribution represents a normal (Gaussian) distribution
type NormalDistribution struct {
	mean   float64
	stdDev float64
}

func NewNormalDistribution(mean, stdDev float64) *NormalDistribution {
	return &NormalDistribution{
		mean:   mean,
		stdDev: stdDev,
	}
}

func (d *NormalDistribution) Sample(rng *rand.Rand) float64 {
	return rng.NormFloat64()*d.stdDev + d.mean
}

func (d *NormalDistribution) Mean() float64 {
	return d.mean
}

func (d *NormalDistribution) StdDev() float64 {
	return d.stdDev
}

const truncatedNormalMaxDraws = 64

// TruncatedNormalDistribution represents a normal distribution with bounds.
// After truncatedNormalMaxDraws rejected draws the last sample is clamped.
type TruncatedNormalDistribution struct {
	*NormalDistribution
	min float64
	max float64
}

func NewTruncatedNormalDistribution(mean, stdDev, min, max float64) *TruncatedNormalDistribution {
	if min > max {
		min, max = max, min
	}
	return &TruncatedNormalDistribution{
		NormalDistribution: NewNormalDistribution(mean, stdDev),
		min:                min,
		max:                max,
	}
}

func (d *TruncatedNormalDistribution) Sample(rng *rand.Rand) float64 {
	if d.stdDev <= 0 || d.min == d.max {
		return math.Min(math.Max(d.mean, d.min), d.max)
	}
	var sample float64
	for i := 0; i < truncatedNormalMaxDraws; i++ {
		sample = d.NormalDistribution.Sample(rng)
		if sample >= d.min && sample <= d.max {
			return sample
		}
	}
	return math.Min(math.Max(sample, d.min), d.max)
}

// uniform draws from [lo, hi).
func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*rng.Float64()
}

// randRange draws an integer from [lo, hi], both inclusive.
func randRange(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.IntN(hi-lo+1)
}

// poisson uses Knuth's multiplication method; the means used here are small.
func poisson(rng *rand.Rand, mean float64) int {
	if mean <= 0 {
		return 0
	}
	l := math.Exp(-mean)
	k := 0
	p := 1.0
	for {
		p *= rng.Float64()
		if p <= l {
			return k
		}
		k++
	}
}

// weightedChoice returns an index drawn proportionally to weights, or -1 when
// no weight is positive.
func weightedChoice(rng *rand.Rand, weights []float64) int {
	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return -1
	}
	u := rng.Float64() * total
	last := -1
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		last = i
		if u < w {
			return i
		}
		u -= w
	}
	return last
}

// ordinalRank ranks values ascending from 1, breaking ties by index.
func ordinalRank(values []float64) []int {
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return values[order[a]] < values[order[b]] })
	ranks := make([]int, len(values))
	for r, i := range order {
		ranks[i] = r + 1
	}
	return ranks
}

// indexByRank inverts a permutation of ranks 1..M.
func indexByRank(ranks []int) []int {
	idx := make([]int, len(ranks)+1)
	for i := range idx {
		idx[i] = -1
	}
	for i, r := range ranks {
		if r >= 1 && r < len(idx) {
			idx[r] = i
		}
	}
	return idx
}
