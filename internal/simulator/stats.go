package simulator

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ScoreSummary describes one fantasy-point distribution.
type ScoreSummary struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	P50    float64 `json:"p50"`
	P75    float64 `json:"p75"`
	P90    float64 `json:"p90"`
}

// Summarize computes the mean, sample standard deviation and upper percentiles of values.
func Summarize(values []float64) ScoreSummary {
	if len(values) == 0 {
		return ScoreSummary{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	sum := ScoreSummary{
		Mean: stat.Mean(sorted, nil),
		P50:  percentileSorted(sorted, 50),
		P75:  percentileSorted(sorted, 75),
		P90:  percentileSorted(sorted, 90),
	}
	if len(sorted) > 1 {
		sum.StdDev = stat.StdDev(sorted, nil)
	}
	return sum
}

// Percentile returns the p-th percentile (0-100) of values, interpolating
// linearly between closest ranks. values is not modified.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return percentileSorted(sorted, p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	p = math.Min(math.Max(p, 0), 100)
	pos := p / 100 * float64(n-1)
	lo := int(math.Floor(pos))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

func meanInts(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0
	for _, v := range values {
		total += v
	}
	return float64(total) / float64(len(values))
}

func rate(values []bool) float64 {
	if len(values) == 0 {
		return 0
	}
	hits := 0
	for _, v := range values {
		if v {
			hits++
		}
	}
	return float64(hits) / float64(len(values))
}
