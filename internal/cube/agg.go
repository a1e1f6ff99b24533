package cube

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// AggMethod selects how the cells grouped into a bucket reduce to one value.
//
// Mean, median, max, min, sum, std, and var are numeric reductions that skip
// missing (NaN) cells. First and last are positional selections over the
// bucket's row-major scan order. Mode and majority (synonyms) pick the most
// frequent value and are the only reductions meaningful for categorical data;
// ties break toward the smallest value, matching a value-sorted count.
type AggMethod string

const (
	AggMean     AggMethod = "mean"
	AggMedian   AggMethod = "median"
	AggMax      AggMethod = "max"
	AggMin      AggMethod = "min"
	AggSum      AggMethod = "sum"
	AggFirst    AggMethod = "first"
	AggLast     AggMethod = "last"
	AggStd      AggMethod = "std"
	AggVar      AggMethod = "var"
	AggMode     AggMethod = "mode"
	AggMajority AggMethod = "majority"
)

// ParseAggMethod converts a user-supplied string into an AggMethod.
func ParseAggMethod(s string) (AggMethod, error) {
	m := AggMethod(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case AggMean, AggMedian, AggMax, AggMin, AggSum, AggFirst, AggLast, AggStd, AggVar, AggMode, AggMajority:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAggregation, s)
}

// Reduce collapses the bucket values to a single value. The input order is the
// bucket's scan order and only matters for first/last.
func (m AggMethod) Reduce(vals []float64) (float64, error) {
	if len(vals) == 0 {
		return math.NaN(), nil
	}
	switch m {
	case AggFirst:
		return vals[0], nil
	case AggLast:
		return vals[len(vals)-1], nil
	case AggMode, AggMajority:
		return mode(vals), nil
	}

	finite := make([]float64, 0, len(vals))
	for _, v := range vals {
		if !math.IsNaN(v) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		if m == AggSum {
			return 0, nil
		}
		return math.NaN(), nil
	}

	switch m {
	case AggMean:
		return mean(finite), nil
	case AggMedian:
		sorted := append([]float64(nil), finite...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 1 {
			return sorted[mid], nil
		}
		return (sorted[mid-1] + sorted[mid]) / 2, nil
	case AggMax:
		max := finite[0]
		for _, v := range finite[1:] {
			if v > max {
				max = v
			}
		}
		return max, nil
	case AggMin:
		min := finite[0]
		for _, v := range finite[1:] {
			if v < min {
				min = v
			}
		}
		return min, nil
	case AggSum:
		sum := 0.0
		for _, v := range finite {
			sum += v
		}
		return sum, nil
	case AggStd:
		return math.Sqrt(variance(finite)), nil
	case AggVar:
		return variance(finite), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAggregation, string(m))
}

func mean(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// variance is the population variance (no degrees-of-freedom correction).
func variance(vals []float64) float64 {
	mu := mean(vals)
	ss := 0.0
	for _, v := range vals {
		d := v - mu
		ss += d * d
	}
	return ss / float64(len(vals))
}

// mode returns the most frequent non-missing value. Candidates are counted in
// ascending value order, so ties resolve to the smallest value.
func mode(vals []float64) float64 {
	counts := make(map[float64]int)
	for _, v := range vals {
		if !math.IsNaN(v) {
			counts[v]++
		}
	}
	if len(counts) == 0 {
		return math.NaN()
	}
	uniques := make([]float64, 0, len(counts))
	for v := range counts {
		uniques = append(uniques, v)
	}
	sort.Float64s(uniques)

	best := uniques[0]
	bestCount := counts[best]
	for _, v := range uniques[1:] {
		if counts[v] > bestCount {
			best = v
			bestCount = counts[v]
		}
	}
	return best
}
