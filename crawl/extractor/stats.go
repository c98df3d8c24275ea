package extractor

import (
	"math"
	"sort"
)

const maxFrequentValues = 100

// validPixels returns the samples that are neither nodata nor NaN/Inf.
func validPixels(band []float64, nodata float64) []float64 {
	valid := make([]float64, 0, len(band))
	for _, v := range band {
		if v == nodata || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		valid = append(valid, v)
	}
	return valid
}

// percentile interpolates linearly between the closest order statistics of
// an ascending slice.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if hi >= n {
		hi = n - 1
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

type summary struct {
	min, max    float64
	mean, stdev float64
	median      float64
	percentiles []float64
}

// summarise sorts valid in place. valid must not be empty.
func summarise(valid []float64) summary {
	sort.Float64s(valid)
	n := float64(len(valid))

	var sum float64
	for _, v := range valid {
		sum += v
	}
	mean := sum / n

	var sqDiff float64
	for _, v := range valid {
		d := v - mean
		sqDiff += d * d
	}

	pcts := make([]float64, NumPercentiles)
	for i := range pcts {
		pcts[i] = percentile(valid, float64(i+1))
	}

	return summary{
		min:         valid[0],
		max:         valid[len(valid)-1],
		mean:        mean,
		stdev:       math.Sqrt(sqDiff / n),
		median:      percentile(valid, 50),
		percentiles: pcts,
	}
}

type valueCount struct {
	value float64
	count int64
}

// frequencies counts every distinct value exactly. It is meant for categorical
// rasters; continuous imagery produces one bucket per distinct sample.
func frequencies(valid []float64) (top []float64, negative int64) {
	counts := make(map[float64]int64)
	for _, v := range valid {
		counts[v]++
	}

	hist := make([]valueCount, 0, len(counts))
	for v, c := range counts {
		hist = append(hist, valueCount{value: v, count: c})
		if v < 0 {
			negative += c
		}
	}
	sort.Slice(hist, func(i, j int) bool {
		if hist[i].count != hist[j].count {
			return hist[i].count > hist[j].count
		}
		return hist[i].value < hist[j].value
	})

	if len(hist) > maxFrequentValues {
		hist = hist[:maxFrequentValues]
	}
	top = make([]float64, len(hist))
	for i, vc := range hist {
		top[i] = vc.value
	}
	return top, negative
}
