// Package coach turns current-project totals and historical benchmarks into
// ranked target-adjustment recommendations and commits the accepted subset
// back to the estimate as an allowance line.
package coach

import (
	"fmt"
	"math"
	"sort"

	"github.com/steelworks/bidcoach/internal/benchmark"
	"github.com/steelworks/bidcoach/internal/estimate"
)

// Mode is the target-selection policy.
type Mode string

const (
	// ModeProtectMargin aims straight at the won/lost blend: price the work
	// the way winning-and-losing history says it actually costs.
	ModeProtectMargin Mode = "protect"
	// ModeWinStrategy corrects only halfway toward the hard target to stay
	// competitive.
	ModeWinStrategy Mode = "win"
)

// Confidence is a coarse reliability tier derived from sample size.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

const (
	highSampleThreshold   = 10
	mediumSampleThreshold = 5
	upgradeGapPct         = 15

	materialGapPct = 5
	minDeltaPerTon = 0.01
	maxResults     = 6
)

// Recommendation is one proposed per-category adjustment. DeltaPerTon is
// clamped at zero: the coach never proposes removing hours.
type Recommendation struct {
	Key             string
	Label           string
	Current         float64
	Target          float64
	TargetSource    string
	DeltaPerTon     float64
	TotalDeltaHours float64
	EstCostImpact   float64
	Confidence      Confidence
	Rationale       string
}

// Recommend compares current per-ton labor values against the benchmark
// pools and returns the ranked adjustment candidates. Only the labor-hours
// metric is coached; pass cost-metric totals and the list is empty.
func Recommend(current estimate.Totals, maps benchmark.Maps, mode Mode, metric estimate.Metric, laborRate float64) []Recommendation {
	if metric != estimate.MetricLabor {
		return nil
	}

	samples := maps.WonCount + maps.LostCount
	var recs []Recommendation

	for _, cat := range append(append([]estimate.Category{}, estimate.LaborCategories...), estimate.AllowancePseudoCategory) {
		cur := current.PerTonOf(cat.Key)
		target, source := selectTarget(cur, cat.Key, maps, mode)

		gapPct := 0.0
		if target > 0 {
			gapPct = (target - cur) / target * 100
		}

		delta := target - cur
		if delta < 0 {
			delta = 0
		}
		if delta <= minDeltaPerTon && gapPct <= materialGapPct {
			continue
		}

		totalDelta := delta * current.Tons
		rec := Recommendation{
			Key:             cat.Key,
			Label:           cat.Label,
			Current:         cur,
			Target:          target,
			TargetSource:    source,
			DeltaPerTon:     delta,
			TotalDeltaHours: totalDelta,
			EstCostImpact:   totalDelta * laborRate,
			Confidence:      confidenceFor(samples, gapPct),
		}
		rec.Rationale = rationale(rec, gapPct, samples)
		recs = append(recs, rec)
	}

	sort.SliceStable(recs, func(i, j int) bool {
		mi := materialGap(recs[i])
		mj := materialGap(recs[j])
		if mi != mj {
			return mi
		}
		return recs[i].TotalDeltaHours > recs[j].TotalDeltaHours
	})
	if len(recs) > maxResults {
		recs = recs[:maxResults]
	}
	return recs
}

// selectTarget applies the mode policy for one category and names the source
// the target came from.
func selectTarget(cur float64, key string, maps benchmark.Maps, mode Mode) (float64, string) {
	won := maps.Won[key]
	lost := maps.Lost[key]

	winLoss := 0.0
	switch {
	case won > 0 && lost > 0:
		winLoss = (won + lost) / 2
	case won > 0:
		winLoss = won
	default:
		winLoss = lost
	}
	companyAvg := maps.All[key]

	if mode == ModeWinStrategy {
		hard := winLoss
		source := "won/lost blend"
		if hard <= 0 {
			hard, source = companyAvg, "company average"
		}
		if hard <= 0 {
			hard, source = cur*1.1, "10% buffer over current"
		}
		target := cur + (hard-cur)*0.5
		if target < 0 {
			target = 0
		}
		return target, source + " (midpoint)"
	}

	// Protect-Margin.
	if winLoss > 0 {
		return winLoss, "won/lost blend"
	}
	if companyAvg > 0 {
		return companyAvg, "company average"
	}
	if cur > 0 {
		return cur * 1.05, "5% buffer over current"
	}
	return 0, "no data"
}

func confidenceFor(samples int, gapPct float64) Confidence {
	switch {
	case samples >= highSampleThreshold:
		return ConfidenceHigh
	case samples >= mediumSampleThreshold:
		return ConfidenceMedium
	case gapPct > upgradeGapPct:
		// A wide gap is signal even on a thin sample.
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func materialGap(r Recommendation) bool {
	gap := 0.0
	if r.Target > 0 {
		gap = (r.Target - r.Current) / r.Target * 100
	}
	return math.Abs(gap) > materialGapPct
}

func rationale(r Recommendation, gapPct float64, samples int) string {
	magnitude := "slightly below"
	if gapPct > upgradeGapPct {
		magnitude = "well below"
	} else if gapPct > materialGapPct {
		magnitude = "below"
	}
	return fmt.Sprintf(
		"%s is running %s the %s (%.1f vs %.1f MH/ton, %.0f%% gap across %d comparable bids); adding %.1f hours covers the shortfall.",
		r.Label, magnitude, r.TargetSource, r.Current, r.Target, gapPct, samples, r.TotalDeltaHours,
	)
}

// InferLaborRate picks the rate used to price recommendation deltas: the
// first positive rate on the current lines, then the first positive company
// rate, then a flat fallback. The first-positive heuristic is coarse but is
// the established behavior.
func InferLaborRate(lines []estimate.LineItem, companyRates []float64) float64 {
	for _, line := range lines {
		if line.LaborRate > 0 {
			return line.LaborRate
		}
	}
	for _, rate := range companyRates {
		if rate > 0 {
			return rate
		}
	}
	return estimate.FallbackLaborRate
}
