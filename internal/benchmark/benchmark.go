// Package benchmark computes historical per-ton baselines across a fleet of
// past projects, pooled by outcome.
package benchmark

import "github.com/steelworks/bidcoach/internal/estimate"

// Project outcomes as recorded by the project registry.
const (
	StatusWon  = "won"
	StatusLost = "lost"
)

// Project is one historical project's line set plus its registry status.
type Project struct {
	ID     string
	Status string
	Lines  []estimate.LineItem
}

// Maps holds per-category per-ton values for the three pools, plus the
// number of projects that contributed lines to each. A pool with no
// contributing lines has an empty map: a missing key means "no data", which
// callers must keep distinct from a value of zero.
type Maps struct {
	All  map[string]float64
	Won  map[string]float64
	Lost map[string]float64

	AllCount  int
	WonCount  int
	LostCount int
}

// Compute pools the non-void lines of every historical project except the
// one under evaluation and aggregates each pool once. Pooling means a large
// project dominates the average in proportion to its tonnage; this is
// deliberate and not the same as averaging per-project ratios.
func Compute(projects []Project, excludeID string, metric estimate.Metric, markup estimate.MarkupSettings) Maps {
	maps := Maps{
		All:  make(map[string]float64),
		Won:  make(map[string]float64),
		Lost: make(map[string]float64),
	}

	var all, won, lost []estimate.LineItem
	for _, p := range projects {
		if p.ID == excludeID {
			continue
		}
		contributed := false
		for _, line := range p.Lines {
			if line.Status == estimate.StatusVoid {
				continue
			}
			contributed = true
			all = append(all, line)
			switch p.Status {
			case StatusWon:
				won = append(won, line)
			case StatusLost:
				lost = append(lost, line)
			}
		}
		if !contributed {
			continue
		}
		maps.AllCount++
		switch p.Status {
		case StatusWon:
			maps.WonCount++
		case StatusLost:
			maps.LostCount++
		}
	}

	fill(maps.All, all, metric, markup)
	fill(maps.Won, won, metric, markup)
	fill(maps.Lost, lost, metric, markup)
	return maps
}

func fill(dst map[string]float64, pool []estimate.LineItem, metric estimate.Metric, markup estimate.MarkupSettings) {
	if len(pool) == 0 {
		return
	}
	totals := estimate.Aggregate(pool, metric, markup)
	for _, c := range totals.Categories {
		dst[c.Key] = c.PerTon
	}
}
