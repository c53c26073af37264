package coach

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/steelworks/bidcoach/internal/estimate"
)

// NextLineID returns the next sequential L{n} identifier that does not
// collide with an existing line.
func NextLineID(existing []estimate.LineItem) string {
	max := 0
	for _, line := range existing {
		rest, ok := strings.CutPrefix(line.ID, "L")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil || n <= max {
			continue
		}
		max = n
	}
	return fmt.Sprintf("L%d", max+1)
}

// BuildAllowanceLine folds a selected recommendation subset into one
// synthetic allowance line ready to be created in the store. Each call
// yields a fresh line; repeated applies intentionally stack allowances.
func BuildAllowanceLine(selected []Recommendation, existing []estimate.LineItem, laborRate float64) estimate.LineItem {
	var hours, cost float64
	breakdown := make([]string, 0, len(selected))
	for _, rec := range selected {
		hours += rec.TotalDeltaHours
		cost += rec.EstCostImpact
		breakdown = append(breakdown, fmt.Sprintf("%s: +%.1f h ($%.2f)", rec.Label, rec.TotalDeltaHours, rec.EstCostImpact))
	}

	return estimate.LineItem{
		ID:              NextLineID(existing),
		Status:          estimate.StatusActive,
		Kind:            estimate.KindMaterial,
		Description:     "Bid Coach allowance",
		Category:        estimate.AllowanceCategory,
		SubCategory:     estimate.CoachSubCategory,
		TotalLaborHours: hours,
		LaborRate:       laborRate,
		LaborCost:       cost,
		Note:            "Bid Coach adjustments: " + strings.Join(breakdown, "; "),
	}
}
