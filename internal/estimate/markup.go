package estimate

// Waterfall contains every intermediate value of the markup calculation,
// applied in fixed order: waste, then overhead, then profit.
type Waterfall struct {
	DirectCost         float64
	MaterialWaste      float64
	LaborWaste         float64
	CostBeforeOverhead float64
	Overhead           float64
	CostBeforeProfit   float64
	Profit             float64
	Total              float64
}

// ApplyMarkups runs the markup waterfall over a direct cost. Material waste
// is taken on the full direct cost, labor waste on the labor portion only.
func ApplyMarkups(directCost, laborCost float64, markup MarkupSettings) Waterfall {
	w := Waterfall{DirectCost: directCost}
	w.MaterialWaste = directCost * markup.MaterialWastePct / 100
	w.LaborWaste = laborCost * markup.LaborWastePct / 100
	w.CostBeforeOverhead = directCost + w.MaterialWaste + w.LaborWaste
	w.Overhead = w.CostBeforeOverhead * markup.OverheadPct / 100
	w.CostBeforeProfit = w.CostBeforeOverhead + w.Overhead
	w.Profit = w.CostBeforeProfit * markup.ProfitPct / 100
	w.Total = w.CostBeforeProfit + w.Profit
	return w
}

// PerTon normalizes a value by weight expressed in pounds. Zero weight
// yields zero.
func PerTon(value, weight float64) float64 {
	return safeDiv(value, weight/PoundsPerTon)
}

// PerPound normalizes a value by weight in pounds. Zero weight yields zero.
func PerPound(value, weight float64) float64 {
	return safeDiv(value, weight)
}
