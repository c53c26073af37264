package estimate

// Metric selects which per-category values Aggregate produces.
type Metric string

const (
	MetricLabor Metric = "labor"
	MetricCost  Metric = "cost"
)

// CategoryValue is one entry of an aggregate's per-category breakdown.
type CategoryValue struct {
	Key    string
	Label  string
	Sum    float64
	PerTon float64
	Share  float64
}

// Totals is the output of Aggregate.
type Totals struct {
	Weight      float64
	Tons        float64
	SurfaceArea float64
	LaborHours  float64
	Categories  []CategoryValue
}

// Category returns the entry for key, if present.
func (t Totals) Category(key string) (CategoryValue, bool) {
	for _, c := range t.Categories {
		if c.Key == key {
			return c, true
		}
	}
	return CategoryValue{}, false
}

// PerTonOf returns the per-ton value for key, zero when absent.
func (t Totals) PerTonOf(key string) float64 {
	c, ok := t.Category(key)
	if !ok {
		return 0
	}
	return c.PerTon
}

// Aggregate reduces a line set into weight, surface area, labor-hour, and
// per-category totals. Void lines never contribute. The function is pure and
// deterministic: categories are walked in their fixed declaration order, so
// identical inputs produce identical outputs.
func Aggregate(lines []LineItem, metric Metric, markup MarkupSettings) Totals {
	totals := Totals{}

	active := make([]LineItem, 0, len(lines))
	for _, line := range lines {
		if line.Status == StatusVoid {
			continue
		}
		active = append(active, line)
		totals.Weight += line.Weight()
		totals.SurfaceArea += line.SurfaceArea
		totals.LaborHours += line.TotalLaborHours
	}
	totals.Tons = totals.Weight / PoundsPerTon

	switch metric {
	case MetricCost:
		totals.Categories = aggregateCost(active, totals.Tons, markup)
	default:
		totals.Categories = aggregateLabor(active, totals.Tons)
	}

	applyShares(totals.Categories)
	return totals
}

func aggregateLabor(lines []LineItem, tons float64) []CategoryValue {
	var out []CategoryValue
	for _, cat := range LaborCategories {
		sum := 0.0
		for _, line := range lines {
			sum += line.Labor[cat.Key]
		}
		if sum > 0 {
			out = append(out, categoryValue(cat, sum, tons))
		}
	}

	allowance := 0.0
	for _, line := range lines {
		if line.IsAllowance() {
			allowance += line.TotalLaborHours
		}
	}
	if allowance > 0 {
		out = append(out, categoryValue(AllowancePseudoCategory, allowance, tons))
	}
	return out
}

func aggregateCost(lines []LineItem, tons float64, markup MarkupSettings) []CategoryValue {
	var material, labor, coating, hardware float64
	for _, line := range lines {
		material += line.MaterialCost
		labor += line.LaborCost
		coating += line.CoatingCost
		hardware += line.HardwareCost
	}

	// Waste factors inflate material and labor before the subtotal.
	material *= 1 + markup.MaterialWastePct/100
	labor *= 1 + markup.LaborWastePct/100

	subtotal := material + labor + coating + hardware
	overhead := subtotal * markup.OverheadPct / 100
	profit := (subtotal + overhead) * markup.ProfitPct / 100

	sums := map[string]float64{
		CostMaterial: material,
		CostLabor:    labor,
		CostCoating:  coating,
		CostHardware: hardware,
		CostOverhead: overhead,
		CostProfit:   profit,
		// Buyouts and Shipping have no data source; they stay zero and are
		// dropped by the > 0 filter below.
		CostBuyouts:  0,
		CostShipping: 0,
	}

	var out []CategoryValue
	for _, cat := range CostCategories {
		if sum := sums[cat.Key]; sum > 0 {
			out = append(out, categoryValue(cat, sum, tons))
		}
	}
	return out
}

func categoryValue(cat Category, sum, tons float64) CategoryValue {
	return CategoryValue{
		Key:    cat.Key,
		Label:  cat.Label,
		Sum:    sum,
		PerTon: safeDiv(sum, tons),
	}
}

func applyShares(categories []CategoryValue) {
	total := 0.0
	for _, c := range categories {
		total += c.PerTon
	}
	if total == 0 {
		return
	}
	for i := range categories {
		categories[i].Share = categories[i].PerTon / total * 100
	}
}

// safeDiv is the degenerate-denominator rule: zero denominator yields zero,
// never NaN or Inf.
func safeDiv(n, d float64) float64 {
	if d == 0 {
		return 0
	}
	return n / d
}
