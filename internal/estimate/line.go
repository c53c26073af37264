package estimate

// Status marks whether a line item participates in aggregation.
type Status string

const (
	StatusActive Status = "Active"
	StatusVoid   Status = "Void"
)

// MaterialKind distinguishes how a line's weight is carried.
type MaterialKind string

const (
	KindMaterial MaterialKind = "Material"
	KindPlate    MaterialKind = "Plate"
)

const (
	// AllowanceCategory tags lines that represent margin buffers instead of
	// physical components.
	AllowanceCategory    = "Allowances"
	CoachSubCategory     = "Bid Coach"
	PoundsPerTon         = 2000.0
	FallbackLaborRate    = 45.0
)

// LineItem is one estimated component. It is created and edited by the
// estimating UI; the engine treats it as read-only input, except for the
// synthetic allowance lines the coach commits.
type LineItem struct {
	ID          string
	Status      Status
	Kind        MaterialKind
	Description string
	Category    string
	SubCategory string

	TotalWeight      float64
	PlateTotalWeight float64
	SurfaceArea      float64

	// Labor holds hours keyed by labor category key. Lines imported from
	// older estimates may carry only TotalLaborHours with an empty map.
	Labor           map[string]float64
	TotalLaborHours float64
	LaborRate       float64

	MaterialCost float64
	LaborCost    float64
	CoatingCost  float64
	HardwareCost float64

	Note string
}

// Weight returns the aggregation weight for the line: plate lines carry
// their weight in PlateTotalWeight, everything else in TotalWeight.
func (l LineItem) Weight() float64 {
	if l.Kind == KindPlate {
		return l.PlateTotalWeight
	}
	return l.TotalWeight
}

// IsAllowance reports whether the line is a margin-buffer line rather than
// a physical component.
func (l LineItem) IsAllowance() bool {
	return l.Category == AllowanceCategory || l.SubCategory == CoachSubCategory
}

// HasLaborBreakdown reports whether the line carries any per-category hours.
func (l LineItem) HasLaborBreakdown() bool {
	for _, h := range l.Labor {
		if h > 0 {
			return true
		}
	}
	return false
}

// MarkupSettings are the company-configured percentages applied by the cost
// waterfall. Absent values default to zero.
type MarkupSettings struct {
	MaterialWastePct float64
	LaborWastePct    float64
	OverheadPct      float64
	ProfitPct        float64
}
