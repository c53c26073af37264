package estimate

// Category is a static definition of one labor operation or cost bucket.
type Category struct {
	Key   string
	Label string
	Color string
}

// Labor category keys, one per shop operation.
const (
	CatUnload  = "unload"
	CatCut     = "cut"
	CatCope    = "cope"
	CatPlate   = "processPlate"
	CatDrill   = "drillPunch"
	CatFit     = "fit"
	CatWeld    = "weld"
	CatPrep    = "prepClean"
	CatPaint   = "paint"
	CatHandle  = "handleMove"
	CatLoad    = "loadShip"
	CatAllowance = "allowance"
)

// LaborCategories is the fixed set of shop operations, in display order.
// Aggregation iterates this slice so output ordering is deterministic.
var LaborCategories = []Category{
	{Key: CatUnload, Label: "Unload", Color: "#8d99ae"},
	{Key: CatCut, Label: "Cut", Color: "#e63946"},
	{Key: CatCope, Label: "Cope", Color: "#f4a261"},
	{Key: CatPlate, Label: "Process Plate", Color: "#2a9d8f"},
	{Key: CatDrill, Label: "Drill/Punch", Color: "#457b9d"},
	{Key: CatFit, Label: "Fit", Color: "#e9c46a"},
	{Key: CatWeld, Label: "Weld", Color: "#d62828"},
	{Key: CatPrep, Label: "Prep/Clean", Color: "#6a994e"},
	{Key: CatPaint, Label: "Paint", Color: "#7209b7"},
	{Key: CatHandle, Label: "Handle/Move", Color: "#b5838d"},
	{Key: CatLoad, Label: "Load/Ship", Color: "#1d3557"},
}

// AllowancePseudoCategory aggregates lines tagged as allowances. It is not a
// shop operation and never appears on a line's labor map.
var AllowancePseudoCategory = Category{Key: CatAllowance, Label: "Allowance", Color: "#adb5bd"}

// Cost category keys for the cost-metric mode.
const (
	CostMaterial = "material"
	CostLabor    = "labor"
	CostCoating  = "coating"
	CostHardware = "hardware"
	CostBuyouts  = "buyouts"
	CostOverhead = "overhead"
	CostProfit   = "profit"
	CostShipping = "shipping"
)

// CostCategories is the fixed set of cost buckets, in waterfall order.
// Buyouts and Shipping have no data source wired up yet; they aggregate to
// zero and are dropped by the inclusion filter.
var CostCategories = []Category{
	{Key: CostMaterial, Label: "Material", Color: "#457b9d"},
	{Key: CostLabor, Label: "Labor", Color: "#e63946"},
	{Key: CostCoating, Label: "Coating", Color: "#7209b7"},
	{Key: CostHardware, Label: "Hardware", Color: "#2a9d8f"},
	{Key: CostBuyouts, Label: "Buyouts", Color: "#f4a261"},
	{Key: CostOverhead, Label: "Overhead", Color: "#8d99ae"},
	{Key: CostProfit, Label: "Profit", Color: "#6a994e"},
	{Key: CostShipping, Label: "Shipping", Color: "#1d3557"},
}

// LaborCategoryLabel returns the display label for a labor category key.
func LaborCategoryLabel(key string) string {
	if key == CatAllowance {
		return AllowancePseudoCategory.Label
	}
	for _, c := range LaborCategories {
		if c.Key == key {
			return c.Label
		}
	}
	return key
}
