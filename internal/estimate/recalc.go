package estimate

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

const (
	minEfficiency = 0.5
	maxEfficiency = 2.0

	// adjustmentLogCap bounds the in-memory audit ring.
	adjustmentLogCap = 50
)

// Parameters are the user-adjustable what-if knobs. Multipliers default to
// 1.0; markup percentages start from company settings but are independent of
// them once the user adjusts.
type Parameters struct {
	// Efficiency holds per-operation labor multipliers keyed by labor
	// category key. Missing entries mean 1.0.
	Efficiency map[string]float64

	LaborRateMult    float64
	MaterialRateMult float64
	CoatingRateMult  float64

	Markup MarkupSettings
}

// DefaultParameters returns neutral multipliers seeded with company markups.
func DefaultParameters(markup MarkupSettings) Parameters {
	return Parameters{
		Efficiency:       make(map[string]float64),
		LaborRateMult:    1,
		MaterialRateMult: 1,
		CoatingRateMult:  1,
		Markup:           markup,
	}
}

// EfficiencyFor returns the clamped multiplier for a labor category.
func (p Parameters) EfficiencyFor(key string) float64 {
	mult, ok := p.Efficiency[key]
	if !ok {
		return 1
	}
	return clamp(mult, minEfficiency, maxEfficiency)
}

// MeanEfficiency is the arithmetic mean of all operation multipliers,
// applied to lines that carry only a total-labor figure.
func (p Parameters) MeanEfficiency() float64 {
	sum := 0.0
	for _, cat := range LaborCategories {
		sum += p.EfficiencyFor(cat.Key)
	}
	return sum / float64(len(LaborCategories))
}

// ConsumablesCalculator estimates consumables spend from shop effort. The
// implementation is supplied by the caller; the engine only folds the figure
// into direct cost.
type ConsumablesCalculator interface {
	Estimate(laborHours, weight float64) float64
}

// NoConsumables is the zero estimator used when no calculator is configured.
type NoConsumables struct{}

func (NoConsumables) Estimate(float64, float64) float64 { return 0 }

// StandardConsumables derives an equipment-hours estimate from tonnage and
// prices both labor and equipment hours at a flat rate.
type StandardConsumables struct {
	RatePerHour          float64
	EquipmentHoursPerTon float64
}

func (c StandardConsumables) Estimate(laborHours, weight float64) float64 {
	equipmentHours := weight / PoundsPerTon * c.EquipmentHoursPerTon
	return (laborHours + equipmentHours) * c.RatePerHour
}

// Snapshot is a full totals picture under one parameter set.
type Snapshot struct {
	Weight     float64
	Tons       float64
	LaborHours float64

	MaterialCost float64
	LaborCost    float64
	CoatingCost  float64
	HardwareCost float64
	Consumables  float64

	Waterfall Waterfall

	CostPerTon    float64
	CostPerPound  float64
	HoursPerTon   float64
	HoursPerPound float64
}

// Recalculate re-runs aggregation and markups under a parameter set.
// Pure: a new snapshot is produced on every call, nothing is cached.
func Recalculate(lines []LineItem, params Parameters, consumables ConsumablesCalculator) Snapshot {
	if consumables == nil {
		consumables = NoConsumables{}
	}

	snap := Snapshot{}
	meanMult := params.MeanEfficiency()

	for _, line := range lines {
		if line.Status == StatusVoid {
			continue
		}
		snap.Weight += line.Weight()

		hours := 0.0
		if line.HasLaborBreakdown() {
			for _, cat := range LaborCategories {
				hours += line.Labor[cat.Key] * params.EfficiencyFor(cat.Key)
			}
		} else if line.TotalLaborHours > 0 {
			hours = line.TotalLaborHours * meanMult
		}
		if hours < 0 {
			hours = 0
		}

		snap.LaborHours += hours
		snap.LaborCost += hours * line.LaborRate * params.LaborRateMult
		snap.MaterialCost += line.MaterialCost * params.MaterialRateMult
		snap.CoatingCost += line.CoatingCost * params.CoatingRateMult
		snap.HardwareCost += line.HardwareCost
	}

	snap.Tons = snap.Weight / PoundsPerTon
	snap.Consumables = consumables.Estimate(snap.LaborHours, snap.Weight)

	direct := snap.MaterialCost + snap.LaborCost + snap.CoatingCost + snap.HardwareCost + snap.Consumables
	snap.Waterfall = ApplyMarkups(direct, snap.LaborCost, params.Markup)

	snap.CostPerTon = PerTon(snap.Waterfall.Total, snap.Weight)
	snap.CostPerPound = PerPound(snap.Waterfall.Total, snap.Weight)
	snap.HoursPerTon = PerTon(snap.LaborHours, snap.Weight)
	snap.HoursPerPound = PerPound(snap.LaborHours, snap.Weight)
	return snap
}

// AuditRecord captures one parameter mutation and its effect on the total.
type AuditRecord struct {
	ID        string
	Parameter string
	OldValue  float64
	NewValue  float64
	Impact    float64
	Timestamp time.Time
	UserID    string
}

// AuditSink persists adjustment records. Failures must never block the
// caller; the recalculator logs and continues.
type AuditSink interface {
	AppendAudit(ctx context.Context, rec AuditRecord) error
}

// Recalculator holds a live what-if session: the current line set, the
// current parameters, and the adjustment log. Single writer; the UI drives
// it from one goroutine.
type Recalculator struct {
	lines       []LineItem
	params      Parameters
	consumables ConsumablesCalculator
	sink        AuditSink
	userID      string

	current Snapshot
	history []AuditRecord
}

// NewRecalculator starts a session with neutral parameters seeded from the
// company markup settings. sink may be nil.
func NewRecalculator(lines []LineItem, markup MarkupSettings, consumables ConsumablesCalculator, sink AuditSink, userID string) *Recalculator {
	r := &Recalculator{
		lines:       lines,
		params:      DefaultParameters(markup),
		consumables: consumables,
		sink:        sink,
		userID:      userID,
	}
	r.current = Recalculate(r.lines, r.params, r.consumables)
	return r
}

// Snapshot returns the totals under the current parameters.
func (r *Recalculator) Snapshot() Snapshot { return r.current }

// Parameters returns a copy of the current parameter set.
func (r *Recalculator) Parameters() Parameters {
	out := r.params
	out.Efficiency = make(map[string]float64, len(r.params.Efficiency))
	for k, v := range r.params.Efficiency {
		out.Efficiency[k] = v
	}
	return out
}

// History returns the adjustment log, oldest first, capped at the 50 most
// recent mutations.
func (r *Recalculator) History() []AuditRecord {
	out := make([]AuditRecord, len(r.history))
	copy(out, r.history)
	return out
}

// SetLines replaces the line set and recomputes. Line changes come from the
// store, not the user, so no adjustment record is written.
func (r *Recalculator) SetLines(lines []LineItem) Snapshot {
	r.lines = lines
	r.current = Recalculate(r.lines, r.params, r.consumables)
	return r.current
}

// SetParameter mutates one named parameter, recomputes, and appends an
// adjustment record. Parameter names:
//
//	efficiency.<category>   labor efficiency multiplier
//	rate.labor|material|coating
//	markup.materialWaste|laborWaste|overhead|profit
func (r *Recalculator) SetParameter(ctx context.Context, name string, value float64) (Snapshot, error) {
	old, err := r.applyParameter(name, value)
	if err != nil {
		return r.current, err
	}

	before := r.current.Waterfall.Total
	r.current = Recalculate(r.lines, r.params, r.consumables)

	rec := AuditRecord{
		Parameter: name,
		OldValue:  old,
		NewValue:  value,
		Impact:    r.current.Waterfall.Total - before,
		Timestamp: time.Now().UTC(),
		UserID:    r.userID,
	}
	r.history = append(r.history, rec)
	if len(r.history) > adjustmentLogCap {
		r.history = r.history[len(r.history)-adjustmentLogCap:]
	}

	if r.sink != nil {
		if err := r.sink.AppendAudit(ctx, rec); err != nil {
			log.Printf("audit sink write failed for %s: %v", name, err)
		}
	}
	return r.current, nil
}

func (r *Recalculator) applyParameter(name string, value float64) (old float64, err error) {
	switch {
	case strings.HasPrefix(name, "efficiency."):
		key := strings.TrimPrefix(name, "efficiency.")
		if !isLaborCategory(key) {
			return 0, fmt.Errorf("unknown labor category %q", key)
		}
		old = r.params.EfficiencyFor(key)
		if r.params.Efficiency == nil {
			r.params.Efficiency = make(map[string]float64)
		}
		r.params.Efficiency[key] = clamp(value, minEfficiency, maxEfficiency)
	case name == "rate.labor":
		old, r.params.LaborRateMult = r.params.LaborRateMult, value
	case name == "rate.material":
		old, r.params.MaterialRateMult = r.params.MaterialRateMult, value
	case name == "rate.coating":
		old, r.params.CoatingRateMult = r.params.CoatingRateMult, value
	case name == "markup.materialWaste":
		old, r.params.Markup.MaterialWastePct = r.params.Markup.MaterialWastePct, value
	case name == "markup.laborWaste":
		old, r.params.Markup.LaborWastePct = r.params.Markup.LaborWastePct, value
	case name == "markup.overhead":
		old, r.params.Markup.OverheadPct = r.params.Markup.OverheadPct, value
	case name == "markup.profit":
		old, r.params.Markup.ProfitPct = r.params.Markup.ProfitPct, value
	default:
		return 0, fmt.Errorf("unknown parameter %q", name)
	}
	return old, nil
}

func isLaborCategory(key string) bool {
	for _, cat := range LaborCategories {
		if cat.Key == key {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
