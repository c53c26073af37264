package estimate

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func recalcLines() []LineItem {
	return []LineItem{
		{ID: "L1", Status: StatusActive, Kind: KindMaterial, TotalWeight: 4000,
			Labor: map[string]float64{CatWeld: 10, CatFit: 5}, TotalLaborHours: 15,
			LaborRate: 50, MaterialCost: 1000, CoatingCost: 200, HardwareCost: 100},
	}
}

func TestRecalculate_NeutralParametersMatchRawTotals(t *testing.T) {
	snap := Recalculate(recalcLines(), DefaultParameters(MarkupSettings{}), nil)

	nearlyEqual(t, "laborHours", snap.LaborHours, 15)
	nearlyEqual(t, "laborCost", snap.LaborCost, 750)
	nearlyEqual(t, "materialCost", snap.MaterialCost, 1000)
	nearlyEqual(t, "directCost", snap.Waterfall.DirectCost, 2050)
	nearlyEqual(t, "total", snap.Waterfall.Total, 2050)
	nearlyEqual(t, "hoursPerTon", snap.HoursPerTon, 7.5)
	nearlyEqual(t, "costPerPound", snap.CostPerPound, 0.5125)
}

func TestRecalculate_EfficiencyMultiplierPerCategory(t *testing.T) {
	params := DefaultParameters(MarkupSettings{})
	params.Efficiency = map[string]float64{CatWeld: 1.5}

	snap := Recalculate(recalcLines(), params, nil)

	// 10 weld hours at 1.5 plus 5 fit hours at 1.0.
	nearlyEqual(t, "laborHours", snap.LaborHours, 20)
	nearlyEqual(t, "laborCost", snap.LaborCost, 1000)
}

func TestRecalculate_EfficiencyClampedToValidRange(t *testing.T) {
	params := DefaultParameters(MarkupSettings{})
	params.Efficiency = map[string]float64{CatWeld: 10, CatFit: 0.1}

	snap := Recalculate(recalcLines(), params, nil)

	// Weld clamps to 2.0, fit to 0.5: 10*2 + 5*0.5 = 22.5.
	nearlyEqual(t, "laborHours", snap.LaborHours, 22.5)
}

func TestRecalculate_TotalOnlyLineUsesMeanMultiplier(t *testing.T) {
	lines := []LineItem{
		{ID: "L1", Status: StatusActive, Kind: KindMaterial, TotalWeight: 2000,
			TotalLaborHours: 11, LaborRate: 40},
	}
	params := DefaultParameters(MarkupSettings{})
	params.Efficiency = map[string]float64{CatWeld: 2} // mean = (2 + 10×1)/11

	snap := Recalculate(lines, params, nil)

	nearlyEqual(t, "laborHours", snap.LaborHours, 12)
	nearlyEqual(t, "laborCost", snap.LaborCost, 480)
}

func TestRecalculate_RateMultipliers(t *testing.T) {
	params := DefaultParameters(MarkupSettings{})
	params.LaborRateMult = 1.2
	params.MaterialRateMult = 0.9
	params.CoatingRateMult = 2

	snap := Recalculate(recalcLines(), params, nil)

	nearlyEqual(t, "laborCost", snap.LaborCost, 900)
	nearlyEqual(t, "materialCost", snap.MaterialCost, 900)
	nearlyEqual(t, "coatingCost", snap.CoatingCost, 400)
	nearlyEqual(t, "hardwareCost", snap.HardwareCost, 100)
}

func TestRecalculate_ConsumablesFoldedIntoDirectCost(t *testing.T) {
	calc := StandardConsumables{RatePerHour: 2, EquipmentHoursPerTon: 1.5}
	snap := Recalculate(recalcLines(), DefaultParameters(MarkupSettings{}), calc)

	// 15 labor hours + 2 tons × 1.5 equipment hours = 18 hours × $2.
	nearlyEqual(t, "consumables", snap.Consumables, 36)
	nearlyEqual(t, "directCost", snap.Waterfall.DirectCost, 2086)
}

func TestSetParameter_RecordsOldNewAndImpact(t *testing.T) {
	r := NewRecalculator(recalcLines(), MarkupSettings{}, nil, nil, "u1")
	before := r.Snapshot().Waterfall.Total

	snap, err := r.SetParameter(context.Background(), "markup.profit", 10)
	if err != nil {
		t.Fatalf("SetParameter: %v", err)
	}
	nearlyEqual(t, "total after profit", snap.Waterfall.Total, before*1.10)

	history := r.History()
	if len(history) != 1 {
		t.Fatalf("expected 1 adjustment record, got %d", len(history))
	}
	rec := history[0]
	if rec.Parameter != "markup.profit" || rec.UserID != "u1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	nearlyEqual(t, "oldValue", rec.OldValue, 0)
	nearlyEqual(t, "newValue", rec.NewValue, 10)
	nearlyEqual(t, "impact", rec.Impact, before*0.10)
}

func TestSetLines_RecomputesUnderCurrentParameters(t *testing.T) {
	rc := NewRecalculator(recalcLines(), MarkupSettings{}, nil, nil, "u1")
	if _, err := rc.SetParameter(context.Background(), "efficiency.weld", 1.5); err != nil {
		t.Fatalf("SetParameter: %v", err)
	}
	// 10 weld hours at 1.5 plus 5 fit hours.
	nearlyEqual(t, "laborHours before", rc.Snapshot().LaborHours, 20)

	lines := append(recalcLines(), LineItem{
		ID: "L2", Status: StatusActive, Kind: KindMaterial,
		Category: AllowanceCategory, SubCategory: CoachSubCategory,
		Labor: map[string]float64{CatWeld: 4}, TotalLaborHours: 4, LaborRate: 50,
	})
	snap := rc.SetLines(lines)

	// The new weld hours pick up the live 1.5 multiplier: 20 + 4×1.5.
	nearlyEqual(t, "laborHours after", snap.LaborHours, 26)
	nearlyEqual(t, "hoursPerTon after", snap.HoursPerTon, 13)

	// Line changes come from the store, not the user; no adjustment record.
	if got := len(rc.History()); got != 1 {
		t.Fatalf("history length = %d, want 1", got)
	}
}

func TestSetParameter_UnknownParameterRejected(t *testing.T) {
	r := NewRecalculator(recalcLines(), MarkupSettings{}, nil, nil, "")

	if _, err := r.SetParameter(context.Background(), "markup.tax", 5); err == nil {
		t.Fatal("expected error for unknown parameter")
	}
	if _, err := r.SetParameter(context.Background(), "efficiency.sandblast", 1.1); err == nil {
		t.Fatal("expected error for unknown labor category")
	}
	if len(r.History()) != 0 {
		t.Fatalf("rejected mutation must not be logged: %+v", r.History())
	}
}

func TestSetParameter_HistoryCappedAtFifty(t *testing.T) {
	r := NewRecalculator(recalcLines(), MarkupSettings{}, nil, nil, "")

	for i := 0; i < 60; i++ {
		if _, err := r.SetParameter(context.Background(), "rate.labor", float64(i)); err != nil {
			t.Fatalf("SetParameter %d: %v", i, err)
		}
	}

	history := r.History()
	if len(history) != 50 {
		t.Fatalf("expected history capped at 50, got %d", len(history))
	}
	// Oldest surviving entry is mutation #10.
	nearlyEqual(t, "oldest new value", history[0].NewValue, 10)
	nearlyEqual(t, "newest new value", history[49].NewValue, 59)
}

type failingSink struct{ calls int }

func (s *failingSink) AppendAudit(context.Context, AuditRecord) error {
	s.calls++
	return errors.New("store unavailable")
}

func TestSetParameter_SinkFailureDoesNotBlock(t *testing.T) {
	sink := &failingSink{}
	r := NewRecalculator(recalcLines(), MarkupSettings{}, nil, sink, "")

	if _, err := r.SetParameter(context.Background(), "rate.material", 1.1); err != nil {
		t.Fatalf("sink failure must not surface: %v", err)
	}
	if sink.calls != 1 {
		t.Fatalf("expected 1 sink call, got %d", sink.calls)
	}
	if len(r.History()) != 1 {
		t.Fatal("in-memory log must still record the mutation")
	}
}

func TestSetParameter_EveryKnownParameterAccepted(t *testing.T) {
	r := NewRecalculator(recalcLines(), MarkupSettings{}, nil, nil, "")

	names := []string{
		"rate.labor", "rate.material", "rate.coating",
		"markup.materialWaste", "markup.laborWaste", "markup.overhead", "markup.profit",
	}
	for _, cat := range LaborCategories {
		names = append(names, fmt.Sprintf("efficiency.%s", cat.Key))
	}
	for _, name := range names {
		if _, err := r.SetParameter(context.Background(), name, 1.1); err != nil {
			t.Fatalf("SetParameter(%s): %v", name, err)
		}
	}
}
