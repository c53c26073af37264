package seed

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Stats contains seed operation counters.
type Stats struct {
	Inserts int
}

type demoLine struct {
	id        string
	weight    float64
	labor     map[string]float64
	laborRate float64
}

type demoProject struct {
	id     string
	name   string
	status string
	lines  []demoLine
}

// demoFleet is a small historical fleet so benchmarks and the coach have
// data on a fresh database.
var demoFleet = []demoProject{
	{
		id: "riverside-parking", name: "Riverside Parking Deck", status: "won",
		lines: []demoLine{
			{id: "L1", weight: 18000, laborRate: 52, labor: map[string]float64{
				"unload": 6, "cut": 22, "fit": 40, "weld": 95, "paint": 18, "loadShip": 9,
			}},
			{id: "L2", weight: 6000, laborRate: 52, labor: map[string]float64{
				"cut": 8, "drillPunch": 12, "fit": 14, "weld": 30,
			}},
		},
	},
	{
		id: "mill-annex", name: "Mill Street Annex", status: "won",
		lines: []demoLine{
			{id: "L1", weight: 9000, laborRate: 48, labor: map[string]float64{
				"unload": 3, "cut": 12, "cope": 6, "fit": 20, "weld": 46, "prepClean": 8,
			}},
		},
	},
	{
		id: "harbor-walkway", name: "Harbor Walkway", status: "lost",
		lines: []demoLine{
			{id: "L1", weight: 11000, laborRate: 50, labor: map[string]float64{
				"cut": 10, "fit": 16, "weld": 38, "paint": 12, "handleMove": 6,
			}},
		},
	},
	{
		id: "depot-retrofit", name: "Depot Retrofit", status: "open",
		lines: []demoLine{
			{id: "L1", weight: 7000, laborRate: 54, labor: map[string]float64{
				"cut": 9, "fit": 15, "weld": 28,
			}},
		},
	},
}

// Run executes the startup seed in an idempotent way.
func Run(db *sql.DB) (Stats, error) {
	tx, err := db.Begin()
	if err != nil {
		return Stats{}, fmt.Errorf("begin seed transaction: %w", err)
	}

	stats := Stats{}

	if err := ensureCompanySettings(tx, &stats); err != nil {
		_ = tx.Rollback()
		return Stats{}, err
	}
	for _, p := range demoFleet {
		if err := ensureProject(tx, p, &stats); err != nil {
			_ = tx.Rollback()
			return Stats{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, fmt.Errorf("commit seed transaction: %w", err)
	}

	return stats, nil
}

func ensureCompanySettings(tx *sql.Tx, stats *Stats) error {
	var exists bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM company_settings WHERE id = 1)`).Scan(&exists); err != nil {
		return fmt.Errorf("check company settings existence: %w", err)
	}
	if exists {
		return nil
	}

	rates, err := json.Marshal([]float64{52, 48})
	if err != nil {
		return fmt.Errorf("marshal labor rates: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO company_settings (
			id, material_waste_pct, labor_waste_pct, overhead_pct, profit_pct,
			labor_rates_json, consumables_rate, equipment_hours_per_ton
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?)
	`, 5, 0, 10, 10, string(rates), 2.5, 1.5); err != nil {
		return fmt.Errorf("insert company settings singleton: %w", err)
	}
	stats.Inserts++
	return nil
}

func ensureProject(tx *sql.Tx, p demoProject, stats *Stats) error {
	var exists bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM projects WHERE id = ? LIMIT 1)`, p.id).Scan(&exists); err != nil {
		return fmt.Errorf("check project existence: %w", err)
	}
	if exists {
		return nil
	}

	if _, err := tx.Exec(`
		INSERT INTO projects (id, name, status, archived)
		VALUES (?, ?, ?, FALSE)
	`, p.id, p.name, p.status); err != nil {
		return fmt.Errorf("insert project %s: %w", p.id, err)
	}
	stats.Inserts++

	for _, line := range p.lines {
		total := 0.0
		for _, h := range line.labor {
			total += h
		}
		laborJSON, err := json.Marshal(line.labor)
		if err != nil {
			return fmt.Errorf("marshal labor hours for %s/%s: %w", p.id, line.id, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO line_items (
				project_id, id, status, kind, total_weight,
				labor_json, total_labor_hours, labor_rate
			) VALUES (?, ?, 'Active', 'Material', ?, ?, ?, ?)
		`, p.id, line.id, line.weight, string(laborJSON), total, line.laborRate); err != nil {
			return fmt.Errorf("insert line %s/%s: %w", p.id, line.id, err)
		}
		stats.Inserts++
	}
	return nil
}
