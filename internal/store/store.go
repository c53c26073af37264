// Package store is the sqlite persistence layer: line items per project, the
// project registry, the company settings singleton, and the audit log sink.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/steelworks/bidcoach/internal/estimate"
)

// Store wraps a sqlite database with the read/write contracts the engine
// consumes.
type Store struct {
	db *sql.DB
}

// New wraps an open database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Project is one entry of the project registry.
type Project struct {
	ID       string
	Name     string
	Status   string
	Archived bool
}

// CompanySettings is the read-only company configuration singleton.
type CompanySettings struct {
	MaterialWastePct     float64
	LaborWastePct        float64
	OverheadPct          float64
	ProfitPct            float64
	LaborRates           []float64
	ConsumablesRate      float64
	EquipmentHoursPerTon float64
}

// Markup extracts the percentages the aggregation waterfall needs.
func (cs CompanySettings) Markup() estimate.MarkupSettings {
	return estimate.MarkupSettings{
		MaterialWastePct: cs.MaterialWastePct,
		LaborWastePct:    cs.LaborWastePct,
		OverheadPct:      cs.OverheadPct,
		ProfitPct:        cs.ProfitPct,
	}
}

// ListProjects returns the registry, excluding archived projects.
func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, status, archived
		FROM projects
		WHERE NOT archived
		ORDER BY datetime(created_at) DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	projects := make([]Project, 0)
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.Archived); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

// ListLines returns every line item of a project in creation order.
func (s *Store) ListLines(ctx context.Context, projectID string) ([]estimate.LineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id, status, kind,
			COALESCE(description, ''), COALESCE(category, ''), COALESCE(sub_category, ''),
			total_weight, plate_total_weight, surface_area,
			labor_json, total_labor_hours, labor_rate,
			material_cost, labor_cost, coating_cost, hardware_cost,
			COALESCE(note, '')
		FROM line_items
		WHERE project_id = ?
		ORDER BY datetime(created_at), id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query line items: %w", err)
	}
	defer rows.Close()

	lines := make([]estimate.LineItem, 0)
	for rows.Next() {
		var line estimate.LineItem
		var laborJSON string
		if err := rows.Scan(
			&line.ID, &line.Status, &line.Kind,
			&line.Description, &line.Category, &line.SubCategory,
			&line.TotalWeight, &line.PlateTotalWeight, &line.SurfaceArea,
			&laborJSON, &line.TotalLaborHours, &line.LaborRate,
			&line.MaterialCost, &line.LaborCost, &line.CoatingCost, &line.HardwareCost,
			&line.Note,
		); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		// A malformed labor blob contributes zero hours, it never fails the read.
		line.Labor = make(map[string]float64)
		_ = json.Unmarshal([]byte(laborJSON), &line.Labor)
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate line items: %w", err)
	}
	return lines, nil
}

// CreateLine appends one line item to a project.
func (s *Store) CreateLine(ctx context.Context, projectID string, line estimate.LineItem) error {
	labor := line.Labor
	if labor == nil {
		labor = map[string]float64{}
	}
	laborJSON, err := json.Marshal(labor)
	if err != nil {
		return fmt.Errorf("marshal labor hours: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO line_items (
			project_id, id, status, kind, description, category, sub_category,
			total_weight, plate_total_weight, surface_area,
			labor_json, total_labor_hours, labor_rate,
			material_cost, labor_cost, coating_cost, hardware_cost, note
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		projectID, line.ID, line.Status, line.Kind, line.Description, line.Category, line.SubCategory,
		line.TotalWeight, line.PlateTotalWeight, line.SurfaceArea,
		string(laborJSON), line.TotalLaborHours, line.LaborRate,
		line.MaterialCost, line.LaborCost, line.CoatingCost, line.HardwareCost, line.Note,
	)
	if err != nil {
		return fmt.Errorf("insert line item: %w", err)
	}
	return nil
}

// CompanySettings returns the settings singleton; a missing row yields
// all-zero defaults per the missing-data rule.
func (s *Store) CompanySettings(ctx context.Context) (CompanySettings, error) {
	var cs CompanySettings
	var ratesJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT material_waste_pct, labor_waste_pct, overhead_pct, profit_pct,
		       labor_rates_json, consumables_rate, equipment_hours_per_ton
		FROM company_settings
		WHERE id = 1
	`).Scan(
		&cs.MaterialWastePct, &cs.LaborWastePct, &cs.OverheadPct, &cs.ProfitPct,
		&ratesJSON, &cs.ConsumablesRate, &cs.EquipmentHoursPerTon,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CompanySettings{}, nil
		}
		return CompanySettings{}, fmt.Errorf("query company settings: %w", err)
	}
	_ = json.Unmarshal([]byte(ratesJSON), &cs.LaborRates)
	return cs, nil
}

// AppendAudit persists one adjustment record, assigning an id when the
// engine left it blank. Implements estimate.AuditSink.
func (s *Store) AppendAudit(ctx context.Context, rec estimate.AuditRecord) error {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, parameter, old_value, new_value, impact, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, rec.Parameter, rec.OldValue, rec.NewValue, rec.Impact, rec.UserID, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// ListAudit returns the newest records first, up to limit.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]estimate.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parameter, old_value, new_value, impact, user_id, created_at
		FROM audit_log
		ORDER BY datetime(created_at) DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	records := make([]estimate.AuditRecord, 0)
	for rows.Next() {
		var rec estimate.AuditRecord
		if err := rows.Scan(&rec.ID, &rec.Parameter, &rec.OldValue, &rec.NewValue, &rec.Impact, &rec.UserID, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return records, nil
}
