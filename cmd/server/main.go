package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/robfig/cron/v3"

	"github.com/steelworks/bidcoach/internal/benchmark"
	"github.com/steelworks/bidcoach/internal/coach"
	"github.com/steelworks/bidcoach/internal/config"
	"github.com/steelworks/bidcoach/internal/db"
	"github.com/steelworks/bidcoach/internal/estimate"
	"github.com/steelworks/bidcoach/internal/migrations"
	"github.com/steelworks/bidcoach/internal/seed"
	"github.com/steelworks/bidcoach/internal/store"
)

type server struct {
	cfg   config.Config
	store *store.Store

	// fleetMu guards the cached historical fleet and company settings,
	// refreshed by the cron job and invalidated on line writes.
	fleetMu  sync.RWMutex
	fleet    []benchmark.Project
	settings store.CompanySettings

	sessionMu sync.Mutex
	sessions  map[string]*coach.Session

	recalcMu sync.Mutex
	recalcs  map[string]*estimate.Recalculator
}

func main() {
	cfg := config.Load()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	if cfg.IsDev() {
		if err := migrations.Up(database, "migrations"); err != nil {
			log.Fatalf("failed to run database migrations: %v", err)
		}
		stats, err := seed.Run(database)
		if err != nil {
			log.Fatalf("failed to seed demo fleet: %v", err)
		}
		if stats.Inserts > 0 {
			log.Printf("seeded demo fleet: %d inserts", stats.Inserts)
		}
	}

	srv := &server{
		cfg:      cfg,
		store:    store.New(database),
		sessions: make(map[string]*coach.Session),
		recalcs:  make(map[string]*estimate.Recalculator),
	}
	if err := srv.refreshFleet(context.Background()); err != nil {
		log.Fatalf("failed to load historical fleet: %v", err)
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.RefreshSpec, func() {
		if err := srv.refreshFleet(context.Background()); err != nil {
			log.Printf("benchmark fleet refresh failed: %v", err)
		}
	}); err != nil {
		log.Fatalf("invalid BENCH_REFRESH spec %q: %v", cfg.RefreshSpec, err)
	}
	c.Start()
	defer c.Stop()

	addr := ":" + cfg.Port
	log.Printf("listening on %s", addr)
	if err := http.ListenAndServe(addr, srv.routes()); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

func (s *server) routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/api/projects", s.handleListProjects)
	r.Get("/api/projects/{id}/lines", s.handleListLines)
	r.Get("/api/projects/{id}/totals", s.handleTotals)
	r.Get("/api/projects/{id}/recalc", s.handleRecalcSnapshot)
	r.Post("/api/projects/{id}/recalc", s.handleRecalcAdjust)
	r.Get("/api/projects/{id}/benchmarks", s.handleBenchmarks)
	r.Get("/api/projects/{id}/coach", s.handleCoach)
	r.Post("/api/projects/{id}/coach/select", s.handleCoachSelect)
	r.Post("/api/projects/{id}/coach/apply", s.handleCoachApply)
	r.Get("/api/settings", s.handleSettings)
	r.Get("/api/audit", s.handleAudit)
	return r
}

// refreshFleet reloads the historical project fleet and company settings
// into the in-memory cache the benchmark and coach endpoints read from.
func (s *server) refreshFleet(ctx context.Context) error {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}

	fleet := make([]benchmark.Project, 0, len(projects))
	for _, p := range projects {
		lines, err := s.store.ListLines(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("list lines for %s: %w", p.ID, err)
		}
		fleet = append(fleet, benchmark.Project{ID: p.ID, Status: p.Status, Lines: lines})
	}

	settings, err := s.store.CompanySettings(ctx)
	if err != nil {
		return fmt.Errorf("load company settings: %w", err)
	}

	s.fleetMu.Lock()
	s.fleet = fleet
	s.settings = settings
	s.fleetMu.Unlock()
	return nil
}

func (s *server) snapshotFleet() ([]benchmark.Project, store.CompanySettings) {
	s.fleetMu.RLock()
	defer s.fleetMu.RUnlock()
	return s.fleet, s.settings
}

func (s *server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		http.Error(w, "failed to load projects", http.StatusInternalServerError)
		return
	}

	type projectView struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	out := make([]projectView, 0, len(projects))
	for _, p := range projects {
		out = append(out, projectView{ID: p.ID, Name: p.Name, Status: p.Status})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *server) handleListLines(w http.ResponseWriter, r *http.Request) {
	lines, err := s.store.ListLines(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "failed to load line items", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, lineViews(lines))
}

func (s *server) handleTotals(w http.ResponseWriter, r *http.Request) {
	metric, err := parseMetric(r.URL.Query().Get("metric"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	lines, err := s.store.ListLines(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "failed to load line items", http.StatusInternalServerError)
		return
	}

	_, settings := s.snapshotFleet()
	totals := estimate.Aggregate(lines, metric, settings.Markup())
	respondJSON(w, http.StatusOK, totalsView(totals))
}

func (s *server) handleBenchmarks(w http.ResponseWriter, r *http.Request) {
	metric, err := parseMetric(r.URL.Query().Get("metric"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fleet, settings := s.snapshotFleet()
	maps := benchmark.Compute(fleet, chi.URLParam(r, "id"), metric, settings.Markup())

	respondJSON(w, http.StatusOK, map[string]any{
		"all":       maps.All,
		"won":       maps.Won,
		"lost":      maps.Lost,
		"allCount":  maps.AllCount,
		"wonCount":  maps.WonCount,
		"lostCount": maps.LostCount,
	})
}

func (s *server) handleCoach(w http.ResponseWriter, r *http.Request) {
	mode, err := parseMode(r.URL.Query().Get("mode"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	projectID := chi.URLParam(r, "id")

	session, recs, err := s.coachSession(r.Context(), projectID, mode)
	if err != nil {
		http.Error(w, "failed to compute recommendations", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"state":           session.State(),
		"recommendations": recViews(recs),
	})
}

func (s *server) handleCoachSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string `json:"category"`
		Selected bool   `json:"selected"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	session := s.sessionFor(chi.URLParam(r, "id"))
	if err := session.Select(req.Category, req.Selected); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"state": session.State()})
}

func (s *server) handleCoachApply(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	session := s.sessionFor(projectID)

	lines, err := s.store.ListLines(r.Context(), projectID)
	if err != nil {
		http.Error(w, "failed to load line items", http.StatusInternalServerError)
		return
	}
	_, settings := s.snapshotFleet()
	rate := coach.InferLaborRate(lines, settings.LaborRates)

	line, err := session.Apply(r.Context(), s.store, lines, rate)
	if err != nil {
		respondJSON(w, http.StatusConflict, map[string]any{
			"state": session.State(),
			"error": err.Error(),
		})
		return
	}

	// The fleet cache and any live what-if session now miss the new
	// allowance line.
	if err := s.refreshFleet(r.Context()); err != nil {
		log.Printf("fleet refresh after apply failed: %v", err)
	}
	s.refreshRecalc(r.Context(), projectID)

	respondJSON(w, http.StatusCreated, map[string]any{
		"state": session.State(),
		"line":  lineView(line),
	})
}

func (s *server) handleRecalcSnapshot(w http.ResponseWriter, r *http.Request) {
	rc, err := s.recalculatorFor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "failed to load line items", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, snapshotView(rc.Snapshot()))
}

func (s *server) handleRecalcAdjust(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Parameter string  `json:"parameter"`
		Value     float64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Parameter == "" {
		http.Error(w, "parameter is required", http.StatusBadRequest)
		return
	}

	rc, err := s.recalculatorFor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "failed to load line items", http.StatusInternalServerError)
		return
	}

	snap, err := rc.SetParameter(r.Context(), req.Parameter, req.Value)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	respondJSON(w, http.StatusOK, snapshotView(snap))
}

func (s *server) handleSettings(w http.ResponseWriter, r *http.Request) {
	_, settings := s.snapshotFleet()
	respondJSON(w, http.StatusOK, map[string]any{
		"materialWastePct":     settings.MaterialWastePct,
		"laborWastePct":        settings.LaborWastePct,
		"overheadPct":          settings.OverheadPct,
		"profitPct":            settings.ProfitPct,
		"laborRates":           settings.LaborRates,
		"consumablesRate":      settings.ConsumablesRate,
		"equipmentHoursPerTon": settings.EquipmentHoursPerTon,
	})
}

func (s *server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.store.ListAudit(r.Context(), limit)
	if err != nil {
		http.Error(w, "failed to load audit log", http.StatusInternalServerError)
		return
	}

	type auditView struct {
		ID        string  `json:"id"`
		Parameter string  `json:"parameter"`
		OldValue  float64 `json:"oldValue"`
		NewValue  float64 `json:"newValue"`
		Impact    float64 `json:"impact"`
		UserID    string  `json:"userId"`
		Timestamp string  `json:"timestamp"`
	}
	out := make([]auditView, 0, len(records))
	for _, rec := range records {
		out = append(out, auditView{
			ID: rec.ID, Parameter: rec.Parameter,
			OldValue: rec.OldValue, NewValue: rec.NewValue, Impact: rec.Impact,
			UserID: rec.UserID, Timestamp: rec.Timestamp.Format("2006-01-02 15:04:05"),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// coachSession recomputes the recommendation list for a project and feeds it
// into the project's session, creating the session on first use.
func (s *server) coachSession(ctx context.Context, projectID string, mode coach.Mode) (*coach.Session, []coach.Recommendation, error) {
	lines, err := s.store.ListLines(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}

	fleet, settings := s.snapshotFleet()
	totals := estimate.Aggregate(lines, estimate.MetricLabor, settings.Markup())
	maps := benchmark.Compute(fleet, projectID, estimate.MetricLabor, settings.Markup())
	rate := coach.InferLaborRate(lines, settings.LaborRates)

	recs := coach.Recommend(totals, maps, mode, estimate.MetricLabor, rate)

	session := s.sessionFor(projectID)
	session.Update(recs)
	return session, recs, nil
}

func (s *server) sessionFor(projectID string) *coach.Session {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	session, ok := s.sessions[projectID]
	if !ok {
		session = coach.NewSession(projectID)
		s.sessions[projectID] = session
	}
	return session
}

// recalculatorFor returns the project's live what-if session, starting one
// from the stored lines and company settings on first use.
func (s *server) recalculatorFor(ctx context.Context, projectID string) (*estimate.Recalculator, error) {
	s.recalcMu.Lock()
	defer s.recalcMu.Unlock()
	if rc, ok := s.recalcs[projectID]; ok {
		return rc, nil
	}

	lines, err := s.store.ListLines(ctx, projectID)
	if err != nil {
		return nil, err
	}
	_, settings := s.snapshotFleet()
	consumables := estimate.StandardConsumables{
		RatePerHour:          settings.ConsumablesRate,
		EquipmentHoursPerTon: settings.EquipmentHoursPerTon,
	}

	rc := estimate.NewRecalculator(lines, settings.Markup(), consumables, s.store, s.cfg.EstimatorID)
	s.recalcs[projectID] = rc
	return rc, nil
}

// refreshRecalc pushes the project's current lines into its cached what-if
// session after a line write, so snapshots reflect the new line set.
func (s *server) refreshRecalc(ctx context.Context, projectID string) {
	s.recalcMu.Lock()
	rc, ok := s.recalcs[projectID]
	s.recalcMu.Unlock()
	if !ok {
		return
	}

	lines, err := s.store.ListLines(ctx, projectID)
	if err != nil {
		log.Printf("recalc refresh for %s failed: %v", projectID, err)
		return
	}
	rc.SetLines(lines)
}

func parseMetric(raw string) (estimate.Metric, error) {
	switch raw {
	case "", "labor":
		return estimate.MetricLabor, nil
	case "cost":
		return estimate.MetricCost, nil
	default:
		return "", fmt.Errorf("metric must be labor or cost")
	}
}

func parseMode(raw string) (coach.Mode, error) {
	switch raw {
	case "", "protect":
		return coach.ModeProtectMargin, nil
	case "win":
		return coach.ModeWinStrategy, nil
	default:
		return "", fmt.Errorf("mode must be protect or win")
	}
}

type lineItemView struct {
	ID              string             `json:"id"`
	Status          string             `json:"status"`
	Kind            string             `json:"kind"`
	Description     string             `json:"description,omitempty"`
	Category        string             `json:"category,omitempty"`
	SubCategory     string             `json:"subCategory,omitempty"`
	Weight          float64            `json:"weight"`
	SurfaceArea     float64            `json:"surfaceArea"`
	Labor           map[string]float64 `json:"labor,omitempty"`
	TotalLaborHours float64            `json:"totalLaborHours"`
	LaborRate       float64            `json:"laborRate"`
	MaterialCost    float64            `json:"materialCost"`
	LaborCost       float64            `json:"laborCost"`
	CoatingCost     float64            `json:"coatingCost"`
	HardwareCost    float64            `json:"hardwareCost"`
	Note            string             `json:"note,omitempty"`
}

func lineView(l estimate.LineItem) lineItemView {
	return lineItemView{
		ID: l.ID, Status: string(l.Status), Kind: string(l.Kind),
		Description: l.Description, Category: l.Category, SubCategory: l.SubCategory,
		Weight: l.Weight(), SurfaceArea: l.SurfaceArea,
		Labor: l.Labor, TotalLaborHours: l.TotalLaborHours, LaborRate: l.LaborRate,
		MaterialCost: l.MaterialCost, LaborCost: l.LaborCost,
		CoatingCost: l.CoatingCost, HardwareCost: l.HardwareCost,
		Note: l.Note,
	}
}

func lineViews(lines []estimate.LineItem) []lineItemView {
	out := make([]lineItemView, 0, len(lines))
	for _, l := range lines {
		out = append(out, lineView(l))
	}
	return out
}

type categoryView struct {
	Key    string  `json:"key"`
	Label  string  `json:"label"`
	Sum    float64 `json:"sum"`
	PerTon float64 `json:"perTon"`
	Share  float64 `json:"share"`
}

func totalsView(t estimate.Totals) map[string]any {
	categories := make([]categoryView, 0, len(t.Categories))
	for _, c := range t.Categories {
		categories = append(categories, categoryView{
			Key: c.Key, Label: c.Label, Sum: c.Sum, PerTon: c.PerTon, Share: c.Share,
		})
	}
	return map[string]any{
		"weight":      t.Weight,
		"tons":        t.Tons,
		"surfaceArea": t.SurfaceArea,
		"laborHours":  t.LaborHours,
		"categories":  categories,
	}
}

func snapshotView(snap estimate.Snapshot) map[string]any {
	return map[string]any{
		"weight":     snap.Weight,
		"tons":       snap.Tons,
		"laborHours": snap.LaborHours,
		"costs": map[string]float64{
			"material":    snap.MaterialCost,
			"labor":       snap.LaborCost,
			"coating":     snap.CoatingCost,
			"hardware":    snap.HardwareCost,
			"consumables": snap.Consumables,
		},
		"waterfall": map[string]float64{
			"directCost":         snap.Waterfall.DirectCost,
			"materialWaste":      snap.Waterfall.MaterialWaste,
			"laborWaste":         snap.Waterfall.LaborWaste,
			"costBeforeOverhead": snap.Waterfall.CostBeforeOverhead,
			"overhead":           snap.Waterfall.Overhead,
			"costBeforeProfit":   snap.Waterfall.CostBeforeProfit,
			"profit":             snap.Waterfall.Profit,
			"total":              snap.Waterfall.Total,
		},
		"costPerTon":    snap.CostPerTon,
		"costPerPound":  snap.CostPerPound,
		"hoursPerTon":   snap.HoursPerTon,
		"hoursPerPound": snap.HoursPerPound,
	}
}

type recommendationView struct {
	Category        string  `json:"category"`
	Label           string  `json:"label"`
	Current         float64 `json:"current"`
	Target          float64 `json:"target"`
	TargetSource    string  `json:"targetSource"`
	DeltaPerTon     float64 `json:"deltaPerTon"`
	TotalDeltaHours float64 `json:"totalDeltaHours"`
	EstCostImpact   float64 `json:"estCostImpact"`
	Confidence      string  `json:"confidence"`
	Rationale       string  `json:"rationale"`
}

func recViews(recs []coach.Recommendation) []recommendationView {
	out := make([]recommendationView, 0, len(recs))
	for _, r := range recs {
		out = append(out, recommendationView{
			Category: r.Key, Label: r.Label,
			Current: r.Current, Target: r.Target, TargetSource: r.TargetSource,
			DeltaPerTon: r.DeltaPerTon, TotalDeltaHours: r.TotalDeltaHours,
			EstCostImpact: r.EstCostImpact,
			Confidence:    string(r.Confidence), Rationale: r.Rationale,
		})
	}
	return out
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}
