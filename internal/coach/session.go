package coach

import (
	"context"
	"fmt"
	"sync"

	"github.com/steelworks/bidcoach/internal/estimate"
)

// State is the recommendation lifecycle position.
type State string

const (
	StateComputed  State = "Computed"
	StateSelected  State = "Selected"
	StateApplying  State = "Applying"
	StateCommitted State = "Committed"
)

// LineCreator is the store-side write contract used by the apply step.
type LineCreator interface {
	CreateLine(ctx context.Context, projectID string, line estimate.LineItem) error
}

// Session tracks the user-facing recommendation lifecycle for one project.
// Recommendations are recomputed on every upstream change; selection state is
// session-owned and pruned when a selected category disappears. A single
// in-flight flag guards against concurrent commits, which is sufficient for
// the single-editor context.
type Session struct {
	mu sync.Mutex

	projectID string
	state     State
	recs      []Recommendation
	selected  map[string]bool
	applying  bool
	lastError string
}

// NewSession starts an empty Computed session for a project.
func NewSession(projectID string) *Session {
	return &Session{
		projectID: projectID,
		state:     StateComputed,
		selected:  make(map[string]bool),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the most recent apply failure message, if any.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Recommendations returns the current candidate list.
func (s *Session) Recommendations() []Recommendation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Recommendation, len(s.recs))
	copy(out, s.recs)
	return out
}

// Update replaces the candidate list after an upstream change. The session
// re-enters Computed and drops selections for categories no longer present.
func (s *Session) Update(recs []Recommendation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recs = recs
	present := make(map[string]bool, len(recs))
	for _, r := range recs {
		present[r.Key] = true
	}
	for key := range s.selected {
		if !present[key] {
			delete(s.selected, key)
		}
	}

	if len(s.selected) > 0 {
		s.state = StateSelected
	} else {
		s.state = StateComputed
	}
}

// Select toggles one category's inclusion in the commit subset.
func (s *Session) Select(key string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for _, r := range s.recs {
		if r.Key == key {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("no recommendation for category %q", key)
	}

	if on {
		s.selected[key] = true
	} else {
		delete(s.selected, key)
	}
	if len(s.selected) > 0 {
		s.state = StateSelected
	} else {
		s.state = StateComputed
	}
	return nil
}

// Selected returns the chosen subset in ranked order.
func (s *Session) Selected() []Recommendation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedLocked()
}

func (s *Session) selectedLocked() []Recommendation {
	var out []Recommendation
	for _, r := range s.recs {
		if s.selected[r.Key] {
			out = append(out, r)
		}
	}
	return out
}

// Apply commits the selected subset as one new allowance line. Each
// successful invocation creates exactly one line; there is no dedup, so
// applying twice stacks two allowances. On store failure the error is
// surfaced (and kept in LastError) and the session returns to Selected with
// the selection intact so the user can retry.
func (s *Session) Apply(ctx context.Context, creator LineCreator, existing []estimate.LineItem, laborRate float64) (estimate.LineItem, error) {
	s.mu.Lock()
	if s.applying {
		s.mu.Unlock()
		return estimate.LineItem{}, fmt.Errorf("apply already in progress")
	}
	selected := s.selectedLocked()
	if len(selected) == 0 {
		s.mu.Unlock()
		return estimate.LineItem{}, fmt.Errorf("no recommendations selected")
	}
	s.applying = true
	s.state = StateApplying
	line := BuildAllowanceLine(selected, existing, laborRate)
	s.mu.Unlock()

	err := creator.CreateLine(ctx, s.projectID, line)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.applying = false
	if err != nil {
		// Selection survives the failure so the user can retry.
		s.state = StateSelected
		s.lastError = err.Error()
		return estimate.LineItem{}, fmt.Errorf("commit allowance line: %w", err)
	}
	s.state = StateCommitted
	s.lastError = ""
	return line, nil
}
