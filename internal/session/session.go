// Package session holds one viewer's ephemeral display state: which alerts
// they dismissed and which hazard types they want to see. Nothing here is
// persisted or shared with other viewers.
package session

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/mr1hm/city-alerts/internal/models"
	"github.com/mr1hm/city-alerts/internal/priority"
)

type State struct {
	mu        sync.RWMutex
	dismissed map[string]struct{}
	filters   map[models.AlertType]bool

	// flagged holds ids already reported for unknown weights.
	flagged map[string]struct{}
}

// New returns a state with every hazard type enabled and nothing dismissed.
func New() *State {
	s := &State{
		dismissed: make(map[string]struct{}),
		filters:   make(map[models.AlertType]bool, len(models.AlertTypes)),
		flagged:   make(map[string]struct{}),
	}
	for _, t := range models.AlertTypes {
		s.filters[t] = true
	}
	return s
}

// NewWithFilters starts with only the given types set. Types absent from
// filters are hidden.
func NewWithFilters(filters map[models.AlertType]bool) *State {
	s := &State{
		dismissed: make(map[string]struct{}),
		filters:   make(map[models.AlertType]bool, len(filters)),
		flagged:   make(map[string]struct{}),
	}
	for t, on := range filters {
		s.filters[t] = on
	}
	return s
}

// Dismiss hides id for the rest of the session. Dismissals are never undone.
func (s *State) Dismiss(id string) {
	s.mu.Lock()
	s.dismissed[id] = struct{}{}
	s.mu.Unlock()
}

// Dismissed returns the dismissed ids, sorted.
func (s *State) Dismissed() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.dismissed))
	for id := range s.dismissed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *State) SetFilter(t models.AlertType, enabled bool) {
	s.mu.Lock()
	s.filters[t] = enabled
	s.mu.Unlock()
}

func (s *State) FilterEnabled(t models.AlertType) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters[t]
}

// Filters returns a copy of the per-type toggles.
func (s *State) Filters() map[models.AlertType]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.AlertType]bool, len(s.filters))
	for t, on := range s.filters {
		out[t] = on
	}
	return out
}

// Visible applies the current toggles and dismissals to alerts, keeping
// their order.
func (s *State) Visible(alerts []models.Alert) []models.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Visible(alerts, s.filters, s.dismissed)
}

// View is the display list: the visible alerts in priority order. Alerts
// whose severity or type has no weight sort last and are logged once.
func (s *State) View(alerts []models.Alert) []models.Alert {
	visible := s.Visible(alerts)
	s.flagUnknownWeights(visible)
	return priority.Sort(visible)
}

func (s *State) flagUnknownWeights(alerts []models.Alert) {
	for _, a := range alerts {
		if !priority.HasUnknownWeights(a) {
			continue
		}
		s.mu.Lock()
		_, seen := s.flagged[a.ID]
		s.flagged[a.ID] = struct{}{}
		s.mu.Unlock()
		if !seen {
			slog.Warn("Alert has unknown severity or type, ranking it lowest", "id", a.ID, "severity", a.Severity, "type", a.Type)
		}
	}
}

// Visible keeps an alert iff its type is enabled in filters and its id is not
// in dismissed. Order is preserved.
func Visible(alerts []models.Alert, filters map[models.AlertType]bool, dismissed map[string]struct{}) []models.Alert {
	out := make([]models.Alert, 0, len(alerts))
	for _, a := range alerts {
		if !filters[a.Type] {
			continue
		}
		if _, ok := dismissed[a.ID]; ok {
			continue
		}
		out = append(out, a)
	}
	return out
}

// ParseFilters turns a comma-separated type list into filters with only those
// types enabled. An empty list enables every type.
func ParseFilters(list string) (map[models.AlertType]bool, error) {
	filters := make(map[models.AlertType]bool, len(models.AlertTypes))
	if strings.TrimSpace(list) == "" {
		for _, t := range models.AlertTypes {
			filters[t] = true
		}
		return filters, nil
	}
	for _, part := range strings.Split(list, ",") {
		t, ok := models.ParseAlertType(strings.TrimSpace(part))
		if !ok {
			return nil, &models.ValidationError{Field: "types", Reason: "unknown alert type " + strings.TrimSpace(part)}
		}
		filters[t] = true
	}
	return filters, nil
}
