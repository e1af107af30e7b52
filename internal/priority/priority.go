// Package priority ranks alerts for display by severity and hazard type.
package priority

import (
	"sort"

	"github.com/mr1hm/city-alerts/internal/models"
)

var severityWeight = map[models.Severity]int{
	models.SeverityCritical: 4,
	models.SeverityHigh:     3,
	models.SeverityMedium:   2,
	models.SeverityLow:      1,
}

var typeWeight = map[models.AlertType]int{
	models.AlertTypeEarthquake: 4,
	models.AlertTypeFire:       3,
	models.AlertTypeFlood:      2,
	models.AlertTypeWeather:    1,
}

// SeverityWeight returns the weight of s, or 1 if s is unknown.
func SeverityWeight(s models.Severity) int {
	if w, ok := severityWeight[s]; ok {
		return w
	}
	return 1
}

// TypeWeight returns the weight of t, or 1 if t is unknown.
func TypeWeight(t models.AlertType) int {
	if w, ok := typeWeight[t]; ok {
		return w
	}
	return 1
}

func Score(a models.Alert) int {
	return SeverityWeight(a.Severity) * TypeWeight(a.Type)
}

// HasUnknownWeights reports whether a carries a severity or type that fell
// back to the default weight.
func HasUnknownWeights(a models.Alert) bool {
	_, sevOK := severityWeight[a.Severity]
	_, typOK := typeWeight[a.Type]
	return !sevOK || !typOK
}

// Less orders a before b: higher score first, then newer first, then by id
// so that the order is total.
func Less(a, b models.Alert) bool {
	sa, sb := Score(a), Score(b)
	if sa != sb {
		return sa > sb
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID < b.ID
}

// Sort returns a new slice in display order. The input is not modified.
func Sort(alerts []models.Alert) []models.Alert {
	out := make([]models.Alert, len(alerts))
	copy(out, alerts)
	sort.SliceStable(out, func(i, j int) bool {
		return Less(out[i], out[j])
	})
	return out
}
