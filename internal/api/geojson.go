package api

import (
	"github.com/mr1hm/city-alerts/internal/models"
	"github.com/mr1hm/city-alerts/internal/priority"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

func toGeoJSON(alerts []models.Alert) FeatureCollection {
	features := make([]Feature, 0, len(alerts))

	for i, a := range alerts {
		props := map[string]any{
			"id":        a.ID,
			"type":      a.Type,
			"message":   a.Message,
			"severity":  a.Severity,
			"status":    a.Status,
			"timestamp": a.Timestamp,
			"priority":  priority.Score(a),
			"rank":      i + 1,
		}
		if a.Location.Address != "" {
			props["address"] = a.Location.Address
		}
		if len(a.AffectedAreas) > 0 {
			props["affectedAreas"] = a.AffectedAreas
		}
		if a.ExpiresAt != nil {
			props["expiresAt"] = a.ExpiresAt
		}

		features = append(features, Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{a.Location.Lng, a.Location.Lat},
			},
			Properties: props,
		})
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
