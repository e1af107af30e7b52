package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mr1hm/city-alerts/internal/models"
)

type usgsResponse struct {
	Features []usgsFeature `json:"features"`
}

type usgsFeature struct {
	ID         string         `json:"id"`
	Properties usgsProperties `json:"properties"`
	Geometry   usgsGeometry   `json:"geometry"`
}
type usgsProperties struct {
	Mag     float64 `json:"mag"`
	Place   string  `json:"place"`
	Time    int64   `json:"time"` // unix millis
	Title   string  `json:"title"`
	Tsunami int     `json:"tsunami"` // 0 or 1
}
type usgsGeometry struct {
	Coordinates []float64 `json:"coordinates"` // [lon, lat, depth]
}

func (m *Manager) pollUSGS(ctx context.Context, url string) ([]*models.Draft, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error while doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d - status: %s", resp.StatusCode, resp.Status)
	}

	var data usgsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("error decoding resp.Body: %w", err)
	}

	drafts := make([]*models.Draft, 0, len(data.Features))
	for _, f := range data.Features {
		if len(f.Geometry.Coordinates) < 2 || f.Properties.Mag < m.cfg.Ingestion.USGSMinMagnitude {
			continue
		}
		exp, ok := m.expiry(time.UnixMilli(f.Properties.Time))
		if !ok {
			continue
		}

		msg := f.Properties.Title
		if msg == "" {
			msg = fmt.Sprintf("M %.1f - %s", f.Properties.Mag, f.Properties.Place)
		}
		if f.Properties.Tsunami == 1 {
			msg += " (tsunami possible)"
		}

		loc := models.NewDraftLocation(f.Geometry.Coordinates[1], f.Geometry.Coordinates[0])
		loc.Address = f.Properties.Place

		drafts = append(drafts, &models.Draft{
			Type:      models.AlertTypeEarthquake,
			Message:   msg,
			Location:  loc,
			Severity:  magnitudeSeverity(f.Properties.Mag),
			CreatedBy: "usgs",
			ExpiresAt: exp,
			SourceRef: "usgs:" + f.ID,
		})
	}

	return drafts, nil
}

func magnitudeSeverity(mag float64) models.Severity {
	switch {
	case mag >= 7:
		return models.SeverityCritical
	case mag >= 6:
		return models.SeverityHigh
	case mag >= 5:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
