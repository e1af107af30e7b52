package ingestion

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mr1hm/city-alerts/internal/models"
)

type gdacsRSS struct {
	Channel gdacsChannel `xml:"channel"`
}
type gdacsChannel struct {
	Items []gdacsItem `xml:"item"`
}
type gdacsItem struct {
	Title      string `xml:"title"`
	PubDate    string `xml:"pubDate"`
	Point      string `xml:"http://www.georss.org/georss point"` // "lat lon"
	EventType  string `xml:"http://www.gdacs.org eventtype"`
	AlertLevel string `xml:"http://www.gdacs.org alertlevel"`
	EventID    string `xml:"http://www.gdacs.org eventid"`
	Country    string `xml:"http://www.gdacs.org country"`
}

func (m *Manager) pollGDACS(ctx context.Context, url string) ([]*models.Draft, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d - status: %s", resp.StatusCode, resp.Status)
	}

	var data gdacsRSS
	if err := xml.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("error decoding resp.Body: %w", err)
	}

	drafts := make([]*models.Draft, 0, len(data.Channel.Items))
	for _, item := range data.Channel.Items {
		alertType, ok := mapGDACSEventType(item.EventType)
		if !ok {
			continue
		}
		lat, lon, ok := parsePoint(item.Point)
		if !ok {
			slog.Warn("GDACS item without position", "id", item.EventID)
			continue
		}

		published, err := time.Parse(time.RFC1123, item.PubDate)
		if err != nil {
			slog.Warn("GDACS timestamp parsing failed", "id", item.EventID, "error", err.Error())
			published = m.now()
		}
		exp, ok := m.expiry(published)
		if !ok {
			continue
		}

		loc := models.NewDraftLocation(lat, lon)
		loc.Address = item.Country

		d := &models.Draft{
			Type:      alertType,
			Message:   item.Title,
			Location:  loc,
			Severity:  alertLevelSeverity(item.AlertLevel),
			CreatedBy: "gdacs",
			ExpiresAt: exp,
			SourceRef: "gdacs:" + strings.ToUpper(item.EventType) + ":" + item.EventID,
		}
		if item.Country != "" {
			d.AffectedAreas = strings.Split(item.Country, ", ")
		}
		drafts = append(drafts, d)
	}

	return drafts, nil
}

func parsePoint(point string) (lat, lon float64, ok bool) {
	fields := strings.Fields(point)
	if len(fields) != 2 {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err = strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

// mapGDACSEventType keeps the event types that have an alert type.
func mapGDACSEventType(eventType string) (models.AlertType, bool) {
	switch strings.ToUpper(eventType) {
	case "EQ":
		return models.AlertTypeEarthquake, true
	case "FL":
		return models.AlertTypeFlood, true
	case "WF":
		return models.AlertTypeFire, true
	case "TC":
		return models.AlertTypeWeather, true
	default:
		return "", false
	}
}

func alertLevelSeverity(level string) models.Severity {
	switch strings.ToLower(level) {
	case "red":
		return models.SeverityCritical
	case "orange":
		return models.SeverityHigh
	case "green":
		return models.SeverityLow
	default:
		return models.SeverityMedium
	}
}
