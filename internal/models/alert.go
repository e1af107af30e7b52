package models

import (
	"math"
	"strings"
	"time"
)

type AlertType string

const (
	AlertTypeEarthquake AlertType = "earthquake"
	AlertTypeFire       AlertType = "fire"
	AlertTypeFlood      AlertType = "flood"
	AlertTypeWeather    AlertType = "weather"
)

// AlertTypes lists every hazard category in display order.
var AlertTypes = []AlertType{AlertTypeEarthquake, AlertTypeFire, AlertTypeFlood, AlertTypeWeather}

func (t AlertType) Valid() bool {
	switch t {
	case AlertTypeEarthquake, AlertTypeFire, AlertTypeFlood, AlertTypeWeather:
		return true
	}
	return false
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
	StatusExpired  Status = "expired"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusResolved, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusExpired
}

// CanTransition reports whether an alert may move from one status to another.
// Only active -> resolved and active -> expired are allowed.
func CanTransition(from, to Status) bool {
	return from == StatusActive && to.Terminal()
}

type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

type Alert struct {
	ID            string     `json:"id"`
	Type          AlertType  `json:"type"`
	Message       string     `json:"message"`
	Location      Location   `json:"location"`
	Severity      Severity   `json:"severity"`
	Status        Status     `json:"status"`
	Timestamp     time.Time  `json:"timestamp"` // assigned by the write path
	CreatedBy     string     `json:"createdBy,omitempty"`
	AffectedAreas []string   `json:"affectedAreas,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	SourceRef     string     `json:"sourceRef,omitempty"` // upstream event id for ingested alerts
}

// Expired reports whether the alert's deadline has passed at now.
func (a *Alert) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !now.Before(*a.ExpiresAt)
}

// IsActive is the read-path notion of active: stored status is active and
// the alert has not expired.
func (a *Alert) IsActive(now time.Time) bool {
	return a.Status == StatusActive && !a.Expired(now)
}

func (a *Alert) Age(now time.Time) time.Duration {
	return now.Sub(a.Timestamp)
}

// DraftLocation uses pointers so that a missing coordinate can be told apart
// from 0.
type DraftLocation struct {
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	Address string   `json:"address,omitempty"`
}

func NewDraftLocation(lat, lng float64) *DraftLocation {
	return &DraftLocation{Lat: &lat, Lng: &lng}
}

// Draft is the producer-supplied shape of a new alert. ID and Timestamp are
// never taken from the caller.
type Draft struct {
	Type          AlertType      `json:"type"`
	Message       string         `json:"message"`
	Location      *DraftLocation `json:"location"`
	Severity      Severity       `json:"severity"`
	Status        Status         `json:"status,omitempty"`
	CreatedBy     string         `json:"createdBy,omitempty"`
	AffectedAreas []string       `json:"affectedAreas,omitempty"`
	ExpiresAt     *time.Time     `json:"expiresAt,omitempty"`
	SourceRef     string         `json:"sourceRef,omitempty"`
}

func (d *Draft) Validate() error {
	if d.Type == "" {
		return &ValidationError{Field: "type", Reason: "is required"}
	}
	if !d.Type.Valid() {
		return &ValidationError{Field: "type", Reason: "must be one of earthquake, fire, flood, weather"}
	}
	if strings.TrimSpace(d.Message) == "" {
		return &ValidationError{Field: "message", Reason: "is required"}
	}
	if d.Location == nil {
		return &ValidationError{Field: "location", Reason: "is required"}
	}
	if d.Location.Lat == nil {
		return &ValidationError{Field: "location.lat", Reason: "is required"}
	}
	if !finite(*d.Location.Lat) {
		return &ValidationError{Field: "location.lat", Reason: "must be a finite number"}
	}
	if d.Location.Lng == nil {
		return &ValidationError{Field: "location.lng", Reason: "is required"}
	}
	if !finite(*d.Location.Lng) {
		return &ValidationError{Field: "location.lng", Reason: "must be a finite number"}
	}
	if d.Severity == "" {
		return &ValidationError{Field: "severity", Reason: "is required"}
	}
	if !d.Severity.Valid() {
		return &ValidationError{Field: "severity", Reason: "must be one of low, medium, high, critical"}
	}
	if d.Status != "" && !d.Status.Valid() {
		return &ValidationError{Field: "status", Reason: "must be one of active, resolved, expired"}
	}
	return nil
}

// ToAlert builds the stored record. Status is always active, whatever the
// draft carried.
func (d *Draft) ToAlert(id string, ts time.Time) Alert {
	a := Alert{
		ID:      id,
		Type:    d.Type,
		Message: d.Message,
		Location: Location{
			Lat:     *d.Location.Lat,
			Lng:     *d.Location.Lng,
			Address: d.Location.Address,
		},
		Severity:  d.Severity,
		Status:    StatusActive,
		Timestamp: ts,
		CreatedBy: d.CreatedBy,
		SourceRef: d.SourceRef,
	}
	if len(d.AffectedAreas) > 0 {
		a.AffectedAreas = append([]string(nil), d.AffectedAreas...)
	}
	if d.ExpiresAt != nil {
		exp := d.ExpiresAt.UTC()
		a.ExpiresAt = &exp
	}
	return a
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func ParseAlertType(s string) (AlertType, bool) {
	t := AlertType(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	return sev, sev.Valid()
}

func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}
