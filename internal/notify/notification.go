// Package notify surfaces newly arrived alerts as short-lived user
// notifications without exposing exact coordinates.
package notify

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mr1hm/city-alerts/internal/models"
)

const (
	// DefaultRecencyWindow separates a live alert from a reloaded old feed.
	DefaultRecencyWindow = 30 * time.Second

	CriticalTimeout = 30 * time.Second
	HighTimeout     = 15 * time.Second
	DefaultTimeout  = 10 * time.Second

	RedactedLocation = "[location hidden]"
)

var coordinatePattern = regexp.MustCompile(`-?\d+\.\d+,\s*-?\d+\.\d+`)

// Redact replaces every "lat, lng" pair in msg with a placeholder.
func Redact(msg string) string {
	return coordinatePattern.ReplaceAllString(msg, RedactedLocation)
}

type Notification struct {
	// Tag is the alert id. Sinks coalesce notifications that share a tag.
	Tag      string          `json:"tag"`
	Title    string          `json:"title"`
	Body     string          `json:"body"`
	Severity models.Severity `json:"severity"`
	// RequireInteraction asks the platform to keep the notification open
	// until the user acknowledges it. AutoClose still bounds it.
	RequireInteraction bool          `json:"requireInteraction"`
	AutoClose          time.Duration `json:"autoClose"`
	Timestamp          time.Time     `json:"timestamp"`
}

// Lifetime returns how long a notification for severity stays open.
func Lifetime(severity models.Severity) (requireInteraction bool, autoClose time.Duration) {
	switch severity {
	case models.SeverityCritical:
		return true, CriticalTimeout
	case models.SeverityHigh:
		return false, HighTimeout
	default:
		return false, DefaultTimeout
	}
}

// Build turns an alert into its redacted notification.
func Build(a models.Alert) Notification {
	requireInteraction, autoClose := Lifetime(a.Severity)
	return Notification{
		Tag:                a.ID,
		Title:              fmt.Sprintf("%s %s alert", strings.ToUpper(string(a.Severity)), a.Type),
		Body:               Redact(a.Message),
		Severity:           a.Severity,
		RequireInteraction: requireInteraction,
		AutoClose:          autoClose,
		Timestamp:          a.Timestamp,
	}
}

// NotificationError reports a sink failure. It is logged, never returned to
// the feed.
type NotificationError struct {
	Tag string
	Err error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notification %s: %v", e.Tag, e.Err)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}
