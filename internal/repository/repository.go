package repository

import (
	"context"
	"time"

	"github.com/mr1hm/city-alerts/internal/models"
)

// AlertRepository is the backing store behind the feed gateway. Every write
// targets a single row keyed by alert id.
type AlertRepository interface {
	Add(ctx context.Context, a *models.Alert) error
	GetByID(ctx context.Context, id string) (*models.Alert, error)
	// SetStatus moves an active alert to status. It returns ErrNotFound for an
	// unknown id and ErrTerminalStatus when the alert already left active.
	SetStatus(ctx context.Context, id string, status models.Status) error
	// ListRecent returns at most limit alerts ordered by timestamp, newest first.
	ListRecent(ctx context.Context, limit int) ([]models.Alert, error)
	// ListOverdue returns ids of alerts still stored as active whose deadline
	// is at or before now.
	ListOverdue(ctx context.Context, now time.Time) ([]string, error)
	ExistsBySourceRef(ctx context.Context, ref string) (bool, error)
}
