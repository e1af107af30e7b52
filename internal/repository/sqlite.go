package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mr1hm/city-alerts/internal/models"
	_ "modernc.org/sqlite"
)

// Fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const alertColumns = `id, type, message, lat, lng, address, severity, status, timestamp, created_by, affected_areas, expires_at, source_ref`

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS alerts (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			message TEXT NOT NULL,
			lat REAL NOT NULL,
			lng REAL NOT NULL,
			address TEXT NOT NULL DEFAULT '',
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			created_by TEXT NOT NULL DEFAULT '',
			affected_areas TEXT NOT NULL DEFAULT '[]',
			expires_at TEXT,
			source_ref TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp);
		CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_source_ref ON alerts(source_ref) WHERE source_ref IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func (s *SQLiteDB) Add(ctx context.Context, a *models.Alert) error {
	areas := a.AffectedAreas
	if areas == nil {
		areas = []string{}
	}
	areasJSON, err := json.Marshal(areas)
	if err != nil {
		return fmt.Errorf("error encoding affected areas: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alerts (`+alertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		string(a.Type),
		a.Message,
		a.Location.Lat,
		a.Location.Lng,
		a.Location.Address,
		string(a.Severity),
		string(a.Status),
		formatTime(a.Timestamp),
		a.CreatedBy,
		string(areasJSON),
		nullTime(a.ExpiresAt),
		nullString(a.SourceRef),
	)
	if err != nil {
		return models.NewTransportError("insert alert", err)
	}
	return nil
}

func (s *SQLiteDB) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, models.NewTransportError("get alert", err)
	}
	return a, nil
}

func (s *SQLiteDB) SetStatus(ctx context.Context, id string, status models.Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET status = ? WHERE id = ? AND status = ?`,
		string(status), id, string(models.StatusActive),
	)
	if err != nil {
		return models.NewTransportError("update alert status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.NewTransportError("update alert status", err)
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM alerts WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	if err != nil {
		return models.NewTransportError("read alert status", err)
	}
	return fmt.Errorf("%w: %s is %s", models.ErrTerminalStatus, id, current)
}

func (s *SQLiteDB) ListRecent(ctx context.Context, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts ORDER BY timestamp DESC, seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, models.NewTransportError("list alerts", err)
	}
	defer rows.Close()

	alerts := make([]models.Alert, 0, limit)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, models.NewTransportError("scan alert", err)
		}
		alerts = append(alerts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewTransportError("list alerts", err)
	}
	return alerts, nil
}

func (s *SQLiteDB) ListOverdue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM alerts WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ? ORDER BY expires_at`,
		string(models.StatusActive), formatTime(now))
	if err != nil {
		return nil, models.NewTransportError("list overdue alerts", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, models.NewTransportError("scan overdue alert", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewTransportError("list overdue alerts", err)
	}
	return ids, nil
}

func (s *SQLiteDB) ExistsBySourceRef(ctx context.Context, ref string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM alerts WHERE source_ref = ?)`, ref).Scan(&exists)
	if err != nil {
		return false, models.NewTransportError("lookup source ref", err)
	}
	return exists, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(sc scanner) (*models.Alert, error) {
	var (
		a         models.Alert
		typ       string
		severity  string
		status    string
		timestamp string
		areas     string
		expiresAt sql.NullString
		sourceRef sql.NullString
	)
	err := sc.Scan(
		&a.ID,
		&typ,
		&a.Message,
		&a.Location.Lat,
		&a.Location.Lng,
		&a.Location.Address,
		&severity,
		&status,
		&timestamp,
		&a.CreatedBy,
		&areas,
		&expiresAt,
		&sourceRef,
	)
	if err != nil {
		return nil, err
	}

	a.Type = models.AlertType(typ)
	a.Severity = models.Severity(severity)
	a.Status = models.Status(status)
	a.SourceRef = sourceRef.String

	if a.Timestamp, err = time.Parse(timeLayout, timestamp); err != nil {
		return nil, fmt.Errorf("error parsing timestamp %q: %w", timestamp, err)
	}
	if expiresAt.Valid {
		exp, err := time.Parse(timeLayout, expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("error parsing expires_at %q: %w", expiresAt.String, err)
		}
		a.ExpiresAt = &exp
	}
	if err := json.Unmarshal([]byte(areas), &a.AffectedAreas); err != nil {
		return nil, fmt.Errorf("error decoding affected areas: %w", err)
	}
	if len(a.AffectedAreas) == 0 {
		a.AffectedAreas = nil
	}
	return &a, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
