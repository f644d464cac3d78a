package alert

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS security_alerts (
	id TEXT PRIMARY KEY,
	entity_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	alert_type TEXT NOT NULL,
	severity TEXT NOT NULL,
	anomaly_score REAL NOT NULL,
	confidence REAL NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL,
	indicators TEXT,
	status TEXT NOT NULL,
	detected_at TEXT NOT NULL,
	resolution_notes TEXT
);

CREATE INDEX IF NOT EXISTS idx_alerts_entity ON security_alerts(entity_id);
CREATE INDEX IF NOT EXISTS idx_alerts_type ON security_alerts(alert_type);
CREATE INDEX IF NOT EXISTS idx_alerts_detected ON security_alerts(detected_at);
`

// History is the durable alert log. Writes are asynchronous: the manager
// must never block on sqlite while holding its lock.
type History struct {
	db      *sql.DB
	writes  chan Alert
	flushes chan chan struct{}
	done    chan struct{}
	logger  *slog.Logger
}

// NewHistory opens (or creates) the alert history database.
func NewHistory(dbPath string, logger *slog.Logger) (*History, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening alert history db: %w", err)
	}

	// WAL mode for concurrent CLI reads while the engine writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("setting WAL mode: %w (also: close: %v)", err, cerr)
		}
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("creating schema: %w (also: close: %v)", err, cerr)
		}
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	h := &History{
		db:      db,
		writes:  make(chan Alert, 256),
		flushes: make(chan chan struct{}),
		done:    make(chan struct{}),
		logger:  logger,
	}

	go h.writeLoop()
	return h, nil
}

// Record enqueues an alert snapshot for async writing. Called both on
// creation and on every status transition; the latest snapshot wins.
func (h *History) Record(a Alert) {
	select {
	case h.writes <- a:
	default:
		h.logger.Warn("alert history buffer full, dropping write", "alert_id", a.ID)
	}
}

// Flush blocks until all writes queued before the call have been applied.
func (h *History) Flush() {
	ack := make(chan struct{})
	h.flushes <- ack
	<-ack
}

// QueryOpts holds filters for alert history queries.
type QueryOpts struct {
	EntityID  string
	AlertType string
	Status    string
	Severity  string
	Since     time.Time
	Limit     int
}

// Query returns alert history entries matching the filters, newest first.
func (h *History) Query(opts QueryOpts) ([]Alert, error) {
	query := `SELECT id, entity_id, entity_type, alert_type, severity, anomaly_score,
		confidence, title, description, indicators, status, detected_at, resolution_notes
		FROM security_alerts WHERE 1=1`
	var args []any

	if opts.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, opts.EntityID)
	}
	if opts.AlertType != "" {
		query += " AND alert_type = ?"
		args = append(args, opts.AlertType)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, opts.Status)
	}
	if opts.Severity != "" {
		query += " AND severity = ?"
		args = append(args, opts.Severity)
	}
	if !opts.Since.IsZero() {
		query += " AND detected_at >= ?"
		args = append(args, opts.Since.UTC().Format(time.RFC3339))
	}

	query += " ORDER BY detected_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	} else {
		query += " LIMIT 50"
	}

	rows, err := h.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying alert history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []Alert
	for rows.Next() {
		var a Alert
		var indicators, notes sql.NullString
		var detectedAt string
		if err := rows.Scan(&a.ID, &a.EntityID, &a.EntityType, &a.AlertType, &a.Severity,
			&a.AnomalyScore, &a.Confidence, &a.Title, &a.Description, &indicators,
			&a.Status, &detectedAt, &notes); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if indicators.Valid {
			_ = json.Unmarshal([]byte(indicators.String), &a.Indicators)
		}
		a.Resolution = notes.String
		if ts, err := time.Parse(time.RFC3339, detectedAt); err == nil {
			a.DetectedAt = ts
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Close flushes pending writes and closes the database.
func (h *History) Close() error {
	close(h.writes)
	<-h.done
	return h.db.Close()
}

func (h *History) writeLoop() {
	defer close(h.done)
	for {
		select {
		case a, ok := <-h.writes:
			if !ok {
				return
			}
			h.write(a)
		case ack := <-h.flushes:
			// Drain everything enqueued before the flush, then ack.
			for draining := true; draining; {
				select {
				case a, ok := <-h.writes:
					if !ok {
						close(ack)
						return
					}
					h.write(a)
				default:
					draining = false
				}
			}
			close(ack)
		}
	}
}

func (h *History) write(a Alert) {
	indicators, _ := json.Marshal(a.Indicators)
	_, err := h.db.Exec(
		`INSERT INTO security_alerts (id, entity_id, entity_type, alert_type, severity,
			anomaly_score, confidence, title, description, indicators, status, detected_at, resolution_notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status,
			resolution_notes = excluded.resolution_notes`,
		a.ID, a.EntityID, string(a.EntityType), a.AlertType, string(a.Severity),
		a.AnomalyScore, a.Confidence, a.Title, a.Description, string(indicators),
		string(a.Status), a.DetectedAt.UTC().Format(time.RFC3339), a.Resolution,
	)
	if err != nil {
		h.logger.Error("alert history write failed", "alert_id", a.ID, "error", err)
	}
}
