package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"brownout/internal/config"
)

// Kind classifies a journal entry.
type Kind string

const (
	KindPowerLost         Kind = "power_lost"
	KindPowerRestored     Kind = "power_restored"
	KindShutdownRequested Kind = "shutdown_requested"
	KindShutdownCancelled Kind = "shutdown_cancelled"
	KindPhaseChange       Kind = "phase_change"
	KindStepCompleted     Kind = "step_completed"
	KindStepFault         Kind = "step_fault"
	KindFault             Kind = "fault"
)

// Entry is one recorded coordinator event.
type Entry struct {
	ID        int64
	Kind      Kind
	Phase     string
	Step      string
	Detail    string
	CreatedAt time.Time
}

// Store manages journal persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    phase TEXT,
    step TEXT,
    detail TEXT,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);
`

// Open initializes or connects to the journal database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.JournalPath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the on-disk location backing the journal.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Append records an event.
func (s *Store) Append(ctx context.Context, entry Entry) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("journal unavailable")
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO events (kind, phase, step, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(entry.Kind),
		nullableString(entry.Phase),
		nullableString(entry.Step),
		nullableString(entry.Detail),
		created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// Recent returns the newest entries, most recent first. Limit <= 0 uses a
// default of 50.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("journal unavailable")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, kind, phase, step, detail, created_at FROM events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// LastFault returns the most recent fault entry, or nil when none exists.
func (s *Store) LastFault(ctx context.Context) (*Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("journal unavailable")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, kind, phase, step, detail, created_at FROM events
         WHERE kind IN (?, ?) ORDER BY id DESC LIMIT 1`,
		string(KindStepFault),
		string(KindFault),
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last fault: %w", err)
	}
	return &entry, nil
}

// Prune removes entries older than the cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("journal unavailable")
	}
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM events WHERE created_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

// DatabaseHealth reports journal database diagnostics.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	IntegrityCheck   bool
	TotalEvents      int
	Error            string
}

// CheckHealth returns diagnostic information about the journal database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("journal database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat journal database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("journal database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping journal database: %w", err)
	}
	health.DatabaseReadable = true

	row := s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM events")
	if err := row.Scan(&health.TotalEvents); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count events: %w", err)
	}

	row = s.db.QueryRowContext(connCtx, "PRAGMA integrity_check")
	var integrityResult string
	if err := row.Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (Entry, error) {
	var (
		id         int64
		kind       string
		phase      sql.NullString
		step       sql.NullString
		detail     sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(&id, &kind, &phase, &step, &detail, &createdRaw); err != nil {
		return Entry{}, err
	}
	entry := Entry{
		ID:     id,
		Kind:   Kind(kind),
		Phase:  phase.String,
		Step:   step.String,
		Detail: detail.String,
	}
	if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		entry.CreatedAt = created
	}
	return entry, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
