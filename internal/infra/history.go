package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const historyDBName = "history.db"

// EncryptedHistory implements domain.RunHistory using a SQLCipher
// encrypted SQLite database.
type EncryptedHistory struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedHistory opens (or creates) the history database in dataDir.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedHistory(dataDir string, key []byte) (*EncryptedHistory, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, historyDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_busy_timeout=2000",
		dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// One connection serializes writers from the supervisor and channel goroutines.
	db.SetMaxOpenConns(1)

	h := &EncryptedHistory{db: db, dbPath: dbPath}
	if err := h.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise history database (wrong key?): %w", err)
	}
	return h, nil
}

// OpenHistory loads or creates the key for dataDir and opens the history.
func OpenHistory(dataDir string) (*EncryptedHistory, error) {
	key, err := EnsureKey(NewFileKeyProvider(dataDir))
	if err != nil {
		return nil, err
	}
	return NewEncryptedHistory(dataDir, key)
}

func (h *EncryptedHistory) createTables() error {
	_, err := h.db.Exec(`
	CREATE TABLE IF NOT EXISTS run_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		exit_code INTEGER NOT NULL DEFAULT 0,
		at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS run_events_run_id ON run_events (run_id);
	`)
	return err
}

// Record appends an event.
func (h *EncryptedHistory) Record(ctx context.Context, event domain.RunEvent) error {
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO run_events (run_id, kind, detail, exit_code, at) VALUES (?, ?, ?, ?, ?)`,
		event.RunID, string(event.Kind), event.Detail, event.ExitCode, at.UnixNano(),
	)
	return err
}

// Recent returns up to n events, newest first.
func (h *EncryptedHistory) Recent(ctx context.Context, n int) ([]domain.RunEvent, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT run_id, kind, detail, exit_code, at FROM run_events ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.RunEvent
	for rows.Next() {
		var (
			ev   domain.RunEvent
			kind string
			at   int64
		)
		if err := rows.Scan(&ev.RunID, &kind, &ev.Detail, &ev.ExitCode, &at); err != nil {
			return nil, err
		}
		ev.Kind = domain.RunEventKind(kind)
		ev.At = time.Unix(0, at)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Path returns the database file path.
func (h *EncryptedHistory) Path() string {
	return h.dbPath
}

// Close releases the database connection.
func (h *EncryptedHistory) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}

// NopHistory discards all events. Used when history is disabled or the
// database cannot be opened.
type NopHistory struct{}

func (NopHistory) Record(ctx context.Context, event domain.RunEvent) error { return nil }

func (NopHistory) Recent(ctx context.Context, n int) ([]domain.RunEvent, error) { return nil, nil }

func (NopHistory) Close() error { return nil }

// Ensure implementations satisfy interfaces
var _ domain.RunHistory = (*EncryptedHistory)(nil)
var _ domain.RunHistory = NopHistory{}
