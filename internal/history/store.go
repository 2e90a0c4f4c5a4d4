package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"notescribe/internal/notes"
	"notescribe/internal/transcribe"
)

// Store manages analysis history backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Entry is one stored analysis.
type Entry struct {
	ID         string        `json:"id"`
	Source     string        `json:"source,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	SampleRate int           `json:"sample_rate"`
	Duration   float64       `json:"duration_seconds"`
	NoteCount  int           `json:"note_count"`
	Notes      []notes.Event `json:"notes,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
	Elapsed    time.Duration `json:"-"`
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	// Fixed width so created_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

	entryColumns = "id, source, created_at, sample_rate, duration_seconds, note_count, notes_json, warnings_json, elapsed_ms"
)

// FromResult builds an entry for a finished analysis.
func FromResult(res transcribe.Result, source string, sampleRate int) Entry {
	warnings := make([]string, 0, len(res.Warnings))
	for _, w := range res.Warnings {
		warnings = append(warnings, w.Message)
	}
	return Entry{
		ID:         res.RequestID,
		Source:     source,
		CreatedAt:  time.Now().UTC(),
		SampleRate: sampleRate,
		Duration:   res.Duration,
		NoteCount:  len(res.Notes),
		Notes:      res.Notes,
		Warnings:   warnings,
		Elapsed:    res.Elapsed,
	}
}

// Open initializes or connects to the history database at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save inserts or replaces an entry.
func (s *Store) Save(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("history entry id is empty")
	}
	notesJSON, err := json.Marshal(entry.Notes)
	if err != nil {
		return fmt.Errorf("marshal notes: %w", err)
	}
	var warningsJSON any
	if len(entry.Warnings) > 0 {
		data, err := json.Marshal(entry.Warnings)
		if err != nil {
			return fmt.Errorf("marshal warnings: %w", err)
		}
		warningsJSON = string(data)
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return s.execWithoutResultRetry(ctx,
		`INSERT OR REPLACE INTO analyses (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		nullableString(entry.Source),
		created.UTC().Format(timeLayout),
		entry.SampleRate,
		entry.Duration,
		len(entry.Notes),
		string(notesJSON),
		warningsJSON,
		entry.Elapsed.Milliseconds(),
	)
}

// Get fetches an entry by id. A missing entry returns (nil, nil).
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+entryColumns+` FROM analyses WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return entry, nil
}

// List returns the newest entries first. A limit <= 0 returns everything.
// Notes are omitted; use Get for the full entry.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM analyses ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entry.Notes = nil
		out = append(out, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

// Delete removes an entry and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM analyses WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Clear removes every entry and returns the number deleted.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM analyses`)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return res.RowsAffected()
}

// Prune keeps the newest keep entries and deletes the rest. keep <= 0 is a
// no-op.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.execWithRetry(ctx,
		`DELETE FROM analyses WHERE id NOT IN (
            SELECT id FROM analyses ORDER BY created_at DESC, id LIMIT ?
        )`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		entry        Entry
		source       sql.NullString
		created      string
		notesJSON    string
		warningsJSON sql.NullString
		elapsedMS    int64
	)
	if err := row.Scan(&entry.ID, &source, &created, &entry.SampleRate, &entry.Duration,
		&entry.NoteCount, &notesJSON, &warningsJSON, &elapsedMS); err != nil {
		return nil, err
	}
	entry.Source = source.String
	entry.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	if ts, err := time.Parse(timeLayout, created); err == nil {
		entry.CreatedAt = ts
	}
	if err := json.Unmarshal([]byte(notesJSON), &entry.Notes); err != nil {
		return nil, fmt.Errorf("decode notes: %w", err)
	}
	for i := range entry.Notes {
		if midi, _, err := notes.ParseName(entry.Notes[i].Note); err == nil {
			entry.Notes[i].MIDI = midi
		}
	}
	if warningsJSON.Valid && warningsJSON.String != "" {
		if err := json.Unmarshal([]byte(warningsJSON.String), &entry.Warnings); err != nil {
			return nil, fmt.Errorf("decode warnings: %w", err)
		}
	}
	return &entry, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) execWithoutResultRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}
