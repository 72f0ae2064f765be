package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codewiresh/cadwire/internal/host"
	"github.com/codewiresh/cadwire/internal/protocol"
)

const defaultListLimit = 100

// SQLiteJournal implements Journal using an embedded SQLite database.
// It uses modernc.org/sqlite which is pure Go (no CGO).
type SQLiteJournal struct {
	db        *sql.DB
	mu        sync.RWMutex // serializes writes (SQLite is single-writer)
	retention time.Duration
	closeCh   chan struct{}
	closeOnce sync.Once
	now       func() time.Time
}

// NewSQLiteJournal opens or creates the database at path and runs schema
// migrations. A positive retention starts a loop that prunes older entries.
func NewSQLiteJournal(path string, retention time.Duration) (*SQLiteJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	// Single connection for writes to avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	j := &SQLiteJournal{
		db:        db,
		retention: retention,
		closeCh:   make(chan struct{}),
		now:       time.Now,
	}

	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating sqlite: %w", err)
	}

	if retention > 0 {
		go j.cleanupLoop()
	}
	return j, nil
}

func (j *SQLiteJournal) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS commands (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			at_ns INTEGER NOT NULL,
			host TEXT NOT NULL,
			request_id TEXT NOT NULL,
			name TEXT NOT NULL,
			params TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			error_kind TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			elapsed_ns INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_commands_at ON commands(at_ns)`,
		`CREATE INDEX IF NOT EXISTS idx_commands_name ON commands(name)`,
	}
	for _, m := range migrations {
		if _, err := j.db.Exec(m); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}
	return nil
}

// cleanupLoop periodically prunes entries older than the retention.
func (j *SQLiteJournal) cleanupLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-j.closeCh:
			return
		case <-ticker.C:
			n, err := j.Prune(context.Background(), j.now().Add(-j.retention))
			if err != nil {
				slog.Warn("journal prune failed", "err", err)
			} else if n > 0 {
				slog.Debug("journal pruned", "entries", n)
			}
		}
	}
}

// Append stores e and returns its sequence number. A zero At is stamped
// with the current time.
func (j *SQLiteJournal) Append(ctx context.Context, e Entry) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if e.At.IsZero() {
		e.At = j.now()
	}
	if e.Params == "" {
		e.Params = "{}"
	}
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO commands (at_ns, host, request_id, name, params, status, error_kind, message, elapsed_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.At.UnixNano(), e.Host, e.ID, e.Name, e.Params, e.Status, e.ErrorKind, e.Message, int64(e.Elapsed),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// List returns matching entries, newest first.
func (j *SQLiteJournal) List(ctx context.Context, f Filter) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var where []string
	var args []any
	if f.Host != "" {
		where = append(where, "host = ?")
		args = append(args, f.Host)
	}
	if f.Name != "" {
		where = append(where, "name = ?")
		args = append(args, f.Name)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if !f.Since.IsZero() {
		where = append(where, "at_ns >= ?")
		args = append(args, f.Since.UnixNano())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	q := "SELECT seq, at_ns, host, request_id, name, params, status, error_kind, message, elapsed_ns FROM commands"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var at, elapsed int64
		if err := rows.Scan(&e.Seq, &at, &e.Host, &e.ID, &e.Name, &e.Params, &e.Status, &e.ErrorKind, &e.Message, &elapsed); err != nil {
			return nil, err
		}
		e.At = time.Unix(0, at).UTC()
		e.Elapsed = time.Duration(elapsed)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries recorded before the given time.
func (j *SQLiteJournal) Prune(ctx context.Context, before time.Time) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	res, err := j.db.ExecContext(ctx, "DELETE FROM commands WHERE at_ns < ?", before.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close shuts down the cleanup goroutine and closes the database.
func (j *SQLiteJournal) Close() error {
	j.closeOnce.Do(func() { close(j.closeCh) })
	return j.db.Close()
}

// Recorder adapts a Journal to the executor's recorder hook for one host.
// Journal failures are logged and never affect the command.
type Recorder struct {
	Journal Journal
	Host    host.Kind
}

// Record appends the execution to the journal.
func (r Recorder) Record(req protocol.CommandRequest, resp protocol.CommandResponse, elapsed time.Duration) {
	e := Entry{
		Host:    string(r.Host),
		ID:      req.ID,
		Name:    req.Name,
		Status:  string(resp.Status),
		Elapsed: elapsed,
	}
	if req.Params != nil {
		if data, err := req.Params.MarshalJSON(); err == nil {
			e.Params = string(data)
		}
	}
	if resp.Err != nil {
		e.ErrorKind = string(resp.Err.Kind)
		e.Message = resp.Err.Message
	}
	if _, err := r.Journal.Append(context.Background(), e); err != nil {
		slog.Warn("journal append failed", "id", req.ID, "name", req.Name, "err", err)
	}
}
