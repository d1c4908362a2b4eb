package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps events in a local SQLite database.
type SQLiteStore struct {
	db        *sql.DB
	retention time.Duration
	clock     func() time.Time
}

var _ Sink = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and prunes
// events older than retentionDays. retentionDays <= 0 keeps everything.
func OpenSQLite(ctx context.Context, path string, retentionDays int) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping sqlite: %w", err)
	}

	s := &SQLiteStore{
		db:        db,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		clock:     time.Now,
	}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.Prune(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS transcriptions (
    id TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL,
    app TEXT,
    category TEXT,
    kind TEXT,
    path TEXT,
    outcome TEXT,
    error TEXT,
    language TEXT,
    stt_model TEXT,
    llm_model TEXT,
    raw TEXT,
    corrected TEXT,
    final TEXT,
    rejection TEXT,
    edit_rate REAL,
    audio_seconds REAL,
    transcribe_ms INTEGER,
    cleanup_ms INTEGER,
    total_ms INTEGER
);
CREATE INDEX IF NOT EXISTS idx_transcriptions_created ON transcriptions(created_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("history: init schema: %w", err)
	}
	return nil
}

// Write inserts e. Writing the same ID twice replaces the earlier row.
func (s *SQLiteStore) Write(ctx context.Context, e Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO transcriptions(
			id, created_at, app, category, kind, path, outcome, error, language,
			stt_model, llm_model, raw, corrected, final, rejection, edit_rate,
			audio_seconds, transcribe_ms, cleanup_ms, total_ms)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CreatedAt.UnixMilli(), e.App, e.Category, e.Kind, e.Path, e.Outcome, e.Error, e.Language,
		e.STTModel, e.LLMModel, e.Raw, e.Corrected, e.Final, e.Rejection, e.EditRate,
		e.AudioSeconds, e.Transcribe.Milliseconds(), e.Cleanup.Milliseconds(), e.Total.Milliseconds())
	if err != nil {
		return fmt.Errorf("history: insert %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns up to n events, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]Event, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, app, category, kind, path, outcome, error, language,
			stt_model, llm_model, raw, corrected, final, rejection, edit_rate,
			audio_seconds, transcribe_ms, cleanup_ms, total_ms
		 FROM transcriptions ORDER BY created_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e                                Event
			created                          int64
			transcribeMS, cleanupMS, totalMS int64
		)
		if err := rows.Scan(&e.ID, &created, &e.App, &e.Category, &e.Kind, &e.Path, &e.Outcome, &e.Error, &e.Language,
			&e.STTModel, &e.LLMModel, &e.Raw, &e.Corrected, &e.Final, &e.Rejection, &e.EditRate,
			&e.AudioSeconds, &transcribeMS, &cleanupMS, &totalMS); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created)
		e.Transcribe = time.Duration(transcribeMS) * time.Millisecond
		e.Cleanup = time.Duration(cleanupMS) * time.Millisecond
		e.Total = time.Duration(totalMS) * time.Millisecond
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune deletes events older than the retention window.
func (s *SQLiteStore) Prune(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}
	cutoff := s.clock().Add(-s.retention).UnixMilli()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transcriptions WHERE created_at < ?`, cutoff); err != nil {
		return fmt.Errorf("history: prune: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
