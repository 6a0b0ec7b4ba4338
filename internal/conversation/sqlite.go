package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteStore records turns in a single table ordered by a per-session sequence.
type sqliteStore struct {
	db    *sql.DB
	clock func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &sqliteStore{db: db, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    role TEXT NOT NULL,
    text TEXT NOT NULL,
    created_at TEXT NOT NULL,
    UNIQUE(session_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_turns_session_seq ON turns(session_id, seq);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init conversation schema: %w", err)
	}
	return nil
}

// Append inserts all turns in one transaction after the current last sequence.
func (s *sqliteStore) Append(ctx context.Context, sessionID string, turns ...Turn) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var last int64
	if err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM turns WHERE session_id = ?`, sessionID).Scan(&last); err != nil {
		return err
	}
	created := s.clock().UTC().Format(time.RFC3339Nano)
	for i, t := range turns {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO turns(session_id, seq, role, text, created_at) VALUES(?, ?, ?, ?, ?)`,
			sessionID, last+int64(i)+1, string(t.Role), t.Text, created); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

func (s *sqliteStore) Get(ctx context.Context, sessionID string) (Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, text FROM turns WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return Session{}, err
	}
	defer rows.Close()

	out := Session{ID: sessionID, Chats: []Turn{}}
	for rows.Next() {
		var role, text string
		if err := rows.Scan(&role, &text); err != nil {
			return Session{}, err
		}
		out.Chats = append(out.Chats, Turn{Role: Role(role), Text: text})
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
