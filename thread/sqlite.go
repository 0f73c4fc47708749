package thread

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/logging"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS threads (
	id          TEXT PRIMARY KEY,
	owner       TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	last_active INTEGER NOT NULL,
	expires_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
	thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
	seq       INTEGER NOT NULL,
	payload   TEXT NOT NULL,
	PRIMARY KEY (thread_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_threads_expires_at ON threads(expires_at);
`

// SQLiteStore is a durable core.ThreadStore. The turn log is append-only:
// rows are only ever inserted with the next sequence number and deleted as a
// whole thread on eviction. Expiry is a column; eviction is lazy on access
// plus an explicit Purge.
//
// The store keeps a single connection (modernc sqlite is happiest that way),
// which also serializes appends across threads; the per-call mutex makes the
// read-check-insert transaction atomic with respect to this process.
type SQLiteStore struct {
	db     *sql.DB
	ttl    time.Duration
	logger logging.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// SQLiteOptions configure OpenSQLiteStore.
type SQLiteOptions struct {
	TTL    time.Duration
	Logger logging.Logger
	Now    func() time.Time
}

// OpenSQLiteStore opens (creating if needed) the database at path and ensures
// the schema exists.
func OpenSQLiteStore(ctx context.Context, path string, optFns ...func(o *SQLiteOptions)) (*SQLiteStore, error) {
	opts := SQLiteOptions{
		TTL:    DefaultTTL,
		Logger: logging.NoOpLogger{},
		Now:    func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db, ttl: opts.TTL, logger: opts.Logger, now: opts.Now}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create inserts a new thread row and returns the thread.
func (s *SQLiteStore) Create(owner string) (*core.Thread, error) {
	th := core.NewThread(owner, s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO threads (id, owner, created_at, last_active, expires_at) VALUES (?, ?, ?, ?, ?)`,
		th.ID, th.Owner, th.Created.UnixNano(), th.LastActive.UnixNano(), th.ExpiryDeadline().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	s.logger.Debug("thread created", "thread_id", th.ID, "owner", owner)
	return th, nil
}

// Get loads the thread and its turns, evicting it first if expired.
func (s *SQLiteStore) Get(id string) (*core.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *SQLiteStore) getLocked(id string) (*core.Thread, error) {
	if err := s.evictIfExpiredLocked(id); err != nil {
		return nil, err
	}

	var owner string
	var createdAt, lastActive, expiresAt int64
	err := s.db.QueryRow(
		`SELECT owner, created_at, last_active, expires_at FROM threads WHERE id = ?`, id,
	).Scan(&owner, &createdAt, &lastActive, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, core.ErrThreadNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}

	rows, err := s.db.Query(`SELECT payload FROM turns WHERE thread_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("get %s turns: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	var turns []core.Turn
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("get %s turns: %w", id, err)
		}
		var turn core.Turn
		if err := json.Unmarshal([]byte(payload), &turn); err != nil {
			return nil, fmt.Errorf("get %s: decode turn: %w", id, err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get %s turns: %w", id, err)
	}

	return core.RestoreThread(
		id, owner,
		time.Unix(0, createdAt).UTC(),
		time.Unix(0, lastActive).UTC(),
		time.Unix(0, expiresAt).UTC(),
		turns,
	), nil
}

// Append inserts the turn with the next sequence number and refreshes the
// expiry deadline, atomically.
func (s *SQLiteStore) Append(id string, turn core.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.evictIfExpiredLocked(id); err != nil {
		return fmt.Errorf("append: %w", err)
	}

	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("append %s: encode turn: %w", id, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("append %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM threads WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("append %s: %w", id, err)
	}
	if exists == 0 {
		return fmt.Errorf("append %s: %w", id, core.ErrThreadNotFound)
	}

	var nextSeq int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM turns WHERE thread_id = ?`, id).Scan(&nextSeq); err != nil {
		return fmt.Errorf("append %s: %w", id, err)
	}
	if _, err := tx.Exec(
		`INSERT INTO turns (thread_id, seq, payload) VALUES (?, ?, ?)`,
		id, nextSeq, string(payload),
	); err != nil {
		return fmt.Errorf("append %s: %w", id, err)
	}

	now := s.now()
	if _, err := tx.Exec(
		`UPDATE threads SET last_active = ?, expires_at = ? WHERE id = ?`,
		now.UnixNano(), now.Add(s.ttl).UnixNano(), id,
	); err != nil {
		return fmt.Errorf("append %s: %w", id, err)
	}

	return tx.Commit()
}

// Touch refreshes the expiry deadline on activity.
func (s *SQLiteStore) Touch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.evictIfExpiredLocked(id); err != nil {
		return fmt.Errorf("touch: %w", err)
	}

	now := s.now()
	res, err := s.db.Exec(
		`UPDATE threads SET last_active = ?, expires_at = ? WHERE id = ?`,
		now.UnixNano(), now.Add(s.ttl).UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("touch %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("touch %s: %w", id, core.ErrThreadNotFound)
	}
	return nil
}

// Purge deletes every expired thread and its turns. Returns the number of
// threads removed.
func (s *SQLiteStore) Purge() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM threads WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	if n > 0 {
		s.logger.Debug("purged expired threads", "count", n)
	}
	return int(n), nil
}

// evictIfExpiredLocked removes the thread if its deadline has passed and
// reports it as not found.
func (s *SQLiteStore) evictIfExpiredLocked(id string) error {
	res, err := s.db.Exec(
		`DELETE FROM threads WHERE id = ? AND expires_at <= ?`, id, s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("evict %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("evict %s: %w", id, err)
	}
	if n > 0 {
		s.logger.Debug("thread evicted", "thread_id", id)
		return fmt.Errorf("%s: expired: %w", id, core.ErrThreadNotFound)
	}
	return nil
}
