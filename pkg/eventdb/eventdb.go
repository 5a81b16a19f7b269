package eventdb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/agentmesh/agentmesh-go/pkg/event"
)

var (
	// ErrNotFound is returned when a lookup matches no stored event.
	ErrNotFound = errors.New("eventdb: event not found")
	// ErrStorageLimit is returned when an insert would exceed MaxEvents.
	ErrStorageLimit = errors.New("eventdb: storage limit exceeded")
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	pubkey     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	kind       INTEGER NOT NULL,
	tags       TEXT NOT NULL,
	content    TEXT NOT NULL,
	sig        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_kind   ON events(kind, created_at);
CREATE INDEX IF NOT EXISTS idx_events_pubkey ON events(pubkey, created_at);
CREATE TABLE IF NOT EXISTS event_tags (
	event_id TEXT NOT NULL,
	name     TEXT NOT NULL,
	value    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_event_tags ON event_tags(name, value);
`

// Options configures Open.
type Options struct {
	// Path is the database file; ":memory:" keeps everything in RAM.
	Path string
	// MaxEvents caps the number of stored events. Zero means unlimited.
	MaxEvents int64
}

// DB is a handle onto the event store.
type DB struct {
	sql       *sql.DB
	maxEvents int64
}

// Open opens or creates the store at opts.Path and applies the schema.
func Open(opts Options) (*DB, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("eventdb: empty database path")
	}
	raw, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("eventdb: open %s: %w", opts.Path, err)
	}
	// The driver serializes access per connection; one connection keeps the
	// single-writer contract and works for :memory: databases too.
	raw.SetMaxOpenConns(1)
	if _, err := raw.Exec(schema); err != nil {
		raw.Close()
		return nil, fmt.Errorf("eventdb: apply schema: %w", err)
	}
	return &DB{sql: raw, maxEvents: opts.MaxEvents}, nil
}

// Close releases the underlying database handle.
func (db *DB) Close() error {
	return db.sql.Close()
}

// Insert stores ev. Inserting an id that already exists is a no-op.
func (db *DB) Insert(ev *event.Event) error {
	if ev == nil || ev.ID == "" {
		return fmt.Errorf("eventdb: insert requires an event with an id")
	}
	if db.maxEvents > 0 {
		n, err := db.Count()
		if err != nil {
			return err
		}
		if n >= db.maxEvents {
			return ErrStorageLimit
		}
	}

	tagsJSON, err := json.Marshal(ev.Tags)
	if err != nil {
		return fmt.Errorf("eventdb: marshal tags: %w", err)
	}

	tx, err := db.sql.Begin()
	if err != nil {
		return fmt.Errorf("eventdb: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT OR IGNORE INTO events (id, pubkey, created_at, kind, tags, content, sig) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.PubKey, ev.CreatedAt, ev.Kind, string(tagsJSON), ev.Content, ev.Sig,
	)
	if err != nil {
		return fmt.Errorf("eventdb: insert: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("eventdb: rows affected: %w", err)
	}
	if inserted == 0 {
		return nil // duplicate id, already stored
	}
	for _, t := range ev.Tags {
		if len(t) < 2 {
			continue
		}
		if _, err := tx.Exec(
			`INSERT INTO event_tags (event_id, name, value) VALUES (?, ?, ?)`,
			ev.ID, t.Name(), t.Value(),
		); err != nil {
			return fmt.Errorf("eventdb: insert tag: %w", err)
		}
	}
	return tx.Commit()
}

// GetByID returns the stored event with the given id, or ErrNotFound.
func (db *DB) GetByID(id string) (*event.Event, error) {
	row := db.sql.QueryRow(
		`SELECT id, pubkey, created_at, kind, tags, content, sig FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ev, err
}

// Filter narrows a Query. Zero-valued fields are ignored.
type Filter struct {
	IDs     []string
	Kinds   []int
	Authors []string
	// Tags maps a tag name to accepted values; an event matches when it
	// carries at least one (name, value) pair per entry.
	Tags  map[string][]string
	Since int64 // created_at >= Since
	Until int64 // created_at <= Until
	Limit int   // 0 means unlimited
}

// Query returns events matching f, newest first.
func (db *DB) Query(f Filter) ([]*event.Event, error) {
	var (
		where []string
		args  []interface{}
	)
	if len(f.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	if len(f.Kinds) > 0 {
		where = append(where, "kind IN ("+placeholders(len(f.Kinds))+")")
		for _, k := range f.Kinds {
			args = append(args, k)
		}
	}
	if len(f.Authors) > 0 {
		where = append(where, "pubkey IN ("+placeholders(len(f.Authors))+")")
		for _, a := range f.Authors {
			args = append(args, a)
		}
	}
	for name, values := range f.Tags {
		if len(values) == 0 {
			continue
		}
		where = append(where,
			"EXISTS (SELECT 1 FROM event_tags t WHERE t.event_id = events.id AND t.name = ? AND t.value IN ("+placeholders(len(values))+"))")
		args = append(args, name)
		for _, v := range values {
			args = append(args, v)
		}
	}
	if f.Since > 0 {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since)
	}
	if f.Until > 0 {
		where = append(where, "created_at <= ?")
		args = append(args, f.Until)
	}

	q := `SELECT id, pubkey, created_at, kind, tags, content, sig FROM events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.sql.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("eventdb: query: %w", err)
	}
	defer rows.Close()

	var out []*event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Delete removes the events with the given ids that were authored by author.
// The author check keeps deletion requests from removing other agents'
// events. It returns the number of events removed.
func (db *DB) Delete(ids []string, author string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := db.sql.Begin()
	if err != nil {
		return 0, fmt.Errorf("eventdb: begin: %w", err)
	}
	defer tx.Rollback()

	args := make([]interface{}, 0, len(ids)+1)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, author)

	res, err := tx.Exec(
		`DELETE FROM events WHERE id IN (`+placeholders(len(ids))+`) AND pubkey = ?`, args...)
	if err != nil {
		return 0, fmt.Errorf("eventdb: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("eventdb: rows affected: %w", err)
	}
	if _, err := tx.Exec(
		`DELETE FROM event_tags WHERE event_id IN (`+placeholders(len(ids))+`) AND event_id NOT IN (SELECT id FROM events)`,
		args[:len(ids)]...); err != nil {
		return 0, fmt.Errorf("eventdb: delete tags: %w", err)
	}
	return n, tx.Commit()
}

// Count returns the number of stored events.
func (db *DB) Count() (int64, error) {
	var n int64
	if err := db.sql.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("eventdb: count: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(r rowScanner) (*event.Event, error) {
	var (
		ev       event.Event
		tagsJSON string
	)
	if err := r.Scan(&ev.ID, &ev.PubKey, &ev.CreatedAt, &ev.Kind, &tagsJSON, &ev.Content, &ev.Sig); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &ev.Tags); err != nil {
		return nil, fmt.Errorf("eventdb: unmarshal tags: %w", err)
	}
	return &ev, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
