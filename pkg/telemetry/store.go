package telemetry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS telemetry (
	id        TEXT PRIMARY KEY,
	type      TEXT NOT NULL,
	ts        INTEGER NOT NULL,
	node_id   TEXT NOT NULL,
	peer_id   TEXT NOT NULL DEFAULT '',
	packet_id TEXT NOT NULL DEFAULT '',
	direction TEXT NOT NULL DEFAULT '',
	fields    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_telemetry_type ON telemetry(type, ts);
CREATE INDEX IF NOT EXISTS idx_telemetry_ts   ON telemetry(ts);
CREATE INDEX IF NOT EXISTS idx_telemetry_peer ON telemetry(peer_id, ts);
`

// Store persists telemetry records for the history endpoints.
type Store struct {
	sql *sql.DB
}

// OpenStore opens or creates the telemetry database at path.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("telemetry: empty store path")
	}
	raw, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	raw.SetMaxOpenConns(1)
	if _, err := raw.Exec(storeSchema); err != nil {
		raw.Close()
		return nil, fmt.Errorf("telemetry: apply schema: %w", err)
	}
	return &Store{sql: raw}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.sql.Close()
}

// Save persists one record. The peerId, packetId and direction fields are
// lifted into indexed columns so history queries can filter on them.
func (s *Store) Save(r Record) error {
	fieldsJSON, err := json.Marshal(r.Fields)
	if err != nil {
		return fmt.Errorf("telemetry: marshal fields: %w", err)
	}
	_, err = s.sql.Exec(
		`INSERT OR IGNORE INTO telemetry (id, type, ts, node_id, peer_id, packet_id, direction, fields) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Type), r.Timestamp, r.NodeID,
		r.stringField("peerId"), r.stringField("packetId"), r.stringField("direction"),
		string(fieldsJSON),
	)
	if err != nil {
		return fmt.Errorf("telemetry: save: %w", err)
	}
	return nil
}

// StoreFilter narrows a history query. Zero-valued fields are ignored.
type StoreFilter struct {
	Types     []string
	Since     int64 // ms, inclusive
	Until     int64 // ms, inclusive
	PeerID    string
	PacketID  string
	Direction string
	Limit     int
	Offset    int
}

// Query returns persisted records matching f, newest first.
func (s *Store) Query(f StoreFilter) ([]Record, error) {
	var (
		where []string
		args  []interface{}
	)
	if len(f.Types) > 0 {
		ph := strings.TrimSuffix(strings.Repeat("?,", len(f.Types)), ",")
		where = append(where, "type IN ("+ph+")")
		for _, t := range f.Types {
			args = append(args, t)
		}
	}
	if f.Since > 0 {
		where = append(where, "ts >= ?")
		args = append(args, f.Since)
	}
	if f.Until > 0 {
		where = append(where, "ts <= ?")
		args = append(args, f.Until)
	}
	if f.PeerID != "" {
		where = append(where, "peer_id = ?")
		args = append(args, f.PeerID)
	}
	if f.PacketID != "" {
		where = append(where, "packet_id = ?")
		args = append(args, f.PacketID)
	}
	if f.Direction != "" {
		where = append(where, "direction = ?")
		args = append(args, f.Direction)
	}

	q := `SELECT id, type, ts, node_id, fields FROM telemetry`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts DESC, id ASC"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)
	if f.Offset > 0 {
		q += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.sql.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec        Record
			typ        string
			fieldsJSON string
		)
		if err := rows.Scan(&rec.ID, &typ, &rec.Timestamp, &rec.NodeID, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("telemetry: scan: %w", err)
		}
		rec.Type = Type(typ)
		if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
			return nil, fmt.Errorf("telemetry: unmarshal fields: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
