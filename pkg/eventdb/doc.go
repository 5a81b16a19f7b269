// Package eventdb persists social-graph events in a local SQLite database.
//
// The store is single-writer, multi-reader: the packet handler inserts and
// deletes, while the HTTP surface and the job pipeline only query. Events are
// keyed by id and indexed by kind, author, tag and creation time so that
// query filters map directly onto indexed lookups.
//
//	db, err := eventdb.Open(eventdb.Options{Path: "agent.db"})
//	if err != nil { ... }
//	defer db.Close()
//
//	if err := db.Insert(ev); err != nil { ... }
//	notes, err := db.Query(eventdb.Filter{Kinds: []int{1}, Limit: 20})
//
// Inserting an event that is already stored is a no-op, which makes replayed
// packets harmless. An optional event-count ceiling turns inserts beyond the
// ceiling into ErrStorageLimit so callers can reject with a storage error
// instead of growing without bound.
package eventdb
