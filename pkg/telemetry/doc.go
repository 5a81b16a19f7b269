// Package telemetry records and fans out the typed state-transition records
// that external observers consume.
//
// # Records
//
// Every record carries a uuid, a type, a millisecond timestamp and the
// emitting node id; type-specific fields are flattened into the same JSON
// object on the wire. Types that mark the end of a channel's life (settle,
// close, claim) are terminal and are never shed under back-pressure.
//
// # Emitter
//
// The Emitter keeps a bounded in-memory buffer for recent-record reads,
// persists each record to an optional Store, and forwards records to
// subscribers through an event feed:
//
//	em := telemetry.NewEmitter("node-1", store, 1000)
//	ch := make(chan telemetry.Record, 64)
//	sub := em.Subscribe(ch)
//	defer sub.Unsubscribe()
//
//	em.Emit(telemetry.TypePacketReceived, map[string]interface{}{
//		"peerId": "peer-a", "packetType": "fulfill",
//	})
//
// Emit is synchronous with respect to buffering and persistence but never
// blocks on subscribers: fan-out runs on a forwarding goroutine fed by a
// bounded queue that drops on overflow. Emission failures are logged and
// swallowed; telemetry never perturbs the caller's state.
//
// # Store
//
// Store persists records in SQLite and answers the filtered history queries
// exposed over HTTP (type, time window, peer, packet, direction, paging).
package telemetry
