// Package event defines the signed social-graph event that travels inside
// packet payloads, together with the key handling and codec routines used by
// every layer above it.
//
// # Events
//
// An Event is immutable once signed. Its identifier is the SHA-256 digest of
// a canonical JSON array over the remaining fields, and its signature is a
// BIP-340 Schnorr signature of that digest, verifiable against the 32-byte
// x-only author key:
//
//	priv, _ := event.GeneratePrivateKey()
//	ev := event.New(event.KindNote, "hello mesh", nil)
//	if err := ev.Sign(priv); err != nil { ... }
//	ok, _ := ev.Verify()
//
// # Kinds
//
// Integer kinds partition events into protocol families. Kinds 0-5 cover the
// social graph (profile, note, follow list, deletion), 21000/21001 the agent
// info and query operations, 5000-5999 job requests, 6000-6999 job results
// and 7000 job feedback.
//
// # Codec
//
// Decode and Event.Encode convert between an Event and the packet payload
// bytes carried on the wire. Decode validates field shape so that malformed
// payloads are rejected before they reach a dispatcher.
package event
