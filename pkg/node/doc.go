// Package node composes the agent process: identity, event store, telemetry,
// routing, skills, dispatchers, both channel engines and the peer transport,
// owned by a single Node value.
//
// Inbound prepares run through a fixed ladder — per-peer rate limit, expiry,
// payload decode, required payment, dispatch — and come back as fulfill or
// reject frames. Outbound prepares are tracked in a pending table keyed by
// peer id: the record is created before the frame is written and resolved
// exactly once, by the response or by the sweeper, which is what keeps
// channel-ledger mutation idempotent under duplicate responses.
//
// Chain and ledger clients are late-bindable through ConfigureEVM and
// ConfigureXRP, matching the control surface's configure endpoints.
package node
