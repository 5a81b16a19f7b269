// Package httpapi exposes one node over REST: identity and status, peer and
// follow management, event queries, paid sends, payment channel operations on
// both settlement substrates, and telemetry (history, live websocket stream,
// Prometheus metrics).
//
// Every response is JSON. Failures use a uniform envelope of
// {"success": false, "error": "..."} with a 4xx status for caller mistakes
// and 5xx for downstream ones.
package httpapi
