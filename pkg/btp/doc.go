// Package btp implements the peer transport: the three-variant packet
// (prepare, fulfill, reject), its JSON wire framing, and bidirectional
// websocket peer links with keepalive and an exponential-backoff
// reconnection ladder. One frame carries exactly one packet.
package btp
