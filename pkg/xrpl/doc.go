// Package xrpl is a minimal rippled client for payment channels.
//
// The client speaks the rippled JSON websocket protocol: every request
// carries an id, and responses are correlated back to the waiting caller.
// Commands cover what the channel engine needs: submit (server-side signing
// with the account secret), tx, ledger_accept, account_channels,
// account_info and server_info.
//
// # Network modes
//
// A standalone rippled never closes ledgers on its own; after a submit the
// caller issues ledger_accept and then fetches the transaction for its
// metadata. In live mode the network closes ledgers by consensus and
// submissions are simply awaited.
//
// # Claims
//
// Channel claims are signed locally: ed25519 over
// "CLM\x00" ‖ channelID(32) ‖ drops(8, big-endian). SignClaim and
// VerifyClaim implement the two halves; amounts convert between decimal
// XRP and drops strings with shopspring/decimal.
package xrpl
