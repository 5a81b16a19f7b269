// Package payment implements the two bilateral payment substrates.
//
// # EVM engine
//
// EVMEngine tracks channels hosted by the token network contract. Opening
// goes on-chain (approve, openChannel, deposit); everything after that is
// off-chain until settlement. Each outgoing prepare advances the channel's
// nonce and cumulative transferred amount; both values are strictly
// monotonic and never roll back on fulfill or reject. A BalanceProof over
// {channelID, nonce, transferred} is signed personal-style under a
// chain-and-contract domain separator, and a cooperative settle submits both
// counterparties' signed halves.
//
// # XRP engine
//
// XRPEngine tracks unidirectional claim-signed channels on the ledger.
// Amounts are drops strings mutated with big-integer arithmetic. No
// counter-signature is needed off-path; a claim signs the cumulative
// balance locally (ed25519 over the ledger's CLM domain tag) and submits
// it. In standalone mode the ledger is advanced explicitly after each
// submission.
//
// Both engines emit channel telemetry, expose ApplyOutgoing for the packet
// path, and serve immutable snapshots to the HTTP surface. Per-channel
// mutation is serialized; no lock is held across a chain or ledger
// submission.
package payment
