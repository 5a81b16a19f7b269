// Package storage retrieves job inputs and stores oversized job results.
//
// A Client resolves two kinds of URIs: ipfs://<cid> goes through a Kubo
// node's HTTP API with CID validation and falls back to a public gateway
// when the node is unreachable; plain http(s):// URLs are fetched directly.
// Every fetch is capped at 10 MiB.
//
// UploadJSON is the write half: results too large to inline in an event are
// added to IPFS and referenced by the returned ipfs:// URI.
package storage
