// Package router maintains the peer directory and the follow graph, and
// derives the next hop for a destination address.
//
// Addresses are dotted prefixes such as "g.agent.alice". A peer is a
// candidate next hop for a destination when its address equals the
// destination or is a segment-wise prefix of it; among candidates the longest
// prefix wins, with live peers preferred on ties.
//
// Follow entries map a counterpart's public key to its routing address plus
// optional transport and settlement account hints. The follow list is
// mutated either directly (the HTTP surface) or by applying a follow-list
// event, which replaces the list while preserving known transport hints for
// keys that survive the replacement.
package router
