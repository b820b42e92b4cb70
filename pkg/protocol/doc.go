// Package protocol implements the HyperBloom wire message set.
//
// HyperBloom is the length-framed, encrypted message stream two peers
// speak while reconciling Bloom-filter-based sets over an untrusted
// byte transport. This package owns the pure, stateless half of that
// protocol: the six wire message variants and the varint-length
// framing that wraps them. It never touches a socket and never
// encrypts anything; encryption, framing state, and the handshake
// itself live in package session.
//
// # Wire Format
//
// The very first frame a session emits is always Open, plaintext,
// prefixed with a fixed 4-byte magic instead of a bare varint:
//
//	MAGIC (4 bytes) | varint(len(payload)) | payload
//
// Every frame after that is:
//
//	varint(len(id) + len(payload)) | varint(id) | payload
//
// where payload is the protobuf3 wire-format encoding (field numbers
// as assigned by the Encode*/Decode* functions in codec.go) of one of
// the six typed messages.
// Everything after the Open frame, in each direction, is XORed with
// that direction's keystream before it reaches the wire; that XOR is
// the session's job, not this package's.
//
// # Message Types
//
//	0  Handshake      mutual authentication, sent exactly once per side
//	1  Sync           Bloom filter + reconciliation parameters
//	2  FilterOptions  filter size/hash-count negotiation
//	3  Data           values pushed during reconciliation
//	4  Request        a range request for missing values
//	5  Link           a single trust-chain shortening link
package protocol
